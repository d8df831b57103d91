// Package approval implements the risk policy and the human approval gate.
// The gate is the single trust boundary for high-impact actions: nothing
// upstream is trusted, and no gated side effect runs without a recorded
// decision.
package approval

import (
	"fmt"

	"github.com/rgould/conductor/internal/tools"
)

// Decision is what a risk policy says about one tool call before execution.
type Decision struct {
	RequireHuman bool // block on the gate
	LogAuto      bool // auto-approved, but worth a log line
}

// Policy maps a risk level to an approval decision. Policies are explicit
// objects rather than a hardcoded branch so they can be swapped (and
// tightened) without touching the invocation state machine.
type Policy interface {
	Name() string
	Decide(riskLevel string) Decision
}

// ForName returns the named policy.
func ForName(name string) (Policy, error) {
	switch name {
	case "development":
		return DevelopmentPolicy{}, nil
	case "production":
		return ProductionPolicy{}, nil
	default:
		return nil, fmt.Errorf("approval: unknown policy %q", name)
	}
}

// DevelopmentPolicy auto-approves low and medium risk, logging medium, and
// gates high risk.
type DevelopmentPolicy struct{}

func (DevelopmentPolicy) Name() string { return "development" }

func (DevelopmentPolicy) Decide(riskLevel string) Decision {
	switch riskLevel {
	case tools.RiskLow:
		return Decision{}
	case tools.RiskMedium:
		return Decision{LogAuto: true}
	default:
		// High and anything unrecognized gate on the human.
		return Decision{RequireHuman: true}
	}
}

// ProductionPolicy auto-approves only low risk; medium and high gate on the
// human.
type ProductionPolicy struct{}

func (ProductionPolicy) Name() string { return "production" }

func (ProductionPolicy) Decide(riskLevel string) Decision {
	if riskLevel == tools.RiskLow {
		return Decision{}
	}
	return Decision{RequireHuman: true}
}
