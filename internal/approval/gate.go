package approval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rgould/conductor/internal/models"
	"golang.org/x/term"
	"gorm.io/gorm"
)

// Request describes one tool call awaiting a human decision.
type Request struct {
	ToolCallID string
	ToolName   string
	Parameters map[string]any
	RiskLevel  string
	AgentType  string
	ProjectID  string
}

// Gate decides whether a gated tool call may run. It never executes the
// tool itself.
type Gate interface {
	RequestApproval(ctx context.Context, req Request) (approvalID string, approved bool, err error)
}

// TerminalGate prompts on the terminal and reads a y/N answer from stdin.
// The Approval row is written before the prompt and updated before
// returning, so an interrupted wait still leaves an audit trail of what was
// requested. When stdin is not a terminal the gate fails closed: unattended
// runs cannot approve a high-risk action on the human's behalf.
type TerminalGate struct {
	DB  *gorm.DB
	In  io.Reader
	Out io.Writer

	// Interactive overrides the stdin TTY check, for tests. Nil means the
	// real check.
	Interactive func() bool
}

// NewTerminalGate builds a gate over the store with stdin/stdout transport.
func NewTerminalGate(gdb *gorm.DB) (*TerminalGate, error) {
	if gdb == nil {
		return nil, fmt.Errorf("approval: db is required")
	}
	return &TerminalGate{DB: gdb, In: os.Stdin, Out: os.Stdout}, nil
}

// RequestApproval records the request, prompts if a human is reachable, and
// records and returns the decision.
func (g *TerminalGate) RequestApproval(ctx context.Context, req Request) (string, bool, error) {
	approvalID := "appr_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	prompt := buildPrompt(req)

	appr := models.Approval{
		ID:         approvalID,
		ToolCallID: req.ToolCallID,
		Prompt:     prompt,
		CreatedAt:  time.Now().UTC(),
	}
	if err := g.DB.Create(&appr).Error; err != nil {
		return "", false, fmt.Errorf("approval: record request: %w", err)
	}

	if !g.interactive() {
		log.Printf("approval: non-interactive stdin, auto-denying %q", req.ToolName)
		if err := g.record(approvalID, models.ApprovalDenied); err != nil {
			return approvalID, false, err
		}
		return approvalID, false, nil
	}

	// The prompt goes straight to the terminal, unprefixed, so the human
	// sees the approval block clearly.
	fmt.Fprintln(g.Out, prompt)
	fmt.Fprint(g.Out, "Approve? [y/N]: ")

	answer := g.readAnswer(ctx)
	approved := answer == "y"
	response := models.ApprovalDenied
	if approved {
		response = models.ApprovalApproved
	}
	if err := g.record(approvalID, response); err != nil {
		return approvalID, false, err
	}
	return approvalID, approved, nil
}

func (g *TerminalGate) interactive() bool {
	if g.Interactive != nil {
		return g.Interactive()
	}
	f, ok := g.In.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readAnswer blocks on one line of input, giving up (deny) if ctx ends
// first. The read itself cannot be cancelled, but a shutdown during the
// wait still resolves the approval to a recorded denial.
func (g *TerminalGate) readAnswer(ctx context.Context) string {
	ch := make(chan string, 1)
	go func() {
		line, err := bufio.NewReader(g.In).ReadString('\n')
		if err != nil {
			ch <- ""
			return
		}
		ch <- strings.ToLower(strings.TrimSpace(line))
	}()
	select {
	case <-ctx.Done():
		return ""
	case answer := <-ch:
		return answer
	}
}

func (g *TerminalGate) record(approvalID, response string) error {
	now := time.Now().UTC()
	result := g.DB.Model(&models.Approval{}).
		Where("id = ?", approvalID).
		Updates(map[string]interface{}{"response": response, "responded_at": now})
	if result.Error != nil {
		return fmt.Errorf("approval: record response: %w", result.Error)
	}
	return nil
}

func buildPrompt(req Request) string {
	params, err := json.MarshalIndent(req.Parameters, "", "  ")
	if err != nil {
		params = []byte("{}")
	}
	project := req.ProjectID
	if project == "" {
		project = "(none)"
	}
	divider := strings.Repeat("=", 60)
	return fmt.Sprintf(
		"\n%s\n[APPROVAL REQUIRED]\nAgent: %s  |  Project: %s  |  Risk: %s\nTool: %s\nParameters:\n%s\n%s",
		divider, req.AgentType, project, req.RiskLevel, req.ToolName, params, divider,
	)
}
