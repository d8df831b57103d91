package tools

import (
	"context"
	"fmt"

	"github.com/rgould/conductor/internal/notify"
)

// NewNotifyUserTool returns a notify_user tool delivering through the
// configured notification transports.
func NewNotifyUserTool(notifier *notify.Notifier) Tool {
	t, _ := NewTool(
		"notify_user",
		"Send a notification to the human operator.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subject": map[string]any{"type": "string", "description": "Short notification subject."},
				"body":    map[string]any{"type": "string", "description": "Notification body, optional."},
			},
			"required":             []string{"subject"},
			"additionalProperties": false,
		},
		RiskLow,
		nil,
		func(ctx context.Context, params map[string]any) (map[string]any, error) {
			if !notifier.Enabled() {
				return nil, fmt.Errorf("no notification transport is configured")
			}
			subject, _ := params["subject"].(string)
			body, _ := params["body"].(string)
			notifier.Send(ctx, notify.Message{Subject: subject, Body: body})
			return map[string]any{"delivered": true, "subject": subject}, nil
		},
	)
	return t
}
