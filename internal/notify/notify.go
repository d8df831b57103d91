// Package notify delivers human-facing notifications over one or more
// transports: a shell command template, a Slack channel, or a Discord
// channel. Delivery is best-effort; transports log failures rather than
// returning them, since a notification is never worth failing an
// invocation over.
package notify

import (
	"context"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/rgould/conductor/internal/config"
	"github.com/slack-go/slack"
)

// Message is one notification.
type Message struct {
	Subject string
	Body    string
}

// Transport delivers a message over one channel.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans a message out to every configured transport.
type Notifier struct {
	transports []Transport
}

// FromConfig builds a Notifier with every transport the config enables.
// A config with no transports yields a Notifier that silently drops
// messages.
func FromConfig(cfg config.NotifyConfig) *Notifier {
	n := &Notifier{}
	if cfg.Command != "" {
		n.transports = append(n.transports, &CommandTransport{Template: cfg.Command})
	}
	if cfg.Slack.Channel != "" {
		if token := os.Getenv(cfg.Slack.TokenEnv); token != "" {
			n.transports = append(n.transports, NewSlackTransport(token, cfg.Slack.Channel))
		}
	}
	if cfg.Discord.Channel != "" {
		if token := os.Getenv(cfg.Discord.TokenEnv); token != "" {
			n.transports = append(n.transports, NewDiscordTransport(token, cfg.Discord.Channel))
		}
	}
	return n
}

// New builds a Notifier over explicit transports, for tests and embedding.
func New(transports ...Transport) *Notifier {
	return &Notifier{transports: transports}
}

// Send delivers msg to every transport. Failures are logged per transport;
// Send itself never fails.
func (n *Notifier) Send(ctx context.Context, msg Message) {
	for _, t := range n.transports {
		if err := t.Send(ctx, msg); err != nil {
			log.Printf("notify: %s transport: %v", t.Name(), err)
		}
	}
}

// Enabled reports whether at least one transport is configured.
func (n *Notifier) Enabled() bool {
	return len(n.transports) > 0
}

// CommandTransport runs a shell command template with {{.Subject}} and
// {{.Body}} placeholders, e.g. `notify-send 'Conductor' '{{.Subject}}'`.
type CommandTransport struct {
	Template string
}

func (c *CommandTransport) Name() string { return "command" }

func (c *CommandTransport) Send(ctx context.Context, msg Message) error {
	r := strings.NewReplacer(
		"{{.Subject}}", msg.Subject,
		"{{.Body}}", msg.Body,
	)
	cmd := exec.CommandContext(ctx, "sh", "-c", r.Replace(c.Template))
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Printf("notify: command output: %s", strings.TrimSpace(string(out)))
		return err
	}
	return nil
}

// slackPoster abstracts the Slack API method we use, enabling test mocks.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackTransport posts notifications to one Slack channel.
type SlackTransport struct {
	client  slackPoster
	channel string
}

// NewSlackTransport builds a SlackTransport over a bot token.
func NewSlackTransport(token, channel string) *SlackTransport {
	return &SlackTransport{client: slack.New(token), channel: channel}
}

func (s *SlackTransport) Name() string { return "slack" }

func (s *SlackTransport) Send(ctx context.Context, msg Message) error {
	text := msg.Subject
	if msg.Body != "" {
		text += "\n" + msg.Body
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	return err
}

// discordSender abstracts the discordgo method we use, enabling test mocks.
type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordTransport posts notifications to one Discord channel through the
// REST API; no gateway connection is held open for one-way delivery.
type DiscordTransport struct {
	session discordSender
	channel string
}

// NewDiscordTransport builds a DiscordTransport over a bot token.
func NewDiscordTransport(token, channel string) *DiscordTransport {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		// discordgo.New only fails on malformed parameters; surface it at
		// first send instead of here.
		log.Printf("notify: discord session: %v", err)
	}
	return &DiscordTransport{session: session, channel: channel}
}

func (d *DiscordTransport) Name() string { return "discord" }

func (d *DiscordTransport) Send(ctx context.Context, msg Message) error {
	text := msg.Subject
	if msg.Body != "" {
		text += "\n" + msg.Body
	}
	_, err := d.session.ChannelMessageSend(d.channel, text, discordgo.WithContext(ctx))
	return err
}
