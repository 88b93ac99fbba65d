package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/config"
)

// Mailbox is the capability-facing surface of the IMAP client,
// implemented by Client and by test fakes.
type Mailbox interface {
	Unread(ctx context.Context, folder string, limit int) ([]Envelope, error)
	ReadMessage(ctx context.Context, folder string, uid uint32) (*Message, error)
}

// NewBuilder returns the capability builder for the mail account.
func NewBuilder(cfg config.IMAPConfig, logger *slog.Logger) capability.Builder {
	return capability.Builder{
		Name: "email",
		Build: func(ctx context.Context) ([]*capability.Capability, error) {
			if cfg.Host == "" {
				return nil, fmt.Errorf("imap not configured")
			}
			return Capabilities(NewClient(cfg, logger)), nil
		},
	}
}

// Capabilities returns the mail capabilities backed by mb.
func Capabilities(mb Mailbox) []*capability.Capability {
	return []*capability.Capability{
		{
			Name:        "email_unread",
			Description: "List unread email messages in the inbox.",
			Domain:      capability.DomainPersonal,
			Params: []capability.Param{
				{Name: "folder", Type: "string", Description: "Mailbox folder", Default: "INBOX"},
				{Name: "limit", Type: "integer", Description: "Max messages", Default: 10},
			},
			Handler: unreadHandler(mb),
		},
		{
			Name:        "email_read",
			Description: "Read one email message by UID. Does not mark it as read.",
			Domain:      capability.DomainPersonal,
			Params: []capability.Param{
				{Name: "uid", Type: "integer", Description: "Message UID from email_unread", Required: true},
				{Name: "folder", Type: "string", Description: "Mailbox folder", Default: "INBOX"},
			},
			Handler: readHandler(mb),
		},
	}
}

func unreadHandler(mb Mailbox) capability.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		folder, _ := args["folder"].(string)
		limit := 10
		if v, ok := args["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}

		envelopes, err := mb.Unread(ctx, folder, limit)
		if err != nil {
			return nil, err
		}
		return FormatEnvelopes(envelopes), nil
	}
}

func readHandler(mb Mailbox) capability.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		uid, ok := args["uid"].(float64)
		if !ok || uid <= 0 {
			return nil, fmt.Errorf("uid is required")
		}
		folder, _ := args["folder"].(string)

		msg, err := mb.ReadMessage(ctx, folder, uint32(uid))
		if err != nil {
			return nil, err
		}

		var b strings.Builder
		fmt.Fprintf(&b, "From: %s\nSubject: %s\nDate: %s\n\n%s",
			msg.From, msg.Subject, msg.Date.Format(time.RFC1123), msg.TextBody)
		if msg.Truncated {
			b.WriteString("\n\n[body truncated]")
		}
		return b.String(), nil
	}
}

// FormatEnvelopes renders a folder listing for the model.
func FormatEnvelopes(envelopes []Envelope) string {
	if len(envelopes) == 0 {
		return "No unread messages."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d unread:\n", len(envelopes))
	for _, env := range envelopes {
		fmt.Fprintf(&b, "[%d] %s: %s (%s)\n",
			env.UID, env.From, env.Subject, env.Date.Format("Jan 2 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}
