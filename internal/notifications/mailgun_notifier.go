package notifications

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"
)

type MailgunConfig struct {
	APIBase string // e.g. https://api.eu.mailgun.net/v3, empty keeps the SDK default
	Domain  string
	APIKey  string
	From    string
}

// MailgunNotifier sends verification emails through the Mailgun messages API.
type MailgunNotifier struct {
	from string
	mg   *mailgun.MailgunImpl
}

func NewMailgunNotifier(cfg MailgunConfig, client *http.Client) *MailgunNotifier {
	mg := mailgun.NewMailgun(cfg.Domain, cfg.APIKey)
	if base := strings.TrimRight(cfg.APIBase, "/"); base != "" {
		mg.SetAPIBase(base)
	}

	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	mg.SetClient(client)

	return &MailgunNotifier{from: cfg.From, mg: mg}
}

func (n *MailgunNotifier) SendVerificationEmail(ctx context.Context, in VerificationEmailInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	msg, err := renderVerificationEmail(in)
	if err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}

	m := n.mg.NewMessage(n.from, msg.Subject, msg.Text, in.Email)
	m.SetHtml(msg.HTML)

	if _, _, err := n.mg.Send(ctx, m); err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}

	return nil
}
