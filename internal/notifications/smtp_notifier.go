package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPNotifier delivers through a plain SMTP relay (Mailgun SMTP, Mailpit, ...).
type SMTPNotifier struct {
	cfg    SMTPConfig
	client *mail.Client
}

func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
	}

	// only authenticate when credentials are configured
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &SMTPNotifier{cfg: cfg, client: client}, nil
}

func (n *SMTPNotifier) SendVerificationEmail(ctx context.Context, in VerificationEmailInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	rendered, err := renderVerificationEmail(in)
	if err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(n.cfg.From); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(in.Email); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}
	msg.Subject(rendered.Subject)
	msg.SetBodyString(mail.TypeTextPlain, rendered.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, rendered.HTML)

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}
