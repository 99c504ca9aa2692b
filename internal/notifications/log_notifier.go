package notifications

import (
	"context"
	"log/slog"
)

// LogNotifier writes the verification link to the log instead of sending mail. Dev only.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendVerificationEmail(ctx context.Context, in VerificationEmailInput) error {
	if err := in.validate(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	n.log.InfoContext(ctx, "notification.verification_email",
		"email", in.Email,
		"name", in.Name,
		"link", in.Link,
	)
	return nil
}
