// Package mail abstracts outbound email delivery. The real transport lives
// outside this repository; the sync subsystem only needs a side-effect hook
// for handing over magic links.
package mail

import (
	"context"

	"github.com/signalnoise/cloudsync/internal/logging"
)

// Mailer delivers a magic link to the given address.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string) error
}

// LogMailer writes the link to the log instead of sending it. Used in
// development and as the default when no delivery backend is configured.
type LogMailer struct {
	logger logging.Logger
}

func NewLogMailer(logger logging.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("module", "mail")}
}

func (m *LogMailer) SendMagicLink(ctx context.Context, email, link string) error {
	m.logger.Info(ctx, "magic link generated", "email", email, "link", link)
	return nil
}
