// Package mailer delivers a single message per call. Implementations report per-message
// success or failure; they never retry.
package mailer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-mailer/internal/config"
)

// ErrNotConfigured is returned by every Send when no SMTP credentials were supplied.
var ErrNotConfigured = errors.New("SMTP not configured")

type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// New picks the implementation for cfg. Missing credentials yield a mailer that fails every
// attempt, so sends are logged as failed instead of the process refusing to start.
func New(cfg config.SMTPConfig, log *zap.Logger) Mailer {
	if cfg.Driver == "mock" {
		log.Info("using mock mailer")
		return NewMockMailer()
	}
	if !cfg.Configured() {
		log.Warn("SMTP credentials missing, every delivery will fail")
		return Unconfigured{}
	}
	return NewSMTPMailer(cfg, log)
}

// Unconfigured fails every delivery with ErrNotConfigured.
type Unconfigured struct{}

func (Unconfigured) Send(context.Context, string, string, string) error {
	return ErrNotConfigured
}
