// Package gateway delivers one-time codes to phone numbers.
package gateway

import (
	"context"
	"errors"
	"log/slog"
)

var (
	// ErrRejected is returned when the gateway answers with a non-success status.
	ErrRejected = errors.New("gateway: request rejected")
	// ErrUnauthorized is returned when the gateway refuses the configured credentials.
	ErrUnauthorized = errors.New("gateway: unauthorized")
)

// Sender delivers a code to a canonical phone number (digits only, country
// code first).
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSender is a dry-run Sender for development: it logs the code instead of
// delivering it.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, phone, code string) error {
	s.Logger.InfoContext(ctx, "dry-run otp delivery",
		slog.String("phone", phone),
		slog.String("code", code),
	)
	return nil
}
