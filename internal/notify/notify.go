package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type SendResult struct {
	MessageID string
	SentAt    time.Time
}

type EmailSender interface {
	SendEmail(ctx context.Context, to string, subject string, body string) (SendResult, error)
}

type SMSSender interface {
	SendSMS(ctx context.Context, to string, msg string) (SendResult, error)
}

// LogSender is the fallback when no provider is configured. It records the
// message at debug level and reports success so announcement delivery never
// blocks on missing credentials.
type LogSender struct{}

func (LogSender) SendEmail(_ context.Context, to string, subject string, _ string) (SendResult, error) {
	log.Debug().Str("to", to).Str("subject", subject).Msg("email delivery skipped: no smtp provider configured")
	return SendResult{MessageID: "log", SentAt: time.Now().UTC()}, nil
}

func (LogSender) SendSMS(_ context.Context, to string, msg string) (SendResult, error) {
	log.Debug().Str("to", to).Int("len", len(msg)).Msg("sms delivery skipped: no sms provider configured")
	return SendResult{MessageID: "log", SentAt: time.Now().UTC()}, nil
}
