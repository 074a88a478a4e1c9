package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"gopkg.in/gomail.v2"
)

// ErrUnavailable is returned while the SMTP circuit is open.
var ErrUnavailable = errors.New("email sender unavailable")

type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender writes the rendered message to the log instead of mailing it.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.logger.Info("notification", "to", to, "subject", subject, "body", body)
	return nil
}

type SMTPConfig struct {
	Host     string `env:"SMTP_HOST" env-default:"mailpit"`
	Port     int    `env:"SMTP_PORT" env-default:"1025"`
	User     string `env:"SMTP_USER"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM" env-default:"no-reply@hospital.local"`
}

// SMTPSender mails through gomail. After five consecutive failures the
// breaker opens and Send returns ErrUnavailable for 30s.
type SMTPSender struct {
	from string
	send func(m ...*gomail.Message) error
	cb   *gobreaker.CircuitBreaker
}

func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	dialer := gomail.NewDialer(strings.TrimSpace(cfg.Host), cfg.Port, cfg.User, cfg.Password)
	return newSMTPSender(cfg.From, dialer.DialAndSend, logger)
}

func newSMTPSender(from string, send func(m ...*gomail.Message) error, logger *slog.Logger) *SMTPSender {
	settings := gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &SMTPSender{
		from: from,
		send: send,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.send(m)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
