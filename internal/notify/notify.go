// Package notify delivers job failure notifications. The scheduler core only
// triggers notifications; delivery channels (Telegram, webhook) are external
// collaborators behind the Notifier interface.
package notify

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"
)

// Notification describes one alert about a job.
type Notification struct {
	Job      string
	Message  string
	Priority int // >= 8 critical, >= 5 warning, else info
}

// Notifier delivers a notification on some channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Service fans a notification out to all configured channels, applying a
// shared rate limit so a flapping job cannot flood the operators.
type Service struct {
	channels []Notifier
	limiter  *rate.Limiter
	log      *slog.Logger
}

func NewService(log *slog.Logger, ratePerMin int, channels ...Notifier) *Service {
	if ratePerMin <= 0 {
		ratePerMin = 20
	}
	perSec := rate.Limit(float64(ratePerMin) / 60.0)
	return &Service{
		channels: channels,
		limiter:  rate.NewLimiter(perSec, ratePerMin),
		log:      log,
	}
}

// Notify delivers n to every channel. Channel errors are logged, not
// returned: a broken notifier must never fail the job that triggered it.
// Rate-limited notifications are dropped with a log line.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if len(s.channels) == 0 {
		s.log.Warn("job notification (no channels configured)",
			slog.String("job", n.Job), slog.String("msg", n.Message))
		return nil
	}
	if !s.limiter.Allow() {
		s.log.Warn("notification dropped by rate limit", slog.String("job", n.Job))
		return nil
	}
	for _, ch := range s.channels {
		if err := ch.Notify(ctx, n); err != nil {
			s.log.Warn("notification send failed", slog.String("job", n.Job), slog.Any("err", err))
		} else {
			s.log.Debug("notification sent", slog.String("job", n.Job))
		}
	}
	return nil
}

func prefix(priority int) string {
	switch {
	case priority >= 8:
		return "🚨 "
	case priority >= 5:
		return "⚠️ "
	default:
		return "ℹ️ "
	}
}
