package kyc

import (
	"context"
	"log/slog"
	"time"
)

// Logger is the structured logger used across the package. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Clock returns the current time. Tests inject fixed clocks.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

func normalizeClock(c Clock) Clock {
	if c == nil {
		return systemClock
	}
	return func() time.Time { return c().UTC() }
}

// ActorRef identifies who triggered an operation.
type ActorRef struct {
	ID   string
	Type string
}

const (
	ActorTypeStaff  = "staff"
	ActorTypeClient = "client"
	ActorTypeSystem = "system"
)

func (a ActorRef) orSystem() ActorRef {
	if a.ID == "" {
		return ActorRef{ID: ActorTypeSystem, Type: ActorTypeSystem}
	}
	return a
}

type defLogger struct{}

func (defLogger) Debug(msg string, args ...any) { slog.Default().Debug(msg, args...) }
func (defLogger) Info(msg string, args ...any)  { slog.Default().Info(msg, args...) }
func (defLogger) Warn(msg string, args ...any)  { slog.Default().Warn(msg, args...) }
func (defLogger) Error(msg string, args ...any) { slog.Default().Error(msg, args...) }

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

// checkContext mirrors the guard every command handler runs before doing work.
func checkContext(ctx context.Context, operation string) error {
	select {
	case <-ctx.Done():
		return errPersistence(ctx.Err(), "context cancelled during "+operation)
	default:
		return nil
	}
}

// hashPrefix is safe to log; the full digest and the secret never are.
func hashPrefix(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8]
}
