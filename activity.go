package kyc

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventTokenIssued         ActivityEventType = "kyc.token.issued"
	ActivityEventTokenRedeemed       ActivityEventType = "kyc.token.redeemed"
	ActivityEventRequestSubmitted    ActivityEventType = "kyc.request.submitted"
	ActivityEventRequestTransitioned ActivityEventType = "kyc.request.transitioned"
	ActivityEventFileVerified        ActivityEventType = "kyc.file.verified"
)

// ActivityEvent is a post-commit notification. Unlike audit entries it is
// best effort and may be lost.
type ActivityEvent struct {
	EventType   ActivityEventType
	Actor       ActorRef
	RequestID   string
	AccountCode string
	FromStatus  RequestStatus
	ToStatus    RequestStatus
	Metadata    map[string]any
	OccurredAt  time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// emitActivity never fails the caller; sink errors are logged.
func emitActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, event); err != nil {
		logger.Warn("activity sink failed",
			"event", string(event.EventType),
			"request_id", event.RequestID,
			"error", err,
		)
	}
}
