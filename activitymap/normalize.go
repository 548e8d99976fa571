// Package activitymap flattens kyc.ActivityEvent values into records that
// feeds, brokers and log pipelines can consume without importing kyc.
package activitymap

import (
	"context"
	"strings"
	"time"

	"github.com/samber/lo"

	kyc "github.com/goliatone/go-kyc"
)

// Object types a record can point at.
const (
	ObjectAccount   = "kyc_account"
	ObjectRequest   = "kyc_request"
	ObjectMediaFile = "kyc_media_file"
)

// Metadata keys added on top of the event metadata.
const (
	MetadataKeyFromStatus = "from_status"
	MetadataKeyToStatus   = "to_status"
	MetadataKeyTransition = "transition"
)

const defaultChannel = "kyc"

// Record is the flattened activity shape.
type Record struct {
	Verb        string         `json:"verb"`
	ActorID     string         `json:"actor_id"`
	ActorType   string         `json:"actor_type,omitempty"`
	ObjectType  string         `json:"object_type"`
	ObjectID    string         `json:"object_id,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	AccountCode string         `json:"account_code,omitempty"`
	Channel     string         `json:"channel"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

type Option func(*mapper)

type mapper struct {
	channel       string
	actorFallback string
	clock         func() time.Time
}

// WithChannel tags every record with channel.
func WithChannel(channel string) Option {
	return func(m *mapper) {
		if channel = strings.TrimSpace(channel); channel != "" {
			m.channel = channel
		}
	}
}

// WithActorFallback names the actor for events without one.
func WithActorFallback(actorID string) Option {
	return func(m *mapper) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			m.actorFallback = actorID
		}
	}
}

// WithClock stamps events that carry no OccurredAt.
func WithClock(clock func() time.Time) Option {
	return func(m *mapper) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func newMapper(opts []Option) mapper {
	m := mapper{
		channel:       defaultChannel,
		actorFallback: kyc.ActorTypeSystem,
		clock:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}
	return m
}

// Map converts one event. The event metadata is copied, never mutated.
func Map(event kyc.ActivityEvent, opts ...Option) Record {
	m := newMapper(opts)

	objectType, objectID := object(event)
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = m.clock()
	}

	return Record{
		Verb:        string(event.EventType),
		ActorID:     lo.Ternary(strings.TrimSpace(event.Actor.ID) != "", strings.TrimSpace(event.Actor.ID), m.actorFallback),
		ActorType:   strings.TrimSpace(event.Actor.Type),
		ObjectType:  objectType,
		ObjectID:    objectID,
		RequestID:   event.RequestID,
		AccountCode: event.AccountCode,
		Channel:     m.channel,
		Metadata:    metadata(event),
		OccurredAt:  occurredAt.UTC(),
	}
}

// Sink adapts a record consumer into a kyc.ActivitySink. Consumer errors are
// returned so the engine can log them.
func Sink(consume func(ctx context.Context, record Record) error, opts ...Option) kyc.ActivitySink {
	return kyc.ActivitySinkFunc(func(ctx context.Context, event kyc.ActivityEvent) error {
		if consume == nil {
			return nil
		}
		return consume(ctx, Map(event, opts...))
	})
}

// object picks what the event is about. Token events happen before a request
// exists, so they point at the account.
func object(event kyc.ActivityEvent) (string, string) {
	switch event.EventType {
	case kyc.ActivityEventTokenIssued, kyc.ActivityEventTokenRedeemed:
		return ObjectAccount, event.AccountCode
	case kyc.ActivityEventFileVerified:
		if fileID, ok := event.Metadata["file_id"].(string); ok && fileID != "" {
			return ObjectMediaFile, fileID
		}
		return ObjectMediaFile, event.RequestID
	default:
		if event.RequestID == "" {
			return ObjectAccount, event.AccountCode
		}
		return ObjectRequest, event.RequestID
	}
}

func metadata(event kyc.ActivityEvent) map[string]any {
	out := lo.Assign(map[string]any{}, event.Metadata)
	if event.FromStatus.IsValid() {
		out[MetadataKeyFromStatus] = event.FromStatus.String()
	}
	if event.ToStatus.IsValid() {
		out[MetadataKeyToStatus] = event.ToStatus.String()
	}
	if event.FromStatus.IsValid() && event.ToStatus.IsValid() {
		out[MetadataKeyTransition] = event.FromStatus.String() + "->" + event.ToStatus.String()
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
