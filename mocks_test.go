package kyc_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	kyc "github.com/goliatone/go-kyc"
)

var anyContext = mock.Anything

func eventOfType(eventType kyc.ActivityEventType) any {
	return mock.MatchedBy(func(event kyc.ActivityEvent) bool {
		return event.EventType == eventType
	})
}

type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event kyc.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// Events returns the recorded events in call order.
func (m *MockActivitySink) Events() []kyc.ActivityEvent {
	out := make([]kyc.ActivityEvent, 0, len(m.Calls))
	for _, call := range m.Calls {
		if event, ok := call.Arguments.Get(1).(kyc.ActivityEvent); ok {
			out = append(out, event)
		}
	}
	return out
}

type MockIDGenerator struct {
	mock.Mock
}

func (m *MockIDGenerator) NewID() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}
