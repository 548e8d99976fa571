package kyc

import (
	"context"

	"github.com/uptrace/bun"
)

// ApprovalRecorder appends decisions. It only works inside a caller's unit
// of work so a failed insert aborts the transition that produced it.
type ApprovalRecorder struct {
	history History
	clock   Clock
}

func NewApprovalRecorder(history History, clock Clock) *ApprovalRecorder {
	return &ApprovalRecorder{history: history, clock: normalizeClock(clock)}
}

func (r *ApprovalRecorder) RecordTx(ctx context.Context, tx bun.IDB, requestID string, actor ActorRef, action ActionType, remarks string) (*ApprovalAction, error) {
	record := &ApprovalAction{
		RequestID:  requestID,
		ActorID:    actor.orSystem().ID,
		ActionType: action,
		Remarks:    remarks,
		CreatedAt:  r.clock(),
	}
	if _, err := r.history.InsertActionTx(ctx, tx, record); err != nil {
		return nil, errPersistence(err, "failed to record approval action")
	}
	return record, nil
}

// AuditLogger appends status changes, including request creation.
type AuditLogger struct {
	history History
	clock   Clock
}

func NewAuditLogger(history History, clock Clock) *AuditLogger {
	return &AuditLogger{history: history, clock: normalizeClock(clock)}
}

// AuditChange describes one audited status change. From is nil on creation.
type AuditChange struct {
	RequestID string
	Action    ActionType
	Actor     ActorRef
	From      *RequestStatus
	To        RequestStatus
	Details   map[string]any
}

func (l *AuditLogger) AppendTx(ctx context.Context, tx bun.IDB, change AuditChange) (*AuditEntry, error) {
	record := &AuditEntry{
		RequestID:  change.RequestID,
		ActionType: change.Action,
		ActorID:    change.Actor.orSystem().ID,
		OldStatus:  change.From,
		NewStatus:  change.To,
		Details:    change.Details,
		CreatedAt:  l.clock(),
	}
	if _, err := l.history.InsertAuditTx(ctx, tx, record); err != nil {
		return nil, errPersistence(err, "failed to append audit entry")
	}
	return record, nil
}
