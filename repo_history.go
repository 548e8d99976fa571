package kyc

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// History is append-only: approval actions and audit entries are inserted
// and listed, never updated or deleted.
type History interface {
	InsertActionTx(ctx context.Context, tx bun.IDB, action *ApprovalAction) (*ApprovalAction, error)
	InsertAuditTx(ctx context.Context, tx bun.IDB, entry *AuditEntry) (*AuditEntry, error)
	ListActions(ctx context.Context, requestID string) ([]*ApprovalAction, error)
	ListAudit(ctx context.Context, requestID string) ([]*AuditEntry, error)
	LatestAuditAt(ctx context.Context, requestID string) (*time.Time, error)
}

type history struct {
	db      *bun.DB
	actions repository.Repository[*ApprovalAction]
	audit   repository.Repository[*AuditEntry]
}

var _ History = (*history)(nil)

func NewHistoryRepository(db *bun.DB) History {
	return &history{
		db: db,
		actions: repository.NewRepository[*ApprovalAction](db, repository.ModelHandlers[*ApprovalAction]{
			NewRecord: func() *ApprovalAction { return &ApprovalAction{} },
			GetID: func(a *ApprovalAction) uuid.UUID {
				if a == nil {
					return uuid.Nil
				}
				return a.ID
			},
			SetID: func(a *ApprovalAction, id uuid.UUID) {
				if a != nil {
					a.ID = id
				}
			},
		}),
		audit: repository.NewRepository[*AuditEntry](db, repository.ModelHandlers[*AuditEntry]{
			NewRecord: func() *AuditEntry { return &AuditEntry{} },
			GetID: func(e *AuditEntry) uuid.UUID {
				if e == nil {
					return uuid.Nil
				}
				return e.ID
			},
			SetID: func(e *AuditEntry, id uuid.UUID) {
				if e != nil {
					e.ID = id
				}
			},
		}),
	}
}

func (h *history) InsertActionTx(ctx context.Context, tx bun.IDB, action *ApprovalAction) (*ApprovalAction, error) {
	if action.ID == uuid.Nil {
		action.ID = uuid.New()
	}
	return h.actions.CreateTx(ctx, tx, action)
}

func (h *history) InsertAuditTx(ctx context.Context, tx bun.IDB, entry *AuditEntry) (*AuditEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return h.audit.CreateTx(ctx, tx, entry)
}

func (h *history) ListActions(ctx context.Context, requestID string) ([]*ApprovalAction, error) {
	records := make([]*ApprovalAction, 0)
	err := h.db.NewSelect().
		Model(&records).
		Where("?TableAlias.request_id = ?", requestID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (h *history) ListAudit(ctx context.Context, requestID string) ([]*AuditEntry, error) {
	records := make([]*AuditEntry, 0)
	err := h.db.NewSelect().
		Model(&records).
		Where("?TableAlias.request_id = ?", requestID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (h *history) LatestAuditAt(ctx context.Context, requestID string) (*time.Time, error) {
	record := &AuditEntry{}
	err := h.db.NewSelect().
		Model(record).
		Where("?TableAlias.request_id = ?", requestID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	at := record.CreatedAt
	return &at, nil
}
