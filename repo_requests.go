package kyc

import (
	"context"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// RequestFilter narrows ListRequests. Zero values mean "any".
type RequestFilter struct {
	Status      RequestStatus
	AccountCode string
	Limit       int
	Offset      int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// StatusChange describes a compare-and-swap on a request status.
type StatusChange struct {
	RequestID   string
	From        RequestStatus
	To          RequestStatus
	CompletedAt *time.Time
	ArchivedAt  *time.Time
	UpdatedAt   time.Time
}

type Requests interface {
	// InsertTx reports false when the id is already taken.
	InsertTx(ctx context.Context, tx bun.IDB, request *Request) (bool, error)
	GetByID(ctx context.Context, id string) (*Request, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id string) (*Request, error)
	// UpdateStatusTx only writes when the stored status still equals
	// change.From and returns the number of affected rows.
	UpdateStatusTx(ctx context.Context, tx bun.IDB, change StatusChange) (int64, error)
	List(ctx context.Context, filter RequestFilter) ([]*Request, int, error)
}

type requests struct {
	db *bun.DB
}

var _ Requests = (*requests)(nil)

func NewRequestsRepository(db *bun.DB) Requests {
	return &requests{db: db}
}

func (r *requests) InsertTx(ctx context.Context, tx bun.IDB, request *Request) (bool, error) {
	res, err := tx.NewInsert().
		Model(request).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *requests) GetByID(ctx context.Context, id string) (*Request, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *requests) GetByIDTx(ctx context.Context, tx bun.IDB, id string) (*Request, error) {
	record := &Request{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *requests) UpdateStatusTx(ctx context.Context, tx bun.IDB, change StatusChange) (int64, error) {
	q := tx.NewUpdate().
		Model((*Request)(nil)).
		Set("status = ?", change.To).
		Set("updated_at = ?", change.UpdatedAt)

	if change.CompletedAt != nil {
		q = q.Set("completed_at = ?", *change.CompletedAt)
	}
	if change.ArchivedAt != nil {
		q = q.Set("archived_at = ?", *change.ArchivedAt)
	}

	res, err := q.
		Where("id = ?", change.RequestID).
		Where("status = ?", change.From).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *requests) List(ctx context.Context, filter RequestFilter) ([]*Request, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	records := make([]*Request, 0)
	q := r.db.NewSelect().Model(&records)
	if filter.Status != 0 {
		q = q.Where("?TableAlias.status = ?", filter.Status)
	}
	if code := strings.TrimSpace(filter.AccountCode); code != "" {
		q = q.Where("?TableAlias.account_code = ?", code)
	}

	total, err := q.
		Order("priority_level DESC", "submitted_at ASC", "id ASC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
