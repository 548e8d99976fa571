package kyc

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type MediaFiles interface {
	CreateTx(ctx context.Context, tx bun.IDB, file *MediaFile) (*MediaFile, error)
	GetByID(ctx context.Context, id uuid.UUID) (*MediaFile, error)
	ListByRequest(ctx context.Context, requestID string) ([]*MediaFile, error)
	// MarkVerifiedTx returns the number of rows changed; an already verified
	// file is left as it was.
	MarkVerifiedTx(ctx context.Context, tx bun.IDB, requestID string, id uuid.UUID, verifiedBy string, at time.Time) (int64, error)
}

type mediaFiles struct {
	db   *bun.DB
	base repository.Repository[*MediaFile]
}

var _ MediaFiles = (*mediaFiles)(nil)

func NewMediaFilesRepository(db *bun.DB) MediaFiles {
	return &mediaFiles{
		db: db,
		base: repository.NewRepository[*MediaFile](db, repository.ModelHandlers[*MediaFile]{
			NewRecord: func() *MediaFile { return &MediaFile{} },
			GetID: func(f *MediaFile) uuid.UUID {
				if f == nil {
					return uuid.Nil
				}
				return f.ID
			},
			SetID: func(f *MediaFile, id uuid.UUID) {
				if f != nil {
					f.ID = id
				}
			},
		}),
	}
}

func (m *mediaFiles) CreateTx(ctx context.Context, tx bun.IDB, file *MediaFile) (*MediaFile, error) {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	return m.base.CreateTx(ctx, tx, file)
}

func (m *mediaFiles) GetByID(ctx context.Context, id uuid.UUID) (*MediaFile, error) {
	return m.base.GetByID(ctx, id.String())
}

func (m *mediaFiles) ListByRequest(ctx context.Context, requestID string) ([]*MediaFile, error) {
	records := make([]*MediaFile, 0)
	err := m.db.NewSelect().
		Model(&records).
		Where("?TableAlias.request_id = ?", requestID).
		Order("created_at ASC", "filename ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (m *mediaFiles) MarkVerifiedTx(ctx context.Context, tx bun.IDB, requestID string, id uuid.UUID, verifiedBy string, at time.Time) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*MediaFile)(nil)).
		Set("verified = ?", true).
		Set("verified_by = ?", verifiedBy).
		Set("verified_at = ?", at).
		Where("id = ?", id).
		Where("request_id = ?", requestID).
		Where("verified = ?", false).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
