package kyc

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var RaisePrivilegeSQL = `UPDATE "accounts"
SET
	"privilege_level" = ?,
	"updated_at" = ?
WHERE
	"id" = ?
AND
	"privilege_level" < ?;`

// Accounts is the read/ratchet view on the account collaborator.
type Accounts interface {
	Create(ctx context.Context, account *Account) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error)
	GetByCode(ctx context.Context, code string) (*Account, error)
	GetByCodeTx(ctx context.Context, tx bun.IDB, code string) (*Account, error)
	// RaisePrivilegeTx sets the level only when it is higher than the stored
	// one and reports whether a row changed.
	RaisePrivilegeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, level int, at time.Time) (bool, error)
}

type accounts struct {
	base repository.Repository[*Account]
	db   *bun.DB
}

var _ Accounts = (*accounts)(nil)

func NewAccountsRepository(db *bun.DB) Accounts {
	return &accounts{
		db: db,
		base: repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
			NewRecord: func() *Account { return &Account{} },
			GetID: func(a *Account) uuid.UUID {
				if a == nil {
					return uuid.Nil
				}
				return a.ID
			},
			SetID: func(a *Account, id uuid.UUID) {
				if a != nil {
					a.ID = id
				}
			},
		}),
	}
}

func (a *accounts) Create(ctx context.Context, account *Account) (*Account, error) {
	return a.CreateTx(ctx, a.db, account)
}

func (a *accounts) CreateTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	prepareAccountDefaults(account)
	return a.base.CreateTx(ctx, tx, account)
}

func (a *accounts) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return a.base.GetByID(ctx, id.String())
}

func (a *accounts) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (a *accounts) GetByCode(ctx context.Context, code string) (*Account, error) {
	return a.GetByCodeTx(ctx, a.db, code)
}

func (a *accounts) GetByCodeTx(ctx context.Context, tx bun.IDB, code string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.code = ?", strings.TrimSpace(code)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (a *accounts) RaisePrivilegeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, level int, at time.Time) (bool, error) {
	res, err := tx.NewRaw(RaisePrivilegeSQL, level, at, id, level).Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func prepareAccountDefaults(account *Account) {
	if account == nil {
		return
	}

	account.Code = strings.TrimSpace(account.Code)

	if account.ID == uuid.Nil {
		if id, err := hashid.NewUUID(account.Code); err == nil {
			account.ID = id
		} else {
			account.ID = uuid.New()
		}
	}

	now := time.Now().UTC()
	if account.CreatedAt == nil {
		account.CreatedAt = &now
	}
	if account.UpdatedAt == nil {
		account.UpdatedAt = &now
	}
}
