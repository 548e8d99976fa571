package kyc

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccessTokens persists token digests. Consume is the only way a token is
// ever marked used.
type AccessTokens interface {
	Create(ctx context.Context, token *AccessToken) (*AccessToken, error)
	CreateTx(ctx context.Context, tx bun.IDB, token *AccessToken) (*AccessToken, error)
	GetByHash(ctx context.Context, hash string) (*AccessToken, error)
	GetByHashTx(ctx context.Context, tx bun.IDB, hash string) (*AccessToken, error)
	// Consume marks the token used in a single conditional statement and
	// returns the number of affected rows (0 or 1).
	Consume(ctx context.Context, hash, accountCode string, now time.Time) (int64, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, hash, accountCode string, now time.Time) (int64, error)
}

type accessTokens struct {
	db *bun.DB
}

var _ AccessTokens = (*accessTokens)(nil)

func NewAccessTokensRepository(db *bun.DB) AccessTokens {
	return &accessTokens{db: db}
}

func (r *accessTokens) Create(ctx context.Context, token *AccessToken) (*AccessToken, error) {
	return r.CreateTx(ctx, r.db, token)
}

func (r *accessTokens) CreateTx(ctx context.Context, tx bun.IDB, token *AccessToken) (*AccessToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if _, err := tx.NewInsert().Model(token).Exec(ctx); err != nil {
		return nil, err
	}
	return token, nil
}

func (r *accessTokens) GetByHash(ctx context.Context, hash string) (*AccessToken, error) {
	return r.GetByHashTx(ctx, r.db, hash)
}

func (r *accessTokens) GetByHashTx(ctx context.Context, tx bun.IDB, hash string) (*AccessToken, error) {
	record := &AccessToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token_hash = ?", hash).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *accessTokens) Consume(ctx context.Context, hash, accountCode string, now time.Time) (int64, error) {
	return r.ConsumeTx(ctx, r.db, hash, accountCode, now)
}

func (r *accessTokens) ConsumeTx(ctx context.Context, tx bun.IDB, hash, accountCode string, now time.Time) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*AccessToken)(nil)).
		Set("used = ?", true).
		Set("used_at = ?", now).
		Where("token_hash = ?", hash).
		Where("account_code = ?", strings.TrimSpace(accountCode)).
		Where("used = ?", false).
		Where("expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
