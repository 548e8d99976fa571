package kyc

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	MustValidate()
	Accounts() Accounts
	AccessTokens() AccessTokens
	Requests() Requests
	History() History
	MediaFiles() MediaFiles
}

type mngr struct {
	db           *bun.DB
	accounts     Accounts
	accessTokens AccessTokens
	requests     Requests
	history      History
	mediaFiles   MediaFiles
}

// NewRepositoryManager wires every repository against db.
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:           db,
		accounts:     NewAccountsRepository(db),
		accessTokens: NewAccessTokensRepository(db),
		requests:     NewRequestsRepository(db),
		history:      NewHistoryRepository(db),
		mediaFiles:   NewMediaFilesRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository database should be initialized")
	}

	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.accessTokens == nil {
		return errors.New("repository accessTokens should be initialized")
	}

	if m.requests == nil {
		return errors.New("repository requests should be initialized")
	}

	if m.history == nil {
		return errors.New("repository history should be initialized")
	}

	if m.mediaFiles == nil {
		return errors.New("repository mediaFiles should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Accounts() Accounts {
	return m.accounts
}

func (m mngr) AccessTokens() AccessTokens {
	return m.accessTokens
}

func (m mngr) Requests() Requests {
	return m.requests
}

func (m mngr) History() History {
	return m.history
}

func (m mngr) MediaFiles() MediaFiles {
	return m.mediaFiles
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err)
}
