package kyc

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PrivilegeUpdater ratchets account privilege levels upward. It never lowers
// a level.
type PrivilegeUpdater struct {
	repos RepositoryManager
	settings
}

func NewPrivilegeUpdater(repos RepositoryManager, opts ...Option) *PrivilegeUpdater {
	return &PrivilegeUpdater{
		repos:    repos,
		settings: newSettings(opts...),
	}
}

// RaiseIfHigher sets the privilege level to newLevel when it is above the
// current one and reports whether anything changed.
func (p *PrivilegeUpdater) RaiseIfHigher(ctx context.Context, accountID uuid.UUID, newLevel int) (bool, error) {
	var raised bool
	err := p.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		raised, err = p.RaiseIfHigherTx(ctx, tx, accountID, newLevel)
		return err
	})
	if err != nil {
		return false, asRichError(err, "failed to raise privilege")
	}
	return raised, nil
}

// RaiseIfHigherTx is RaiseIfHigher inside the caller's unit of work.
func (p *PrivilegeUpdater) RaiseIfHigherTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, newLevel int) (bool, error) {
	raised, err := p.repos.Accounts().RaisePrivilegeTx(ctx, tx, accountID, newLevel, p.clock())
	if err != nil {
		return false, errPersistence(err, "failed to raise privilege")
	}
	if raised {
		p.logger.Info("account privilege raised", "account_id", accountID, "level", newLevel)
		return true, nil
	}

	// zero rows is either a no-op or an unknown account
	if _, err := p.repos.Accounts().GetByIDTx(ctx, tx, accountID); err != nil {
		if isNoRows(err) {
			return false, errInvalidAccount(accountID.String())
		}
		return false, errPersistence(err, "failed to load account")
	}
	return false, nil
}
