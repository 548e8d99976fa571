package kyc

import (
	"context"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Reasons reported by TokenValidator.Validate.
const (
	TokenReasonUnknown       = "unknown"
	TokenReasonExpired       = "expired"
	TokenReasonUsed          = "used"
	TokenReasonScopeMismatch = "scope_mismatch"
)

// TokenInfo is a read-only view for UI pre-checks. It is never an
// authorization decision.
type TokenInfo struct {
	Valid     bool       `json:"valid"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// TokenValidator verifies and consumes access tokens.
type TokenValidator struct {
	repos RepositoryManager
	settings
}

func NewTokenValidator(repos RepositoryManager, opts ...Option) *TokenValidator {
	return &TokenValidator{
		repos:    repos,
		settings: newSettings(opts...),
	}
}

// ValidateAndConsume atomically marks the token used. It returns true for
// exactly one caller per token, and only before expiry.
func (v *TokenValidator) ValidateAndConsume(ctx context.Context, token, accountCode string) (bool, error) {
	if err := checkContext(ctx, "token redemption"); err != nil {
		return false, err
	}
	ok, err := v.consume(ctx, v.repos.AccessTokens().Consume, token, accountCode)
	if err == nil {
		v.metrics.tokenRedemption(ok)
	}
	return ok, err
}

// ConsumeTx is ValidateAndConsume bound to the caller's transaction, so a
// rollback leaves the token redeemable. The caller records the redemption
// metric once the transaction outcome is known.
func (v *TokenValidator) ConsumeTx(ctx context.Context, tx bun.IDB, token, accountCode string) (bool, error) {
	return v.consume(ctx, func(ctx context.Context, hash, code string, now time.Time) (int64, error) {
		return v.repos.AccessTokens().ConsumeTx(ctx, tx, hash, code, now)
	}, token, accountCode)
}

type consumeFunc func(ctx context.Context, hash, accountCode string, now time.Time) (int64, error)

func (v *TokenValidator) consume(ctx context.Context, fn consumeFunc, token, accountCode string) (bool, error) {
	token = strings.TrimSpace(token)
	accountCode = strings.TrimSpace(accountCode)
	if token == "" || accountCode == "" {
		return false, nil
	}

	hash := HashToken(token)
	n, err := fn(ctx, hash, accountCode, v.clock())
	if err != nil {
		v.logger.Error("token redemption failed", "token_hash", hashPrefix(hash), "error", err)
		return false, errPersistence(err, "failed to redeem token")
	}

	ok := n == 1
	v.logger.Debug("token redemption", "token_hash", hashPrefix(hash), "account_code", accountCode, "ok", ok)
	return ok, nil
}

// Validate inspects a token without consuming it.
func (v *TokenValidator) Validate(ctx context.Context, token, accountCode string) (*TokenInfo, error) {
	if err := checkContext(ctx, "token validation"); err != nil {
		return nil, err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return &TokenInfo{Reason: TokenReasonUnknown}, nil
	}

	record, err := v.repos.AccessTokens().GetByHash(ctx, HashToken(token))
	if err != nil {
		if isNoRows(err) {
			return &TokenInfo{Reason: TokenReasonUnknown}, nil
		}
		return nil, errPersistence(err, "failed to load token")
	}

	if record.AccountCode != strings.TrimSpace(accountCode) {
		return &TokenInfo{Reason: TokenReasonScopeMismatch}, nil
	}

	expiresAt := record.ExpiresAt.UTC()
	info := &TokenInfo{ExpiresAt: &expiresAt}
	switch {
	case record.Used:
		info.Reason = TokenReasonUsed
	case !expiresAt.After(v.clock()):
		info.Reason = TokenReasonExpired
	default:
		info.Valid = true
	}
	return info, nil
}
