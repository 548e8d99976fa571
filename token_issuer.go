package kyc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

const tokenSecretBytes = 32

// IssuedToken is returned exactly once. The plaintext cannot be recovered
// afterwards.
type IssuedToken struct {
	Token       string    `json:"token"`
	AccountCode string    `json:"accountCode"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// IssueTokenInput is the payload for TokenIssuer.Issue.
type IssueTokenInput struct {
	AccountCode string `json:"accountCode"`
	// TTLHours of zero selects the default lifetime.
	TTLHours int `json:"ttlHours"`
}

func (in IssueTokenInput) validate(maxTTL time.Duration) error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.AccountCode, validation.Required, validation.Length(1, 100)),
		validation.Field(&in.TTLHours, validation.Min(0), validation.Max(int(maxTTL/time.Hour))),
	)
}

// HashToken returns the digest stored for a token secret.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newTokenSecret() (string, error) {
	buf := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenIssuer creates one-time access tokens scoped to an account.
type TokenIssuer struct {
	repos RepositoryManager
	settings
}

func NewTokenIssuer(repos RepositoryManager, opts ...Option) *TokenIssuer {
	return &TokenIssuer{
		repos:    repos,
		settings: newSettings(opts...),
	}
}

// Issue persists only the digest of a fresh secret and returns the secret.
func (i *TokenIssuer) Issue(ctx context.Context, actor ActorRef, input IssueTokenInput) (*IssuedToken, error) {
	if err := checkContext(ctx, "token issue"); err != nil {
		return nil, err
	}

	input.AccountCode = strings.TrimSpace(input.AccountCode)
	if err := input.validate(i.maxTTL); err != nil {
		return nil, errInvalidInput("invalid token request", validationMetadata(err))
	}

	ttl := i.defaultTTL
	if input.TTLHours > 0 {
		ttl = time.Duration(input.TTLHours) * time.Hour
	}

	account, err := i.repos.Accounts().GetByCode(ctx, input.AccountCode)
	if err != nil {
		if isNoRows(err) {
			return nil, errInvalidAccount(input.AccountCode)
		}
		return nil, errPersistence(err, "failed to load account")
	}

	secret, err := newTokenSecret()
	if err != nil {
		return nil, errPersistence(err, "failed to generate token")
	}

	now := i.clock()
	record := &AccessToken{
		TokenHash:   HashToken(secret),
		AccountCode: account.Code,
		IssuedBy:    actor.orSystem().ID,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   &now,
	}

	if _, err := i.repos.AccessTokens().Create(ctx, record); err != nil {
		i.logger.Error("token issue failed", "account_code", account.Code, "error", err)
		return nil, errPersistence(err, "failed to store token")
	}

	i.metrics.tokenIssued()
	i.logger.Info("token issued",
		"account_code", account.Code,
		"token_hash", hashPrefix(record.TokenHash),
		"expires_at", record.ExpiresAt,
	)
	emitActivity(ctx, i.activitySink, i.logger, ActivityEvent{
		EventType:   ActivityEventTokenIssued,
		Actor:       actor.orSystem(),
		AccountCode: account.Code,
		Metadata:    map[string]any{"expires_at": record.ExpiresAt},
		OccurredAt:  now,
	})

	return &IssuedToken{
		Token:       secret,
		AccountCode: account.Code,
		ExpiresAt:   record.ExpiresAt,
	}, nil
}

// validationMetadata flattens ozzo field errors for error metadata.
func validationMetadata(err error) map[string]any {
	errs, ok := err.(validation.Errors)
	if !ok {
		return map[string]any{"error": err.Error()}
	}
	out := make(map[string]any, len(errs))
	for field, fieldErr := range errs {
		if fieldErr != nil {
			out[field] = fieldErr.Error()
		}
	}
	return out
}
