package kyc

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/uptrace/bun"
)

const (
	RequestTypeTierUpgrade          = "tier_upgrade"
	RequestTypeIdentityVerification = "identity_verification"
	RequestTypeAddressVerification  = "address_verification"
	RequestTypeBusinessVerification = "business_verification"
)

const (
	DefaultPriorityLevel = 1
	MaxPriorityLevel     = 5
)

var errIDAttemptsExhausted = errors.New("could not allocate a unique request id")

// SubmissionPayload is the client supplied part of a request.
type SubmissionPayload struct {
	Type string `json:"type"`
	// PriorityLevel defaults to DefaultPriorityLevel when omitted.
	PriorityLevel    *int           `json:"priorityLevel,omitempty"`
	LevelToUpgradeTo int            `json:"levelToUpgradeTo"`
	Details          map[string]any `json:"details,omitempty"`
}

func (p SubmissionPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(
			&p.Type,
			validation.Required,
			validation.In(
				RequestTypeTierUpgrade,
				RequestTypeIdentityVerification,
				RequestTypeAddressVerification,
				RequestTypeBusinessVerification,
			),
		),
		validation.Field(&p.PriorityLevel, validation.Min(0), validation.Max(MaxPriorityLevel)),
		validation.Field(&p.LevelToUpgradeTo, validation.Min(0)),
	)
}

// SubmitInput is everything a client sends to Submit.
type SubmitInput struct {
	Token       string            `json:"token"`
	AccountCode string            `json:"accountCode"`
	Payload     SubmissionPayload `json:"payload"`
	Files       []FileUpload      `json:"files,omitempty"`
}

// SubmissionSummary is returned to the client after a successful submit.
type SubmissionSummary struct {
	RequestID     string        `json:"requestId"`
	Status        RequestStatus `json:"status"`
	SubmittedAt   time.Time     `json:"submittedAt"`
	FilesAttached int           `json:"filesAttached"`
}

// Submitter turns a redeemed access token into a Pending request.
type Submitter struct {
	repos     RepositoryManager
	validator *TokenValidator
	attacher  *FileAttacher
	audit     *AuditLogger
	settings
}

func NewSubmitter(repos RepositoryManager, attacher *FileAttacher, opts ...Option) *Submitter {
	s := newSettings(opts...)
	return &Submitter{
		repos:     repos,
		validator: NewTokenValidator(repos, opts...),
		attacher:  attacher,
		audit:     NewAuditLogger(repos.History(), s.clock),
		settings:  s,
	}
}

// Submit redeems the token and creates the request with its files. Token
// redemption, request, files and the creation audit entry share one
// transaction: when any step fails the token stays redeemable.
func (s *Submitter) Submit(ctx context.Context, input SubmitInput) (*SubmissionSummary, error) {
	if err := checkContext(ctx, "submit"); err != nil {
		return nil, err
	}

	if err := input.Payload.Validate(); err != nil {
		return nil, errInvalidInput("invalid submission payload", validationMetadata(err))
	}

	files := make([]FileUpload, len(input.Files))
	copy(files, input.Files)
	if len(files) > 0 {
		if s.attacher == nil {
			return nil, errInvalidInput("file uploads are not enabled", nil)
		}
		if err := s.attacher.Validate(files); err != nil {
			return nil, err
		}
	}

	accountCode := strings.TrimSpace(input.AccountCode)
	priority := DefaultPriorityLevel
	if input.Payload.PriorityLevel != nil {
		priority = *input.Payload.PriorityLevel
	}

	var (
		request  *Request
		written  []string
		rejected bool
	)
	err := s.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ok, err := s.validator.ConsumeTx(ctx, tx, input.Token, accountCode)
		if err != nil {
			return err
		}
		if !ok {
			rejected = true
			return errUnauthorized()
		}

		account, err := s.repos.Accounts().GetByCodeTx(ctx, tx, accountCode)
		if err != nil {
			if isNoRows(err) {
				return errInvalidAccount(accountCode)
			}
			return errPersistence(err, "failed to load account")
		}

		now := s.clock()
		request = &Request{
			AccountID:        account.ID,
			AccountCode:      account.Code,
			CompanyID:        account.CompanyID,
			Type:             input.Payload.Type,
			Status:           StatusPending,
			PriorityLevel:    priority,
			CurrentLevel:     account.PrivilegeLevel,
			LevelToUpgradeTo: input.Payload.LevelToUpgradeTo,
			Details:          input.Payload.Details,
			HasFiles:         len(files) > 0,
			SubmittedAt:      now,
			UpdatedAt:        &now,
		}
		if err := s.insertWithFreshID(ctx, tx, request); err != nil {
			return err
		}

		if len(files) > 0 {
			var attachErr error
			_, written, attachErr = s.attacher.AttachTx(ctx, tx, request.ID, account.Code, files)
			if attachErr != nil {
				return attachErr
			}
		}

		_, err = s.audit.AppendTx(ctx, tx, AuditChange{
			RequestID: request.ID,
			Action:    AuditActionCreate,
			Actor:     ActorRef{ID: account.Code, Type: ActorTypeClient},
			To:        StatusPending,
			Details: map[string]any{
				"type":                input.Payload.Type,
				"level_to_upgrade_to": input.Payload.LevelToUpgradeTo,
				"files":               len(files),
			},
		})
		return err
	})
	if err != nil {
		// a rolled back redemption is not counted, the token is still live
		if rejected {
			s.metrics.tokenRedemption(false)
		}
		if len(written) > 0 {
			s.attacher.Discard(written)
		}
		richErr := asRichError(err, "failed to submit request")
		s.logger.Warn("submission failed", "account_code", accountCode, "code", TextCode(richErr), "error", err)
		return nil, richErr
	}

	s.metrics.tokenRedemption(true)
	s.metrics.requestSubmitted(request.Type)
	s.logger.Info("request submitted",
		"request_id", request.ID,
		"account_code", request.AccountCode,
		"type", request.Type,
		"files", len(files),
	)

	client := ActorRef{ID: request.AccountCode, Type: ActorTypeClient}
	emitActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType:   ActivityEventTokenRedeemed,
		Actor:       client,
		RequestID:   request.ID,
		AccountCode: request.AccountCode,
		OccurredAt:  request.SubmittedAt,
	})
	emitActivity(ctx, s.activitySink, s.logger, ActivityEvent{
		EventType:   ActivityEventRequestSubmitted,
		Actor:       client,
		RequestID:   request.ID,
		AccountCode: request.AccountCode,
		ToStatus:    StatusPending,
		Metadata: map[string]any{
			"type":  request.Type,
			"files": len(files),
		},
		OccurredAt: request.SubmittedAt,
	})

	return &SubmissionSummary{
		RequestID:     request.ID,
		Status:        request.Status,
		SubmittedAt:   request.SubmittedAt,
		FilesAttached: len(files),
	}, nil
}

func (s *Submitter) insertWithFreshID(ctx context.Context, tx bun.IDB, request *Request) error {
	for attempt := 1; attempt <= s.maxIDAttempts; attempt++ {
		id, err := s.idGenerator.NewID()
		if err != nil {
			return errPersistence(err, "failed to generate request id")
		}
		request.ID = id

		inserted, err := s.repos.Requests().InsertTx(ctx, tx, request)
		if err != nil {
			return errPersistence(err, "failed to create request")
		}
		if inserted {
			return nil
		}
		s.logger.Warn("request id collision", "request_id", id, "attempt", attempt)
	}
	return errPersistence(errIDAttemptsExhausted, "failed to create request")
}
