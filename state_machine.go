package kyc

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/uptrace/bun"
)

// TransitionContext is passed to hooks running inside the unit of work.
type TransitionContext struct {
	Actor   ActorRef
	Request *Request
	Action  ActionType
	From    RequestStatus
	To      RequestStatus
	Remarks string
}

// TransitionHook runs inside the transaction after the status, the approval
// action and the privilege raise were written. Returning an error rolls the
// whole transition back.
type TransitionHook func(ctx context.Context, tx bun.IDB, tc TransitionContext) error

// WithTransitionHook adds a hook to the LifecycleEngine.
func WithTransitionHook(h TransitionHook) Option {
	return func(s *settings) {
		if h != nil {
			s.transitionHooks = append(s.transitionHooks, h)
		}
	}
}

// TransitionResult describes a committed transition.
type TransitionResult struct {
	Request         *Request
	From            RequestStatus
	To              RequestStatus
	Action          *ApprovalAction
	Audit           *AuditEntry
	PrivilegeRaised bool
}

// LifecycleEngine owns every mutation of a request after it is created.
type LifecycleEngine struct {
	repos      RepositoryManager
	recorder   *ApprovalRecorder
	audit      *AuditLogger
	privileges *PrivilegeUpdater
	settings
}

func NewLifecycleEngine(repos RepositoryManager, opts ...Option) *LifecycleEngine {
	s := newSettings(opts...)
	return &LifecycleEngine{
		repos:      repos,
		recorder:   NewApprovalRecorder(repos.History(), s.clock),
		audit:      NewAuditLogger(repos.History(), s.clock),
		privileges: NewPrivilegeUpdater(repos, opts...),
		settings:   s,
	}
}

// ProcessAction applies action to the request. Status, approval action,
// privilege raise and audit entry commit or roll back together. The request
// is left untouched on any error.
func (e *LifecycleEngine) ProcessAction(ctx context.Context, actor ActorRef, requestID string, action ActionType, remarks string) (*TransitionResult, error) {
	started := time.Now()
	requestID = strings.TrimSpace(requestID)

	result, err := e.processAction(ctx, actor, requestID, action, remarks)
	e.metrics.transition(action, err, time.Since(started))
	if err != nil {
		e.logger.Warn("request transition failed",
			"request_id", requestID,
			"action", string(action),
			"actor", actor.ID,
			"code", TextCode(err),
			"error", err,
		)
		return nil, err
	}

	e.logger.Info("request transitioned",
		"request_id", requestID,
		"action", string(action),
		"from", result.From.String(),
		"to", result.To.String(),
		"privilege_raised", result.PrivilegeRaised,
	)
	emitActivity(ctx, e.activitySink, e.logger, ActivityEvent{
		EventType:   ActivityEventRequestTransitioned,
		Actor:       actor,
		RequestID:   requestID,
		AccountCode: result.Request.AccountCode,
		FromStatus:  result.From,
		ToStatus:    result.To,
		Metadata: map[string]any{
			"action":           string(action),
			"privilege_raised": result.PrivilegeRaised,
		},
		OccurredAt: result.Audit.CreatedAt,
	})

	return result, nil
}

func (e *LifecycleEngine) processAction(ctx context.Context, actor ActorRef, requestID string, action ActionType, remarks string) (*TransitionResult, error) {
	if err := checkContext(ctx, "process action"); err != nil {
		return nil, err
	}

	target, ok := action.TargetStatus()
	switch {
	case requestID == "":
		return nil, errInvalidInput("request id is required", nil)
	case !ok:
		return nil, errInvalidInput("unknown action type", map[string]any{"action": string(action)})
	case strings.TrimSpace(actor.ID) == "":
		return nil, errInvalidInput("actor is required", nil)
	case utf8.RuneCountInString(remarks) > DefaultMaxRemarksSize:
		return nil, errInvalidInput("remarks are too long", map[string]any{"max": DefaultMaxRemarksSize})
	}

	var result *TransitionResult
	err := e.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		request, err := e.repos.Requests().GetByIDTx(ctx, tx, requestID)
		if err != nil {
			if isNoRows(err) {
				return errNotFound("request", requestID)
			}
			return errPersistence(err, "failed to load request")
		}

		from := request.Status
		if !CanTransition(from, target) {
			return errInvalidTransition(requestID, from, action)
		}

		now := e.clock()
		change := StatusChange{
			RequestID: requestID,
			From:      from,
			To:        target,
			UpdatedAt: now,
		}
		if (action == ActionApprove || action == ActionReject) && request.CompletedAt == nil {
			change.CompletedAt = &now
		}
		if action == ActionArchive {
			change.ArchivedAt = &now
		}

		n, err := e.repos.Requests().UpdateStatusTx(ctx, tx, change)
		if err != nil {
			return errPersistence(err, "failed to update request status")
		}
		if n == 0 {
			return errConcurrentModification(requestID, from)
		}

		approval, err := e.recorder.RecordTx(ctx, tx, requestID, actor, action, remarks)
		if err != nil {
			return err
		}

		raised := false
		if action == ActionApprove {
			account, err := e.repos.Accounts().GetByIDTx(ctx, tx, request.AccountID)
			if err != nil {
				if isNoRows(err) {
					return errInvalidAccount(request.AccountCode)
				}
				return errPersistence(err, "failed to load account")
			}
			if request.LevelToUpgradeTo > account.PrivilegeLevel {
				if raised, err = e.privileges.RaiseIfHigherTx(ctx, tx, account.ID, request.LevelToUpgradeTo); err != nil {
					return err
				}
			}
		}

		request.Status = target
		request.UpdatedAt = &now
		if change.CompletedAt != nil {
			request.CompletedAt = change.CompletedAt
		}
		if change.ArchivedAt != nil {
			request.ArchivedAt = change.ArchivedAt
		}

		tc := TransitionContext{
			Actor:   actor,
			Request: request,
			Action:  action,
			From:    from,
			To:      target,
			Remarks: remarks,
		}
		for _, hook := range e.transitionHooks {
			if err := hook(ctx, tx, tc); err != nil {
				return err
			}
		}

		details := map[string]any{"privilege_raised": raised}
		if remarks != "" {
			details["remarks"] = remarks
		}
		entry, err := e.audit.AppendTx(ctx, tx, AuditChange{
			RequestID: requestID,
			Action:    action,
			Actor:     actor,
			From:      &from,
			To:        target,
			Details:   details,
		})
		if err != nil {
			return err
		}

		result = &TransitionResult{
			Request:         request,
			From:            from,
			To:              target,
			Action:          approval,
			Audit:           entry,
			PrivilegeRaised: raised,
		}
		return nil
	})
	if err != nil {
		return nil, asRichError(err, "failed to process action")
	}
	return result, nil
}
