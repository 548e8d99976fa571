package kyc

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RequestDetail is the internal view of a request and its full history.
type RequestDetail struct {
	Request  *Request          `json:"request"`
	Files    []*MediaFile      `json:"files"`
	Actions  []*ApprovalAction `json:"approvalActions"`
	AuditLog []*AuditEntry     `json:"auditTrail"`
}

// PublicStatus is the reduced view exposed to clients. It never carries the
// approval or audit trail.
type PublicStatus struct {
	ID               string        `json:"id"`
	Type             string        `json:"type"`
	Status           RequestStatus `json:"status"`
	PriorityLevel    int           `json:"priorityLevel"`
	SubmittedAt      time.Time     `json:"submittedAt"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`
	ArchivedAt       *time.Time    `json:"archivedAt,omitempty"`
	HasFiles         bool          `json:"hasFiles"`
	CurrentLevel     int           `json:"currentLevel"`
	LevelToUpgradeTo int           `json:"upgradeTarget"`
	LastUpdatedAt    *time.Time    `json:"lastUpdatedAt,omitempty"`
}

// RequestPage is one page of ListRequests.
type RequestPage struct {
	Items  []*Request `json:"items"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Queries is the read side plus evidence verification.
type Queries struct {
	repos RepositoryManager
	settings
}

func NewQueries(repos RepositoryManager, opts ...Option) *Queries {
	return &Queries{
		repos:    repos,
		settings: newSettings(opts...),
	}
}

func (q *Queries) loadRequest(ctx context.Context, id string) (*Request, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errInvalidInput("request id is required", nil)
	}
	request, err := q.repos.Requests().GetByID(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, errNotFound("request", id)
		}
		return nil, errPersistence(err, "failed to load request")
	}
	return request, nil
}

// GetRequest returns the request row.
func (q *Queries) GetRequest(ctx context.Context, id string) (*Request, error) {
	if err := checkContext(ctx, "get request"); err != nil {
		return nil, err
	}
	return q.loadRequest(ctx, id)
}

// GetRequestDetail returns the request with its files, approval actions and
// audit trail, each ordered by time.
func (q *Queries) GetRequestDetail(ctx context.Context, id string) (*RequestDetail, error) {
	if err := checkContext(ctx, "get request detail"); err != nil {
		return nil, err
	}

	request, err := q.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	files, err := q.repos.MediaFiles().ListByRequest(ctx, request.ID)
	if err != nil {
		return nil, errPersistence(err, "failed to load files")
	}
	actions, err := q.repos.History().ListActions(ctx, request.ID)
	if err != nil {
		return nil, errPersistence(err, "failed to load approval actions")
	}
	audit, err := q.repos.History().ListAudit(ctx, request.ID)
	if err != nil {
		return nil, errPersistence(err, "failed to load audit trail")
	}

	return &RequestDetail{
		Request:  request,
		Files:    files,
		Actions:  actions,
		AuditLog: audit,
	}, nil
}

// GetPublicStatus returns the client-facing status of a request.
func (q *Queries) GetPublicStatus(ctx context.Context, id string) (*PublicStatus, error) {
	if err := checkContext(ctx, "get public status"); err != nil {
		return nil, err
	}

	request, err := q.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	latest, err := q.repos.History().LatestAuditAt(ctx, request.ID)
	if err != nil {
		return nil, errPersistence(err, "failed to load audit trail")
	}

	return &PublicStatus{
		ID:               request.ID,
		Type:             request.Type,
		Status:           request.Status,
		PriorityLevel:    request.PriorityLevel,
		SubmittedAt:      request.SubmittedAt,
		CompletedAt:      request.CompletedAt,
		ArchivedAt:       request.ArchivedAt,
		HasFiles:         request.HasFiles,
		CurrentLevel:     request.CurrentLevel,
		LevelToUpgradeTo: request.LevelToUpgradeTo,
		LastUpdatedAt:    latest,
	}, nil
}

// ListRequests returns a page of requests ordered by priority, then age.
func (q *Queries) ListRequests(ctx context.Context, filter RequestFilter) (*RequestPage, error) {
	if err := checkContext(ctx, "list requests"); err != nil {
		return nil, err
	}
	if filter.Status != 0 && !filter.Status.IsValid() {
		return nil, errInvalidInput("unknown status filter", map[string]any{"status": int(filter.Status)})
	}

	items, total, err := q.repos.Requests().List(ctx, filter)
	if err != nil {
		return nil, errPersistence(err, "failed to list requests")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return &RequestPage{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: max(filter.Offset, 0),
	}, nil
}

// VerifyFile marks an evidence file as checked by a staff member. Verifying
// an already verified file keeps the first verifier.
func (q *Queries) VerifyFile(ctx context.Context, actor ActorRef, requestID string, fileID uuid.UUID) (*MediaFile, error) {
	if err := checkContext(ctx, "verify file"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(actor.ID) == "" {
		return nil, errInvalidInput("actor is required", nil)
	}

	requestID = strings.TrimSpace(requestID)
	file, err := q.repos.MediaFiles().GetByID(ctx, fileID)
	if err != nil {
		if isNoRows(err) {
			return nil, errNotFound("file", fileID.String())
		}
		return nil, errPersistence(err, "failed to load file")
	}
	if file.RequestID != requestID {
		return nil, errNotFound("file", fileID.String())
	}
	if file.Verified {
		return file, nil
	}

	now := q.clock()
	var changed int64
	err = q.repos.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		changed, err = q.repos.MediaFiles().MarkVerifiedTx(ctx, tx, requestID, fileID, actor.ID, now)
		return err
	})
	if err != nil {
		return nil, asRichError(err, "failed to verify file")
	}

	if changed == 0 {
		// lost a race with another verifier
		if current, err := q.repos.MediaFiles().GetByID(ctx, fileID); err == nil {
			return current, nil
		}
	} else {
		file.Verified = true
		file.VerifiedBy = actor.ID
		file.VerifiedAt = &now

		q.logger.Info("file verified", "request_id", requestID, "file_id", fileID, "actor", actor.ID)
		emitActivity(ctx, q.activitySink, q.logger, ActivityEvent{
			EventType:  ActivityEventFileVerified,
			Actor:      actor,
			RequestID:  requestID,
			Metadata:   map[string]any{"file_id": fileID.String(), "category": file.Category},
			OccurredAt: now,
		})
	}

	return file, nil
}
