package kyc

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Account is the slice of the account collaborator this package needs.
type Account struct {
	bun.BaseModel  `bun:"table:accounts,alias:acc"`
	ID             uuid.UUID  `bun:"id,pk,nullzero" json:"id"`
	Code           string     `bun:"code,notnull,unique" json:"code"`
	CompanyID      string     `bun:"company_id,notnull" json:"company_id"`
	PrivilegeLevel int        `bun:"privilege_level,notnull" json:"privilege_level"`
	CreatedAt      *time.Time `bun:"created_at,nullzero" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// AccessToken is the persisted side of a one-time token. The secret itself is
// never stored, only its digest.
type AccessToken struct {
	bun.BaseModel `bun:"table:access_tokens,alias:tok"`
	ID            uuid.UUID  `bun:"id,pk,nullzero" json:"id"`
	TokenHash     string     `bun:"token_hash,notnull,unique" json:"-"`
	AccountCode   string     `bun:"account_code,notnull" json:"account_code"`
	IssuedBy      string     `bun:"issued_by" json:"issued_by,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	Used          bool       `bun:"used,notnull" json:"used"`
	UsedAt        *time.Time `bun:"used_at,nullzero" json:"used_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero" json:"created_at,omitempty"`
}

// Request is a KYC request. Only LifecycleEngine mutates it after creation.
type Request struct {
	bun.BaseModel    `bun:"table:kyc_requests,alias:req"`
	ID               string         `bun:"id,pk" json:"id"`
	AccountID        uuid.UUID      `bun:"account_id,notnull" json:"account_id"`
	AccountCode      string         `bun:"account_code,notnull" json:"account_code"`
	CompanyID        string         `bun:"company_id,notnull" json:"company_id"`
	Type             string         `bun:"request_type,notnull" json:"type"`
	Status           RequestStatus  `bun:"status,notnull" json:"status"`
	PriorityLevel    int            `bun:"priority_level,notnull" json:"priority_level"`
	CurrentLevel     int            `bun:"current_level,notnull" json:"current_level"`
	LevelToUpgradeTo int            `bun:"level_to_upgrade_to,notnull" json:"level_to_upgrade_to"`
	Details          map[string]any `bun:"details" json:"details,omitempty"`
	HasFiles         bool           `bun:"has_files,notnull" json:"has_files"`
	SubmittedAt      time.Time      `bun:"submitted_at,notnull" json:"submitted_at"`
	CompletedAt      *time.Time     `bun:"completed_at,nullzero" json:"completed_at,omitempty"`
	ArchivedAt       *time.Time     `bun:"archived_at,nullzero" json:"archived_at,omitempty"`
	UpdatedAt        *time.Time     `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// ApprovalAction is an immutable record of a decision.
type ApprovalAction struct {
	bun.BaseModel `bun:"table:kyc_approval_actions,alias:act"`
	ID            uuid.UUID  `bun:"id,pk,nullzero" json:"id"`
	RequestID     string     `bun:"request_id,notnull" json:"request_id"`
	ActorID       string     `bun:"actor_id,notnull" json:"actor_id"`
	ActionType    ActionType `bun:"action_type,notnull" json:"action_type"`
	Remarks       string     `bun:"remarks" json:"remarks,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// AuditEntry is an immutable compliance record of a status change, including
// the creation of the request.
type AuditEntry struct {
	bun.BaseModel `bun:"table:kyc_audit_entries,alias:aud"`
	ID            uuid.UUID      `bun:"id,pk,nullzero" json:"id"`
	RequestID     string         `bun:"request_id,notnull" json:"request_id"`
	ActionType    ActionType     `bun:"action_type,notnull" json:"action_type"`
	ActorID       string         `bun:"actor_id,notnull" json:"actor_id"`
	OldStatus     *RequestStatus `bun:"old_status" json:"old_status,omitempty"`
	NewStatus     RequestStatus  `bun:"new_status,notnull" json:"new_status"`
	Details       map[string]any `bun:"details" json:"details,omitempty"`
	CreatedAt     time.Time      `bun:"created_at,notnull" json:"created_at"`
}

// MediaFile is an evidence file attached to a request.
type MediaFile struct {
	bun.BaseModel `bun:"table:kyc_media_files,alias:mf"`
	ID            uuid.UUID  `bun:"id,pk,nullzero" json:"id"`
	RequestID     string     `bun:"request_id,notnull" json:"request_id"`
	Filename      string     `bun:"filename,notnull" json:"filename"`
	Path          string     `bun:"path,notnull" json:"path"`
	ContentType   string     `bun:"content_type" json:"content_type,omitempty"`
	SizeBytes     int64      `bun:"size_bytes,notnull" json:"size_bytes"`
	Category      string     `bun:"category,notnull" json:"category"`
	UploadedBy    string     `bun:"uploaded_by,notnull" json:"uploaded_by"`
	Verified      bool       `bun:"verified,notnull" json:"verified"`
	VerifiedBy    string     `bun:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt    *time.Time `bun:"verified_at,nullzero" json:"verified_at,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
}
