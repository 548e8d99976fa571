package kyc

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// RequestStatus is the lifecycle state of a KYC request.
type RequestStatus int

const (
	// StatusPending is the state of a freshly submitted request
	StatusPending RequestStatus = iota + 1
	// StatusInReview is a request picked up (or reopened) by an approver
	StatusInReview
	// StatusApproved is a request whose upgrade was granted
	StatusApproved
	// StatusRejected is a request whose upgrade was denied
	StatusRejected
	// StatusArchived is terminal
	StatusArchived
)

var statusNames = map[RequestStatus]string{
	StatusPending:  "Pending",
	StatusInReview: "InReview",
	StatusApproved: "Approved",
	StatusRejected: "Rejected",
	StatusArchived: "Archived",
}

// RequestStatuses lists every status in lifecycle order.
func RequestStatuses() []RequestStatus {
	return []RequestStatus{StatusPending, StatusInReview, StatusApproved, StatusRejected, StatusArchived}
}

func (s RequestStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RequestStatus(%d)", int(s))
}

// IsValid reports whether s is one of the declared statuses.
func (s RequestStatus) IsValid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsTerminal reports whether no further transitions are allowed.
func (s RequestStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// MarshalText encodes the status by name.
func (s RequestStatus) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("invalid request status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name (case insensitive).
func (s *RequestStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseRequestStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value stores the status as its ordinal.
func (s RequestStatus) Value() (driver.Value, error) {
	return int64(s), nil
}

// Scan reads the ordinal written by Value.
func (s *RequestStatus) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*s = RequestStatus(v)
	case []byte:
		n, err := strconv.Atoi(string(v))
		if err != nil {
			return fmt.Errorf("scan request status: %w", err)
		}
		*s = RequestStatus(n)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("scan request status: %w", err)
		}
		*s = RequestStatus(n)
	case nil:
		*s = 0
	default:
		return fmt.Errorf("scan request status: unsupported type %T", src)
	}
	return nil
}

// ParseRequestStatus resolves a status name.
func ParseRequestStatus(name string) (RequestStatus, error) {
	trimmed := strings.TrimSpace(name)
	for status, n := range statusNames {
		if strings.EqualFold(n, trimmed) {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown request status %q", name)
}

// ActionType is a decision an approver applies to a request.
type ActionType string

const (
	ActionApprove  ActionType = "Approve"
	ActionReject   ActionType = "Reject"
	ActionArchive  ActionType = "Archive"
	ActionEscalate ActionType = "Escalate"
)

// AuditActionCreate marks the audit entry written at submission time.
const AuditActionCreate ActionType = "Create"

// ActionTypes lists the actions accepted by ProcessAction.
func ActionTypes() []ActionType {
	return []ActionType{ActionApprove, ActionReject, ActionArchive, ActionEscalate}
}

// ParseActionType resolves an action name (case insensitive).
func ParseActionType(name string) (ActionType, error) {
	trimmed := strings.TrimSpace(name)
	for _, action := range ActionTypes() {
		if strings.EqualFold(string(action), trimmed) {
			return action, nil
		}
	}
	return "", fmt.Errorf("unknown action type %q", name)
}

// TargetStatus returns the status an action moves a request to.
func (a ActionType) TargetStatus() (RequestStatus, bool) {
	switch a {
	case ActionApprove:
		return StatusApproved, true
	case ActionReject:
		return StatusRejected, true
	case ActionArchive:
		return StatusArchived, true
	case ActionEscalate:
		return StatusInReview, true
	default:
		return 0, false
	}
}

var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:  {StatusInReview, StatusRejected, StatusArchived},
	StatusInReview: {StatusApproved, StatusRejected, StatusArchived},
	StatusApproved: {StatusArchived},
	StatusRejected: {StatusInReview, StatusArchived},
	StatusArchived: {},
}

// AllowedTargets returns a copy of the statuses reachable from s.
func AllowedTargets(s RequestStatus) []RequestStatus {
	allowed := transitions[s]
	out := make([]RequestStatus, len(allowed))
	copy(out, allowed)
	return out
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to RequestStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
