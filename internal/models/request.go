package models

import "time"

// RequestStatus enumerates the badge request lifecycle.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

// BadgeRequest tracks a student's claim on a mini-badge through the approval
// workflow. Pending is the only non-terminal state.
type BadgeRequest struct {
	ID             string        `db:"id" json:"id"`
	UserID         string        `db:"user_id" json:"user_id"`
	MiniBadgeID    string        `db:"mini_badge_id" json:"mini_badge_id"`
	Status         RequestStatus `db:"status" json:"status"`
	SubmittedAt    time.Time     `db:"submitted_at" json:"submitted_at"`
	DecidedAt      *time.Time    `db:"decided_at" json:"decided_at,omitempty"`
	DecidedBy      *string       `db:"decided_by" json:"decided_by,omitempty"`
	DecisionReason *string       `db:"decision_reason" json:"decision_reason,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// IsPending reports whether the request is still undecided.
func (r *BadgeRequest) IsPending() bool {
	return r.Status == RequestPending
}

// IsDecided reports whether the request reached a terminal state.
func (r *BadgeRequest) IsDecided() bool {
	return r.Status == RequestApproved || r.Status == RequestRejected
}

// RequestFilter captures filtering criteria for listing requests.
type RequestFilter struct {
	UserID   string
	Status   *RequestStatus
	Page     int
	PageSize int
}
