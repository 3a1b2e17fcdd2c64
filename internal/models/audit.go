package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin              = "LOGIN"
	AuditActionRequestSubmit      = "REQUEST_SUBMIT"
	AuditActionRequestApprove     = "REQUEST_APPROVE"
	AuditActionRequestReject      = "REQUEST_REJECT"
	AuditActionAwardMiniBadge     = "AWARD_MINI_BADGE"
	AuditActionAwardSkillAuto     = "AWARD_SKILL_AUTO"
	AuditActionAwardSkillManual   = "AWARD_SKILL_MANUAL"
	AuditActionAwardProgramAuto   = "AWARD_PROGRAM_AUTO"
	AuditActionAwardProgramManual = "AWARD_PROGRAM_MANUAL"
)

// Audit entity kinds.
const (
	AuditEntityRequest = "request"
	AuditEntityAward   = "award"
	AuditEntityAuth    = "auth"
)

// AuditLog is an append-only record of a privileged action. A nil ActorID
// marks an action taken by the system itself.
type AuditLog struct {
	ID        string    `db:"id" json:"id"`
	ActorID   *string   `db:"actor_id" json:"actor_id,omitempty"`
	Action    string    `db:"action" json:"action"`
	Entity    string    `db:"entity" json:"entity"`
	EntityID  string    `db:"entity_id" json:"entity_id"`
	Context   []byte    `db:"context" json:"context,omitempty"`
	IPAddress string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent string    `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AuditFilter captures query criteria for the audit trail.
type AuditFilter struct {
	Entity   string
	EntityID string
	ActorID  string
	Page     int
	PageSize int
}
