package dto

import "github.com/noah-isme/badge-platform-api/internal/models"

// SubmitRequestPayload creates a new badge request.
type SubmitRequestPayload struct {
	MiniBadgeID string `json:"mini_badge_id" validate:"required,uuid4"`
}

// DecideRequestPayload carries the reviewer's decision context. Reason is
// optional on approval and mandatory on rejection; the service enforces the
// latter.
type DecideRequestPayload struct {
	Reason string `json:"reason"`
}

// DecisionResult pairs a decided request with the awards the decision
// produced. Awards stays empty on rejection and when the grant failed after
// the decision was recorded.
type DecisionResult struct {
	Request *models.BadgeRequest `json:"request"`
	Awards  []models.Award       `json:"awards,omitempty"`
}

// ManualAwardPayload grants a skill or program award outside the request flow.
type ManualAwardPayload struct {
	UserID string `json:"user_id" validate:"required,uuid4"`
	Reason string `json:"reason" validate:"required"`
}
