package dto

import "time"

// TranscriptFormat selects the rendered artifact type.
type TranscriptFormat string

const (
	TranscriptCSV TranscriptFormat = "csv"
	TranscriptPDF TranscriptFormat = "pdf"
)

// TranscriptJobStatus tracks asynchronous generation.
type TranscriptJobStatus string

const (
	TranscriptQueued    TranscriptJobStatus = "QUEUED"
	TranscriptCompleted TranscriptJobStatus = "COMPLETED"
	TranscriptFailed    TranscriptJobStatus = "FAILED"
)

// TranscriptJob describes one requested transcript export.
type TranscriptJob struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"`
	Format      TranscriptFormat    `json:"format"`
	Status      TranscriptJobStatus `json:"status"`
	DownloadURL string              `json:"download_url,omitempty"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
	Error       string              `json:"error,omitempty"`
	RequestedAt time.Time           `json:"requested_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// RequestTranscriptPayload asks for a transcript export.
type RequestTranscriptPayload struct {
	Format TranscriptFormat `json:"format" validate:"required,oneof=csv pdf"`
}
