package generation

import (
	"database/sql"
	"time"
)

// Status is the local job state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Task is a single portrait generation job.
type Task struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	KieTaskID        sql.NullString `db:"kie_task_id"`
	Status           Status         `db:"status"`
	Style            string         `db:"style"`
	Prompt           string         `db:"prompt"`
	OriginalImageURL string         `db:"original_image_url"`
	ResultImageURL   sql.NullString `db:"result_image_url"`
	KieResultURL     sql.NullString `db:"kie_result_url"`
	CreditsUsed      int            `db:"credits_used"`
	ErrorMessage     sql.NullString `db:"error_message"`
	CreatedAt        time.Time      `db:"created_at"`
	CompletedAt      *time.Time     `db:"completed_at"`
}

// Messages recorded on failed tasks.
const (
	MsgGenerationFailed = "Generation failed"
	MsgSaveFailed       = "Failed to save result image"
	MsgTimedOut         = "Generation timed out"
)

// StatusResponse is the payload of GET /tasks/{taskId}/status.
type StatusResponse struct {
	TaskID           string     `json:"taskId"`
	Status           Status     `json:"status"`
	ResultImageURL   string     `json:"resultImageUrl,omitempty"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	Style            string     `json:"style"`
	OriginalImageURL string     `json:"originalImageUrl"`
	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

func StatusResponseFromTask(t *Task) StatusResponse {
	return StatusResponse{
		TaskID:           t.ID,
		Status:           t.Status,
		ResultImageURL:   t.ResultImageURL.String,
		ErrorMessage:     t.ErrorMessage.String,
		Style:            t.Style,
		OriginalImageURL: t.OriginalImageURL,
		CreatedAt:        t.CreatedAt,
		CompletedAt:      t.CompletedAt,
	}
}

// CreationResponse is one entry of the gallery.
type CreationResponse struct {
	ID               string     `json:"id"`
	Status           Status     `json:"status"`
	Style            string     `json:"style"`
	OriginalImageURL string     `json:"originalImageUrl"`
	ResultImageURL   *string    `json:"resultImageUrl"`
	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt"`
}

func CreationResponseFromTask(t *Task) CreationResponse {
	resp := CreationResponse{
		ID:               t.ID,
		Status:           t.Status,
		Style:            t.Style,
		OriginalImageURL: t.OriginalImageURL,
		CreatedAt:        t.CreatedAt,
		CompletedAt:      t.CompletedAt,
	}
	if t.ResultImageURL.Valid {
		u := t.ResultImageURL.String
		resp.ResultImageURL = &u
	}
	return resp
}

// GenerateResult is the payload of POST /generate.
type GenerateResult struct {
	TaskID       string `json:"taskId"`
	RemoteTaskID string `json:"remoteTaskId"`
	CreditsUsed  int    `json:"creditsUsed"`
}
