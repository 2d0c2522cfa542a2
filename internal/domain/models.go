package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DiagnosisCode is a single ICD-10 code extracted from a document.
type DiagnosisCode struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Document represents one uploaded medical document and its processing state.
//
// Exactly one of VLMResults / ErrorMessage is populated once the status is
// terminal; neither is populated while pending or processing. The repository
// update statements enforce this, Consistent checks it.
type Document struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	FileName     string          `db:"file_name" json:"file_name"`
	OriginalName string          `db:"original_name" json:"original_name"`
	S3Bucket     string          `db:"s3_bucket" json:"-"`
	S3Key        string          `db:"s3_key" json:"file"`
	ContentType  string          `db:"content_type" json:"content_type"`
	FileSize     int64           `db:"file_size" json:"file_size"`
	Status       DocumentStatus  `db:"status" json:"status"`
	VLMResults   json.RawMessage `db:"vlm_results" json:"vlm_results"`
	ErrorMessage string          `db:"error_message" json:"error_message"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Codes decodes the stored VLM results. Returns ErrNotCompleted unless the
// document reached completed.
func (d *Document) Codes() ([]DiagnosisCode, error) {
	if d.Status != StatusCompleted || len(d.VLMResults) == 0 {
		return nil, ErrNotCompleted
	}
	var codes []DiagnosisCode
	if err := json.Unmarshal(d.VLMResults, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Consistent reports whether the record satisfies the terminal-state
// invariant: completed has results and no error, failed has an error and no
// results, and non-terminal statuses carry neither.
func (d *Document) Consistent() bool {
	switch d.Status {
	case StatusCompleted:
		return len(d.VLMResults) > 0 && d.ErrorMessage == ""
	case StatusFailed:
		return len(d.VLMResults) == 0 && d.ErrorMessage != ""
	default:
		return len(d.VLMResults) == 0 && d.ErrorMessage == ""
	}
}

// ICD10Code is one entry of the ICD-10 reference catalog.
type ICD10Code struct {
	Code        string `db:"code" json:"code"`
	Description string `db:"description" json:"description"`
	Chapter     string `db:"chapter" json:"chapter"`
	ChapterDesc string `db:"chapter_desc" json:"chapter_desc"`
	GroupCode   string `db:"group_code" json:"group_code"`
	GroupDesc   string `db:"group_desc" json:"group_desc"`
	Category3   string `db:"category_3" json:"category_3"`
}
