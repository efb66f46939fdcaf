package http

import (
	"time"

	"podcast-illustrator/internal/jobs"
)

// ErrorResponse is the error envelope shared by every endpoint.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// UploadResponse is returned once an upload is stored and its job exists.
type UploadResponse struct {
	Success  bool   `json:"success"`
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// StatusResponse mirrors the persisted status record of a job. Code and
// Error are set when processing ended in failure.
type StatusResponse struct {
	Success   bool      `json:"success"`
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Segments  int       `json:"segments,omitempty"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func statusResponse(id string, rec jobs.Record) StatusResponse {
	return StatusResponse{
		Success:   true,
		JobID:     id,
		Status:    string(rec.Status),
		Progress:  rec.Progress,
		Message:   rec.Message,
		Timestamp: rec.Timestamp,
	}
}

// SegmentInfo describes one produced segment file.
type SegmentInfo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
}

type SegmentsResponse struct {
	Success  bool          `json:"success"`
	JobID    string        `json:"job_id"`
	Segments []SegmentInfo `json:"segments"`
}

// JobSummary is one row of the job listing.
type JobSummary struct {
	JobID     string    `json:"job_id"`
	Filename  string    `json:"filename,omitempty"`
	FileSize  int64     `json:"file_size"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Segments  int       `json:"segments"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type JobResponse struct {
	Success bool       `json:"success"`
	Source  string     `json:"source"`
	Job     JobSummary `json:"job"`
}

type JobsResponse struct {
	Success bool         `json:"success"`
	Source  string       `json:"source"`
	Jobs    []JobSummary `json:"jobs"`
}
