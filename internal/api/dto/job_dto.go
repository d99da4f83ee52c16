package dto

import "time"

// CreateVoice2SoapJobRequest accepts upload ids, a single upload id or a
// source location; at least one is required
type CreateVoice2SoapJobRequest struct {
	UploadIDs      []string `json:"upload_ids"`
	UploadID       string   `json:"upload_id"`
	SourceLocation string   `json:"source_location"`
}

// ChildJobDTO is one reference in the creation manifest
type ChildJobDTO struct {
	JobID       string `json:"job_id,omitempty"`
	ReferenceID string `json:"reference_id"`
	UploadID    string `json:"upload_id,omitempty"`
	Status      string `json:"status"`
}

type CreateVoice2SoapJobResponse struct {
	JobID     string        `json:"job_id"`
	Status    string        `json:"status"`
	Message   string        `json:"message"`
	ChildJobs []ChildJobDTO `json:"child_jobs"`
}

// SoapFieldsDTO is the structured clinical note
type SoapFieldsDTO struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

type ChildJobStatusDTO struct {
	JobID   string `json:"job_id"`
	JobType string `json:"job_type"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type Voice2SoapJobResponse struct {
	JobID              string              `json:"job_id"`
	Status             string              `json:"status"`
	TranscriptText     string              `json:"transcript_text"`
	SoapFields         *SoapFieldsDTO      `json:"soap_fields,omitempty"`
	ChildJobs          []ChildJobStatusDTO `json:"child_jobs"`
	Error              string              `json:"error,omitempty"`
	TotalChildJobs     int                 `json:"total_child_jobs"`
	CompletedChildJobs int                 `json:"completed_child_jobs"`
	FailedChildJobs    int                 `json:"failed_child_jobs"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
}

type UploadURLRequest struct {
	Filename string `form:"filename" binding:"required"`
}

type UploadURLResponse struct {
	UploadID    string `json:"upload_id"`
	UploadURL   string `json:"upload_url"`
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
}

type DownloadURLRequest struct {
	UploadID string `form:"upload_id" binding:"required"`
}

type DownloadURLResponse struct {
	UploadID    string `json:"upload_id"`
	DownloadURL string `json:"download_url"`
}

// TranscriptionCompleteRequest reports a written transcript artifact
type TranscriptionCompleteRequest struct {
	Location string `json:"location" binding:"required"`
}

// TranscriptionFailedRequest reports a provider-side transcription failure
type TranscriptionFailedRequest struct {
	JobID  string `json:"job_id" binding:"required"`
	Reason string `json:"reason"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Message    string `json:"message"`
	ErrorCode  string `json:"error_code"`
	StatusCode int    `json:"status_code"`
}
