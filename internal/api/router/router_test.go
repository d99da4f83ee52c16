package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/voice2soap/internal/api/dto"
	"github.com/cuongbtq/voice2soap/internal/api/handler"
	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/cuongbtq/voice2soap/internal/orchestrator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	createReq orchestrator.CreateRequest
	createRes *orchestrator.CreateResult
	details   *orchestrator.JobDetails
	completed []string
	failed    map[string]string
	err       error
}

func (f *fakeService) CreateVoice2SoapJob(_ context.Context, req orchestrator.CreateRequest) (*orchestrator.CreateResult, error) {
	f.createReq = req
	return f.createRes, f.err
}

func (f *fakeService) GetVoice2SoapJob(context.Context, string) (*orchestrator.JobDetails, error) {
	return f.details, f.err
}

func (f *fakeService) CompleteTranscription(_ context.Context, location string) error {
	f.completed = append(f.completed, location)
	return f.err
}

func (f *fakeService) FailTranscription(_ context.Context, jobID, reason string) error {
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[jobID] = reason
	return f.err
}

type fakeSigner struct {
	uploads map[string]string
}

func (s *fakeSigner) PresignedUploadURL(_ context.Context, key string) (*url.URL, error) {
	return url.Parse("http://minio:9000/voice2soap/" + key + "?X-Amz-Signature=put")
}

func (s *fakeSigner) PresignedDownloadURL(_ context.Context, key string) (*url.URL, error) {
	return url.Parse("http://minio:9000/voice2soap/" + key + "?X-Amz-Signature=get")
}

func (s *fakeSigner) ResolveUpload(_ context.Context, uploadID string) (string, error) {
	key, ok := s.uploads[uploadID]
	if !ok {
		return "", domain.NewValidationError("upload "+uploadID+" not found", domain.ErrReferenceNotFound)
	}
	return key, nil
}

func newTestRouter(svc *fakeService, signer *fakeSigner) *gin.Engine {
	if signer == nil {
		signer = &fakeSigner{}
	}
	return SetupRouter(&handler.Dependencies{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Service: svc,
		Signer:  signer,
	})
}

func do(t *testing.T, r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var body dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	w := do(t, newTestRouter(&fakeService{}, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ServiceName)
}

func TestCreateVoice2SoapJob(t *testing.T) {
	rootID := uuid.NewString()
	svc := &fakeService{createRes: &orchestrator.CreateResult{
		RootJobID: rootID,
		Status:    domain.JobStatusInProgress,
		ChildJobs: []domain.ChildManifest{
			{JobID: "leaf-1", ReferenceID: "upload-a", UploadID: "upload-a", Status: domain.ReferenceQueued},
			{ReferenceID: "upload-b", UploadID: "upload-b", Status: domain.ReferenceCompleted},
		},
	}}

	w := do(t, newTestRouter(svc, nil), http.MethodPost, "/api/v1/jobs/voice2soap", `{"upload_ids":["upload-a","upload-b"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.CreateVoice2SoapJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, rootID, resp.JobID)
	assert.Equal(t, "in_progress", resp.Status)
	require.Len(t, resp.ChildJobs, 2)
	assert.Equal(t, "leaf-1", resp.ChildJobs[0].JobID)
	assert.Equal(t, domain.ReferenceCompleted, resp.ChildJobs[1].Status)
	assert.Equal(t, []string{"upload-a", "upload-b"}, svc.createReq.UploadIDs)
}

func TestCreateVoice2SoapJob_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "malformed body", body: `{"upload_ids":`, wantStatus: http.StatusBadRequest, wantCode: handler.CodeValidation},
		{
			name:       "validation error",
			body:       `{}`,
			err:        domain.NewValidationError("at least one reference is required", nil),
			wantStatus: http.StatusBadRequest,
			wantCode:   handler.CodeValidation,
		},
		{
			name:       "unknown upload",
			body:       `{"upload_id":"upload-x"}`,
			err:        domain.NewValidationError("upload upload-x not found", domain.ErrReferenceNotFound),
			wantStatus: http.StatusBadRequest,
			wantCode:   handler.CodeValidation,
		},
		{
			name:       "store unavailable",
			body:       `{"upload_id":"upload-x"}`,
			err:        domain.NewStoreError("create", errors.New("database is locked")),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   handler.CodeUnavailable,
		},
		{
			name:       "unexpected",
			body:       `{"upload_id":"upload-x"}`,
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   handler.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestRouter(&fakeService{err: tt.err}, nil), http.MethodPost, "/api/v1/jobs/voice2soap", tt.body)
			require.Equal(t, tt.wantStatus, w.Code)

			body := decodeError(t, w)
			assert.Equal(t, tt.wantCode, body.ErrorCode)
			assert.Equal(t, tt.wantStatus, body.StatusCode)
			assert.NotContains(t, body.Message, "boom")
		})
	}
}

func TestGetVoice2SoapJob(t *testing.T) {
	rootID := uuid.NewString()
	completedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &fakeService{details: &orchestrator.JobDetails{
		Root: &domain.Job{
			JobID:              rootID,
			JobType:            domain.JobTypeRoot,
			Status:             domain.JobStatusCompleted,
			TotalChildJobs:     2,
			CompletedChildJobs: 1,
			FailedChildJobs:    1,
			CompletedAt:        &completedAt,
		},
		Children: []*domain.Job{
			{JobID: "t1", JobType: domain.JobTypeLeafTranscribe, Status: domain.JobStatusCompleted},
			{JobID: "t2", JobType: domain.JobTypeLeafTranscribe, Status: domain.JobStatusFailed, Error: "quota"},
			{JobID: "a1", JobType: domain.JobTypeLeafAggregate, Status: domain.JobStatusCompleted},
		},
		Result: &domain.RootResult{
			TranscriptionText: "patient reports a cough",
			SoapData:          domain.SoapNote{Subjective: "cough", Objective: "afebrile", Assessment: "URI", Plan: "rest"},
		},
	}}

	w := do(t, newTestRouter(svc, nil), http.MethodGet, "/api/v1/jobs/voice2soap/"+rootID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.Voice2SoapJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "patient reports a cough", resp.TranscriptText)
	require.NotNil(t, resp.SoapFields)
	assert.Equal(t, "URI", resp.SoapFields.Assessment)
	require.Len(t, resp.ChildJobs, 3)
	assert.Equal(t, "failed", resp.ChildJobs[1].Status)
	assert.Equal(t, "quota", resp.ChildJobs[1].Error)
	assert.Equal(t, 1, resp.FailedChildJobs)
	require.NotNil(t, resp.CompletedAt)
}

func TestGetVoice2SoapJob_InProgressOmitsSoapFields(t *testing.T) {
	rootID := uuid.NewString()
	svc := &fakeService{details: &orchestrator.JobDetails{
		Root: &domain.Job{JobID: rootID, JobType: domain.JobTypeRoot, Status: domain.JobStatusInProgress},
	}}

	w := do(t, newTestRouter(svc, nil), http.MethodGet, "/api/v1/jobs/voice2soap/"+rootID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.NotContains(t, raw, "soap_fields")
	assert.Equal(t, "", raw["transcript_text"])
	assert.Equal(t, []any{}, raw["child_jobs"])
}

func TestGetVoice2SoapJob_Errors(t *testing.T) {
	tests := []struct {
		name       string
		jobID      string
		err        error
		wantStatus int
	}{
		{name: "not a uuid", jobID: "42", wantStatus: http.StatusBadRequest},
		{
			name:       "not found",
			jobID:      uuid.NewString(),
			err:        fmt.Errorf("job x: %w", domain.ErrJobNotFound),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "not a root job",
			jobID:      uuid.NewString(),
			err:        domain.NewValidationError("job is not a voice2soap job", nil),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestRouter(&fakeService{err: tt.err}, nil), http.MethodGet, "/api/v1/jobs/voice2soap/"+tt.jobID, "")
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantStatus, decodeError(t, w).StatusCode)
		})
	}
}

func TestVoiceUploadURL(t *testing.T) {
	r := newTestRouter(&fakeService{}, nil)

	w := do(t, r, http.MethodGet, "/api/v1/storages/voice-upload-url?filename=visit.M4A", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.UploadURLResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.UploadID, "upload-"))
	assert.Equal(t, "voice/uploads/"+resp.UploadID+".m4a", resp.ObjectKey)
	assert.Equal(t, "audio/mp4", resp.ContentType)
	assert.Contains(t, resp.UploadURL, "X-Amz-Signature=put")

	tests := []struct {
		name   string
		target string
	}{
		{name: "missing filename", target: "/api/v1/storages/voice-upload-url"},
		{name: "unsupported extension", target: "/api/v1/storages/voice-upload-url?filename=notes.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodGet, tt.target, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, handler.CodeValidation, decodeError(t, w).ErrorCode)
		})
	}
}

func TestVoiceDownloadURL(t *testing.T) {
	uploadID := "upload-" + uuid.NewString()
	signer := &fakeSigner{uploads: map[string]string{uploadID: "voice/uploads/" + uploadID + ".wav"}}
	r := newTestRouter(&fakeService{}, signer)

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{name: "known upload", query: "?upload_id=" + uploadID, wantStatus: http.StatusOK},
		{name: "missing upload id", query: "", wantStatus: http.StatusBadRequest},
		{name: "malformed upload id", query: "?upload_id=../../etc", wantStatus: http.StatusBadRequest},
		{name: "unknown upload", query: "?upload_id=upload-" + uuid.NewString(), wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodGet, "/api/v1/storages/voice-download-url"+tt.query, "")
			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp dto.DownloadURLResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, uploadID, resp.UploadID)
			assert.Contains(t, resp.DownloadURL, uploadID+".wav")
		})
	}
}

func TestTranscriptionCallbacks(t *testing.T) {
	svc := &fakeService{}
	r := newTestRouter(svc, nil)
	location := "voice/transcripts/upload-a/" + uuid.NewString() + "/transcript.json"

	w := do(t, r, http.MethodPost, "/internal/v1/transcriptions/complete", `{"location":"`+location+`"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{location}, svc.completed)

	w = do(t, r, http.MethodPost, "/internal/v1/transcriptions/fail", `{"job_id":"leaf-1"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "transcription provider reported a failure", svc.failed["leaf-1"])

	w = do(t, r, http.MethodPost, "/internal/v1/transcriptions/fail", `{"job_id":"leaf-2","reason":"unsupported codec"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "unsupported codec", svc.failed["leaf-2"])

	w = do(t, r, http.MethodPost, "/internal/v1/transcriptions/complete", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTranscriptionComplete_UnknownJob(t *testing.T) {
	svc := &fakeService{err: domain.NewValidationError("job does not exist", domain.ErrJobNotFound)}

	w := do(t, newTestRouter(svc, nil), http.MethodPost, "/internal/v1/transcriptions/complete", `{"location":"voice/transcripts/a/b/transcript.json"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTranscriptionFail_NotATranscriptionJob(t *testing.T) {
	svc := &fakeService{err: domain.NewValidationError("job root-1 is ROOT, not a transcription job", nil)}

	w := do(t, newTestRouter(svc, nil), http.MethodPost, "/internal/v1/transcriptions/fail", `{"job_id":"root-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "VAL001", resp.ErrorCode)
}

func TestCORSPreflight(t *testing.T) {
	w := do(t, newTestRouter(&fakeService{}, nil), http.MethodOptions, "/api/v1/jobs/voice2soap", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
