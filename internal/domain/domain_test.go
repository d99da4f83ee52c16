package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobType(t *testing.T) {
	tests := []struct {
		input   string
		want    JobType
		wantErr bool
	}{
		{input: "ROOT", want: JobTypeRoot},
		{input: "LEAF_TRANSCRIBE", want: JobTypeLeafTranscribe},
		{input: "LEAF_AGGREGATE", want: JobTypeLeafAggregate},
		{input: "leaf_transcribe", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseJobType(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				var validationErr *ValidationError
				assert.ErrorAs(t, err, &validationErr)
				assert.ErrorIs(t, err, ErrUnsupportedJobType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusInProgress.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.Equal(t, "in_progress", JobStatusInProgress.Lower())
}

func TestNewJob(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	job, err := NewJob(JobTypeLeafTranscribe, "", TranscribePayload{ReferenceID: "upload-1", SourceLocation: "voice/uploads/upload-1.wav"}, now, 0)
	require.NoError(t, err)

	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, ParentJobIDNone, job.ParentJobID)
	assert.False(t, job.HasParent())
	assert.Equal(t, now.Add(DefaultJobTTL), job.TTL)

	var payload TranscribePayload
	require.NoError(t, job.DecodePayload(&payload))
	assert.Equal(t, "upload-1", payload.ReferenceID)
}

func TestJob_DecodePayloadErrors(t *testing.T) {
	job := &Job{JobID: "j1"}
	err := job.DecodePayload(&RootPayload{})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	job.Payload = "{not json"
	err = job.DecodePayload(&RootPayload{})
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		terminal  bool
	}{
		{name: "store error", err: NewStoreError("put job", errors.New("conn reset")), retryable: true},
		{name: "wrapped store error", err: fmt.Errorf("handle: %w", NewStoreError("get job", errors.New("x"))), retryable: true},
		{name: "retryable", err: NewRetryableError(errors.New("publish")), retryable: true},
		{name: "validation", err: NewValidationError("bad key", nil), terminal: true},
		{name: "provider", err: NewProviderError("transcription", errors.New("503")), terminal: true},
		{name: "parse", err: fmt.Errorf("aggregate: %w", NewParseError(errors.New("no json"))), terminal: true},
		{name: "plain", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.terminal, IsTerminalStepError(tt.err))
		})
	}
}
