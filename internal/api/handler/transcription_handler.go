package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/voice2soap/internal/api/dto"
	"github.com/gin-gonic/gin"
)

const defaultFailureReason = "transcription provider reported a failure"

// Complete handles POST /internal/v1/transcriptions/complete
func (h *TranscriptionHandler) Complete(c *gin.Context) {
	var req dto.TranscriptionCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "location is required")
		return
	}

	if err := h.service.CompleteTranscription(c.Request.Context(), req.Location); err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("Transcription completion recorded", slog.String("location", req.Location))
	c.Status(http.StatusNoContent)
}

// Fail handles POST /internal/v1/transcriptions/fail
func (h *TranscriptionHandler) Fail(c *gin.Context) {
	var req dto.TranscriptionFailedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "job_id is required")
		return
	}
	if req.Reason == "" {
		req.Reason = defaultFailureReason
	}

	if err := h.service.FailTranscription(c.Request.Context(), req.JobID, req.Reason); err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("Transcription failure recorded", slog.String("job_id", req.JobID))
	c.Status(http.StatusNoContent)
}
