package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/voice2soap/internal/api/dto"
	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/cuongbtq/voice2soap/internal/orchestrator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateVoice2SoapJob handles POST /api/v1/jobs/voice2soap
// Creates the ROOT job and fans out transcription of each recording
func (h *JobHandler) CreateVoice2SoapJob(c *gin.Context) {
	h.logger.Info("CreateVoice2SoapJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.CreateVoice2SoapJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		badRequest(c, "Invalid request body")
		return
	}

	result, err := h.service.CreateVoice2SoapJob(c.Request.Context(), orchestrator.CreateRequest{
		UploadIDs:      req.UploadIDs,
		UploadID:       req.UploadID,
		SourceLocation: req.SourceLocation,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	children := make([]dto.ChildJobDTO, 0, len(result.ChildJobs))
	for _, child := range result.ChildJobs {
		children = append(children, dto.ChildJobDTO{
			JobID:       child.JobID,
			ReferenceID: child.ReferenceID,
			UploadID:    child.UploadID,
			Status:      child.Status,
		})
	}

	c.JSON(http.StatusOK, dto.CreateVoice2SoapJobResponse{
		JobID:     result.RootJobID,
		Status:    result.Status.Lower(),
		Message:   "Voice2SOAP job created",
		ChildJobs: children,
	})
}

// GetVoice2SoapJob handles GET /api/v1/jobs/voice2soap/:job_id
func (h *JobHandler) GetVoice2SoapJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		badRequest(c, "job_id must be a UUID")
		return
	}

	details, err := h.service.GetVoice2SoapJob(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toJobResponse(details))
}

func toJobResponse(details *orchestrator.JobDetails) dto.Voice2SoapJobResponse {
	root := details.Root
	resp := dto.Voice2SoapJobResponse{
		JobID:              root.JobID,
		Status:             root.Status.Lower(),
		Error:              root.Error,
		TotalChildJobs:     root.TotalChildJobs,
		CompletedChildJobs: root.CompletedChildJobs,
		FailedChildJobs:    root.FailedChildJobs,
		CreatedAt:          root.CreatedAt,
		UpdatedAt:          root.UpdatedAt,
		CompletedAt:        root.CompletedAt,
		ChildJobs:          make([]dto.ChildJobStatusDTO, 0, len(details.Children)),
	}

	for _, child := range details.Children {
		resp.ChildJobs = append(resp.ChildJobs, dto.ChildJobStatusDTO{
			JobID:   child.JobID,
			JobType: string(child.JobType),
			Status:  child.Status.Lower(),
			Error:   child.Error,
		})
	}

	if details.Result != nil {
		resp.TranscriptText = details.Result.TranscriptionText
		resp.SoapFields = toSoapFields(details.Result.SoapData)
	}
	return resp
}

func toSoapFields(note domain.SoapNote) *dto.SoapFieldsDTO {
	return &dto.SoapFieldsDTO{
		Subjective: note.Subjective,
		Objective:  note.Objective,
		Assessment: note.Assessment,
		Plan:       note.Plan,
	}
}
