package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/voice2soap/internal/api/dto"
	"github.com/cuongbtq/voice2soap/internal/objectstore"
	"github.com/gin-gonic/gin"
)

// GetVoiceUploadURL handles GET /api/v1/storages/voice-upload-url
func (h *StorageHandler) GetVoiceUploadURL(c *gin.Context) {
	var req dto.UploadURLRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "filename is required")
		return
	}

	uploadID := objectstore.NewUploadID()
	key, err := objectstore.UploadKey(uploadID, req.Filename)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	signed, err := h.signer.PresignedUploadURL(c.Request.Context(), key)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("Issued upload URL", slog.String("upload_id", uploadID), slog.String("object_key", key))
	c.JSON(http.StatusOK, dto.UploadURLResponse{
		UploadID:    uploadID,
		UploadURL:   signed.String(),
		ObjectKey:   key,
		ContentType: objectstore.ContentTypeFor(key),
	})
}

// GetVoiceDownloadURL handles GET /api/v1/storages/voice-download-url
func (h *StorageHandler) GetVoiceDownloadURL(c *gin.Context) {
	var req dto.DownloadURLRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "upload_id is required")
		return
	}
	if !objectstore.IsUploadID(req.UploadID) {
		badRequest(c, "upload_id is malformed")
		return
	}

	key, err := h.signer.ResolveUpload(c.Request.Context(), req.UploadID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	signed, err := h.signer.PresignedDownloadURL(c.Request.Context(), key)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.DownloadURLResponse{
		UploadID:    req.UploadID,
		DownloadURL: signed.String(),
	})
}
