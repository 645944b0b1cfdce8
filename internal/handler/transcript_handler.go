package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-sis/registrar-api/internal/models"
	"github.com/open-sis/registrar-api/internal/service"
	appErrors "github.com/open-sis/registrar-api/pkg/errors"
	"github.com/open-sis/registrar-api/pkg/response"
)

// TranscriptHandler exposes asynchronous transcript exports.
type TranscriptHandler struct {
	transcripts *service.TranscriptService
}

// NewTranscriptHandler constructs TranscriptHandler.
func NewTranscriptHandler(transcripts *service.TranscriptService) *TranscriptHandler {
	return &TranscriptHandler{transcripts: transcripts}
}

type requestTranscriptRequest struct {
	Format string `json:"format" binding:"required"`
}

// Request godoc
// @Summary Request a transcript export
// @Description Queues a background render; poll the job endpoint for the download token.
// @Tags Transcripts
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body requestTranscriptRequest true "Export payload"
// @Success 202 {object} response.Envelope
// @Router /students/{id}/transcripts [post]
func (h *TranscriptHandler) Request(c *gin.Context) {
	var req requestTranscriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	requestedBy := ""
	if claims := claimsFromContext(c); claims != nil {
		requestedBy = claims.UserID
	}

	job, err := h.transcripts.Request(c.Request.Context(), c.Param("id"), models.TranscriptFormat(req.Format), requestedBy)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, job, nil)
}

// Status godoc
// @Summary Get transcript job status
// @Tags Transcripts
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /transcripts/{jobId} [get]
func (h *TranscriptHandler) Status(c *gin.Context) {
	job, token, expiresAt, err := h.transcripts.Status(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	var meta map[string]interface{}
	if token != "" {
		meta = map[string]interface{}{
			"download_token": token,
			"expires_at":     expiresAt,
		}
	}
	response.JSON(c, http.StatusOK, job, nil, meta)
}

// Download godoc
// @Summary Download a rendered transcript
// @Tags Transcripts
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /transcripts/download [get]
func (h *TranscriptHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token required"))
		return
	}
	data, filename, contentType, err := h.transcripts.Download(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, data)
}
