package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/open-sis/registrar-api/internal/models"
	"github.com/open-sis/registrar-api/internal/service"
	appErrors "github.com/open-sis/registrar-api/pkg/errors"
	"github.com/open-sis/registrar-api/pkg/response"
)

// OfferingHandler exposes offering endpoints.
type OfferingHandler struct {
	offerings *service.OfferingService
}

// NewOfferingHandler constructs OfferingHandler.
func NewOfferingHandler(offerings *service.OfferingService) *OfferingHandler {
	return &OfferingHandler{offerings: offerings}
}

// List godoc
// @Summary List offerings
// @Tags Offerings
// @Produce json
// @Param courseId query string false "Filter by course"
// @Param termId query string false "Filter by term"
// @Param open query bool false "Filter by open state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /offerings [get]
func (h *OfferingHandler) List(c *gin.Context) {
	var filter models.OfferingFilter
	filter.CourseID = c.Query("courseId")
	filter.TermID = c.Query("termId")
	if open := c.Query("open"); open != "" {
		if open == "true" {
			v := true
			filter.Open = &v
		} else if open == "false" {
			v := false
			filter.Open = &v
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	offerings, pagination, err := h.offerings.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offerings, pagination)
}

// Get godoc
// @Summary Get offering detail
// @Tags Offerings
// @Produce json
// @Param id path string true "Offering ID"
// @Success 200 {object} response.Envelope
// @Router /offerings/{id} [get]
func (h *OfferingHandler) Get(c *gin.Context) {
	offering, err := h.offerings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offering, nil)
}

// SeatCounts godoc
// @Summary Get current seat counts
// @Description Enrolled and waitlisted totals, cached briefly for burst reads.
// @Tags Offerings
// @Produce json
// @Param id path string true "Offering ID"
// @Success 200 {object} response.Envelope
// @Router /offerings/{id}/seats [get]
func (h *OfferingHandler) SeatCounts(c *gin.Context) {
	counts, err := h.offerings.SeatCounts(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, counts, nil)
}

// RaiseCapacity godoc
// @Summary Raise offering capacity
// @Tags Offerings
// @Accept json
// @Produce json
// @Param id path string true "Offering ID"
// @Param payload body service.RaiseCapacityRequest true "Capacity payload"
// @Success 200 {object} response.Envelope
// @Router /offerings/{id}/capacity [patch]
func (h *OfferingHandler) RaiseCapacity(c *gin.Context) {
	var req service.RaiseCapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	offering, err := h.offerings.RaiseCapacity(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offering, nil)
}

type setOpenRequest struct {
	Open *bool `json:"open" binding:"required"`
}

// SetOpen godoc
// @Summary Open or close an offering
// @Tags Offerings
// @Accept json
// @Produce json
// @Param id path string true "Offering ID"
// @Param payload body setOpenRequest true "Open payload"
// @Success 200 {object} response.Envelope
// @Router /offerings/{id}/open [patch]
func (h *OfferingHandler) SetOpen(c *gin.Context) {
	var req setOpenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Open == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "open flag required"))
		return
	}
	offering, err := h.offerings.SetOpen(c.Request.Context(), c.Param("id"), *req.Open)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, offering, nil)
}
