package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/service"
	appErrors "github.com/aularis/lms-api/pkg/errors"
	"github.com/aularis/lms-api/pkg/response"
)

// InstitutionHandler exposes institution registry endpoints.
type InstitutionHandler struct {
	institutions *service.InstitutionService
}

// NewInstitutionHandler constructs InstitutionHandler.
func NewInstitutionHandler(institutions *service.InstitutionService) *InstitutionHandler {
	return &InstitutionHandler{institutions: institutions}
}

// List godoc
// @Summary List institutions
// @Tags Institutions
// @Produce json
// @Param search query string false "Search by name or alias"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /institutions [get]
func (h *InstitutionHandler) List(c *gin.Context) {
	var filter models.InstitutionFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	institutions, total, err := h.institutions.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "institutions retrieved", institutions, listPagination(filter.Page, filter.PageSize, total))
}

// Get godoc
// @Summary Get an institution
// @Tags Institutions
// @Produce json
// @Param id path string true "Institution ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /institutions/{id} [get]
func (h *InstitutionHandler) Get(c *gin.Context) {
	institution, err := h.institutions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "institution retrieved", institution)
}

// Create godoc
// @Summary Create an institution
// @Description Register an institution. Names too similar to an existing
// @Description one are rejected to keep the registry free of duplicates.
// @Tags Institutions
// @Accept json
// @Produce json
// @Param payload body models.CreateInstitutionRequest true "Institution payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /institutions [post]
func (h *InstitutionHandler) Create(c *gin.Context) {
	var req models.CreateInstitutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid institution payload"))
		return
	}

	institution, err := h.institutions.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, "institution created", institution)
}

// Update godoc
// @Summary Update an institution
// @Tags Institutions
// @Accept json
// @Produce json
// @Param id path string true "Institution ID"
// @Param payload body models.UpdateInstitutionRequest true "Fields to update"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /institutions/{id} [patch]
func (h *InstitutionHandler) Update(c *gin.Context) {
	var req models.UpdateInstitutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid institution payload"))
		return
	}

	institution, err := h.institutions.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "institution updated", institution)
}

// Delete godoc
// @Summary Delete an institution
// @Tags Institutions
// @Produce json
// @Param id path string true "Institution ID"
// @Success 204 "No Content"
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /institutions/{id} [delete]
func (h *InstitutionHandler) Delete(c *gin.Context) {
	if err := h.institutions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
