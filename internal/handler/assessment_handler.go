package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aularis/lms-api/internal/dto"
	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/service"
	appErrors "github.com/aularis/lms-api/pkg/errors"
	"github.com/aularis/lms-api/pkg/response"
)

// AssessmentHandler exposes assessment and question management endpoints.
type AssessmentHandler struct {
	assessments *service.AssessmentService
}

// NewAssessmentHandler constructs AssessmentHandler.
func NewAssessmentHandler(assessments *service.AssessmentService) *AssessmentHandler {
	return &AssessmentHandler{assessments: assessments}
}

// List godoc
// @Summary List assessments
// @Description Students see published assessments only; professors also see
// @Description drafts of their own courses.
// @Tags Assessments
// @Produce json
// @Param courseId query string false "Filter by course"
// @Param active query bool false "Filter by published state"
// @Param search query string false "Search by title"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments [get]
func (h *AssessmentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var filter models.AssessmentFilter
	filter.CourseID = c.Query("courseId")
	if raw := c.Query("active"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			filter.Active = &v
		}
	}
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	assessments, total, err := h.assessments.List(c.Request.Context(), *claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, "assessments retrieved", assessments, listPagination(filter.Page, filter.PageSize, total))
}

// Get godoc
// @Summary Get an assessment
// @Description Unpublished assessments are visible to the owning professor
// @Description and admins only; everyone else gets 404.
// @Tags Assessments
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments/{id} [get]
func (h *AssessmentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	assessment, err := h.assessments.Get(c.Request.Context(), *claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "assessment retrieved", assessment)
}

// Create godoc
// @Summary Create an assessment
// @Description New assessments start unpublished so questions can be added
// @Description before students see them.
// @Tags Assessments
// @Accept json
// @Produce json
// @Param payload body models.CreateAssessmentRequest true "Assessment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments [post]
func (h *AssessmentHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assessment payload"))
		return
	}

	assessment, err := h.assessments.Create(c.Request.Context(), *claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, "assessment created", assessment)
}

// Update godoc
// @Summary Update an assessment
// @Tags Assessments
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body models.UpdateAssessmentRequest true "Fields to update"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments/{id} [patch]
func (h *AssessmentHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UpdateAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid assessment payload"))
		return
	}

	assessment, err := h.assessments.Update(c.Request.Context(), *claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "assessment updated", assessment)
}

// Publish godoc
// @Summary Publish an assessment
// @Description Make the assessment visible to enrolled students and queue
// @Description their notification emails. Requires at least one question.
// @Tags Assessments
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments/{id}/publish [post]
func (h *AssessmentHandler) Publish(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	assessment, err := h.assessments.Publish(c.Request.Context(), *claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "assessment published", assessment)
}

// Delete godoc
// @Summary Delete an assessment
// @Tags Assessments
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 204 "No Content"
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments/{id} [delete]
func (h *AssessmentHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.assessments.Delete(c.Request.Context(), *claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ListQuestions godoc
// @Summary List assessment questions
// @Description Students receive questions without correct answers; the
// @Description owning professor and admins receive the full records.
// @Tags Assessments
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments/{id}/questions [get]
func (h *AssessmentHandler) ListQuestions(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	questions, err := h.assessments.ListQuestions(c.Request.Context(), *claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	if claims.Role == models.RoleStudent {
		response.OK(c, "questions retrieved", dto.NewStudentQuestions(questions))
		return
	}
	response.OK(c, "questions retrieved", dto.NewProfessorQuestions(questions))
}

// CreateQuestion godoc
// @Summary Add a question
// @Description Append a question to an assessment. The correct answer must
// @Description match the question type.
// @Tags Assessments
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param payload body models.CreateQuestionRequest true "Question payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments/{id}/questions [post]
func (h *AssessmentHandler) CreateQuestion(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid question payload"))
		return
	}

	question, err := h.assessments.CreateQuestion(c.Request.Context(), *claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, "question created", dto.NewProfessorQuestion(*question))
}

// UpdateQuestion godoc
// @Summary Update a question
// @Tags Assessments
// @Accept json
// @Produce json
// @Param id path string true "Assessment ID"
// @Param questionId path string true "Question ID"
// @Param payload body models.UpdateQuestionRequest true "Fields to update"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments/{id}/questions/{questionId} [patch]
func (h *AssessmentHandler) UpdateQuestion(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UpdateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid question payload"))
		return
	}

	question, err := h.assessments.UpdateQuestion(c.Request.Context(), *claims, c.Param("id"), c.Param("questionId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "question updated", dto.NewProfessorQuestion(*question))
}

// DeleteQuestion godoc
// @Summary Delete a question
// @Tags Assessments
// @Produce json
// @Param id path string true "Assessment ID"
// @Param questionId path string true "Question ID"
// @Success 204 "No Content"
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments/{id}/questions/{questionId} [delete]
func (h *AssessmentHandler) DeleteQuestion(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.assessments.DeleteQuestion(c.Request.Context(), *claims, c.Param("id"), c.Param("questionId")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
