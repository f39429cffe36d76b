package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aularis/lms-api/internal/dto"
	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/repository"
	"github.com/aularis/lms-api/internal/service"
	appErrors "github.com/aularis/lms-api/pkg/errors"
	"github.com/aularis/lms-api/pkg/response"
)

// EnrollmentHandler exposes enrollment lifecycle endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Enroll godoc
// @Summary Enroll into a course
// @Description Students enroll themselves; admins may pass student_id to
// @Description enroll someone else. Re-enrolling returns the existing
// @Description enrollment with 200 instead of 201.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body models.CreateEnrollmentRequest true "Enrollment payload"
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrollment payload"))
		return
	}

	enrollment, created, err := h.enrollments.Enroll(c.Request.Context(), *claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	if created {
		response.Created(c, "enrollment created", enrollment)
		return
	}
	response.OK(c, "already enrolled", enrollment)
}

// Get godoc
// @Summary Get an enrollment
// @Description Students receive the course-progress view, professors the
// @Description roster view of their own course, admins the full record.
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	detail, err := h.enrollments.Get(c.Request.Context(), *claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "enrollment retrieved", enrollmentView(*claims, *detail))
}

// List godoc
// @Summary List enrollments
// @Description Students list their own enrollments, professors the rosters
// @Description of their courses, admins everything.
// @Tags Enrollments
// @Produce json
// @Param studentId query string false "Filter by student (admin only)"
// @Param courseId query string false "Filter by course"
// @Param state query string false "Filter by state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var filter models.EnrollmentFilter
	filter.StudentID = c.Query("studentId")
	filter.CourseID = c.Query("courseId")
	if state := strings.ToUpper(strings.TrimSpace(c.Query("state"))); state != "" {
		filter.State = models.EnrollmentState(state)
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	details, total, err := h.enrollments.List(c.Request.Context(), *claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	views := make([]interface{}, 0, len(details))
	for _, detail := range details {
		views = append(views, enrollmentView(*claims, detail))
	}

	response.JSON(c, http.StatusOK, "enrollments retrieved", views, listPagination(filter.Page, filter.PageSize, total))
}

// CompleteUnit godoc
// @Summary Mark a course unit as completed
// @Description Progress is recomputed from the completed set; finishing the
// @Description last unit moves the enrollment to COMPLETED.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body models.UnitRequest true "Unit number"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/complete-unit [patch]
func (h *EnrollmentHandler) CompleteUnit(c *gin.Context) {
	h.mutateUnit(c, true)
}

// UncompleteUnit godoc
// @Summary Unmark a completed course unit
// @Description Reopening a unit may move a COMPLETED enrollment back to
// @Description ENROLLED.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body models.UnitRequest true "Unit number"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/uncomplete-unit [patch]
func (h *EnrollmentHandler) UncompleteUnit(c *gin.Context) {
	h.mutateUnit(c, false)
}

func (h *EnrollmentHandler) mutateUnit(c *gin.Context, complete bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid unit payload"))
		return
	}
	if req.UnitNumber < 1 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid unit number"))
		return
	}

	var (
		result *repository.UnitMutationResult
		err    error
	)
	if complete {
		result, err = h.enrollments.CompleteUnit(c.Request.Context(), *claims, c.Param("id"), req.UnitNumber)
	} else {
		result, err = h.enrollments.UncompleteUnit(c.Request.Context(), *claims, c.Param("id"), req.UnitNumber)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	message := "unit completed"
	if !complete {
		message = "unit reopened"
	}
	if !result.Changed {
		message = "unit already in requested state"
	}

	response.OK(c, message, result.Enrollment)
}

// Update godoc
// @Summary Update an enrollment
// @Description Admin and course-owner adjustments: state, progress, grade.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body models.UpdateEnrollmentRequest true "Fields to update"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id} [patch]
func (h *EnrollmentHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UpdateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrollment payload"))
		return
	}

	enrollment, err := h.enrollments.Update(c.Request.Context(), *claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "enrollment updated", enrollment)
}

// Remove godoc
// @Summary Drop an enrollment
// @Description Students drop their own enrollment, admins any. The record
// @Description is kept with state DROPPED.
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 204 "No Content"
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Remove(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.enrollments.Remove(c.Request.Context(), *claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// enrollmentView picks the response shape by role: students get course
// progress, professors get the roster row, admins the raw detail.
func enrollmentView(claims models.JWTClaims, detail models.EnrollmentDetail) interface{} {
	switch claims.Role {
	case models.RoleStudent:
		return dto.NewStudentEnrollmentView(detail)
	case models.RoleProfessor:
		return dto.NewProfessorEnrollmentView(detail)
	default:
		return detail
	}
}
