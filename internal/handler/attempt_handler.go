package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/service"
	appErrors "github.com/aularis/lms-api/pkg/errors"
	"github.com/aularis/lms-api/pkg/response"
)

// AttemptHandler exposes assessment-taking endpoints for students and the
// results, statistics and export endpoints for professors.
type AttemptHandler struct {
	attempts *service.AttemptService
	exports  *service.ExportService
}

// NewAttemptHandler constructs AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService, exports *service.ExportService) *AttemptHandler {
	return &AttemptHandler{attempts: attempts, exports: exports}
}

// Start godoc
// @Summary Start or resume an attempt
// @Description Open a new attempt on the assessment, or resume the one
// @Description already in progress. Returns the answer-free questions and
// @Description any previously saved answers.
// @Tags Attempts
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments/{id}/start [post]
func (h *AttemptHandler) Start(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res, err := h.attempts.Start(c.Request.Context(), *claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	if res.Resumed {
		response.OK(c, "attempt resumed", res)
		return
	}
	response.Created(c, "attempt started", res)
}

// SubmitAnswer godoc
// @Summary Save a single answer
// @Description Save or overwrite the answer to one question of an
// @Description in-progress attempt.
// @Tags Attempts
// @Accept json
// @Produce json
// @Param id path string true "Attempt ID"
// @Param payload body models.SubmitAnswerRequest true "Answer payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /attempts/{id}/answers [post]
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid answer payload"))
		return
	}

	saved, err := h.attempts.SubmitAnswer(c.Request.Context(), *claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "answer saved", saved)
}

// SaveAnswers godoc
// @Summary Save a batch of answers
// @Description Replace the saved answers of the listed questions in one
// @Description call. Unlisted questions keep their answers.
// @Tags Attempts
// @Accept json
// @Produce json
// @Param id path string true "Attempt ID"
// @Param payload body models.SubmitAttemptRequest true "Answers payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /attempts/{id}/answers [put]
func (h *AttemptHandler) SaveAnswers(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.SubmitAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid answers payload"))
		return
	}

	saved, err := h.attempts.SaveAnswers(c.Request.Context(), *claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "answers saved", saved)
}

// Submit godoc
// @Summary Submit an attempt for grading
// @Description Grade the attempt and return the result. Answers may be
// @Description included in the body; the attempt is graded from everything
// @Description saved so far either way.
// @Tags Attempts
// @Accept json
// @Produce json
// @Param id path string true "Attempt ID"
// @Param payload body models.SubmitAttemptRequest false "Final answers"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /attempts/{id}/submit [post]
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.SubmitAttemptRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid answers payload"))
			return
		}
	}

	result, err := h.attempts.Submit(c.Request.Context(), *claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "attempt submitted", result)
}

// Get godoc
// @Summary Get an attempt
// @Description Students see their own attempts; the owning professor and
// @Description admins see any attempt of the assessment.
// @Tags Attempts
// @Produce json
// @Param id path string true "Attempt ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /attempts/{id} [get]
func (h *AttemptHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	attempt, err := h.attempts.Get(c.Request.Context(), *claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "attempt retrieved", attempt)
}

// Results godoc
// @Summary List attempt results
// @Description Per-student results of an assessment, for the owning
// @Description professor and admins.
// @Tags Attempts
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments/{id}/attempts [get]
func (h *AttemptHandler) Results(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	rows, err := h.attempts.ListResults(c.Request.Context(), *claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "results retrieved", rows)
}

// Statistics godoc
// @Summary Get assessment statistics
// @Description Aggregate attempt statistics with score distribution.
// @Description Served from cache when fresh.
// @Tags Attempts
// @Produce json
// @Param id path string true "Assessment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments/{id}/statistics [get]
func (h *AttemptHandler) Statistics(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	stats, err := h.attempts.Statistics(c.Request.Context(), *claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "statistics retrieved", stats)
}

// Pending godoc
// @Summary List pending assessments
// @Description Published assessments in the student's enrolled courses
// @Description that still accept an attempt.
// @Tags Attempts
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments/pending [get]
func (h *AttemptHandler) Pending(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	pending, err := h.attempts.Pending(c.Request.Context(), *claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, "pending assessments retrieved", pending)
}

// Export godoc
// @Summary Export attempt results
// @Description Download the results as a CSV or PDF file.
// @Tags Attempts
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Assessment ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /assessments/{id}/export [get]
func (h *AttemptHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	format, err := service.ParseExportFormat(c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}

	res, err := h.exports.ExportResults(c.Request.Context(), *claims, c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	c.Data(http.StatusOK, res.ContentType, res.Data)
}
