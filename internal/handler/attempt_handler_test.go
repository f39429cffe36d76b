package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/aularis/lms-api/internal/middleware"
	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/pkg/response"
)

func studentContext(c *gin.Context) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})
}

func TestAttemptHandlerStartRequiresAuthentication(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAttemptHandler(nil, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/assessments/asm-1/start", nil)

	handler.Start(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAttemptHandlerSubmitAnswerRejectsBadPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAttemptHandler(nil, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/attempts/att-1/answers", strings.NewReader(`{"question_id":123}`))
	c.Request.Header.Set("Content-Type", "application/json")
	studentContext(c)

	handler.SubmitAnswer(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope response.Envelope
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "error", envelope.Status)
	assert.Equal(t, "invalid answer payload", envelope.Message)
}

func TestAttemptHandlerExportRejectsUnknownFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAttemptHandler(nil, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/assessments/asm-1/export?format=xlsx", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor})

	handler.Export(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope response.Envelope
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Contains(t, envelope.Message, "xlsx")
}
