package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/aularis/lms-api/internal/middleware"
	"github.com/aularis/lms-api/internal/models"
)

func TestCourseHandlerDeleteUnitRejectsBadNumber(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewCourseHandler(nil)

	for _, raw := range []string{"abc", "0", "-2"} {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodDelete, "/courses/course-1/units/"+raw, nil)
		c.Params = gin.Params{{Key: "id", Value: "course-1"}, {Key: "number", Value: raw}}
		c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor})

		handler.DeleteUnit(c)

		assert.Equal(t, http.StatusBadRequest, rec.Code, raw)
	}
}

func TestCourseHandlerListRequiresAuthentication(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewCourseHandler(nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/courses", nil)

	handler.List(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
