package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/aularis/lms-api/internal/models"
	"github.com/aularis/lms-api/internal/service"
)

const testSecret = "middleware-test-secret"

func testAuthService() *service.AuthService {
	return service.NewAuthService(nil, nil, nil, zap.NewNop(), service.AuthConfig{
		AccessTokenSecret: testSecret,
		AccessTokenExpiry: time.Hour,
		Issuer:            "lms-api",
	})
}

func signedToken(t *testing.T, userID string, role models.UserRole) string {
	t.Helper()
	now := time.Now().UTC()
	claims := &models.JWTClaims{
		UserID: userID,
		Role:   role,
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "lms-api",
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func protectedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	authSvc := testAuthService()

	admin := router.Group("/admin", JWT(authSvc), RequireRoles(models.RoleAdmin))
	admin.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	users := router.Group("/users", JWT(authSvc), RBAC(string(models.RoleAdmin), RoleSelf))
	users.GET("/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	return router
}

func TestJWTRejectsMissingOrMalformedTokens(t *testing.T) {
	router := protectedRouter()

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Token abc"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not.a.jwt"},
	}

	for _, tc := range cases {
		recorder := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		router.ServeHTTP(recorder, req)
		if recorder.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tc.name, recorder.Code)
		}
	}
}

func TestJWTRejectsForgedSignature(t *testing.T) {
	router := protectedRouter()

	claims := &models.JWTClaims{
		UserID: "user-1",
		Role:   models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestRBACAllowsListedRoles(t *testing.T) {
	router := protectedRouter()

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "admin-1", models.RoleAdmin))
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("admin: expected 204, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "user-2", models.RoleStudent))
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("student on admin route: expected 403, got %d", recorder.Code)
	}
}

func TestRBACSelfMatchesRouteParam(t *testing.T) {
	router := protectedRouter()
	token := signedToken(t, "user-2", models.RoleStudent)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/users/user-2", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("own id: expected 204, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/users/user-3", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("foreign id: expected 403, got %d", recorder.Code)
	}
}
