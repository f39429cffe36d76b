package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/aularis/lms-api/internal/middleware"
	"github.com/aularis/lms-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// listPagination applies the same clamps the repositories use so the
// reported page and size match the rows actually returned.
func listPagination(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
