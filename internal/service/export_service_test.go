package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aularis/lms-api/internal/models"
	appErrors "github.com/aularis/lms-api/pkg/errors"
)

type attemptResultsStub struct {
	rows []models.AttemptResultRow
	err  error
}

func (s attemptResultsStub) ListResults(ctx context.Context, assessmentID string) ([]models.AttemptResultRow, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

// newExportService wires the real CSV and PDF renderers around stubbed
// sources: assessment asm-1 titled "Final Exam" on course-1, owned by
// prof-1 (user user-9).
func newExportService(rows []models.AttemptResultRow) *ExportService {
	assessments := &assessmentRepoStub{byID: map[string]*models.Assessment{
		"asm-1": {ID: "asm-1", CourseID: "course-1", Title: "Final Exam", Active: true},
	}}
	courses := courseFinderStub{courses: map[string]*models.Course{
		"course-1": {ID: "course-1", ProfessorID: "prof-1", Title: "Operating Systems", Active: true},
	}}
	professors := professorFinderStub{professors: map[string]*models.Professor{
		"prof-1": {ID: "prof-1", UserID: "user-9"},
	}}
	return NewExportService(attemptResultsStub{rows: rows}, assessments, courses, professors, nil, nil, zap.NewNop())
}

func TestParseExportFormat(t *testing.T) {
	cases := []struct {
		raw     string
		want    ExportFormat
		wantErr bool
	}{
		{"", ExportFormatCSV, false},
		{"csv", ExportFormatCSV, false},
		{" CSV ", ExportFormatCSV, false},
		{"pdf", ExportFormatPDF, false},
		{"Pdf", ExportFormatPDF, false},
		{"xlsx", "", true},
	}

	for _, tc := range cases {
		format, err := ParseExportFormat(tc.raw)
		if tc.wantErr {
			require.Error(t, err, "raw %q", tc.raw)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
			assert.Contains(t, appErrors.FromError(err).Message, tc.raw)
			continue
		}
		require.NoError(t, err, "raw %q", tc.raw)
		assert.Equal(t, tc.want, format)
	}
}

func TestExportServiceRendersCSV(t *testing.T) {
	ctx := context.Background()
	owner := models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor}

	submittedAt := time.Date(2026, 5, 10, 14, 30, 0, 0, time.UTC)
	score := 85.5
	passed := true
	svc := newExportService([]models.AttemptResultRow{
		{AttemptID: "att-1", StudentID: "stu-1", StudentName: "Bram Santoso", StudentEmail: "bram@example.com", AttemptNumber: 1, Status: "SUBMITTED", Score: &score, Passed: &passed, SubmittedAt: &submittedAt},
		{AttemptID: "att-2", StudentID: "stu-2", StudentName: "Citra Lestari", StudentEmail: "citra@example.com", AttemptNumber: 1, Status: "IN_PROGRESS"},
	})

	result, err := svc.ExportResults(ctx, owner, "asm-1", ExportFormatCSV)
	require.NoError(t, err)

	assert.Equal(t, "text/csv; charset=utf-8", result.ContentType)
	assert.True(t, strings.HasPrefix(result.Filename, "results_final_exam_"), "filename %q", result.Filename)
	assert.True(t, strings.HasSuffix(result.Filename, ".csv"), "filename %q", result.Filename)

	content := string(result.Data)
	assert.True(t, strings.HasPrefix(content, "\xef\xbb\xbf"), "expected UTF-8 BOM")
	assert.Contains(t, content, "Student,Email,Attempt,Status,Score,Passed,Submitted At\n")
	assert.Contains(t, content, "Bram Santoso,bram@example.com,1,SUBMITTED,85.50,yes,2026-05-10 14:30\n")
	// Open attempts have no score, verdict or submission time yet.
	assert.Contains(t, content, "Citra Lestari,citra@example.com,1,IN_PROGRESS,,,\n")
}

func TestExportServiceRendersPDF(t *testing.T) {
	ctx := context.Background()
	owner := models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor}

	score := 91.0
	passed := true
	svc := newExportService([]models.AttemptResultRow{
		{AttemptID: "att-1", StudentID: "stu-1", StudentName: "Bram Santoso", StudentEmail: "bram@example.com", AttemptNumber: 2, Status: "SUBMITTED", Score: &score, Passed: &passed},
	})

	result, err := svc.ExportResults(ctx, owner, "asm-1", ExportFormatPDF)
	require.NoError(t, err)

	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, strings.HasSuffix(result.Filename, ".pdf"), "filename %q", result.Filename)
	assert.True(t, strings.HasPrefix(string(result.Data), "%PDF"), "expected a PDF document")
}

func TestExportServiceOwnershipRequired(t *testing.T) {
	ctx := context.Background()
	svc := newExportService(nil)

	stranger := models.JWTClaims{UserID: "user-5", Role: models.RoleProfessor}
	_, err := svc.ExportResults(ctx, stranger, "asm-1", ExportFormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	admin := models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	_, err = svc.ExportResults(ctx, admin, "asm-1", ExportFormatCSV)
	require.NoError(t, err)

	owner := models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor}
	_, err = svc.ExportResults(ctx, owner, "asm-missing", ExportFormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestExportServiceEmptyResultsStillRender(t *testing.T) {
	ctx := context.Background()
	owner := models.JWTClaims{UserID: "user-9", Role: models.RoleProfessor}
	svc := newExportService(nil)

	result, err := svc.ExportResults(ctx, owner, "asm-1", ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "\xef\xbb\xbfStudent,Email,Attempt,Status,Score,Passed,Submitted At\n", string(result.Data))
}
