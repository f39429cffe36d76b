package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aularis/lms-api/internal/models"
	appErrors "github.com/aularis/lms-api/pkg/errors"
	"github.com/aularis/lms-api/pkg/export"
)

// ExportFormat selects the rendered output type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type exportAttemptSource interface {
	ListResults(ctx context.Context, assessmentID string) ([]models.AttemptResultRow, error)
}

type exportAssessmentSource interface {
	FindByID(ctx context.Context, id string) (*models.Assessment, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportResult is a rendered document ready to stream as an attachment.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders an assessment's attempt results as CSV or PDF
// for the owning professor.
type ExportService struct {
	attempts    exportAttemptSource
	assessments exportAssessmentSource
	courses     courseFinder
	professors  professorFinder
	csv         csvRenderer
	pdf         pdfRenderer
	logger      *zap.Logger
}

// NewExportService constructs an ExportService. Nil renderers fall back
// to the default CSV and PDF exporters.
func NewExportService(
	attempts exportAttemptSource,
	assessments exportAssessmentSource,
	courses courseFinder,
	professors professorFinder,
	csv csvRenderer,
	pdf pdfRenderer,
	logger *zap.Logger,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		attempts:    attempts,
		assessments: assessments,
		courses:     courses,
		professors:  professors,
		csv:         csv,
		pdf:         pdf,
		logger:      logger,
	}
}

// ParseExportFormat normalizes a query parameter into an ExportFormat.
// An empty value defaults to CSV.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "csv":
		return ExportFormatCSV, nil
	case "pdf":
		return ExportFormatPDF, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", raw))
	}
}

// ExportResults renders every attempt of the assessment as one row,
// ordered by student surname and attempt number.
func (s *ExportService) ExportResults(ctx context.Context, actor models.JWTClaims, assessmentID string, format ExportFormat) (*ExportResult, error) {
	assessment, err := s.assessments.FindByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assessment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment")
	}
	if actor.Role != models.RoleAdmin {
		if err := courseOwnedBy(ctx, s.courses, s.professors, actor.UserID, assessment.CourseID); err != nil {
			return nil, err
		}
	}

	rows, err := s.attempts.ListResults(ctx, assessmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attempt results")
	}

	dataset := buildResultsDataset(rows)
	title := fmt.Sprintf("Results: %s", assessment.Title)

	var payload []byte
	var contentType string
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv; charset=utf-8"
	case ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
		contentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	s.logger.Info("assessment results exported",
		zap.String("assessment_id", assessmentID),
		zap.String("format", string(format)),
		zap.Int("rows", len(rows)),
		zap.String("actor_id", actor.UserID))

	return &ExportResult{
		Filename:    buildExportFilename(assessment.Title, format),
		ContentType: contentType,
		Data:        payload,
	}, nil
}

func buildResultsDataset(rows []models.AttemptResultRow) export.Dataset {
	headers := []string{"Student", "Email", "Attempt", "Status", "Score", "Passed", "Submitted At"}
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"Student":      row.StudentName,
			"Email":        row.StudentEmail,
			"Attempt":      fmt.Sprintf("%d", row.AttemptNumber),
			"Status":       row.Status,
			"Score":        formatExportScore(row.Score),
			"Passed":       formatExportPassed(row.Passed),
			"Submitted At": formatExportTime(row.SubmittedAt),
		})
	}
	return export.Dataset{Headers: headers, Rows: dataRows}
}

func buildExportFilename(title string, format ExportFormat) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("results_%s_%s.%s", sanitizeFilename(title), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "assessment"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(strings.ToLower(raw))
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func formatExportScore(score *float64) string {
	if score == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *score)
}

func formatExportPassed(passed *bool) string {
	if passed == nil {
		return ""
	}
	if *passed {
		return "yes"
	}
	return "no"
}

func formatExportTime(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return ts.UTC().Format("2006-01-02 15:04")
}
