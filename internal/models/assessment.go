package models

import (
	"time"

	"github.com/lib/pq"
)

// QuestionType enumerates the supported question kinds. The type drives
// answer comparison at grading time.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
	QuestionTypeNumeric        QuestionType = "NUMERIC"
)

// Assessment belongs to exactly one course and groups a set of questions
// with a passing score, optional attempt cap and availability window.
type Assessment struct {
	ID             string     `db:"id" json:"id"`
	CourseID       string     `db:"course_id" json:"course_id"`
	Title          string     `db:"title" json:"title"`
	Description    string     `db:"description" json:"description"`
	PassingScore   float64    `db:"passing_score" json:"passing_score"`
	MaxAttempts    *int       `db:"max_attempts" json:"max_attempts,omitempty"`
	AvailableFrom  *time.Time `db:"available_from" json:"available_from,omitempty"`
	AvailableUntil *time.Time `db:"available_until" json:"available_until,omitempty"`
	Active         bool       `db:"active" json:"active"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`

	Questions []Question `db:"-" json:"questions,omitempty"`
}

// AvailableAt reports whether the assessment accepts new attempts at the
// given time: it must be active and inside its availability window.
func (a Assessment) AvailableAt(now time.Time) bool {
	if !a.Active {
		return false
	}
	if a.AvailableFrom != nil && now.Before(*a.AvailableFrom) {
		return false
	}
	if a.AvailableUntil != nil && now.After(*a.AvailableUntil) {
		return false
	}
	return true
}

// Question is a single gradable item inside an assessment. CorrectAnswer
// never serializes to JSON; student-facing payloads are built from dto
// views instead.
type Question struct {
	ID            string         `db:"id" json:"id"`
	AssessmentID  string         `db:"assessment_id" json:"assessment_id"`
	Type          QuestionType   `db:"type" json:"type"`
	Text          string         `db:"text" json:"text"`
	Options       pq.StringArray `db:"options" json:"options,omitempty"`
	CorrectAnswer string         `db:"correct_answer" json:"-"`
	Points        float64        `db:"points" json:"points"`
	Position      int            `db:"position" json:"position"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// AssessmentFilter captures supported filters for listing assessments.
type AssessmentFilter struct {
	CourseID  string
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CreateAssessmentRequest is the payload for creating an assessment.
type CreateAssessmentRequest struct {
	CourseID       string     `json:"course_id" validate:"required,uuid"`
	Title          string     `json:"title" validate:"required"`
	Description    string     `json:"description"`
	PassingScore   float64    `json:"passing_score" validate:"gte=0,lte=100"`
	MaxAttempts    *int       `json:"max_attempts,omitempty" validate:"omitempty,min=1"`
	AvailableFrom  *time.Time `json:"available_from,omitempty"`
	AvailableUntil *time.Time `json:"available_until,omitempty"`
}

// UpdateAssessmentRequest partially updates an assessment.
type UpdateAssessmentRequest struct {
	Title          *string    `json:"title,omitempty"`
	Description    *string    `json:"description,omitempty"`
	PassingScore   *float64   `json:"passing_score,omitempty" validate:"omitempty,gte=0,lte=100"`
	MaxAttempts    *int       `json:"max_attempts,omitempty" validate:"omitempty,min=1"`
	AvailableFrom  *time.Time `json:"available_from,omitempty"`
	AvailableUntil *time.Time `json:"available_until,omitempty"`
	Active         *bool      `json:"active,omitempty"`
}

// CreateQuestionRequest adds a question to an assessment.
type CreateQuestionRequest struct {
	Type          QuestionType `json:"type" validate:"required,oneof=MULTIPLE_CHOICE TRUE_FALSE SHORT_ANSWER NUMERIC"`
	Text          string       `json:"text" validate:"required"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer" validate:"required"`
	Points        float64      `json:"points" validate:"omitempty,gt=0"`
	Position      int          `json:"position"`
}

// UpdateQuestionRequest partially updates a question.
type UpdateQuestionRequest struct {
	Type          *QuestionType `json:"type,omitempty" validate:"omitempty,oneof=MULTIPLE_CHOICE TRUE_FALSE SHORT_ANSWER NUMERIC"`
	Text          *string       `json:"text,omitempty"`
	Options       []string      `json:"options,omitempty"`
	CorrectAnswer *string       `json:"correct_answer,omitempty"`
	Points        *float64      `json:"points,omitempty" validate:"omitempty,gt=0"`
	Position      *int          `json:"position,omitempty"`
}
