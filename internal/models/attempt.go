package models

import "time"

// AttemptStatus captures the lifecycle of an assessment attempt.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
	AttemptStatusAbandoned  AttemptStatus = "ABANDONED"
)

// AssessmentAttempt is one run of a student through an assessment.
// AttemptNumber starts at 1 and strictly increases per (assessment, student)
// pair. Score and Passed stay unset until submission, which is a terminal
// transition.
type AssessmentAttempt struct {
	ID            string        `db:"id" json:"id"`
	AssessmentID  string        `db:"assessment_id" json:"assessment_id"`
	StudentID     string        `db:"student_id" json:"student_id"`
	AttemptNumber int           `db:"attempt_number" json:"attempt_number"`
	Status        AttemptStatus `db:"status" json:"status"`
	Score         *float64      `db:"score" json:"score,omitempty"`
	Passed        *bool         `db:"passed" json:"passed,omitempty"`
	StartedAt     time.Time     `db:"started_at" json:"started_at"`
	SubmittedAt   *time.Time    `db:"submitted_at" json:"submitted_at,omitempty"`

	Answers []AttemptAnswer `db:"-" json:"answers,omitempty"`
}

// AttemptAnswer stores one answer per (attempt, question) pair.
// Re-submitting the same question overwrites the prior answer in place.
type AttemptAnswer struct {
	ID         string    `db:"id" json:"id"`
	AttemptID  string    `db:"attempt_id" json:"attempt_id"`
	QuestionID string    `db:"question_id" json:"question_id"`
	Answer     string    `db:"answer" json:"answer"`
	IsCorrect  *bool     `db:"is_correct" json:"is_correct,omitempty"`
	AnsweredAt time.Time `db:"answered_at" json:"answered_at"`
}

// AttemptFilter scopes attempt listings.
type AttemptFilter struct {
	AssessmentID string
	StudentID    string
	Status       AttemptStatus
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// SubmitAnswerRequest saves a single answer within an attempt.
type SubmitAnswerRequest struct {
	QuestionID string `json:"question_id" validate:"required,uuid"`
	Answer     string `json:"answer" validate:"required"`
}

// SubmitAttemptRequest finalizes an attempt, optionally applying a last
// batch of answers first.
type SubmitAttemptRequest struct {
	Answers []SubmitAnswerRequest `json:"answers,omitempty" validate:"omitempty,dive"`
}

// AttemptResultRow is one exported/reported row of an assessment's results.
type AttemptResultRow struct {
	AttemptID     string     `db:"attempt_id" json:"attempt_id"`
	StudentID     string     `db:"student_id" json:"student_id"`
	StudentName   string     `db:"student_name" json:"student_name"`
	StudentEmail  string     `db:"student_email" json:"student_email"`
	AttemptNumber int        `db:"attempt_number" json:"attempt_number"`
	Status        string     `db:"status" json:"status"`
	Score         *float64   `db:"score" json:"score,omitempty"`
	Passed        *bool      `db:"passed" json:"passed,omitempty"`
	SubmittedAt   *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
}
