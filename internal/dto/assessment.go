package dto

import (
	"time"

	"github.com/aularis/lms-api/internal/models"
)

// StudentQuestion is the answer-free question view served to students
// during an attempt. Grading fields never appear here.
type StudentQuestion struct {
	ID       string              `json:"id"`
	Type     models.QuestionType `json:"type"`
	Text     string              `json:"text"`
	Options  []string            `json:"options,omitempty"`
	Points   float64             `json:"points"`
	Position int                 `json:"position"`
}

// NewStudentQuestion maps a question to its student view.
func NewStudentQuestion(q models.Question) StudentQuestion {
	return StudentQuestion{
		ID:       q.ID,
		Type:     q.Type,
		Text:     q.Text,
		Options:  q.Options,
		Points:   q.Points,
		Position: q.Position,
	}
}

// NewStudentQuestions maps a question list to student views.
func NewStudentQuestions(questions []models.Question) []StudentQuestion {
	views := make([]StudentQuestion, 0, len(questions))
	for _, q := range questions {
		views = append(views, NewStudentQuestion(q))
	}
	return views
}

// ProfessorQuestion is the full question view, including the correct
// answer, served only to the owning professor and admins.
type ProfessorQuestion struct {
	ID            string              `json:"id"`
	Type          models.QuestionType `json:"type"`
	Text          string              `json:"text"`
	Options       []string            `json:"options,omitempty"`
	CorrectAnswer string              `json:"correctAnswer"`
	Points        float64             `json:"points"`
	Position      int                 `json:"position"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// NewProfessorQuestion maps a question to its professor view.
func NewProfessorQuestion(q models.Question) ProfessorQuestion {
	return ProfessorQuestion{
		ID:            q.ID,
		Type:          q.Type,
		Text:          q.Text,
		Options:       q.Options,
		CorrectAnswer: q.CorrectAnswer,
		Points:        q.Points,
		Position:      q.Position,
		CreatedAt:     q.CreatedAt,
		UpdatedAt:     q.UpdatedAt,
	}
}

// NewProfessorQuestions maps a question list to professor views.
func NewProfessorQuestions(questions []models.Question) []ProfessorQuestion {
	views := make([]ProfessorQuestion, 0, len(questions))
	for _, q := range questions {
		views = append(views, NewProfessorQuestion(q))
	}
	return views
}

// SavedAnswer echoes a previously stored answer so a student can resume
// an in-progress attempt.
type SavedAnswer struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

// StartAttemptResponse is returned by the start-attempt endpoint: the
// attempt record, the answer-free questions and any answers already saved.
type StartAttemptResponse struct {
	Attempt      models.AssessmentAttempt `json:"attempt"`
	Questions    []StudentQuestion        `json:"questions"`
	SavedAnswers []SavedAnswer            `json:"savedAnswers,omitempty"`
	Resumed      bool                     `json:"resumed"`
}

// AttemptResultResponse is the student-facing outcome of a submitted
// attempt.
type AttemptResultResponse struct {
	AttemptID     string     `json:"attemptId"`
	AssessmentID  string     `json:"assessmentId"`
	AttemptNumber int        `json:"attemptNumber"`
	Score         float64    `json:"score"`
	Passed        bool       `json:"passed"`
	CorrectCount  int        `json:"correctCount"`
	TotalCount    int        `json:"totalCount"`
	SubmittedAt   *time.Time `json:"submittedAt,omitempty"`
}
