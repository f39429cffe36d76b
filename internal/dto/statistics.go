package dto

import "time"

// AssessmentStatistics aggregates attempt outcomes for one assessment.
// Served to the owning professor; cached briefly because it runs several
// aggregate queries.
type AssessmentStatistics struct {
	AssessmentID       string               `json:"assessmentId"`
	TotalAttempts      int                  `json:"totalAttempts"`
	SubmittedAttempts  int                  `json:"submittedAttempts"`
	InProgressAttempts int                  `json:"inProgressAttempts"`
	DistinctStudents   int                  `json:"distinctStudents"`
	AverageScore       *float64             `json:"averageScore,omitempty"`
	HighestScore       *float64             `json:"highestScore,omitempty"`
	LowestScore        *float64             `json:"lowestScore,omitempty"`
	PassRate           *float64             `json:"passRate,omitempty"`
	Questions          []QuestionStatistics `json:"questions,omitempty"`
}

// QuestionStatistics summarises answer outcomes per question.
type QuestionStatistics struct {
	QuestionID  string  `json:"questionId"`
	Text        string  `json:"text"`
	Answered    int     `json:"answered"`
	Correct     int     `json:"correct"`
	CorrectRate float64 `json:"correctRate"`
}

// PendingAssessment is an open assessment a student has not yet passed,
// used for the pending list and the reminder emails.
type PendingAssessment struct {
	AssessmentID   string     `db:"assessment_id" json:"assessmentId"`
	Title          string     `db:"title" json:"title"`
	CourseID       string     `db:"course_id" json:"courseId"`
	CourseTitle    string     `db:"course_title" json:"courseTitle"`
	AvailableUntil *time.Time `db:"available_until" json:"availableUntil,omitempty"`
	AttemptsUsed   int        `db:"attempts_used" json:"attemptsUsed"`
	MaxAttempts    *int       `db:"max_attempts" json:"maxAttempts,omitempty"`
}
