package models

import "time"

// Course represents a published unit of teaching owned by a professor.
type Course struct {
	ID          string    `db:"id" json:"id"`
	ProfessorID string    `db:"professor_id" json:"professor_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CourseUnit is one numbered content unit inside a course. Unit numbers
// start at 1 and are unique per course.
type CourseUnit struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	Number    int       `db:"number" json:"number"`
	Title     string    `db:"title" json:"title"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CourseDetail enriches Course with its owner and unit count.
type CourseDetail struct {
	Course
	ProfessorName string `db:"professor_name" json:"professor_name"`
	TotalUnits    int    `db:"total_units" json:"total_units"`
	EnrolledCount int    `db:"enrolled_count" json:"enrolled_count"`
}

// CourseFilter captures supported filters for listing courses.
type CourseFilter struct {
	ProfessorID string
	Active      *bool
	Search      string
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}

// CreateCourseRequest is the payload for creating a course.
type CreateCourseRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
}

// UpdateCourseRequest is the payload for partially updating a course.
type UpdateCourseRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// UpsertCourseUnitRequest creates or replaces a numbered unit.
type UpsertCourseUnitRequest struct {
	Number  int    `json:"number" validate:"required,min=1"`
	Title   string `json:"title" validate:"required"`
	Content string `json:"content"`
}
