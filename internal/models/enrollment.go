package models

import "time"

// EnrollmentState represents the lifecycle of an enrollment.
type EnrollmentState string

// Possible enrollment states.
const (
	EnrollmentStateEnrolled  EnrollmentState = "ENROLLED"
	EnrollmentStateCompleted EnrollmentState = "COMPLETED"
	EnrollmentStateDropped   EnrollmentState = "DROPPED"
)

// Enrollment links exactly one student to exactly one course. At most one
// enrollment exists per (student, course) pair. Progress always equals
// round(completed units / total units * 100).
type Enrollment struct {
	ID          string          `db:"id" json:"id"`
	StudentID   string          `db:"student_id" json:"student_id"`
	CourseID    string          `db:"course_id" json:"course_id"`
	State       EnrollmentState `db:"state" json:"state"`
	Progress    int             `db:"progress" json:"progress"`
	Grade       *float64        `db:"grade" json:"grade,omitempty"`
	EnrolledAt  time.Time       `db:"enrolled_at" json:"enrolled_at"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`

	// CompletedUnits is the set of completed unit numbers, loaded from the
	// enrollment_units table. Order carries no meaning.
	CompletedUnits []int `db:"-" json:"completed_units"`
}

// EnrollmentDetail enriches Enrollment with course and student info.
type EnrollmentDetail struct {
	Enrollment
	CourseTitle string `db:"course_title" json:"course_title"`
	StudentName string `db:"student_name" json:"student_name"`
	TotalUnits  int    `db:"total_units" json:"total_units"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	State     EnrollmentState
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CreateEnrollmentRequest enrolls a student into a course.
type CreateEnrollmentRequest struct {
	CourseID string `json:"course_id" validate:"required,uuid"`
	// StudentID is optional for admins enrolling on behalf of a student;
	// students always enroll themselves.
	StudentID string `json:"student_id,omitempty" validate:"omitempty,uuid"`
}

// UpdateEnrollmentRequest is the manual override path. Progress writes are
// silently ignored while the enrollment is already COMPLETED.
type UpdateEnrollmentRequest struct {
	State    *EnrollmentState `json:"state,omitempty" validate:"omitempty,oneof=ENROLLED COMPLETED DROPPED"`
	Progress *int             `json:"progress,omitempty" validate:"omitempty,gte=0,lte=100"`
	Grade    *float64         `json:"grade,omitempty" validate:"omitempty,gte=0,lte=100"`
}

// UnitRequest names the course unit a completion call refers to.
type UnitRequest struct {
	UnitNumber int `json:"unit_number" validate:"required,min=1"`
}
