package dto

import (
	"time"

	"github.com/aularis/lms-api/internal/models"
)

// StudentEnrollmentView is the enrollment shape served to the enrolled
// student: course context plus progress, without other students' data.
type StudentEnrollmentView struct {
	ID             string                 `json:"id"`
	CourseID       string                 `json:"courseId"`
	CourseTitle    string                 `json:"courseTitle"`
	State          models.EnrollmentState `json:"state"`
	Progress       int                    `json:"progress"`
	CompletedUnits []int                  `json:"completedUnits"`
	TotalUnits     int                    `json:"totalUnits"`
	EnrolledAt     time.Time              `json:"enrolledAt"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
}

// NewStudentEnrollmentView maps an enrollment detail row to the student view.
func NewStudentEnrollmentView(d models.EnrollmentDetail) StudentEnrollmentView {
	units := d.CompletedUnits
	if units == nil {
		units = []int{}
	}
	return StudentEnrollmentView{
		ID:             d.ID,
		CourseID:       d.CourseID,
		CourseTitle:    d.CourseTitle,
		State:          d.State,
		Progress:       d.Progress,
		CompletedUnits: units,
		TotalUnits:     d.TotalUnits,
		EnrolledAt:     d.EnrolledAt,
		CompletedAt:    d.CompletedAt,
	}
}

// ProfessorEnrollmentView is the roster shape served to the course owner:
// student identity plus progress, without the unit-by-unit breakdown.
type ProfessorEnrollmentView struct {
	ID          string                 `json:"id"`
	StudentID   string                 `json:"studentId"`
	StudentName string                 `json:"studentName"`
	State       models.EnrollmentState `json:"state"`
	Progress    int                    `json:"progress"`
	EnrolledAt  time.Time              `json:"enrolledAt"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
}

// NewProfessorEnrollmentView maps an enrollment detail row to the roster view.
func NewProfessorEnrollmentView(d models.EnrollmentDetail) ProfessorEnrollmentView {
	return ProfessorEnrollmentView{
		ID:          d.ID,
		StudentID:   d.StudentID,
		StudentName: d.StudentName,
		State:       d.State,
		Progress:    d.Progress,
		EnrolledAt:  d.EnrolledAt,
		CompletedAt: d.CompletedAt,
	}
}
