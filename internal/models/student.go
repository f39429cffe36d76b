package models

import "time"

// Student represents the learner profile attached to a user account.
type Student struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	InstitutionID *string   `db:"institution_id" json:"institution_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// StudentDetail enriches Student with identity fields for listings.
type StudentDetail struct {
	Student
	Name            string  `db:"name" json:"name"`
	Surname         string  `db:"surname" json:"surname"`
	Email           string  `db:"email" json:"email"`
	InstitutionName *string `db:"institution_name" json:"institution_name,omitempty"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search        string
	InstitutionID string
	CourseID      string
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
