package models

import "time"

// Professor represents the teaching profile attached to a user account.
type Professor struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	InstitutionID *string   `db:"institution_id" json:"institution_id,omitempty"`
	Title         *string   `db:"title" json:"title,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ProfessorDetail enriches Professor with identity fields for listings.
type ProfessorDetail struct {
	Professor
	Name            string  `db:"name" json:"name"`
	Surname         string  `db:"surname" json:"surname"`
	Email           string  `db:"email" json:"email"`
	InstitutionName *string `db:"institution_name" json:"institution_name,omitempty"`
}

// ProfessorFilter encapsulates search parameters for listing professors.
type ProfessorFilter struct {
	Search        string
	InstitutionID string
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
