package models

import (
	"time"

	"github.com/lib/pq"
)

// Institution is a school or university registered on the platform.
// NormalizedName holds the lowercased, diacritic- and punctuation-free
// form used for duplicate detection.
type Institution struct {
	ID             string         `db:"id" json:"id"`
	Name           string         `db:"name" json:"name"`
	NormalizedName string         `db:"normalized_name" json:"-"`
	Aliases        pq.StringArray `db:"aliases" json:"aliases,omitempty"`
	Website        *string        `db:"website" json:"website,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// InstitutionFilter provides filters for listing institutions.
type InstitutionFilter struct {
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CreateInstitutionRequest is the payload for registering an institution.
type CreateInstitutionRequest struct {
	Name    string   `json:"name" validate:"required,min=2"`
	Aliases []string `json:"aliases,omitempty"`
	Website *string  `json:"website,omitempty" validate:"omitempty,url"`
}

// UpdateInstitutionRequest partially updates an institution.
type UpdateInstitutionRequest struct {
	Name    *string  `json:"name,omitempty" validate:"omitempty,min=2"`
	Aliases []string `json:"aliases,omitempty"`
	Website *string  `json:"website,omitempty" validate:"omitempty,url"`
}
