package models

import "time"

// RefreshToken represents a persisted refresh token session. Tokens are
// never deleted; rotation and logout mark them revoked so that reuse of a
// rotated token remains detectable.
type RefreshToken struct {
	ID              string     `db:"id" json:"id"`
	UserID          string     `db:"user_id" json:"user_id"`
	Token           string     `db:"token" json:"token"`
	ExpiresAt       time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	Revoked         bool       `db:"revoked" json:"revoked"`
	RevokedAt       *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	ReplacedByToken *string    `db:"replaced_by_token" json:"replaced_by_token,omitempty"`
	IPAddress       string     `db:"ip_address" json:"ip_address"`
	UserAgent       string     `db:"user_agent" json:"user_agent"`
}

// Expired reports whether the token is past its expiry at the given time.
func (t RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
