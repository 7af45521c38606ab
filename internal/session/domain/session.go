package domain

import "time"

// Session is a named login session held only in the cache. Its ID is the
// lineage id shared by every refresh token rotated from the same login.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	RefreshTokenID string    `json:"refresh_token_id"` // current refresh record of the lineage
	IPAddress      string    `json:"ip,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
