package domain

import "time"

// Actions recorded in the audit trail.
const (
	ActionRegister         = "register"
	ActionLoginSuccess     = "login_success"
	ActionLoginFailure     = "login_failure"
	ActionLoginLocked      = "login_locked"
	ActionAccountLocked    = "account_locked"
	ActionRefreshReuse     = "refresh_reuse_detected"
	ActionLogout           = "logout"
	ActionLogoutAll        = "logout_all"
	ActionPasswordReset    = "password_reset"
	ActionPasswordResetReq = "password_reset_requested"
)

// AuditLog represents an audit event.
type AuditLog struct {
	ID        string
	UserID    string // empty for events with no resolved user
	Action    string
	IP        string
	UserAgent string
	Metadata  string // JSON object
	CreatedAt time.Time
}
