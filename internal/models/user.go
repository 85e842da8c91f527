package models

// UserRole represents the roles supplied by the authentication provider.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleStudent UserRole = "STUDENT"
)

// CanManageAttendance reports whether the role may run privileged attendance actions.
func (r UserRole) CanManageAttendance() bool {
	return r == RoleAdmin || r == RoleTeacher
}

// Caller is the authenticated identity an operation runs on behalf of.
type Caller struct {
	UserID    string
	Role      UserRole
	StudentID string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
