package domain

import "time"

// StaffUser is a back-office account. These pre-date the client portal and
// keep their original argon2id password hashes.
type StaffUser struct {
	ID           string
	CompanyID    string
	Email        string
	PasswordHash string
	Name         string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	StaffRoleAgent = "agent"
	StaffRoleAdmin = "admin"
)

func IsValidStaffRole(role string) bool {
	return role == StaffRoleAgent || role == StaffRoleAdmin
}
