package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type UserRole string

const (
	RoleSuperAdmin UserRole = "superadmin"
	RoleAdmin      UserRole = "admin"
	RoleViewer     UserRole = "viewer"
)

// NormalizeRole collapses unknown or legacy role strings to viewer.
func NormalizeRole(s string) UserRole {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "superadmin":
		return RoleSuperAdmin
	case "admin":
		return RoleAdmin
	default:
		return RoleViewer
	}
}

type User struct {
	gorm.Model
	Email        string   `gorm:"unique;not null"`
	PasswordHash string   `gorm:"not null"` // Bcrypt hash of password
	Name         string   `gorm:"not null"`
	Role         UserRole `gorm:"not null;default:'viewer'"`
	ResetToken   string
	ResetExpires *time.Time
	Categories   []Category `gorm:"many2many:user_categories"`
}

func (u *User) IsSuperAdmin() bool { return NormalizeRole(string(u.Role)) == RoleSuperAdmin }

func (u *User) IsElevated() bool {
	r := NormalizeRole(string(u.Role))
	return r == RoleSuperAdmin || r == RoleAdmin
}
