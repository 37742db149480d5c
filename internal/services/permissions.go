package services

import (
	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
)

// Principal is the authorization context resolved once per request and
// passed explicitly into every lifecycle and grouping call.
type Principal struct {
	ID                 uint
	Name               string
	Email              string
	Role               models.UserRole
	AllowedCategoryIDs []uint
}

func (p Principal) IsSuperAdmin() bool { return p.Role == models.RoleSuperAdmin }

func (p Principal) IsElevated() bool {
	return p.Role == models.RoleSuperAdmin || p.Role == models.RoleAdmin
}

// HasCategory reports whether an admin's allow-set covers the category.
// Superadmins cover everything; a nil category is covered by nobody but a
// superadmin.
func (p Principal) HasCategory(categoryID *uint) bool {
	if p.IsSuperAdmin() {
		return true
	}
	if p.Role != models.RoleAdmin || categoryID == nil {
		return false
	}
	for _, id := range p.AllowedCategoryIDs {
		if id == *categoryID {
			return true
		}
	}
	return false
}

// PermissionResolver decides which lifecycle transitions and field edits a
// principal may perform. Pure predicates, no side effects.
type PermissionResolver struct{}

func NewPermissionResolver() *PermissionResolver { return &PermissionResolver{} }

// CanEditFields allows superadmins everywhere, admins within their category
// allow-set, and the maker while the obligation is not locked.
func (r *PermissionResolver) CanEditFields(p Principal, t *models.Task) bool {
	if p.IsSuperAdmin() {
		return true
	}
	if p.Role == models.RoleAdmin {
		return p.HasCategory(t.CategoryID)
	}
	return p.Name == t.Maker && !t.Locked()
}

// CanChangeStatus allows elevated principals, the maker always, and the
// checker only once the obligation has been submitted.
func (r *PermissionResolver) CanChangeStatus(p Principal, t *models.Task, _ models.TaskStatus) bool {
	if p.IsElevated() {
		return true
	}
	if p.Name == t.Maker {
		return true
	}
	return p.Name == t.Checker && t.SubmittedAt != nil
}

// CanReopen allows elevated principals always; a checker may reopen unless
// the obligation is completed. Completed obligations reopen only by admins.
func (r *PermissionResolver) CanReopen(p Principal, t *models.Task) bool {
	if p.IsElevated() {
		return true
	}
	if p.Name != t.Checker {
		return false
	}
	return t.Status != models.StatusCompleted
}

func (r *PermissionResolver) CanDelete(p Principal) bool { return p.IsElevated() }

// CanCreate allows elevated principals; admins additionally need the target
// category in their allow-set.
func (r *PermissionResolver) CanCreate(p Principal, categoryID *uint) bool {
	if p.IsSuperAdmin() {
		return true
	}
	if p.Role != models.RoleAdmin {
		return false
	}
	return p.HasCategory(categoryID)
}
