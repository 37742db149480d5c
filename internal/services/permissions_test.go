package services

import (
	"testing"
	"time"

	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"github.com/stretchr/testify/assert"
)

func TestHasCategory(t *testing.T) {
	catID := uint(7)
	other := uint(8)

	super := Principal{Role: models.RoleSuperAdmin}
	assert.True(t, super.HasCategory(&catID))
	assert.True(t, super.HasCategory(nil))

	admin := Principal{Role: models.RoleAdmin, AllowedCategoryIDs: []uint{7}}
	assert.True(t, admin.HasCategory(&catID))
	assert.False(t, admin.HasCategory(&other))
	assert.False(t, admin.HasCategory(nil))

	viewer := Principal{Role: models.RoleViewer}
	assert.False(t, viewer.HasCategory(&catID))
}

func TestCanEditFields(t *testing.T) {
	r := NewPermissionResolver()
	catID := uint(3)
	task := &models.Task{Maker: "Manu Iyer", CategoryID: &catID}

	maker := Principal{Name: "Manu Iyer", Role: models.RoleViewer}
	assert.True(t, r.CanEditFields(maker, task))

	// Submission locks the maker out until a reopen.
	now := time.Now()
	task.SubmittedAt = &now
	assert.False(t, r.CanEditFields(maker, task))
	task.EditUnlocked = true
	assert.True(t, r.CanEditFields(maker, task))

	stranger := Principal{Name: "Someone Else", Role: models.RoleViewer}
	assert.False(t, r.CanEditFields(stranger, task))

	admin := Principal{Role: models.RoleAdmin, AllowedCategoryIDs: []uint{3}}
	assert.True(t, r.CanEditFields(admin, task))
	admin.AllowedCategoryIDs = []uint{9}
	assert.False(t, r.CanEditFields(admin, task))

	super := Principal{Role: models.RoleSuperAdmin}
	assert.True(t, r.CanEditFields(super, task))
}

func TestCanChangeStatus(t *testing.T) {
	r := NewPermissionResolver()
	task := &models.Task{Maker: "Manu Iyer", Checker: "Chitra Nair"}

	maker := Principal{Name: "Manu Iyer", Role: models.RoleViewer}
	checker := Principal{Name: "Chitra Nair", Role: models.RoleViewer}

	assert.True(t, r.CanChangeStatus(maker, task, models.StatusCompleted))
	assert.False(t, r.CanChangeStatus(checker, task, models.StatusCompleted))

	now := time.Now()
	task.SubmittedAt = &now
	assert.True(t, r.CanChangeStatus(checker, task, models.StatusCompleted))
}

func TestCanReopen(t *testing.T) {
	r := NewPermissionResolver()
	now := time.Now()
	task := &models.Task{Checker: "Chitra Nair", Status: models.StatusPending, SubmittedAt: &now}

	checker := Principal{Name: "Chitra Nair", Role: models.RoleViewer}
	assert.True(t, r.CanReopen(checker, task))

	task.Status = models.StatusCompleted
	assert.False(t, r.CanReopen(checker, task))

	admin := Principal{Role: models.RoleAdmin}
	assert.True(t, r.CanReopen(admin, task))
}

func TestCanCreateAndDelete(t *testing.T) {
	r := NewPermissionResolver()
	catID := uint(4)

	super := Principal{Role: models.RoleSuperAdmin}
	assert.True(t, r.CanCreate(super, nil))
	assert.True(t, r.CanDelete(super))

	admin := Principal{Role: models.RoleAdmin, AllowedCategoryIDs: []uint{4}}
	assert.True(t, r.CanCreate(admin, &catID))
	assert.False(t, r.CanCreate(admin, nil))
	assert.True(t, r.CanDelete(admin))

	viewer := Principal{Role: models.RoleViewer}
	assert.False(t, r.CanCreate(viewer, &catID))
	assert.False(t, r.CanDelete(viewer))
}
