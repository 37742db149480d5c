package services

import (
	"context"
	"testing"
	"time"

	"github.com/KuldeepProzo/ProCompliance/internal/config"
	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newUserService(t *testing.T, gdb *gorm.DB, fn *fakeNotifier) *UserService {
	t.Helper()
	return NewUserService(gdb, fn, config.SecurityConfig{
		JWTSecret:       "test_secret",
		TokenLifetime:   12 * time.Hour,
		DefaultPassword: "Welcome@123",
		ResetLifetime:   time.Hour,
	}, "http://localhost:8080", zap.NewNop())
}

func TestAuthenticateAndVerifyToken(t *testing.T) {
	gdb := newTestDB(t)
	u := newTestUser(t, gdb, "Asha Rao", "asha@example.com", models.RoleSuperAdmin)
	us := newUserService(t, gdb, &fakeNotifier{})

	token, got, err := us.Authenticate(context.Background(), "ASHA@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	id, err := us.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	_, _, err = us.Authenticate(context.Background(), "asha@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = us.VerifyToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPrincipalForLoadsCategoryAllowSet(t *testing.T) {
	gdb := newTestDB(t)
	u := newTestUser(t, gdb, "Dev Patel", "dev@example.com", models.RoleAdmin)
	var cat models.Category
	require.NoError(t, gdb.Where(models.Category{Name: "Tax"}).FirstOrCreate(&cat).Error)
	require.NoError(t, gdb.Model(u).Association("Categories").Append(&cat))

	us := newUserService(t, gdb, &fakeNotifier{})
	p, err := us.PrincipalFor(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Name, p.Name)
	assert.Equal(t, []uint{cat.ID}, p.AllowedCategoryIDs)
}

func TestAdminMayOnlyCreateViewers(t *testing.T) {
	gdb := newTestDB(t)
	adminU := newTestUser(t, gdb, "Dev Patel", "dev@example.com", models.RoleAdmin)
	fn := &fakeNotifier{}
	us := newUserService(t, gdb, fn)
	admin := principalFor(adminU)

	_, err := us.Create(context.Background(), admin, UserInput{Email: "new@example.com", Role: "admin"})
	assert.ErrorIs(t, err, ErrForbidden)

	created, err := us.Create(context.Background(), admin, UserInput{Email: "new@example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, created.Role)
	assert.Equal(t, "New", created.Name)

	// The fresh account is told its temporary password.
	regs := fn.singlesOf("registration")
	require.Len(t, regs, 1)
	assert.Equal(t, "new@example.com", regs[0].To)
}

func TestFindOrCreateViewerIsIdempotent(t *testing.T) {
	gdb := newTestDB(t)
	us := newUserService(t, gdb, &fakeNotifier{})

	first, err := us.FindOrCreateViewer(context.Background(), "jane.doe@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", first.Name)
	assert.Equal(t, models.RoleViewer, first.Role)

	second, err := us.FindOrCreateViewer(context.Background(), "Jane.Doe@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	gdb.Model(&models.User{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestLastSuperAdminGuards(t *testing.T) {
	gdb := newTestDB(t)
	superU := newTestUser(t, gdb, "Asha Rao", "asha@example.com", models.RoleSuperAdmin)
	us := newUserService(t, gdb, &fakeNotifier{})
	super := principalFor(superU)

	role := "viewer"
	_, err := us.Update(context.Background(), super, superU.ID, UserUpdate{Role: &role})
	assert.ErrorIs(t, err, ErrLastSuperAdmin)

	// Self-deletion is refused outright.
	assert.ErrorIs(t, us.Delete(context.Background(), super, superU.ID), ErrForbidden)

	// With a second superadmin the demotion goes through.
	other := newTestUser(t, gdb, "Ravi Menon", "ravi@example.com", models.RoleSuperAdmin)
	updated, err := us.Update(context.Background(), super, other.ID, UserUpdate{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, updated.Role)
}

func TestPasswordResetFlow(t *testing.T) {
	gdb := newTestDB(t)
	u := newTestUser(t, gdb, "Asha Rao", "asha@example.com", models.RoleSuperAdmin)
	fn := &fakeNotifier{}
	us := newUserService(t, gdb, fn)

	require.NoError(t, us.ForgotPassword(context.Background(), u.Email))
	require.Len(t, fn.singlesOf("password_reset"), 1)

	var stored models.User
	require.NoError(t, gdb.First(&stored, u.ID).Error)
	require.NotEmpty(t, stored.ResetToken)

	assert.ErrorIs(t, us.ResetPassword(context.Background(), "wrong-token", "NewPass@1"), ErrTokenExpired)
	require.NoError(t, us.ResetPassword(context.Background(), stored.ResetToken, "NewPass@1"))

	// The token is single use and the new password works.
	assert.ErrorIs(t, us.ResetPassword(context.Background(), stored.ResetToken, "Another@1"), ErrTokenExpired)
	_, _, err := us.Authenticate(context.Background(), u.Email, "NewPass@1")
	assert.NoError(t, err)

	// Unknown addresses get a silent no-op.
	assert.NoError(t, us.ForgotPassword(context.Background(), "nobody@example.com"))
}

func TestPeopleListStartsWithMeAlias(t *testing.T) {
	gdb := newTestDB(t)
	newTestUser(t, gdb, "Asha Rao", "asha@example.com", models.RoleSuperAdmin)
	newTestUser(t, gdb, "Manu Iyer", "manu@example.com", models.RoleViewer)
	us := newUserService(t, gdb, &fakeNotifier{})

	people, err := us.People(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Me", "Asha Rao", "Manu Iyer"}, people)
}
