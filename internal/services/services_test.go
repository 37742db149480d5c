package services

import (
	"context"
	"testing"
	"time"

	"github.com/KuldeepProzo/ProCompliance/internal/db"
	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"github.com/KuldeepProzo/ProCompliance/internal/utils"
	"github.com/KuldeepProzo/ProCompliance/pkg/metrics"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func newTestUser(t *testing.T, gdb *gorm.DB, name, email string, role models.UserRole) *models.User {
	t.Helper()
	hash, err := utils.EncryptPassword("secret123")
	require.NoError(t, err)
	u := &models.User{Name: name, Email: email, Role: role, PasswordHash: hash}
	require.NoError(t, gdb.Create(u).Error)
	return u
}

func principalFor(u *models.User, categoryIDs ...uint) Principal {
	return Principal{
		ID:                 u.ID,
		Name:               u.Name,
		Email:              u.Email,
		Role:               models.NormalizeRole(string(u.Role)),
		AllowedCategoryIDs: categoryIDs,
	}
}

// fakeNotifier records every delivery instead of talking to a mail server.
type fakeNotifier struct {
	digests []recordedDigest
	singles []recordedSingle
	fail    bool
}

type recordedDigest struct {
	To       Recipient
	TaskIDs  []uint
	Audience Audience
}

type recordedSingle struct {
	Kind   string
	To     string
	TaskID uint
}

func (f *fakeNotifier) err() error {
	if f.fail {
		return ErrMailerDisabled
	}
	return nil
}

func (f *fakeNotifier) SendDigest(_ context.Context, to Recipient, tasks []*models.Task, audience Audience) error {
	if f.fail {
		return ErrMailerDisabled
	}
	ids := make([]uint, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	f.digests = append(f.digests, recordedDigest{To: to, TaskIDs: ids, Audience: audience})
	return nil
}

func (f *fakeNotifier) SendAssignment(_ context.Context, to Recipient, task *models.Task) error {
	f.singles = append(f.singles, recordedSingle{Kind: "assignment", To: to.Email, TaskID: task.ID})
	return f.err()
}

func (f *fakeNotifier) SendSubmission(_ context.Context, to Recipient, task *models.Task) error {
	f.singles = append(f.singles, recordedSingle{Kind: "submission", To: to.Email, TaskID: task.ID})
	return f.err()
}

func (f *fakeNotifier) SendReopened(_ context.Context, to Recipient, task *models.Task, _ string) error {
	f.singles = append(f.singles, recordedSingle{Kind: "reopened", To: to.Email, TaskID: task.ID})
	return f.err()
}

func (f *fakeNotifier) SendEditRequest(_ context.Context, to []string, task *models.Task, _ string) error {
	for _, addr := range to {
		f.singles = append(f.singles, recordedSingle{Kind: "edit_request", To: addr, TaskID: task.ID})
	}
	return f.err()
}

func (f *fakeNotifier) SendRegistration(_ context.Context, to Recipient, _ string) error {
	f.singles = append(f.singles, recordedSingle{Kind: "registration", To: to.Email})
	return f.err()
}

func (f *fakeNotifier) SendPasswordReset(_ context.Context, to Recipient, _ string) error {
	f.singles = append(f.singles, recordedSingle{Kind: "password_reset", To: to.Email})
	return f.err()
}

func (f *fakeNotifier) singlesOf(kind string) []recordedSingle {
	var out []recordedSingle
	for _, s := range f.singles {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func newTaskService(t *testing.T, gdb *gorm.DB, fn *fakeNotifier) *TaskService {
	t.Helper()
	return NewTaskService(gdb, NewPermissionResolver(), fn, zap.NewNop(), metrics.NewMetricsCollector())
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}
