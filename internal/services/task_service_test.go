package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedPeople(t *testing.T, gdb *gorm.DB) (admin, maker, checker *models.User) {
	t.Helper()
	admin = newTestUser(t, gdb, "Asha Rao", "asha@example.com", models.RoleSuperAdmin)
	maker = newTestUser(t, gdb, "Manu Iyer", "manu@example.com", models.RoleViewer)
	checker = newTestUser(t, gdb, "Chitra Nair", "chitra@example.com", models.RoleViewer)
	return admin, maker, checker
}

func seedRefs(t *testing.T, gdb *gorm.DB) (categoryID, companyID uint) {
	t.Helper()
	var cat models.Category
	require.NoError(t, gdb.Where(models.Category{Name: "Tax"}).FirstOrCreate(&cat).Error)
	var comp models.Company
	require.NoError(t, gdb.Where(models.Company{Name: "Plant 1"}).FirstOrCreate(&comp).Error)
	return cat.ID, comp.ID
}

func createTask(t *testing.T, gdb *gorm.DB, ts *TaskService, admin Principal, maker, checker string) *models.Task {
	t.Helper()
	catID, compID := seedRefs(t, gdb)
	task, err := ts.Create(context.Background(), admin, TaskInput{
		Title:       "GST monthly filing",
		CategoryID:  &catID,
		CompanyID:   &compID,
		Maker:       maker,
		Checker:     checker,
		DueDate:     "2026-09-30",
		Criticality: "high",
	}, nil)
	require.NoError(t, err)
	return task
}

func TestCreateResolvesMeAliasAndWritesAssignmentNote(t *testing.T) {
	gdb := newTestDB(t)
	adminU, _, _ := seedPeople(t, gdb)
	fn := &fakeNotifier{}
	ts := newTaskService(t, gdb, fn)
	admin := principalFor(adminU)

	task, err := ts.Create(context.Background(), admin, TaskInput{
		Title: "Fire NOC renewal",
		Maker: "Me",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, admin.Name, task.Maker)
	assert.Equal(t, admin.Name, task.AssignedBy)
	assert.Equal(t, models.DueNA, task.DueDate)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Nil(t, task.SubmittedAt)

	var notes []models.Note
	require.NoError(t, gdb.Where("task_id = ?", task.ID).Find(&notes).Error)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Text, "Assigned to "+admin.Name)
}

func TestCreateRequiresElevatedRole(t *testing.T) {
	gdb := newTestDB(t)
	_, makerU, _ := seedPeople(t, gdb)
	ts := newTaskService(t, gdb, &fakeNotifier{})

	_, err := ts.Create(context.Background(), principalFor(makerU), TaskInput{Title: "x", Maker: "Me"}, nil)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestFirstMakerEditWithCheckerSubmits(t *testing.T) {
	gdb := newTestDB(t)
	adminU, makerU, checkerU := seedPeople(t, gdb)
	fn := &fakeNotifier{}
	ts := newTaskService(t, gdb, fn)
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	ts.SetClock(fixedClock(now))

	task := createTask(t, gdb, ts, principalFor(adminU), makerU.Name, checkerU.Name)
	require.Nil(t, task.SubmittedAt)

	desc := "filed via portal"
	vf := "2026-08-01"
	updated, err := ts.UpdateFields(context.Background(), principalFor(makerU), task.ID, TaskUpdate{
		Description: &desc,
		ValidFrom:   &vf,
	}, nil)
	require.NoError(t, err)

	require.NotNil(t, updated.SubmittedAt)
	assert.WithinDuration(t, now, *updated.SubmittedAt, time.Second)
	assert.False(t, updated.EditUnlocked)
	assert.Equal(t, models.StatusPending, updated.Status)

	// The checker is told there is something to review.
	subs := fn.singlesOf("submission")
	require.Len(t, subs, 1)
	assert.Equal(t, checkerU.Email, subs[0].To)
}

func TestMakerLockedOutAfterSubmission(t *testing.T) {
	gdb := newTestDB(t)
	adminU, makerU, checkerU := seedPeople(t, gdb)
	ts := newTaskService(t, gdb, &fakeNotifier{})
	task := createTask(t, gdb, ts, principalFor(adminU), makerU.Name, checkerU.Name)

	maker := principalFor(makerU)
	vf := "2026-08-01"
	_, err := ts.UpdateFields(context.Background(), maker, task.ID, TaskUpdate{ValidFrom: &vf}, nil)
	require.NoError(t, err)

	title := "changed after lock"
	_, err = ts.UpdateFields(context.Background(), maker, task.ID, TaskUpdate{Title: &title}, nil)
	assert.ErrorIs(t, err, ErrLocked)

	// Admins are never locked out.
	_, err = ts.UpdateFields(context.Background(), principalFor(adminU), task.ID, TaskUpdate{Title: &title}, nil)
	assert.NoError(t, err)
}

func TestReopenUnlocksAndPreservesSubmittedAt(t *testing.T) {
	gdb := newTestDB(t)
	adminU, makerU, checkerU := seedPeople(t, gdb)
	fn := &fakeNotifier{}
	ts := newTaskService(t, gdb, fn)
	submitTime := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	ts.SetClock(fixedClock(submitTime))

	task := createTask(t, gdb, ts, principalFor(adminU), makerU.Name, checkerU.Name)
	vf := "2026-08-01"
	_, err := ts.UpdateFields(context.Background(), principalFor(makerU), task.ID, TaskUpdate{ValidFrom: &vf}, nil)
	require.NoError(t, err)

	ts.SetClock(fixedClock(submitTime.Add(48 * time.Hour)))
	reopened, err := ts.SetStatus(context.Background(), principalFor(adminU), task.ID, "pending")
	require.NoError(t, err)

	assert.True(t, reopened.EditUnlocked)
	require.NotNil(t, reopened.SubmittedAt)
	assert.WithinDuration(t, submitTime, *reopened.SubmittedAt, time.Second)

	var note models.Note
	require.NoError(t, gdb.Where("task_id = ? AND text LIKE ?", task.ID, "Reopened for edits%").First(&note).Error)

	// Maker hears about every reopen.
	reopens := fn.singlesOf("reopened")
	require.Len(t, reopens, 1)
	assert.Equal(t, makerU.Email, reopens[0].To)

	// The next maker save consumes the unlock and re-locks the record.
	desc := "corrected filing reference"
	afterEdit, err := ts.UpdateFields(context.Background(), principalFor(makerU), task.ID, TaskUpdate{Description: &desc}, nil)
	require.NoError(t, err)
	assert.False(t, afterEdit.EditUnlocked)
	require.NotNil(t, afterEdit.SubmittedAt)
	assert.WithinDuration(t, submitTime, *afterEdit.SubmittedAt, time.Second)
}

func TestCheckerStatusGating(t *testing.T) {
	gdb := newTestDB(t)
	adminU, makerU, checkerU := seedPeople(t, gdb)
	ts := newTaskService(t, gdb, &fakeNotifier{})
	task := createTask(t, gdb, ts, principalFor(adminU), makerU.Name, checkerU.Name)
	checker := principalFor(checkerU)

	// Nothing submitted yet, the checker has no say.
	_, err := ts.SetStatus(context.Background(), checker, task.ID, "completed")
	assert.ErrorIs(t, err, ErrForbidden)

	vf := "2026-08-01"
	_, err = ts.UpdateFields(context.Background(), principalFor(makerU), task.ID, TaskUpdate{ValidFrom: &vf}, nil)
	require.NoError(t, err)

	done, err := ts.SetStatus(context.Background(), checker, task.ID, "completed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
}

func TestCheckerCannotReopenCompleted(t *testing.T) {
	gdb := newTestDB(t)
	adminU, makerU, checkerU := seedPeople(t, gdb)
	ts := newTaskService(t, gdb, &fakeNotifier{})
	task := createTask(t, gdb, ts, principalFor(adminU), makerU.Name, checkerU.Name)

	vf := "2026-08-01"
	_, err := ts.UpdateFields(context.Background(), principalFor(makerU), task.ID, TaskUpdate{ValidFrom: &vf}, nil)
	require.NoError(t, err)
	_, err = ts.SetStatus(context.Background(), principalFor(checkerU), task.ID, "completed")
	require.NoError(t, err)

	var before int64
	gdb.Model(&models.Note{}).Where("task_id = ?", task.ID).Count(&before)

	_, err = ts.SetStatus(context.Background(), principalFor(checkerU), task.ID, "pending")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// The refused transition leaves no trace in the audit trail.
	var after int64
	gdb.Model(&models.Note{}).Where("task_id = ?", task.ID).Count(&after)
	assert.Equal(t, before, after)

	// An admin can still reopen completed work.
	reopened, err := ts.SetStatus(context.Background(), principalFor(adminU), task.ID, "pending")
	require.NoError(t, err)
	assert.True(t, reopened.EditUnlocked)
}

func TestMakerCannotReassignPeople(t *testing.T) {
	gdb := newTestDB(t)
	adminU, makerU, checkerU := seedPeople(t, gdb)
	ts := newTaskService(t, gdb, &fakeNotifier{})
	task := createTask(t, gdb, ts, principalFor(adminU), makerU.Name, checkerU.Name)

	other := adminU.Name
	vf := "2026-08-01"
	updated, err := ts.UpdateFields(context.Background(), principalFor(makerU), task.ID, TaskUpdate{
		Maker:     &other,
		ValidFrom: &vf,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, makerU.Name, updated.Maker)
}

func TestAdminReassignWritesNoteAndNotifies(t *testing.T) {
	gdb := newTestDB(t)
	adminU, makerU, checkerU := seedPeople(t, gdb)
	newMaker := newTestUser(t, gdb, "Nidhi Shah", "nidhi@example.com", models.RoleViewer)
	fn := &fakeNotifier{}
	ts := newTaskService(t, gdb, fn)
	task := createTask(t, gdb, ts, principalFor(adminU), makerU.Name, checkerU.Name)
	fn.singles = nil

	updated, err := ts.UpdateFields(context.Background(), principalFor(adminU), task.ID, TaskUpdate{
		Maker: &newMaker.Name,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, newMaker.Name, updated.Maker)

	var note models.Note
	require.NoError(t, gdb.Where("task_id = ? AND text LIKE ?", task.ID, "Reassigned to%").First(&note).Error)
	assert.Contains(t, note.Text, "Reassigned to "+newMaker.Name)

	assigns := fn.singlesOf("assignment")
	require.Len(t, assigns, 1)
	assert.Equal(t, newMaker.Email, assigns[0].To)
}

func TestEditDiffNoteUsesFixedFieldOrder(t *testing.T) {
	gdb := newTestDB(t)
	adminU, makerU, checkerU := seedPeople(t, gdb)
	ts := newTaskService(t, gdb, &fakeNotifier{})
	task := createTask(t, gdb, ts, principalFor(adminU), makerU.Name, checkerU.Name)

	title := "GST monthly filing (amended)"
	due := "2026-10-15"
	_, err := ts.UpdateFields(context.Background(), principalFor(adminU), task.ID, TaskUpdate{
		Title:   &title,
		DueDate: &due,
	}, nil)
	require.NoError(t, err)

	var note models.Note
	require.NoError(t, gdb.Where("task_id = ? AND text LIKE ?", task.ID, "Edited by%").First(&note).Error)
	assert.Contains(t, note.Text, "Edited by "+adminU.Name+" (admin). Changes:")
	titleIdx := strings.Index(note.Text, "Title:")
	dueIdx := strings.Index(note.Text, "Due Date:")
	require.Greater(t, titleIdx, -1)
	require.Greater(t, dueIdx, -1)
	assert.Less(t, titleIdx, dueIdx)
	assert.Contains(t, note.Text, "'GST monthly filing' -> 'GST monthly filing (amended)'")
}

func TestDiffValuesAreTruncated(t *testing.T) {
	long := strings.Repeat("x", 300)
	got := truncateDiff(long)
	assert.Len(t, got, diffValueLimit)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "short", truncateDiff("short"))
}

func TestDisplayedFCNeedsImageEvidence(t *testing.T) {
	gdb := newTestDB(t)
	adminU, makerU, checkerU := seedPeople(t, gdb)
	ts := newTaskService(t, gdb, &fakeNotifier{})
	task := createTask(t, gdb, ts, principalFor(adminU), makerU.Name, checkerU.Name)

	yes := "Yes"
	vf := "2026-08-01"
	_, err := ts.UpdateFields(context.Background(), principalFor(makerU), task.ID, TaskUpdate{
		DisplayedFC: &yes,
		ValidFrom:   &vf,
	}, nil)
	assert.ErrorIs(t, err, ErrAttachmentRequired)

	// With a photo attached in the same save it goes through.
	_, err = ts.UpdateFields(context.Background(), principalFor(makerU), task.ID, TaskUpdate{
		DisplayedFC: &yes,
		ValidFrom:   &vf,
	}, []models.Attachment{{FileName: "board.jpg", FileSize: 100, FileType: "image/jpeg", StoredName: "abc.jpg"}})
	assert.NoError(t, err)
}

func TestRequestEditNotifiesAdmins(t *testing.T) {
	gdb := newTestDB(t)
	adminU, makerU, checkerU := seedPeople(t, gdb)
	fn := &fakeNotifier{}
	ts := newTaskService(t, gdb, fn)
	task := createTask(t, gdb, ts, principalFor(adminU), makerU.Name, checkerU.Name)

	require.NoError(t, ts.RequestEdit(context.Background(), principalFor(makerU), task.ID))

	var note models.Note
	require.NoError(t, gdb.Where("task_id = ? AND text LIKE ?", task.ID, "Edit requested%").First(&note).Error)

	reqs := fn.singlesOf("edit_request")
	require.Len(t, reqs, 1)
	assert.Equal(t, adminU.Email, reqs[0].To)
}

func TestDeleteCascadesAndReturnsStoredNames(t *testing.T) {
	gdb := newTestDB(t)
	adminU, makerU, checkerU := seedPeople(t, gdb)
	ts := newTaskService(t, gdb, &fakeNotifier{})
	task := createTask(t, gdb, ts, principalFor(adminU), makerU.Name, checkerU.Name)

	att := models.Attachment{TaskID: task.ID, FileName: "proof.pdf", FileSize: 10, StoredName: "stored-1.pdf"}
	require.NoError(t, gdb.Create(&att).Error)

	_, err := ts.Delete(context.Background(), principalFor(makerU), task.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	stored, err := ts.Delete(context.Background(), principalFor(adminU), task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"stored-1.pdf"}, stored)

	var remaining int64
	gdb.Model(&models.Note{}).Where("task_id = ?", task.ID).Count(&remaining)
	assert.Zero(t, remaining)
	_, err = ts.Get(context.Background(), task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListScopesViewerToOwnWork(t *testing.T) {
	gdb := newTestDB(t)
	adminU, makerU, checkerU := seedPeople(t, gdb)
	ts := newTaskService(t, gdb, &fakeNotifier{})
	admin := principalFor(adminU)

	mine := createTask(t, gdb, ts, admin, makerU.Name, checkerU.Name)
	createTask(t, gdb, ts, admin, adminU.Name, "")

	got, err := ts.List(context.Background(), principalFor(makerU), TaskFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)

	// Checker visibility starts at submission.
	got, err = ts.List(context.Background(), principalFor(checkerU), TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	vf := "2026-08-01"
	_, err = ts.UpdateFields(context.Background(), principalFor(makerU), mine.ID, TaskUpdate{ValidFrom: &vf}, nil)
	require.NoError(t, err)

	got, err = ts.List(context.Background(), principalFor(checkerU), TaskFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)

	all, err := ts.List(context.Background(), admin, TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAddNotePrefixesAuthor(t *testing.T) {
	gdb := newTestDB(t)
	adminU, makerU, checkerU := seedPeople(t, gdb)
	ts := newTaskService(t, gdb, &fakeNotifier{})
	task := createTask(t, gdb, ts, principalFor(adminU), makerU.Name, checkerU.Name)

	require.NoError(t, ts.AddNote(context.Background(), principalFor(makerU), task.ID, "uploaded the receipt", nil))

	notes, err := ts.Notes(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotEmpty(t, notes)
	assert.Equal(t, makerU.Name+": uploaded the receipt", notes[0].Text)

	err = ts.AddNote(context.Background(), principalFor(makerU), task.ID, "   ", nil)
	var fieldErr *FieldValidationError
	assert.ErrorAs(t, err, &fieldErr)
}
