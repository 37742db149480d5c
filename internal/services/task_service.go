package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"github.com/KuldeepProzo/ProCompliance/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TaskService owns the obligation lifecycle: creation, field edits with
// submission locking, status transitions, reopening, deletion and the
// append-only note trail. Every mutation is applied in one transaction so
// fields and audit notes land together or not at all.
type TaskService struct {
	db       *gorm.DB
	perms    *PermissionResolver
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector
	now      func() time.Time
}

func NewTaskService(db *gorm.DB, perms *PermissionResolver, notifier Notifier, logger *zap.Logger, mc *metrics.MetricsCollector) *TaskService {
	return &TaskService{
		db:       db,
		perms:    perms,
		notifier: notifier,
		logger:   logger.With(zap.String("service", "task_service")),
		metrics:  mc,
		now:      time.Now,
	}
}

// SetClock overrides the service clock, for deterministic tests.
func (ts *TaskService) SetClock(now func() time.Time) { ts.now = now }

type TaskInput struct {
	Title        string
	Description  string
	CategoryID   *uint
	CompanyID    *uint
	Maker        string
	Checker      string
	AssignedBy   string
	DueDate      string
	ValidFrom    string
	Criticality  string
	LicenseOwner string
	RelevantFC   bool
	DisplayedFC  string
	RepeatJSON   string
}

// TaskUpdate carries field edits; nil pointers mean "leave unchanged".
type TaskUpdate struct {
	Title        *string
	Description  *string
	CategoryID   *uint
	CompanyID    *uint
	Maker        *string
	Checker      *string
	DueDate      *string
	ValidFrom    *string
	Criticality  *string
	LicenseOwner *string
	RelevantFC   *bool
	DisplayedFC  *string
	RepeatJSON   *string
}

// ResolvePerson maps the "Me" alias or an unknown display name to the
// acting principal's name at write time; the alias is never stored. An
// empty value stays empty, it means nobody is assigned.
func (ts *TaskService) ResolvePerson(raw string, p Principal) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return ""
	}
	if strings.EqualFold(name, "me") {
		return p.Name
	}
	var count int64
	ts.db.Model(&models.User{}).Where("name = ?", name).Count(&count)
	if count == 0 {
		return p.Name
	}
	return name
}

func (ts *TaskService) Get(ctx context.Context, id uint) (*models.Task, error) {
	var t models.Task
	err := ts.db.WithContext(ctx).
		Preload("Category").Preload("Company").Preload("Attachments").
		First(&t, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (ts *TaskService) Create(ctx context.Context, p Principal, in TaskInput, atts []models.Attachment) (*models.Task, error) {
	if !ts.perms.CanCreate(p, in.CategoryID) {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fieldRequired("title")
	}
	if strings.TrimSpace(in.Maker) == "" {
		return nil, fieldRequired("maker")
	}

	now := ts.now()
	assignedBy := ts.ResolvePerson(in.AssignedBy, p)
	if assignedBy == "" {
		assignedBy = p.Name
	}
	task := &models.Task{
		Title:        in.Title,
		Description:  in.Description,
		CategoryID:   in.CategoryID,
		CompanyID:    in.CompanyID,
		Maker:        ts.ResolvePerson(in.Maker, p),
		Checker:      ts.ResolvePerson(in.Checker, p),
		AssignedBy:   assignedBy,
		DueDate:      normalizeDue(in.DueDate),
		ValidFrom:    in.ValidFrom,
		Criticality:  in.Criticality,
		LicenseOwner: in.LicenseOwner,
		RelevantFC:   in.RelevantFC,
		DisplayedFC:  in.DisplayedFC,
		RepeatJSON:   in.RepeatJSON,
		Status:       models.StatusPending,
	}
	if task.RepeatJSON == "" {
		task.RepeatJSON = `{"frequency":null}`
	}

	err := ts.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return err
		}
		note := models.Note{
			TaskID: task.ID,
			Text:   fmt.Sprintf("Assigned to %s by %s", task.Maker, task.AssignedBy),
		}
		note.CreatedAt = now
		if err := tx.Create(&note).Error; err != nil {
			return err
		}
		for i := range atts {
			atts[i].TaskID = task.ID
			if err := tx.Create(&atts[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ts.metrics.IncrementCounter("tasks_created", nil)
	ts.notifyAssignment(ctx, task)
	return ts.Get(ctx, task.ID)
}

func (ts *TaskService) UpdateFields(ctx context.Context, p Principal, id uint, upd TaskUpdate, newAtts []models.Attachment) (*models.Task, error) {
	start := ts.now()
	existing, err := ts.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	isMaker := p.Name == existing.Maker
	elevated := p.IsElevated()

	// Lock check comes before the forbidden check so the maker of a
	// submitted obligation learns it is locked rather than forbidden.
	if existing.Locked() && isMaker && !elevated {
		return nil, ErrLocked
	}
	if !ts.perms.CanEditFields(p, existing) {
		return nil, ErrForbidden
	}

	next := ts.applyUpdate(p, existing, upd)

	if strings.TrimSpace(next.Title) == "" {
		return nil, fieldRequired("title")
	}
	if next.CategoryID == nil {
		return nil, fieldRequired("category")
	}
	if next.CompanyID == nil {
		return nil, fieldRequired("location")
	}
	if !elevated && strings.TrimSpace(next.ValidFrom) == "" {
		return nil, fieldRequired("valid_from")
	}
	if !elevated && strings.EqualFold(next.DisplayedFC, "yes") {
		hasImage := false
		for _, a := range newAtts {
			if a.IsImage() {
				hasImage = true
			}
		}
		if !hasImage {
			var c int64
			ts.db.Model(&models.Attachment{}).
				Where("task_id = ? AND lower(file_type) LIKE 'image/%'", id).Count(&c)
			hasImage = c > 0
		}
		if !hasImage {
			return nil, ErrAttachmentRequired
		}
	}

	now := ts.now()
	makerChanged := next.Maker != existing.Maker
	checkerChanged := next.Checker != existing.Checker
	wasSubmitted := existing.SubmittedAt != nil

	// Implicit submission: first save that leaves a checker in place hands
	// the obligation to review. SubmittedAt is never cleared afterwards.
	submittedAt := existing.SubmittedAt
	if submittedAt == nil && next.Checker != "" {
		submittedAt = &now
	}

	diffNote := ts.buildDiffNote(p, existing, next, isMaker && !elevated)

	err = ts.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"title":         next.Title,
			"description":   next.Description,
			"category_id":   next.CategoryID,
			"company_id":    next.CompanyID,
			"maker":         next.Maker,
			"checker":       next.Checker,
			"due_date":      next.DueDate,
			"valid_from":    next.ValidFrom,
			"criticality":   next.Criticality,
			"license_owner": next.LicenseOwner,
			"relevant_fc":   next.RelevantFC,
			"displayed_fc":  next.DisplayedFC,
			"repeat_json":   next.RepeatJSON,
			"status":        models.StatusPending,
			"submitted_at":  submittedAt,
			"edit_unlocked": false, // every save re-locks until the next reopen
			"updated_at":    now,
		}
		if err := tx.Model(&models.Task{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if makerChanged {
			n := models.Note{TaskID: id, Text: fmt.Sprintf("Reassigned to %s by %s", next.Maker, existing.AssignedBy)}
			n.CreatedAt = now
			if err := tx.Create(&n).Error; err != nil {
				return err
			}
		}
		n := models.Note{TaskID: id, Text: diffNote}
		n.CreatedAt = now
		if err := tx.Create(&n).Error; err != nil {
			return err
		}
		for i := range newAtts {
			newAtts[i].TaskID = id
			if err := tx.Create(&newAtts[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := ts.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if makerChanged {
		ts.notifyAssignment(ctx, updated)
	}
	if (checkerChanged && wasSubmitted) || (!wasSubmitted && submittedAt != nil && next.Checker != "") {
		ts.notifySubmission(ctx, updated)
	}

	ts.metrics.IncrementCounter("tasks_updated", nil)
	ts.metrics.ObserveLatency("task_update", ts.now().Sub(start))
	return updated, nil
}

// applyUpdate folds the sparse update onto the existing record, enforcing
// that only elevated principals may reassign people.
func (ts *TaskService) applyUpdate(p Principal, existing *models.Task, upd TaskUpdate) *models.Task {
	next := *existing
	elevated := p.IsElevated()

	if upd.Title != nil {
		next.Title = *upd.Title
	}
	if upd.Description != nil {
		next.Description = *upd.Description
	}
	if upd.CategoryID != nil {
		next.CategoryID = upd.CategoryID
	}
	if upd.CompanyID != nil {
		next.CompanyID = upd.CompanyID
	}
	if elevated {
		if upd.Maker != nil {
			next.Maker = ts.ResolvePerson(*upd.Maker, p)
		}
		if upd.Checker != nil {
			next.Checker = ts.ResolvePerson(*upd.Checker, p)
		}
	}
	if upd.DueDate != nil {
		next.DueDate = normalizeDue(*upd.DueDate)
	}
	if upd.ValidFrom != nil {
		next.ValidFrom = *upd.ValidFrom
	}
	if upd.Criticality != nil {
		next.Criticality = *upd.Criticality
	}
	if upd.LicenseOwner != nil {
		next.LicenseOwner = *upd.LicenseOwner
	}
	if upd.RelevantFC != nil {
		next.RelevantFC = *upd.RelevantFC
	}
	if upd.DisplayedFC != nil {
		next.DisplayedFC = *upd.DisplayedFC
	}
	if upd.RepeatJSON != nil {
		next.RepeatJSON = *upd.RepeatJSON
	}
	return &next
}

const diffValueLimit = 120

func truncateDiff(s string) string {
	if len(s) <= diffValueLimit {
		return s
	}
	return s[:diffValueLimit-3] + "..."
}

// buildDiffNote renders the audit diff in a fixed field order so two
// identical edits always produce the same note text.
func (ts *TaskService) buildDiffNote(p Principal, old, next *models.Task, makerEdit bool) string {
	changes := []string{}
	add := func(label, oldV, newV string) {
		if oldV != newV {
			changes = append(changes, fmt.Sprintf("%s: '%s' -> '%s'", label, truncateDiff(oldV), truncateDiff(newV)))
		}
	}
	yesNo := func(b bool) string {
		if b {
			return "Yes"
		}
		return "No"
	}

	add("Title", old.Title, next.Title)
	add("Description", old.Description, next.Description)
	add("Category", ts.categoryName(old.CategoryID), ts.categoryName(next.CategoryID))
	add("Location / Site", ts.companyName(old.CompanyID), ts.companyName(next.CompanyID))
	add("Maker", old.Maker, next.Maker)
	add("Checker", old.Checker, next.Checker)
	add("Due Date", old.DueDate, next.DueDate)
	add("Valid From", old.ValidFrom, next.ValidFrom)
	add("Criticality", old.Criticality, next.Criticality)
	add("Licence Owner", old.LicenseOwner, next.LicenseOwner)
	add("Relevant FC", yesNo(old.RelevantFC), yesNo(next.RelevantFC))
	add("Displayed FC", old.DisplayedFC, next.DisplayedFC)
	add("Repeat", old.RepeatJSON, next.RepeatJSON)

	role := "admin"
	if makerEdit {
		role = "maker"
	}
	if len(changes) == 0 {
		if makerEdit {
			return fmt.Sprintf("Edited by %s (maker). No field changes detected.", p.Name)
		}
		return fmt.Sprintf("Updated by %s", p.Name)
	}
	return fmt.Sprintf("Edited by %s (%s). Changes:\n- %s", p.Name, role, strings.Join(changes, "\n- "))
}

func (ts *TaskService) categoryName(id *uint) string {
	if id == nil {
		return ""
	}
	var c models.Category
	if err := ts.db.First(&c, *id).Error; err != nil {
		return ""
	}
	return c.Name
}

func (ts *TaskService) companyName(id *uint) string {
	if id == nil {
		return ""
	}
	var c models.Company
	if err := ts.db.First(&c, *id).Error; err != nil {
		return ""
	}
	return c.Name
}

// SetStatus applies a status transition, including the reopen path that
// unlocks maker edits while preserving submission visibility.
func (ts *TaskService) SetStatus(ctx context.Context, p Principal, id uint, status string) (*models.Task, error) {
	if !models.ValidStatus(status) {
		return nil, fieldRequired("status")
	}
	target := models.TaskStatus(status)

	existing, err := ts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ts.perms.CanChangeStatus(p, existing, target) {
		return nil, ErrForbidden
	}

	isChecker := p.Name == existing.Checker
	isReopen := target == models.StatusPending &&
		(p.IsElevated() || isChecker) &&
		existing.SubmittedAt != nil

	if isReopen && !ts.perms.CanReopen(p, existing) {
		return nil, ErrInvalidTransition
	}

	now := ts.now()
	noteText := fmt.Sprintf("Status changed to %s by %s", status, p.Name)
	if isReopen {
		noteText = fmt.Sprintf("Reopened for edits by %s", p.Name)
	}

	err = ts.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n := models.Note{TaskID: id, Text: noteText}
		n.CreatedAt = now
		if err := tx.Create(&n).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{"status": target, "updated_at": now}
		if isReopen {
			updates["edit_unlocked"] = true
		} else if target != models.StatusPending {
			updates["edit_unlocked"] = false
		}
		return tx.Model(&models.Task{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	updated, err := ts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if isReopen {
		// Maker is notified on every reopen, not only the first.
		if to, ok := recipientByName(ts.db, updated.Maker); ok {
			if err := ts.notifier.SendReopened(ctx, to, updated, p.Name); err != nil {
				ts.logger.Warn("Reopen notification failed", zap.Uint("task_id", id), zap.Error(err))
			}
		}
	}
	ts.metrics.IncrementCounter("task_status_changes", map[string]string{"status": status})
	return updated, nil
}

// RequestEdit records a maker's request to unlock a submitted obligation
// and alerts the admins (and checker) who can reopen it.
func (ts *TaskService) RequestEdit(ctx context.Context, p Principal, id uint) error {
	existing, err := ts.Get(ctx, id)
	if err != nil {
		return err
	}
	if !(p.Name == existing.Maker || p.IsElevated()) {
		return ErrForbidden
	}

	now := ts.now()
	n := models.Note{TaskID: id, Text: fmt.Sprintf("Edit requested by %s", p.Name)}
	n.CreatedAt = now
	if err := ts.db.WithContext(ctx).Create(&n).Error; err != nil {
		return err
	}

	to := []string{}
	for _, r := range superAdminRecipients(ts.db) {
		to = append(to, r.Email)
	}
	if existing.CategoryID != nil {
		for _, r := range categoryAdminRecipients(ts.db, *existing.CategoryID) {
			to = append(to, r.Email)
		}
	}
	if len(to) == 0 {
		if c, ok := recipientByName(ts.db, existing.Checker); ok {
			to = append(to, c.Email)
		}
	}
	if len(to) > 0 {
		if err := ts.notifier.SendEditRequest(ctx, to, existing, p.Name); err != nil {
			ts.logger.Warn("Edit request notification failed", zap.Uint("task_id", id), zap.Error(err))
		}
	}
	return nil
}

// Delete removes the obligation with its notes and attachments and returns
// the stored attachment names so the caller can unlink the files.
func (ts *TaskService) Delete(ctx context.Context, p Principal, id uint) ([]string, error) {
	if !ts.perms.CanDelete(p) {
		return nil, ErrForbidden
	}
	var atts []models.Attachment
	ts.db.Where("task_id = ?", id).Find(&atts)

	err := ts.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("task_id = ?", id).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("task_id = ?", id).Delete(&models.Note{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.Task{}, id).Error
	})
	if err != nil {
		return nil, err
	}

	stored := make([]string, 0, len(atts))
	for _, a := range atts {
		if a.StoredName != "" {
			stored = append(stored, a.StoredName)
		}
	}
	ts.metrics.IncrementCounter("tasks_deleted", nil)
	return stored, nil
}

// DeleteAttachment enforces the same lock as field edits: a maker may not
// strip evidence from a submitted obligation until it is reopened.
func (ts *TaskService) DeleteAttachment(ctx context.Context, p Principal, attID uint) (string, error) {
	var a models.Attachment
	if err := ts.db.WithContext(ctx).First(&a, attID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	task, err := ts.Get(ctx, a.TaskID)
	if err != nil {
		return "", err
	}
	isMaker := p.Name == task.Maker
	if !(p.IsElevated() || isMaker) {
		return "", ErrForbidden
	}
	if !p.IsElevated() && task.Locked() {
		return "", ErrLocked
	}

	now := ts.now()
	err = ts.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Delete(&models.Attachment{}, attID).Error; err != nil {
			return err
		}
		n := models.Note{TaskID: task.ID, Text: fmt.Sprintf("Attachment deleted: %s by %s", a.FileName, p.Name)}
		n.CreatedAt = now
		return tx.Create(&n).Error
	})
	if err != nil {
		return "", err
	}
	return a.StoredName, nil
}

// AddNote appends a user note, prefixed with the author's display name.
func (ts *TaskService) AddNote(ctx context.Context, p Principal, taskID uint, text string, file *models.Note) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fieldRequired("note")
	}
	if _, err := ts.Get(ctx, taskID); err != nil {
		return err
	}
	n := models.Note{TaskID: taskID, Text: fmt.Sprintf("%s: %s", p.Name, text)}
	if file != nil {
		n.FileName = file.FileName
		n.FileSize = file.FileSize
		n.FileType = file.FileType
		n.StoredName = file.StoredName
	}
	n.CreatedAt = ts.now()
	return ts.db.WithContext(ctx).Create(&n).Error
}

func (ts *TaskService) Notes(ctx context.Context, taskID uint) ([]models.Note, error) {
	var notes []models.Note
	err := ts.db.WithContext(ctx).Where("task_id = ?", taskID).Order("id DESC").Find(&notes).Error
	return notes, err
}

type TaskFilter struct {
	Title      string
	Maker      string
	AssignedBy string
	CategoryID *uint
	CompanyID  *uint
	Status     string
	From       string
	To         string
	Tab        string // "to-me" or "by-me"
	Sort       string
	Dir        string
}

var sortColumns = map[string]string{
	"title":       "title",
	"due_date":    "due_date",
	"assigned_by": "assigned_by",
	"maker":       "maker",
	"status":      "status",
	"created_at":  "created_at",
}

// List returns tasks visible to the principal, with filters and sorting.
// Viewers only see obligations where they are maker, or checker of a
// submitted obligation; admins are category-scoped on the "by-me" tab.
func (ts *TaskService) List(ctx context.Context, p Principal, f TaskFilter) ([]models.Task, error) {
	q := ts.db.WithContext(ctx).Model(&models.Task{}).
		Preload("Category").Preload("Company")

	if f.Title != "" {
		q = q.Where("lower(title) LIKE ?", "%"+strings.ToLower(f.Title)+"%")
	}
	if f.Maker != "" {
		q = q.Where("maker = ?", f.Maker)
	}
	if f.AssignedBy != "" {
		q = q.Where("assigned_by = ?", f.AssignedBy)
	}
	if f.CategoryID != nil {
		q = q.Where("category_id = ?", *f.CategoryID)
	}
	if f.CompanyID != nil {
		q = q.Where("company_id = ?", *f.CompanyID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.From != "" {
		q = q.Where("due_date >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("due_date <= ?", f.To)
	}

	mine := "maker = ? OR (checker = ? AND submitted_at IS NOT NULL)"
	scoped := false
	switch f.Tab {
	case "to-me":
		q = q.Where(mine, p.Name, p.Name)
		scoped = true
	case "by-me":
		scoped = true
		if !p.IsElevated() {
			return []models.Task{}, nil
		}
		q = q.Where("NOT ("+mine+")", p.Name, p.Name)
		if p.Role == models.RoleAdmin {
			if len(p.AllowedCategoryIDs) == 0 {
				return []models.Task{}, nil
			}
			q = q.Where("category_id IN ?", p.AllowedCategoryIDs)
		}
	}
	if !p.IsElevated() && !scoped {
		q = q.Where(mine, p.Name, p.Name)
	}

	col, ok := sortColumns[f.Sort]
	if !ok {
		col = "due_date"
	}
	dir := "ASC"
	if strings.EqualFold(f.Dir, "desc") {
		dir = "DESC"
	}
	q = q.Order(col + " " + dir)

	var tasks []models.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func normalizeDue(s string) string {
	d := strings.TrimSpace(s)
	if d == "" {
		return models.DueNA
	}
	return d
}

func (ts *TaskService) notifyAssignment(ctx context.Context, task *models.Task) {
	to, ok := recipientByName(ts.db, task.Maker)
	if !ok {
		// Fall back to the assigner so someone is notified.
		to, ok = recipientByName(ts.db, task.AssignedBy)
	}
	if !ok {
		return
	}
	if err := ts.notifier.SendAssignment(ctx, to, task); err != nil {
		ts.logger.Warn("Assignment notification failed", zap.Uint("task_id", task.ID), zap.Error(err))
	}
}

func (ts *TaskService) notifySubmission(ctx context.Context, task *models.Task) {
	to, ok := recipientByName(ts.db, task.Checker)
	if !ok {
		return
	}
	if err := ts.notifier.SendSubmission(ctx, to, task); err != nil {
		ts.logger.Warn("Submission notification failed", zap.Uint("task_id", task.ID), zap.Error(err))
	}
}
