package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KuldeepProzo/ProCompliance/internal/config"
	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"github.com/KuldeepProzo/ProCompliance/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrRunInProgress is returned when a reminder pass is requested while
// another pass is still dispatching.
var ErrRunInProgress = errors.New("reminder run already in progress")

// reminderNoteText is the audit marker appended once per calendar day to
// every obligation covered by a delivered digest run.
const reminderNoteText = "Reminder sent (grouped)"

// CadenceWindow is one [minDays, maxDays, cadenceDays] band of a policy.
// A reminder fires inside the band when daysUntil is a multiple of the
// cadence. Bounds may be stored in either order; contains normalizes them.
type CadenceWindow struct {
	MinDays     int
	MaxDays     int
	CadenceDays int
}

func (w CadenceWindow) contains(days int) bool {
	lo, hi := w.MinDays, w.MaxDays
	if lo > hi {
		lo, hi = hi, lo
	}
	return days >= lo && days <= hi
}

// defaultPolicyWindows are the built-in cadence bands per criticality tier.
// They apply whenever no stored policy overrides the tier.
var defaultPolicyWindows = map[string][]CadenceWindow{
	string(models.CriticalityHigh): {
		{MinDays: 31, MaxDays: 999, CadenceDays: 3},
		{MinDays: 16, MaxDays: 30, CadenceDays: 2},
		{MinDays: 1, MaxDays: 15, CadenceDays: 1},
	},
	string(models.CriticalityMedium): {
		{MinDays: 16, MaxDays: 999, CadenceDays: 3},
		{MinDays: 1, MaxDays: 15, CadenceDays: 2},
	},
	string(models.CriticalityLow): {
		{MinDays: 8, MaxDays: 999, CadenceDays: 7},
		{MinDays: 1, MaxDays: 7, CadenceDays: 2},
	},
}

// Policy is a resolved reminder policy with parsed windows. StartBefore,
// OnDueDays and OverdueDays are stored for the policy admin surface only;
// on-due and overdue reminders always fire daily.
type Policy struct {
	Criticality string
	StartBefore int
	Windows     []CadenceWindow
	OnDueDays   int
	OverdueDays int
}

// RunResult summarizes one reminder pass.
type RunResult struct {
	EmailsSent int `json:"emails_sent"`
	TasksNoted int `json:"tasks_noted"`
}

// ReminderService evaluates due-date cadence, groups eligible obligations
// into per-recipient digests and dispatches them, marking covered
// obligations so a calendar day never produces a second automatic run.
type ReminderService struct {
	db       *gorm.DB
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector
	cfg      config.ReminderConfig
	mu       sync.Mutex
	now      func() time.Time
}

func NewReminderService(db *gorm.DB, notifier Notifier, cfg config.ReminderConfig, logger *zap.Logger, mc *metrics.MetricsCollector) *ReminderService {
	return &ReminderService{
		db:       db,
		notifier: notifier,
		logger:   logger.With(zap.String("service", "reminder_service")),
		metrics:  mc,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the service clock, for deterministic tests.
func (rs *ReminderService) SetClock(now func() time.Time) { rs.now = now }

// GetPolicy resolves the policy for a criticality tier, falling back to
// the built-in defaults. Tiers outside high, medium and low have no policy.
func (rs *ReminderService) GetPolicy(criticality string) (Policy, bool) {
	tier := models.NormalizeCriticality(criticality)
	if tier == models.CriticalityUnknown {
		return Policy{}, false
	}

	p := Policy{Criticality: string(tier), OnDueDays: 1, OverdueDays: 1}

	var stored models.ReminderPolicy
	err := rs.db.Where("criticality = ?", string(tier)).First(&stored).Error
	if err == nil {
		p.StartBefore = stored.StartBefore
		if stored.OnDueDays > 0 {
			p.OnDueDays = stored.OnDueDays
		}
		if stored.OverdueDays > 0 {
			p.OverdueDays = stored.OverdueDays
		}
		if ws, perr := parseWindows(stored.WindowsJSON); perr == nil && len(ws) > 0 {
			p.Windows = ws
			return p, true
		}
	}

	p.Windows = defaultPolicyWindows[string(tier)]
	return p, true
}

// SetPolicy validates and stores a policy override for one tier.
func (rs *ReminderService) SetPolicy(criticality string, windowsJSON string, onDueDays, overdueDays, startBefore int) error {
	tier := models.NormalizeCriticality(criticality)
	if tier == models.CriticalityUnknown {
		return fieldRequired("criticality")
	}
	ws, err := parseWindows(windowsJSON)
	if err != nil || len(ws) == 0 {
		return fieldRequired("windows")
	}
	for _, w := range ws {
		lo := w.MinDays
		if w.MaxDays < lo {
			lo = w.MaxDays
		}
		if lo < 1 || w.CadenceDays < 1 {
			return fieldRequired("windows")
		}
	}
	if onDueDays < 1 {
		onDueDays = 1
	}
	if overdueDays < 1 {
		overdueDays = 1
	}
	stored := models.ReminderPolicy{
		Criticality: string(tier),
		StartBefore: startBefore,
		WindowsJSON: windowsJSON,
		OnDueDays:   onDueDays,
		OverdueDays: overdueDays,
	}
	return rs.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "criticality"}},
		UpdateAll: true,
	}).Create(&stored).Error
}

// Policies returns the effective policy for every tier, merged over defaults.
func (rs *ReminderService) Policies() []Policy {
	tiers := []string{
		string(models.CriticalityHigh),
		string(models.CriticalityMedium),
		string(models.CriticalityLow),
	}
	out := make([]Policy, 0, len(tiers))
	for _, t := range tiers {
		if p, ok := rs.GetPolicy(t); ok {
			out = append(out, p)
		}
	}
	return out
}

func parseWindows(raw string) ([]CadenceWindow, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var triples [][]int
	if err := json.Unmarshal([]byte(raw), &triples); err != nil {
		return nil, err
	}
	out := make([]CadenceWindow, 0, len(triples))
	for _, t := range triples {
		if len(t) != 3 {
			return nil, fmt.Errorf("window needs 3 elements, got %d", len(t))
		}
		out = append(out, CadenceWindow{MinDays: t[0], MaxDays: t[1], CadenceDays: t[2]})
	}
	return out, nil
}

// DaysUntil returns the whole-day distance from asOf to a yyyy-mm-dd due
// date, comparing UTC midnights so the hour of the run never shifts the
// bucket. The second return is false for NA or unparseable dates.
func DaysUntil(asOf time.Time, dueDate string) (int, bool) {
	d := strings.TrimSpace(dueDate)
	if d == "" || strings.EqualFold(d, models.DueNA) {
		return 0, false
	}
	due, err := time.ParseInLocation("2006-01-02", d, time.UTC)
	if err != nil {
		return 0, false
	}
	today := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	return int(due.Sub(today).Hours() / 24), true
}

// ShouldNotifyToday decides whether a reminder fires at daysUntil under a
// policy. On-due and every overdue day fire unconditionally; pre-due days
// fire when a window covers daysUntil and the cadence divides it. The
// stored start_before and on-due/overdue day counts are informational and
// never gate the decision.
func ShouldNotifyToday(p Policy, daysUntil int) bool {
	if daysUntil <= 0 {
		return true
	}
	for _, w := range p.Windows {
		if w.contains(daysUntil) {
			cad := w.CadenceDays
			if cad < 1 {
				cad = 1
			}
			return daysUntil%cad == 0
		}
	}
	return false
}

// eligible reports whether an obligation belongs in today's digests.
// Pending work is raised every day regardless of due date. Completed
// obligations with a real due date re-enter the digests as renewals on the
// tier cadence; rejected and dateless-completed work never does.
func (rs *ReminderService) eligible(t *models.Task, asOf time.Time) bool {
	if t.Status == models.StatusPending {
		return true
	}
	if t.Status != models.StatusCompleted {
		return false
	}
	days, hasDue := DaysUntil(asOf, t.DueDate)
	if !hasDue {
		return false
	}
	policy, ok := rs.GetPolicy(t.Criticality)
	if !ok {
		// No cadence basis for unknown tiers before the due date.
		return days <= 0
	}
	return ShouldNotifyToday(policy, days)
}

func dayBounds(asOf time.Time) (time.Time, time.Time) {
	start := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	return start, start.Add(24 * time.Hour)
}

// remindedTaskIDs returns the obligations already marked today.
func (rs *ReminderService) remindedTaskIDs(asOf time.Time) map[uint]bool {
	start, end := dayBounds(asOf)
	var notes []models.Note
	rs.db.Select("task_id").
		Where("text LIKE ? AND created_at >= ? AND created_at < ?", "%Reminder sent%", start, end).
		Find(&notes)
	out := make(map[uint]bool, len(notes))
	for _, n := range notes {
		out[n.TaskID] = true
	}
	return out
}

// RunReminderPass executes one full evaluate-group-dispatch-mark cycle.
// ignoreDailyLimit skips the per-day dedup filter, for manual runs. Only
// one pass runs at a time.
func (rs *ReminderService) RunReminderPass(ctx context.Context, asOf time.Time, ignoreDailyLimit bool) (RunResult, error) {
	if !rs.mu.TryLock() {
		return RunResult{}, ErrRunInProgress
	}
	defer rs.mu.Unlock()

	start := rs.now()
	var res RunResult

	var tasks []models.Task
	if err := rs.db.WithContext(ctx).
		Preload("Category").Preload("Company").
		Where("status IN ?", []models.TaskStatus{models.StatusPending, models.StatusCompleted}).
		Find(&tasks).Error; err != nil {
		return res, err
	}

	already := map[uint]bool{}
	if !ignoreDailyLimit {
		already = rs.remindedTaskIDs(asOf)
	}

	var eligible []*models.Task
	for i := range tasks {
		t := &tasks[i]
		if already[t.ID] {
			continue
		}
		if rs.eligible(t, asOf) {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		rs.logger.Info("Reminder pass found no eligible compliances",
			zap.Time("as_of", asOf),
			zap.Bool("ignore_daily_limit", ignoreDailyLimit))
		return res, nil
	}

	digests := rs.buildDigests(eligible)

	sentTaskIDs := map[uint]bool{}
	anySent := false
	for _, d := range digests {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := rs.notifier.SendDigest(ctx, d.to, d.tasks, d.audience); err != nil {
			rs.logger.Warn("Digest delivery failed",
				zap.String("recipient", d.to.Email),
				zap.String("audience", string(d.audience)),
				zap.Int("tasks", len(d.tasks)),
				zap.Error(err))
			continue
		}
		anySent = true
		res.EmailsSent++
		for _, t := range d.tasks {
			sentTaskIDs[t.ID] = true
		}
	}

	// Mark covered obligations so the next automatic pass today is a no-op.
	var toMark []*models.Task
	if anySent {
		if rs.cfg.MarkingGranularity == "recipient" {
			for _, t := range eligible {
				if sentTaskIDs[t.ID] {
					toMark = append(toMark, t)
				}
			}
		} else {
			toMark = eligible
		}
	}
	for _, t := range toMark {
		n := models.Note{TaskID: t.ID, Text: reminderNoteText}
		n.CreatedAt = rs.now()
		if err := rs.db.Create(&n).Error; err != nil {
			rs.logger.Warn("Reminder marker note failed", zap.Uint("task_id", t.ID), zap.Error(err))
			continue
		}
		res.TasksNoted++
	}

	rs.metrics.AddCounter("reminder_emails_sent", nil, int64(res.EmailsSent))
	rs.metrics.ObserveLatency("reminder_pass", rs.now().Sub(start))
	rs.logger.Info("Reminder pass complete",
		zap.Time("as_of", asOf),
		zap.Int("eligible", len(eligible)),
		zap.Int("emails_sent", res.EmailsSent),
		zap.Int("tasks_noted", res.TasksNoted))
	return res, nil
}

type digest struct {
	to       Recipient
	tasks    []*models.Task
	audience Audience
}

// buildDigests groups eligible obligations into at most one digest per
// recipient role: makers get everything assigned to them, checkers only
// submitted work, all superadmins share one combined dispatch, and
// category admins get the slice inside their allow-set. Order within a
// digest follows due date.
func (rs *ReminderService) buildDigests(eligible []*models.Task) []digest {
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].DueDate < eligible[j].DueDate
	})

	makerGroups := map[string][]*models.Task{}
	checkerGroups := map[string][]*models.Task{}
	for _, t := range eligible {
		if t.Maker != "" {
			makerGroups[t.Maker] = append(makerGroups[t.Maker], t)
		}
		if t.Checker != "" && t.SubmittedAt != nil {
			checkerGroups[t.Checker] = append(checkerGroups[t.Checker], t)
		}
	}

	var out []digest
	for _, name := range sortedKeys(makerGroups) {
		if to, ok := recipientByName(rs.db, name); ok {
			out = append(out, digest{to: to, tasks: makerGroups[name], audience: AudienceMaker})
		}
	}
	for _, name := range sortedKeys(checkerGroups) {
		if to, ok := recipientByName(rs.db, name); ok {
			out = append(out, digest{to: to, tasks: checkerGroups[name], audience: AudienceChecker})
		}
	}
	if supers := superAdminRecipients(rs.db); len(supers) > 0 {
		emails := make([]string, 0, len(supers))
		for _, r := range supers {
			emails = append(emails, r.Email)
		}
		out = append(out, digest{
			to:       Recipient{Email: strings.Join(emails, ","), Name: "Admin"},
			tasks:    eligible,
			audience: AudienceAdmin,
		})
	}
	for _, a := range adminsWithCategories(rs.db) {
		allowed := map[uint]bool{}
		for _, id := range a.CategoryIDs {
			allowed[id] = true
		}
		var scoped []*models.Task
		for _, t := range eligible {
			if t.CategoryID != nil && allowed[*t.CategoryID] {
				scoped = append(scoped, t)
			}
		}
		if len(scoped) > 0 {
			out = append(out, digest{to: a.Recipient, tasks: scoped, audience: AudienceAdmin})
		}
	}
	return out
}

func sortedKeys(m map[string][]*models.Task) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StartDailyScheduler fires one automatic pass per day at the configured
// wall-clock time in the configured zone. It returns after launching the
// loop; cancel the context to stop it.
func (rs *ReminderService) StartDailyScheduler(ctx context.Context) {
	loc, err := time.LoadLocation(rs.cfg.Timezone)
	if err != nil {
		rs.logger.Warn("Unknown reminder timezone, using UTC",
			zap.String("timezone", rs.cfg.Timezone), zap.Error(err))
		loc = time.UTC
	}
	var hh, mm int
	if _, err := fmt.Sscanf(rs.cfg.DailyAt, "%d:%d", &hh, &mm); err != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		hh, mm = 9, 0
	}

	go func() {
		for {
			now := rs.now().In(loc)
			next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, loc)
			if !next.After(now) {
				next = next.Add(24 * time.Hour)
			}
			timer := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			runCtx, cancel := context.WithTimeout(ctx, rs.cfg.DispatchTimeout)
			res, err := rs.RunReminderPass(runCtx, rs.now().In(loc), false)
			cancel()
			if err != nil && !errors.Is(err, ErrRunInProgress) {
				rs.logger.Error("Scheduled reminder pass failed", zap.Error(err))
			} else {
				rs.logger.Info("Scheduled reminder pass done",
					zap.Int("emails_sent", res.EmailsSent),
					zap.Int("tasks_noted", res.TasksNoted))
			}
		}
	}()
}
