package services

import (
	"context"
	"time"

	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"gorm.io/gorm"
)

// DashboardService aggregates obligation counts for the overview screens.
// Aggregation happens in memory over the principal's visible slice, which
// keeps the queries portable across database dialects.
type DashboardService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{db: db, now: time.Now}
}

func (ds *DashboardService) SetClock(now func() time.Time) { ds.now = now }

type StatusBreakdown struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
}

type DashboardSummary struct {
	Total             int                        `json:"total"`
	StatusCounts      StatusBreakdown            `json:"status_counts"`
	CriticalityCounts map[string]int             `json:"criticality_counts"`
	CriticalityStatus map[string]StatusBreakdown `json:"criticality_status"`
	DueBuckets        map[string]int             `json:"due_buckets"`
	ByCategory        map[string]StatusBreakdown `json:"by_category"`
	ByCompany         map[string]StatusBreakdown `json:"by_company"`
	Trend             []TrendPoint               `json:"trend"`
}

type TrendPoint struct {
	Month     string `json:"month"`
	Created   int    `json:"created"`
	Completed int    `json:"completed"`
}

// visible scopes the dashboard the same way listings are scoped: viewers
// see their own work, admins their categories plus their own work,
// superadmins everything.
func (ds *DashboardService) visible(ctx context.Context, p Principal) *gorm.DB {
	q := ds.db.WithContext(ctx).Model(&models.Task{}).
		Preload("Category").Preload("Company")
	mine := "maker = ? OR (checker = ? AND submitted_at IS NOT NULL)"
	switch {
	case p.IsSuperAdmin():
	case p.Role == models.RoleAdmin:
		if len(p.AllowedCategoryIDs) > 0 {
			q = q.Where("category_id IN ? OR "+mine, p.AllowedCategoryIDs, p.Name, p.Name)
		} else {
			q = q.Where(mine, p.Name, p.Name)
		}
	default:
		q = q.Where(mine, p.Name, p.Name)
	}
	return q
}

// Summary builds the full dashboard payload. Rejected counts as pending:
// rejected work still needs the maker's attention.
func (ds *DashboardService) Summary(ctx context.Context, p Principal) (*DashboardSummary, error) {
	var tasks []models.Task
	if err := ds.visible(ctx, p).Find(&tasks).Error; err != nil {
		return nil, err
	}

	now := ds.now()
	sum := &DashboardSummary{
		CriticalityCounts: map[string]int{},
		CriticalityStatus: map[string]StatusBreakdown{},
		DueBuckets:        map[string]int{},
		ByCategory:        map[string]StatusBreakdown{},
		ByCompany:         map[string]StatusBreakdown{},
	}

	monthKey := func(t time.Time) string { return t.Format("Jan 2006") }
	trendIdx := map[string]int{}
	for i := 5; i >= 0; i-- {
		m := now.AddDate(0, -i, 0)
		k := monthKey(m)
		trendIdx[k] = len(sum.Trend)
		sum.Trend = append(sum.Trend, TrendPoint{Month: k})
	}

	bump := func(m map[string]StatusBreakdown, key string, completed bool) {
		b := m[key]
		if completed {
			b.Completed++
		} else {
			b.Pending++
		}
		m[key] = b
	}

	for i := range tasks {
		t := &tasks[i]
		sum.Total++
		completed := t.Status == models.StatusCompleted
		if completed {
			sum.StatusCounts.Completed++
		} else {
			sum.StatusCounts.Pending++
		}

		tier := string(models.NormalizeCriticality(t.Criticality))
		sum.CriticalityCounts[tier]++
		bump(sum.CriticalityStatus, tier, completed)

		if t.Category != nil {
			bump(sum.ByCategory, t.Category.Name, completed)
		}
		if t.Company != nil {
			bump(sum.ByCompany, t.Company.Name, completed)
		}

		if !completed {
			sum.DueBuckets[ds.dueBucket(t, now)]++
		}

		if idx, ok := trendIdx[monthKey(t.CreatedAt)]; ok {
			sum.Trend[idx].Created++
		}
		if completed {
			if idx, ok := trendIdx[monthKey(t.UpdatedAt)]; ok {
				sum.Trend[idx].Completed++
			}
		}
	}
	return sum, nil
}

// dueBucket places open work on the timeline shown on the dashboard.
func (ds *DashboardService) dueBucket(t *models.Task, now time.Time) string {
	days, ok := DaysUntil(now, t.DueDate)
	if !ok {
		return "No Due Date"
	}
	switch {
	case days < 0:
		return "Overdue"
	case days == 0:
		return "Today"
	case days <= 7:
		return "7 Days"
	}
	due, _ := time.Parse("2006-01-02", t.DueDate)
	if due.Year() == now.Year() && due.Month() == now.Month() {
		return "This Month"
	}
	return due.Format("Jan 2006")
}
