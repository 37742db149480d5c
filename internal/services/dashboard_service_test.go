package services

import (
	"context"
	"testing"
	"time"

	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardSummaryCountsAndBuckets(t *testing.T) {
	gdb := newTestDB(t)
	superU := newTestUser(t, gdb, "Asha Rao", "asha@example.com", models.RoleSuperAdmin)
	asOf := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	seedReminderTask(t, gdb, "Manu Iyer", "", "2026-08-19", "high", models.StatusPending, false)  // overdue
	seedReminderTask(t, gdb, "Manu Iyer", "", "2026-08-20", "high", models.StatusPending, false)  // today
	seedReminderTask(t, gdb, "Manu Iyer", "", "2026-08-25", "medium", models.StatusRejected, false)
	seedReminderTask(t, gdb, "Manu Iyer", "", "2026-09-10", "low", models.StatusCompleted, true)

	ds := NewDashboardService(gdb)
	ds.SetClock(fixedClock(asOf))

	sum, err := ds.Summary(context.Background(), principalFor(superU))
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Total)
	// Rejected still needs the maker's attention, so it counts as pending.
	assert.Equal(t, 3, sum.StatusCounts.Pending)
	assert.Equal(t, 1, sum.StatusCounts.Completed)

	assert.Equal(t, 2, sum.CriticalityCounts["high"])
	assert.Equal(t, 1, sum.CriticalityCounts["medium"])
	assert.Equal(t, 1, sum.CriticalityCounts["low"])

	assert.Equal(t, 1, sum.DueBuckets["Overdue"])
	assert.Equal(t, 1, sum.DueBuckets["Today"])
	assert.Equal(t, 1, sum.DueBuckets["7 Days"])
}

func TestDashboardScopedToViewer(t *testing.T) {
	gdb := newTestDB(t)
	newTestUser(t, gdb, "Asha Rao", "asha@example.com", models.RoleSuperAdmin)
	makerU := newTestUser(t, gdb, "Manu Iyer", "manu@example.com", models.RoleViewer)

	seedReminderTask(t, gdb, makerU.Name, "", "2026-08-20", "high", models.StatusPending, false)
	seedReminderTask(t, gdb, "Asha Rao", "", "2026-08-20", "high", models.StatusPending, false)

	ds := NewDashboardService(gdb)
	sum, err := ds.Summary(context.Background(), principalFor(makerU))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)
}
