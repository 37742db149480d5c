package models

// ReminderPolicy configures pre-due reminder cadence per criticality tier.
// WindowsJSON holds an ordered list of [minDays, maxDays, cadenceDays]
// triples; on-due and overdue reminders are daily.
type ReminderPolicy struct {
	Criticality string `gorm:"primaryKey"`
	StartBefore int    `gorm:"default:0"`
	WindowsJSON string `gorm:"default:'[]'"`
	OnDueDays   int    `gorm:"default:1"`
	OverdueDays int    `gorm:"default:1"`
}
