package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
	StatusRejected  TaskStatus = "rejected"
)

func ValidStatus(s string) bool {
	switch TaskStatus(s) {
	case StatusPending, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

type Criticality string

const (
	CriticalityHigh    Criticality = "high"
	CriticalityMedium  Criticality = "medium"
	CriticalityLow     Criticality = "low"
	CriticalityUnknown Criticality = "unknown"
)

// NormalizeCriticality maps anything outside the three ranked tiers to unknown.
func NormalizeCriticality(s string) Criticality {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return CriticalityHigh
	case "medium":
		return CriticalityMedium
	case "low":
		return CriticalityLow
	default:
		return CriticalityUnknown
	}
}

// DueNA is the sentinel due date for obligations that never renew.
const DueNA = "NA"

// Task is a recurring compliance obligation prepared by a maker and
// reviewed by a checker. Maker, Checker and AssignedBy hold user display
// names; see people resolution in the user service.
type Task struct {
	gorm.Model
	Title        string `gorm:"not null"`
	Description  string
	CategoryID   *uint `gorm:"index"`
	Category     *Category
	CompanyID    *uint `gorm:"index"`
	Company      *Company
	Maker        string `gorm:"not null;index"`
	Checker      string `gorm:"index"`
	AssignedBy   string `gorm:"not null"`
	DueDate      string `gorm:"not null;default:'NA'"` // yyyy-mm-dd or NA
	ValidFrom    string
	Criticality  string
	LicenseOwner string
	RelevantFC   bool
	DisplayedFC  string
	RepeatJSON   string     `gorm:"default:'{\"frequency\":null}'"`
	Status       TaskStatus `gorm:"not null;default:'pending'"`
	SubmittedAt  *time.Time
	EditUnlocked bool `gorm:"not null;default:false"`
	Notes        []Note
	Attachments  []Attachment
}

// HasDueDate reports whether the obligation carries a real calendar due date.
func (t *Task) HasDueDate() bool {
	d := strings.TrimSpace(t.DueDate)
	return d != "" && !strings.EqualFold(d, DueNA)
}

// Locked reports whether maker edits are locked: a submission happened and no
// reopen is in effect. Elevated principals are never locked; that check
// belongs to the permission resolver.
func (t *Task) Locked() bool {
	return t.SubmittedAt != nil && !t.EditUnlocked
}
