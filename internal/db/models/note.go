package models

import "gorm.io/gorm"

// Note is one entry of a task's append-only audit trail. Lifecycle events,
// field-edit diffs and reminder dedup markers all land here.
type Note struct {
	gorm.Model
	TaskID     uint   `gorm:"not null;index"`
	Text       string `gorm:"not null"`
	FileName   string
	FileSize   int64
	FileType   string
	StoredName string
}
