package models

import (
	"strings"

	"gorm.io/gorm"
)

type Attachment struct {
	gorm.Model
	TaskID     uint   `gorm:"not null;index"`
	FileName   string `gorm:"not null"`
	FileSize   int64  `gorm:"not null"`
	FileType   string
	StoredName string `gorm:"not null"`
}

func (a *Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.FileType), "image/")
}
