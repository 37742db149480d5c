package models

import "gorm.io/gorm"

// StandardObligation is a reusable template applied in batch to a company
// with a chosen maker and checker.
type StandardObligation struct {
	gorm.Model
	Title       string `gorm:"not null"`
	CategoryID  *uint  `gorm:"index"`
	Category    *Category
	RepeatJSON  string `gorm:"default:'{\"frequency\":null}'"`
	Criticality string
	RelevantFC  bool
	DisplayedFC string
}
