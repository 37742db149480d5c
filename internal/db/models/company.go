package models

import "gorm.io/gorm"

// Company is a location / site an obligation belongs to.
type Company struct {
	gorm.Model
	Name string `gorm:"unique;not null"`
}
