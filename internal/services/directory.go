package services

import (
	"github.com/KuldeepProzo/ProCompliance/internal/db/models"
	"gorm.io/gorm"
)

// Recipient lookups shared by the lifecycle and reminder services. People
// on an obligation are linked by display name, so resolution goes through
// the users table at send time.

func recipientByName(db *gorm.DB, name string) (Recipient, bool) {
	if name == "" {
		return Recipient{}, false
	}
	var u models.User
	if err := db.Select("email", "name").Where("name = ?", name).First(&u).Error; err != nil {
		return Recipient{}, false
	}
	if u.Email == "" {
		return Recipient{}, false
	}
	return Recipient{Email: u.Email, Name: u.Name}, true
}

func superAdminRecipients(db *gorm.DB) []Recipient {
	var users []models.User
	db.Select("email", "name").Where("role = ?", models.RoleSuperAdmin).Find(&users)
	out := make([]Recipient, 0, len(users))
	for _, u := range users {
		if u.Email != "" {
			out = append(out, Recipient{Email: u.Email, Name: u.Name})
		}
	}
	return out
}

func categoryAdminRecipients(db *gorm.DB, categoryID uint) []Recipient {
	var users []models.User
	db.Select("users.email", "users.name").
		Joins("JOIN user_categories uc ON uc.user_id = users.id").
		Where("users.role = ? AND uc.category_id = ?", models.RoleAdmin, categoryID).
		Find(&users)
	out := make([]Recipient, 0, len(users))
	for _, u := range users {
		if u.Email != "" {
			out = append(out, Recipient{Email: u.Email, Name: u.Name})
		}
	}
	return out
}

type scopedAdmin struct {
	Recipient
	CategoryIDs []uint
}

func adminsWithCategories(db *gorm.DB) []scopedAdmin {
	var users []models.User
	db.Preload("Categories").Where("role = ?", models.RoleAdmin).Find(&users)
	out := make([]scopedAdmin, 0, len(users))
	for _, u := range users {
		if u.Email == "" {
			continue
		}
		a := scopedAdmin{Recipient: Recipient{Email: u.Email, Name: u.Name}}
		for _, c := range u.Categories {
			a.CategoryIDs = append(a.CategoryIDs, c.ID)
		}
		out = append(out, a)
	}
	return out
}
