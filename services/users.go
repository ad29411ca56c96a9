// services/users.go
package services

import (
	"context"
	"strings"

	"gamified-lms/models"

	"gorm.io/gorm"
)

// UserSummary is the admin search row.
type UserSummary struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Email   string   `json:"email"`
	Roles   []string `json:"roles"`
	TotalXP int64    `json:"total_xp"`
	Level   int      `json:"level"`
}

// SearchUsers matches the mirrored user table by name or email.
func SearchUsers(ctx context.Context, db *gorm.DB, query string, limit int) ([]UserSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	q := db.WithContext(ctx).Model(&models.User{}).Preload("Roles").Order("name ASC").Limit(limit)
	if query = strings.TrimSpace(query); query != "" {
		term := "%" + strings.ToLower(query) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", term, term)
	}
	var users []models.User
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}

	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	var profiles []models.UserProfile
	if len(ids) > 0 {
		if err := db.WithContext(ctx).Where("user_id IN ?", ids).Find(&profiles).Error; err != nil {
			return nil, err
		}
	}
	byUser := make(map[string]models.UserProfile, len(profiles))
	for _, p := range profiles {
		byUser[p.UserID] = p
	}

	res := make([]UserSummary, len(users))
	for i, u := range users {
		roles := make([]string, len(u.Roles))
		for j, r := range u.Roles {
			roles[j] = r.Role
		}
		level := 1
		if p, ok := byUser[u.ID]; ok {
			level = p.Level
			res[i].TotalXP = p.TotalXP
		}
		res[i].ID = u.ID
		res[i].Name = u.Name
		res[i].Email = u.Email
		res[i].Roles = roles
		res[i].Level = level
	}
	return res, nil
}
