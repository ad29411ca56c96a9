package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a local snapshot of the identity directory.
// Populated by the user sync worker; the progression tables hang off its ID.
type User struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	Name      string         `gorm:"index;not null" json:"name"`
	Email     string         `json:"email,omitempty"`
	Roles     []UserRole     `gorm:"foreignKey:UserID" json:"roles,omitempty"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	assignID(&u.ID)
	return nil
}

// HasAnyRole reports whether the user holds at least one of roles. Roles must be preloaded.
func (u *User) HasAnyRole(roles ...string) bool {
	for _, r := range u.Roles {
		for _, want := range roles {
			if r.Role == want {
				return true
			}
		}
	}
	return false
}

// UserRole is the user↔role join row.
type UserRole struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"type:uuid;not null;uniqueIndex:idx_user_role" json:"user_id"`
	Role   string `gorm:"size:32;not null;uniqueIndex:idx_user_role;index" json:"role"`
	Timestamps
}

func (r *UserRole) BeforeCreate(tx *gorm.DB) error {
	assignID(&r.ID)
	return nil
}

// RemoteUser mirrors the JSON the identity sync service returns.
type RemoteUser struct {
	ID        string    `json:"external_id"`
	Username  string    `json:"username"`
	FirstName *string   `json:"first_name,omitempty"`
	LastName  *string   `json:"last_name,omitempty"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName prefers "First Last" and falls back to the username.
func (r RemoteUser) DisplayName() string {
	var first, last string
	if r.FirstName != nil {
		first = *r.FirstName
	}
	if r.LastName != nil {
		last = *r.LastName
	}
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	default:
		return r.Username
	}
}
