package models

import "gorm.io/gorm"

// RankingTier is operator-configured catalog data: a named band of rank positions.
// MaxRank nil means open-ended. Lower SortOrder is a higher tier.
type RankingTier struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Name        string `gorm:"size:64;uniqueIndex;not null" json:"name"`
	Icon        string `gorm:"size:32" json:"icon"`
	Color       string `gorm:"size:16" json:"color"`
	MinRank     int    `gorm:"not null" json:"min_rank"`
	MaxRank     *int   `json:"max_rank"`
	Description string `json:"description"`
	SortOrder   int    `gorm:"not null;index" json:"sort_order"`
	Timestamps
}

func (t *RankingTier) BeforeCreate(tx *gorm.DB) error {
	assignID(&t.ID)
	return nil
}

// Contains reports whether rank falls in [MinRank, MaxRank or ∞].
func (t RankingTier) Contains(rank int) bool {
	if rank < t.MinRank {
		return false
	}
	return t.MaxRank == nil || rank <= *t.MaxRank
}
