package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/storybook-backend/internal/domain"
)

// indexes that AutoMigrate cannot express. Both postgres and sqlite accept
// partial indexes with this syntax.
var rawIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_story_owner_active ON story (owner_id) WHERE generation_status IN ('pending','processing')`,
	`CREATE INDEX IF NOT EXISTS idx_domain_event_unpublished ON domain_event (created_at) WHERE published_at IS NULL`,
}

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range rawIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
