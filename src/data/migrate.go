package data

import (
	"fmt"

	"github.com/stake-plus/questdao/src/types"
	"gorm.io/gorm"
)

// Migrate creates or updates every table the service owns. Unlike the
// drop-and-recreate fallback used for throwaway schemas, a failure here is
// returned: quest, betting and reward rows are not reconstructible.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(types.AllModels...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
