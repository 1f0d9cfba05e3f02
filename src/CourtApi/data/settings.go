package data

import (
	"fmt"
	"sync"

	"github.com/Opizontas-Studio/courtbot/src/CourtApi/types"
	"gorm.io/gorm"
)

// settingsCache is a read-through copy of the settings table. Tuning rows
// (quorum, bands, rate ceilings) are read on every command, so lookups never
// touch the database after LoadSettings.
type settingsCache struct {
	mu     sync.RWMutex
	values map[string]string
}

var settings settingsCache

// LoadSettings replaces the cache with the current settings table. Call once
// at startup; both processes read the same table.
func LoadSettings(db *gorm.DB) error {
	var rows []types.Setting
	if err := db.Find(&rows).Error; err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Name] = row.Value
	}

	settings.mu.Lock()
	settings.values = values
	settings.mu.Unlock()
	return nil
}

// GetSetting returns the cached value, or "" for unknown names so callers
// can fall back to their defaults.
func GetSetting(name string) string {
	settings.mu.RLock()
	defer settings.mu.RUnlock()
	return settings.values[name]
}

// SetSetting upserts one row and updates the cache in the writing process.
// Other processes pick the change up on their next LoadSettings.
func SetSetting(db *gorm.DB, name, value string) error {
	row := types.Setting{Name: name, Value: value}
	err := db.Where("name = ?", name).
		Assign(types.Setting{Value: value}).
		FirstOrCreate(&row).Error
	if err != nil {
		return fmt.Errorf("save setting %s: %w", name, err)
	}

	settings.mu.Lock()
	if settings.values == nil {
		settings.values = make(map[string]string)
	}
	settings.values[name] = value
	settings.mu.Unlock()
	return nil
}
