package database

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"template-hub-indexer/indexer/internal/models"
)

// Preferences returns a user's notification settings. Users who never
// saved preferences get the defaults back without a row being created.
func (s *store) Preferences(userAddress string) (*models.NotificationPreferences, error) {
	var prefs models.NotificationPreferences
	err := s.db.First(&prefs, "user_address = ?", userAddress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.NotificationPreferences{
			UserAddress:    userAddress,
			WatchTemplates: pq.Int64Array{},
			NotifyOnMint:   true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences for %s: %w", userAddress, err)
	}
	return &prefs, nil
}

// UpsertPreferences creates or fully replaces a user's settings.
func (s *store) UpsertPreferences(prefs *models.NotificationPreferences) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_address"}},
		UpdateAll: true,
	}).Create(prefs).Error
	if err != nil {
		return fmt.Errorf("failed to save preferences for %s: %w", prefs.UserAddress, err)
	}
	return nil
}

// TemplateWatchers returns everyone watching the given template.
func (s *store) TemplateWatchers(templateID int) ([]models.NotificationPreferences, error) {
	var watchers []models.NotificationPreferences
	err := s.db.Where("? = ANY(watch_templates)", templateID).Find(&watchers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load watchers for template %d: %w", templateID, err)
	}
	return watchers, nil
}
