package database

import (
	"errors"

	"gorm.io/gorm"

	"template-hub-indexer/indexer/internal/models"
)

// ErrDuplicateEvent reports that an event with the same transaction ID was
// already recorded. Webhook redelivery hits this path on every retry, so
// callers treat it as a skip rather than a failure.
var ErrDuplicateEvent = errors.New("event already recorded")

// Store is the persistence surface for the ingestion pipeline and the
// read-side API. Handlers depend on this interface so tests can substitute
// an in-memory implementation.
type Store interface {
	InsertMint(event *models.MintEvent) error
	InsertTransfer(event *models.TransferEvent) error
	InsertDeployment(event *models.DeploymentEvent) error

	ApplyMintAnalytics(userAddress string, templateID int, priceUSTX int64, timestamp int64) error
	ApplyDeploymentAnalytics(deployerAddress string, templateID *int, timestamp int64) error

	TopUsers(limit int) ([]models.UserAnalytics, error)
	AllTemplateAnalytics() ([]models.TemplateAnalytics, error)
	UpdateUserBadges(userAddress string, badges []string, reputationBonus int64) error
	UpdateUserRank(userAddress string, rank int) error
	UpdateTemplateRanking(templateID int, trendingScore float64, rank int) error

	Preferences(userAddress string) (*models.NotificationPreferences, error)
	UpsertPreferences(prefs *models.NotificationPreferences) error
	TemplateWatchers(templateID int) ([]models.NotificationPreferences, error)
}

type store struct {
	db *gorm.DB
}

// NewStore wraps a gorm connection in the Store interface.
func NewStore(db *gorm.DB) Store {
	return &store{db: db}
}
