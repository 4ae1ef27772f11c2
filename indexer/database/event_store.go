package database

import (
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"template-hub-indexer/indexer/internal/models"
)

// conflictOnTxID makes event inserts no-ops on redelivered transactions.
// RowsAffected == 0 after the insert means the row already existed.
var conflictOnTxID = clause.OnConflict{
	Columns:   []clause.Column{{Name: "tx_id"}},
	DoNothing: true,
}

// InsertMint records a mint event and its activity feed entry in one
// transaction. Returns ErrDuplicateEvent when the tx_id was seen before,
// in which case neither row is written.
func (s *store) InsertMint(event *models.MintEvent) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(conflictOnTxID).Create(event)
		if result.Error != nil {
			return fmt.Errorf("failed to insert mint %s: %w", event.TxID, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrDuplicateEvent
		}

		templateID := event.TemplateID
		feed := models.ActivityFeedEntry{
			EventType:   "mint",
			UserAddress: event.UserAddress,
			TemplateID:  &templateID,
			TxID:        event.TxID,
			Timestamp:   event.Timestamp,
			Network:     event.Network,
			Metadata: datatypes.JSONMap{
				"block_height": event.BlockHeight,
			},
		}
		if err := tx.Create(&feed).Error; err != nil {
			return fmt.Errorf("failed to insert mint feed entry %s: %w", event.TxID, err)
		}
		return nil
	})
}

// InsertTransfer records a transfer event and its feed entry. The feed
// attributes the activity to the sender; the recipient lives in metadata.
func (s *store) InsertTransfer(event *models.TransferEvent) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(conflictOnTxID).Create(event)
		if result.Error != nil {
			return fmt.Errorf("failed to insert transfer %s: %w", event.TxID, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrDuplicateEvent
		}

		feed := models.ActivityFeedEntry{
			EventType:   "transfer",
			UserAddress: event.FromAddress,
			TxID:        event.TxID,
			Timestamp:   event.Timestamp,
			Network:     event.Network,
			Metadata: datatypes.JSONMap{
				"from":     event.FromAddress,
				"to":       event.ToAddress,
				"token_id": event.TokenID,
			},
		}
		if err := tx.Create(&feed).Error; err != nil {
			return fmt.Errorf("failed to insert transfer feed entry %s: %w", event.TxID, err)
		}
		return nil
	})
}

// InsertDeployment records a deployment event and its feed entry. The
// caller runs template verification first so the verdict lands in both rows.
func (s *store) InsertDeployment(event *models.DeploymentEvent) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(conflictOnTxID).Create(event)
		if result.Error != nil {
			return fmt.Errorf("failed to insert deployment %s: %w", event.TxID, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrDuplicateEvent
		}

		metadata := datatypes.JSONMap{
			"verified": event.Verified,
		}
		if event.SimilarityScore != nil {
			metadata["similarity_score"] = *event.SimilarityScore
		}
		contractID := event.ContractIdentifier
		feed := models.ActivityFeedEntry{
			EventType:          "deployment",
			UserAddress:        event.DeployerAddress,
			TemplateID:         event.TemplateID,
			ContractIdentifier: &contractID,
			TxID:               event.TxID,
			Timestamp:          event.Timestamp,
			Network:            event.Network,
			Metadata:           metadata,
		}
		if err := tx.Create(&feed).Error; err != nil {
			return fmt.Errorf("failed to insert deployment feed entry %s: %w", event.TxID, err)
		}
		return nil
	})
}
