package database

import (
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"template-hub-indexer/indexer/internal/models"
)

// Reputation accrues on the write path so rankings never need to replay
// event history.
const (
	mintReputationPoints       = 10
	deploymentReputationPoints = 25
)

// ApplyMintAnalytics bumps the per-user and per-template counters for one
// mint. Both updates are single atomic upserts so concurrent deliveries
// never lose increments to read-modify-write races.
func (s *store) ApplyMintAnalytics(userAddress string, templateID int, priceUSTX int64, timestamp int64) error {
	user := models.UserAnalytics{
		UserAddress:      userAddress,
		TotalMints:       1,
		TotalSpentUSTX:   priceUSTX,
		ReputationPoints: mintReputationPoints,
		Badges:           pq.StringArray{},
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_mints":       gorm.Expr("user_analytics.total_mints + 1"),
			"total_spent_ustx":  gorm.Expr("user_analytics.total_spent_ustx + ?", priceUSTX),
			"reputation_points": gorm.Expr("user_analytics.reputation_points + ?", mintReputationPoints),
			"updated_at":        gorm.Expr("NOW()"),
		}),
	}).Create(&user).Error
	if err != nil {
		return fmt.Errorf("failed to update user analytics for %s: %w", userAddress, err)
	}

	lastMint := timestamp
	template := models.TemplateAnalytics{
		TemplateID:        templateID,
		TotalMints:        1,
		TotalRevenueUSTX:  priceUSTX,
		LastMintTimestamp: &lastMint,
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "template_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_mints":        gorm.Expr("template_analytics.total_mints + 1"),
			"total_revenue_ustx": gorm.Expr("template_analytics.total_revenue_ustx + ?", priceUSTX),
			// Webhook deliveries can arrive out of order; keep the newest mint time.
			"last_mint_timestamp": gorm.Expr("GREATEST(COALESCE(template_analytics.last_mint_timestamp, 0), ?)", timestamp),
			"updated_at":          gorm.Expr("NOW()"),
		}),
	}).Create(&template).Error
	if err != nil {
		return fmt.Errorf("failed to update template analytics for %d: %w", templateID, err)
	}
	return nil
}

// ApplyDeploymentAnalytics bumps deployment counters. The template side is
// skipped when the deployment could not be matched to a catalog template.
func (s *store) ApplyDeploymentAnalytics(deployerAddress string, templateID *int, timestamp int64) error {
	user := models.UserAnalytics{
		UserAddress:      deployerAddress,
		TotalDeployments: 1,
		ReputationPoints: deploymentReputationPoints,
		Badges:           pq.StringArray{},
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_deployments": gorm.Expr("user_analytics.total_deployments + 1"),
			"reputation_points": gorm.Expr("user_analytics.reputation_points + ?", deploymentReputationPoints),
			"updated_at":        gorm.Expr("NOW()"),
		}),
	}).Create(&user).Error
	if err != nil {
		return fmt.Errorf("failed to update user analytics for %s: %w", deployerAddress, err)
	}

	if templateID == nil {
		return nil
	}

	lastDeployment := timestamp
	template := models.TemplateAnalytics{
		TemplateID:              *templateID,
		TotalDeployments:        1,
		LastDeploymentTimestamp: &lastDeployment,
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "template_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_deployments":         gorm.Expr("template_analytics.total_deployments + 1"),
			"last_deployment_timestamp": gorm.Expr("GREATEST(COALESCE(template_analytics.last_deployment_timestamp, 0), ?)", timestamp),
			"updated_at":                gorm.Expr("NOW()"),
		}),
	}).Create(&template).Error
	if err != nil {
		return fmt.Errorf("failed to update template analytics for %d: %w", *templateID, err)
	}
	return nil
}

// TopUsers returns users ordered by reputation, address as tie-break so
// leaderboard positions are stable between recomputes.
func (s *store) TopUsers(limit int) ([]models.UserAnalytics, error) {
	var users []models.UserAnalytics
	err := s.db.Order("reputation_points DESC, user_address ASC").Limit(limit).Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load top users: %w", err)
	}
	return users, nil
}

// AllTemplateAnalytics returns every template row for ranking recomputes.
func (s *store) AllTemplateAnalytics() ([]models.TemplateAnalytics, error) {
	var templates []models.TemplateAnalytics
	err := s.db.Order("template_id ASC").Find(&templates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load template analytics: %w", err)
	}
	return templates, nil
}

// UpdateUserBadges replaces the badge set and credits the award bonus.
func (s *store) UpdateUserBadges(userAddress string, badges []string, reputationBonus int64) error {
	err := s.db.Model(&models.UserAnalytics{}).
		Where("user_address = ?", userAddress).
		Updates(map[string]interface{}{
			"badges":            pq.StringArray(badges),
			"reputation_points": gorm.Expr("reputation_points + ?", reputationBonus),
			"updated_at":        gorm.Expr("NOW()"),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update badges for %s: %w", userAddress, err)
	}
	return nil
}

// UpdateUserRank stores a recomputed leaderboard position.
func (s *store) UpdateUserRank(userAddress string, rank int) error {
	err := s.db.Model(&models.UserAnalytics{}).
		Where("user_address = ?", userAddress).
		Update("rank", rank).Error
	if err != nil {
		return fmt.Errorf("failed to update rank for %s: %w", userAddress, err)
	}
	return nil
}

// UpdateTemplateRanking stores a recomputed trending score and position.
func (s *store) UpdateTemplateRanking(templateID int, trendingScore float64, rank int) error {
	err := s.db.Model(&models.TemplateAnalytics{}).
		Where("template_id = ?", templateID).
		Updates(map[string]interface{}{
			"trending_score": trendingScore,
			"rank":           rank,
			"updated_at":     gorm.Expr("NOW()"),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update ranking for template %d: %w", templateID, err)
	}
	return nil
}
