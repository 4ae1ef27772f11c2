package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"template-hub-indexer/indexer/database"
	"template-hub-indexer/indexer/internal/models"
	"template-hub-indexer/shared/logger"
)

const (
	// Users outside the top 1000 keep their stored rank until they climb
	// back into the snapshot.
	userRankingWindow = 1000

	earlyAdopterRankCutoff = 100
	badgeReputationBonus   = 10

	// Mint recency boost decays to zero over one week.
	trendingWindowHours = 168.0
)

// badgeCatalog is ordered ascending by requirement within each category,
// so the last match is the highest reached tier.
var badgeCatalog = []models.Badge{
	{ID: "collector", Name: "Collector", Description: "Minted 5 templates", Icon: "🎯", RequirementType: "mints", RequirementValue: 5},
	{ID: "power_user", Name: "Power User", Description: "Minted 10 templates", Icon: "⚡", RequirementType: "mints", RequirementValue: 10},
	{ID: "master", Name: "Template Master", Description: "Minted 25 templates", Icon: "👑", RequirementType: "mints", RequirementValue: 25},
	{ID: "complete", Name: "Completionist", Description: "Minted all 50 templates", Icon: "💎", RequirementType: "mints", RequirementValue: 50},
	{ID: "builder", Name: "Builder", Description: "Deployed a verified contract", Icon: "🔨", RequirementType: "deployments", RequirementValue: 1},
	{ID: "architect", Name: "Architect", Description: "Deployed 5 contracts", Icon: "🏗️", RequirementType: "deployments", RequirementValue: 5},
	{ID: "legend", Name: "Deployment Legend", Description: "Deployed 10 contracts", Icon: "🚀", RequirementType: "deployments", RequirementValue: 10},
	{ID: "early_adopter", Name: "Early Adopter", Description: "Reached the top 100", Icon: "🌟", RequirementType: "rank", RequirementValue: earlyAdopterRankCutoff},
}

// BadgeCatalog exposes the static badge definitions for the API layer.
func BadgeCatalog() []models.Badge {
	return badgeCatalog
}

// LeaderboardService recomputes rankings, trending scores, and badge
// awards over the analytics counters maintained on the ingestion path.
type LeaderboardService struct {
	store database.Store
	hub   *Hub
	log   *logger.Logger
}

func NewLeaderboardService(store database.Store, hub *Hub, log *logger.Logger) *LeaderboardService {
	return &LeaderboardService{store: store, hub: hub, log: log}
}

// Run recomputes on a fixed interval until the context is cancelled. One
// pass runs immediately so a fresh deploy does not wait a full interval.
func (s *LeaderboardService) Run(ctx context.Context, interval time.Duration) {
	s.RecalculateAll()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RecalculateAll()
		}
	}
}

// RecalculateAll runs both recomputes and announces the refresh to
// websocket subscribers. Each half failing leaves the other's results.
func (s *LeaderboardService) RecalculateAll() {
	if err := s.RecomputeUserRankings(); err != nil {
		s.log.Error("User ranking recompute failed", "error", err)
	}
	if err := s.RecomputeTemplateRankings(); err != nil {
		s.log.Error("Template ranking recompute failed", "error", err)
	}

	topUsers, err := s.store.TopUsers(10)
	if err != nil {
		s.log.Error("Failed to load leaderboard snapshot for broadcast", "error", err)
		return
	}
	s.hub.Broadcast(Message{Type: "leaderboard_update", Data: map[string]interface{}{
		"top_users":  topUsers,
		"updated_at": time.Now().Unix(),
	}})
}

// RecomputeUserRankings ranks the top users by reputation and awards any
// newly reached badges. Badges are never taken away.
func (s *LeaderboardService) RecomputeUserRankings() error {
	users, err := s.store.TopUsers(userRankingWindow)
	if err != nil {
		return fmt.Errorf("failed to snapshot users: %w", err)
	}

	for i := range users {
		user := &users[i]
		rank := i + 1
		if user.Rank == nil || *user.Rank != rank {
			if err := s.store.UpdateUserRank(user.UserAddress, rank); err != nil {
				return err
			}
		}

		newBadges := s.newlyEarnedBadges(user, rank)
		if len(newBadges) == 0 {
			continue
		}

		badges := append([]string(user.Badges), badgeIDs(newBadges)...)
		bonus := int64(len(newBadges)) * badgeReputationBonus
		if err := s.store.UpdateUserBadges(user.UserAddress, badges, bonus); err != nil {
			return err
		}
		for _, badge := range newBadges {
			s.log.Info("Badge awarded", "user", user.UserAddress, "badge", badge.ID)
			s.hub.Broadcast(Message{Type: "notification", Data: map[string]interface{}{
				"user_address": user.UserAddress,
				"event_type":   "badge_earned",
				"badge":        badge,
			}})
		}
	}
	return nil
}

// newlyEarnedBadges returns at most one badge per category: the highest
// tier the user now qualifies for but does not hold yet.
func (s *LeaderboardService) newlyEarnedBadges(user *models.UserAnalytics, rank int) []models.Badge {
	owned := make(map[string]bool, len(user.Badges))
	for _, id := range user.Badges {
		owned[id] = true
	}

	var earned []models.Badge
	if badge := highestTier("mints", user.TotalMints); badge != nil && !owned[badge.ID] {
		earned = append(earned, *badge)
	}
	if badge := highestTier("deployments", user.TotalDeployments); badge != nil && !owned[badge.ID] {
		earned = append(earned, *badge)
	}
	if rank <= earlyAdopterRankCutoff && !owned["early_adopter"] {
		for _, badge := range badgeCatalog {
			if badge.ID == "early_adopter" {
				earned = append(earned, badge)
			}
		}
	}
	return earned
}

func highestTier(requirementType string, count int64) *models.Badge {
	var best *models.Badge
	for i := range badgeCatalog {
		badge := &badgeCatalog[i]
		if badge.RequirementType == requirementType && count >= badge.RequirementValue {
			best = badge
		}
	}
	return best
}

func badgeIDs(badges []models.Badge) []string {
	ids := make([]string, len(badges))
	for i, badge := range badges {
		ids[i] = badge.ID
	}
	return ids
}

// RecomputeTemplateRankings rebuilds every template's trending score and
// position from scratch.
func (s *LeaderboardService) RecomputeTemplateRankings() error {
	templates, err := s.store.AllTemplateAnalytics()
	if err != nil {
		return fmt.Errorf("failed to snapshot templates: %w", err)
	}

	now := time.Now().Unix()
	scores := make([]float64, len(templates))
	order := make([]int, len(templates))
	for i := range templates {
		scores[i] = trendingScore(&templates[i], now)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return templates[order[a]].TemplateID < templates[order[b]].TemplateID
	})

	for pos, idx := range order {
		tpl := &templates[idx]
		if err := s.store.UpdateTemplateRanking(tpl.TemplateID, scores[idx], pos+1); err != nil {
			return err
		}
	}
	return nil
}

// trendingScore weighs deployments double and boosts templates minted
// recently. Templates never minted get no recency boost.
func trendingScore(tpl *models.TemplateAnalytics, now int64) float64 {
	base := float64(tpl.TotalMints + 2*tpl.TotalDeployments)

	boost := 0.0
	if tpl.LastMintTimestamp != nil {
		hours := float64(now-*tpl.LastMintTimestamp) / 3600
		if hours < 0 {
			hours = 0
		}
		boost = 1 - hours/trendingWindowHours
		if boost < 0 {
			boost = 0
		}
	}
	return base * (1 + boost)
}
