package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// MintEvent is one recorded access-template mint. TxID carries a unique
// constraint so redelivered webhooks cannot create a second row.
type MintEvent struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	TxID        string `gorm:"column:tx_id;uniqueIndex;not null" json:"tx_id"`
	UserAddress string `gorm:"not null;index" json:"user_address"`
	TemplateID  int    `gorm:"not null;index" json:"template_id"`
	BlockHeight int64  `gorm:"not null" json:"block_height"`
	// Timestamp is the chain-supplied Unix time, not ingestion time.
	Timestamp int64     `gorm:"not null" json:"timestamp"`
	Network   string    `gorm:"not null" json:"network"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (MintEvent) TableName() string { return "mints" }

// TransferEvent is one recorded NFT ownership change.
type TransferEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TxID        string    `gorm:"column:tx_id;uniqueIndex;not null" json:"tx_id"`
	TokenID     int64     `gorm:"not null;index" json:"token_id"`
	FromAddress string    `gorm:"not null" json:"from_address"`
	ToAddress   string    `gorm:"not null" json:"to_address"`
	BlockHeight int64     `gorm:"not null" json:"block_height"`
	Timestamp   int64     `gorm:"not null" json:"timestamp"`
	Network     string    `gorm:"not null" json:"network"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (TransferEvent) TableName() string { return "transfers" }

// DeploymentEvent is one recorded contract publication, annotated with the
// verification result computed at ingestion time. TemplateID and
// SimilarityScore stay nil when the deployed code matched no catalog entry.
type DeploymentEvent struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	TxID               string    `gorm:"column:tx_id;uniqueIndex;not null" json:"tx_id"`
	ContractIdentifier string    `gorm:"not null;index" json:"contract_identifier"`
	DeployerAddress    string    `gorm:"not null;index" json:"deployer_address"`
	TemplateID         *int      `json:"template_id"`
	Verified           bool      `gorm:"not null;default:false" json:"verified"`
	SimilarityScore    *float64  `json:"similarity_score"`
	CodeHash           string    `gorm:"not null" json:"code_hash"`
	BlockHeight        int64     `gorm:"not null" json:"block_height"`
	Timestamp          int64     `gorm:"not null" json:"timestamp"`
	Network            string    `gorm:"not null" json:"network"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (DeploymentEvent) TableName() string { return "deployments" }

// TemplateAnalytics aggregates per-template counters. Counters only grow;
// TrendingScore and Rank are recomputed in full by the ranking engine.
type TemplateAnalytics struct {
	TemplateID              int       `gorm:"primaryKey" json:"template_id"`
	TotalMints              int64     `gorm:"not null;default:0" json:"total_mints"`
	TotalDeployments        int64     `gorm:"not null;default:0" json:"total_deployments"`
	TotalRevenueUSTX        int64     `gorm:"column:total_revenue_ustx;not null;default:0" json:"total_revenue_ustx"`
	LastMintTimestamp       *int64    `json:"last_mint_timestamp"`
	LastDeploymentTimestamp *int64    `json:"last_deployment_timestamp"`
	TrendingScore           float64   `gorm:"not null;default:0" json:"trending_score"`
	Rank                    *int      `json:"rank"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TemplateAnalytics) TableName() string { return "template_analytics" }

// UserAnalytics aggregates per-user counters. Badges is append-only.
type UserAnalytics struct {
	UserAddress      string         `gorm:"primaryKey" json:"user_address"`
	TotalMints       int64          `gorm:"not null;default:0" json:"total_mints"`
	TotalDeployments int64          `gorm:"not null;default:0" json:"total_deployments"`
	TotalSpentUSTX   int64          `gorm:"column:total_spent_ustx;not null;default:0" json:"total_spent_ustx"`
	ReputationPoints int64          `gorm:"not null;default:0" json:"reputation_points"`
	Badges           pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"badges"`
	Rank             *int           `json:"rank"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserAnalytics) TableName() string { return "user_analytics" }

// ActivityFeedEntry is the denormalized timeline projection written in the
// same transaction as its paired event row.
type ActivityFeedEntry struct {
	ID                 uint              `gorm:"primaryKey" json:"id"`
	EventType          string            `gorm:"not null;index" json:"event_type"`
	UserAddress        string            `gorm:"not null" json:"user_address"`
	TemplateID         *int              `json:"template_id"`
	ContractIdentifier *string           `json:"contract_identifier"`
	TxID               string            `gorm:"column:tx_id;not null" json:"tx_id"`
	Timestamp          int64             `gorm:"not null;index" json:"timestamp"`
	Network            string            `gorm:"not null" json:"network"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt          time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func (ActivityFeedEntry) TableName() string { return "activity_feed" }

// NotificationPreferences is created lazily on the user's first explicit
// write; reads fall back to defaults when no row exists.
type NotificationPreferences struct {
	UserAddress        string        `gorm:"primaryKey" json:"user_address"`
	Email              *string       `json:"email"`
	WatchTemplates     pq.Int64Array `gorm:"type:integer[];not null;default:'{}'" json:"watch_templates"`
	NotifyOnMint       bool          `gorm:"not null;default:true" json:"notify_on_mint"`
	NotifyOnTransfer   bool          `gorm:"not null;default:false" json:"notify_on_transfer"`
	NotifyOnDeployment bool          `gorm:"not null;default:false" json:"notify_on_deployment"`
	CreatedAt          time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (NotificationPreferences) TableName() string { return "notification_preferences" }

// Badge is static catalog data; the set lives in code, not the database.
type Badge struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Icon             string `json:"icon"`
	RequirementType  string `json:"requirement_type"`
	RequirementValue int64  `json:"requirement_value"`
}
