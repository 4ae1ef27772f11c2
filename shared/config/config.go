package config

import (
	"log"
	"sync"

	"github.com/spf13/viper"
)

// RateLimitConfig bounds inbound webhook traffic per source IP.
type RateLimitConfig struct {
	Requests      int `mapstructure:"requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// RankingConfig controls the periodic leaderboard recompute.
type RankingConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// Config defines the global configuration structure
type Config struct {
	App struct {
		Port        string   `mapstructure:"port"`
		Environment string   `mapstructure:"environment"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"app"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Indexer struct {
		// ContractID is the marketplace contract the chainhook predicates watch.
		ContractID    string `mapstructure:"contract_id"`
		Network       string `mapstructure:"network"`
		MintPriceUSTX int64  `mapstructure:"mint_price_ustx"`
		CatalogPath   string `mapstructure:"catalog_path"`
	} `mapstructure:"indexer"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Ranking   RankingConfig   `mapstructure:"ranking"`
}

var (
	globalConfig *Config
	configLock   sync.RWMutex
)

// LoadConfig loads configuration from the specified file path and merges it with environment variables
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	viper.BindEnv("app.port", "PORT")
	viper.BindEnv("app.environment", "ENVIRONMENT")
	viper.BindEnv("indexer.contract_id", "CONTRACT_ID")
	viper.BindEnv("indexer.network", "STACKS_NETWORK")
	viper.BindEnv("indexer.catalog_path", "TEMPLATE_CATALOG_PATH")

	viper.SetDefault("app.port", "8080")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("indexer.network", "mainnet")
	viper.SetDefault("indexer.mint_price_ustx", 5_000_000)
	viper.SetDefault("rate_limit.requests", 100)
	viper.SetDefault("rate_limit.window_seconds", 60)
	viper.SetDefault("ranking.interval_minutes", 10)

	var cfg Config

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		log.Printf("Error unmarshalling configuration: %v", err)
		return nil, err
	}

	log.Printf("Loaded configuration from file: %s", path)
	return &cfg, nil
}

// SetGlobalConfig sets the loaded configuration globally
func SetGlobalConfig(cfg *Config) {
	configLock.Lock()
	defer configLock.Unlock()
	globalConfig = cfg
}

// GetGlobalConfig retrieves the globally set configuration
func GetGlobalConfig() *Config {
	configLock.RLock()
	defer configLock.RUnlock()
	if globalConfig == nil {
		log.Println("GetGlobalConfig: Global configuration is nil.")
	}
	return globalConfig
}
