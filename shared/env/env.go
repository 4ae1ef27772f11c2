package env

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

var (
	TelegramBotToken string
	TelegramGroupID  int64

	DatabaseURL     string
	ChainhookSecret string

	HiroAPIKey     string
	WebhookBaseURL string

	ResendAPIKey string
	EmailFrom    string

	Port string
)

func loadEnvVariable(key string, isRequired bool) string {
	value := os.Getenv(key)
	if isRequired && value == "" {
		log.Fatalf("FATAL: Environment variable %s is required but not set.", key)
	}
	isHidden := key == "TELEGRAM_BOT_TOKEN" || key == "CHAINHOOK_SECRET" || key == "DATABASE_URL" || key == "HIRO_API_KEY" || key == "RESEND_API_KEY"
	if value == "" {
		if !isRequired {
			log.Printf("INFO: Environment variable %s is not set.", key)
		}
	} else if isHidden {
		log.Printf("INFO: Loaded %s (value hidden)", key)
	} else {
		log.Printf("INFO: Loaded %s = %s", key, value)
	}
	return value
}

func loadInt64Env(key string, required bool) int64 {
	strValue := loadEnvVariable(key, required)
	if strValue == "" {
		if !required {
			return 0
		}
		log.Fatalf("FATAL: Required integer environment variable %s is missing after load.", key)
		return 0
	}
	id, err := strconv.ParseInt(strValue, 10, 64)
	if err != nil {
		log.Fatalf("FATAL: Failed to parse integer environment variable %s='%s': %v", key, strValue, err)
	}
	return id
}

func LoadEnv() error {
	err := godotenv.Load()
	if err != nil {
		log.Println("INFO: .env file not found or error loading, relying on system environment variables.")
	} else {
		log.Println("INFO: .env file loaded successfully.")
	}

	DatabaseURL = loadEnvVariable("DATABASE_URL", true)
	ChainhookSecret = loadEnvVariable("CHAINHOOK_SECRET", true)

	HiroAPIKey = loadEnvVariable("HIRO_API_KEY", false)
	WebhookBaseURL = loadEnvVariable("WEBHOOK_BASE_URL", false)
	if HiroAPIKey != "" && WebhookBaseURL == "" {
		log.Println("WARN: HIRO_API_KEY is set but WEBHOOK_BASE_URL is missing. Chainhook predicates will not be registered.")
	}

	TelegramBotToken = loadEnvVariable("TELEGRAM_BOT_TOKEN", false)
	TelegramGroupID = loadInt64Env("TELEGRAM_GROUP_ID", false)
	if TelegramBotToken != "" && TelegramGroupID == 0 {
		log.Println("WARN: TELEGRAM_BOT_TOKEN is set, but TELEGRAM_GROUP_ID is missing, invalid, or zero.")
	}

	ResendAPIKey = loadEnvVariable("RESEND_API_KEY", false)
	EmailFrom = loadEnvVariable("EMAIL_FROM", false)
	if ResendAPIKey != "" && EmailFrom == "" {
		log.Println("WARN: RESEND_API_KEY is set but EMAIL_FROM is missing. Watcher emails will not be sent.")
	}

	Port = loadEnvVariable("PORT", false)
	if Port == "" {
		Port = "8080"
		log.Printf("INFO: PORT not set, defaulting to %s", Port)
	}

	log.Println("INFO: Environment variables loading process complete.")
	return nil
}
