package notifications

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"golang.org/x/time/rate"

	"template-hub-indexer/shared/env"
)

var bot *telego.Bot
var isInitialized bool = false
var telegramLimiter *rate.Limiter

// InitTelegramBot connects the ops-channel bot. The channel mirrors Warn
// and Error logs, so the indexer still runs fine without it.
func InitTelegramBot() error {
	if isInitialized && bot != nil {
		log.Println("INFO: Telegram bot already initialized.")
		return nil
	}

	isInitialized = false
	bot = nil
	telegramLimiter = nil

	botToken := env.TelegramBotToken
	groupID := env.TelegramGroupID

	if botToken == "" {
		return fmt.Errorf("critical error: TELEGRAM_BOT_TOKEN missing from env configuration")
	}
	if groupID == 0 {
		return fmt.Errorf("critical error: TELEGRAM_GROUP_ID missing or invalid in env configuration")
	}
	log.Println("Initializing Telegram bot API...")

	var err error
	bot, err = telego.NewBot(botToken, telego.WithDiscardLogger())
	if err != nil {
		bot = nil
		return fmt.Errorf("failed to initialize Telegram bot API: %w", err)
	}

	userInfo, err := bot.GetMe(context.Background())
	if err != nil {
		bot = nil
		return fmt.Errorf("failed to verify bot token with GetMe API call: %w", err)
	}
	isInitialized = true
	telegramLimiter = rate.NewLimiter(rate.Limit(0.2), 1)
	log.Printf("Telegram bot initialized successfully for @%s", userInfo.Username)

	escapedUsername := EscapeMarkdownV2(userInfo.Username)
	SendTelegramMessage(fmt.Sprintf("Indexer connected successfully \\(@%s\\)\\. Ready\\.", escapedUsername))

	return nil
}

// SendTelegramMessage posts to the ops channel. Callers pass MarkdownV2
// with their own dynamic values already escaped.
func SendTelegramMessage(message string) {
	sendMessageWithRetry(env.TelegramGroupID, message)
}

func sendMessageWithRetry(chatID int64, text string) {
	if telegramLimiter != nil {
		if err := telegramLimiter.Wait(context.Background()); err != nil {
			log.Printf("ERROR: Telegram rate limiter wait error for chat %d: %v. Proceeding with send attempt...", chatID, err)
		}
	}
	if bot == nil {
		log.Println("ERROR: Cannot send message, Telegram bot is not initialized.")
		return
	}
	if chatID == 0 {
		log.Println("ERROR: Cannot send message, target chatID is 0.")
		return
	}

	const maxRetries = 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := bot.SendMessage(context.Background(), &telego.SendMessageParams{
			ChatID:    telego.ChatID{ID: chatID},
			Text:      text,
			ParseMode: telego.ModeMarkdownV2,
		})
		if err == nil {
			return
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		log.Printf("WARN: Telegram send attempt %d/%d failed: %v. Retrying in %s...", attempt+1, maxRetries, err, backoff)
		time.Sleep(backoff)
	}
	log.Printf("ERROR: Giving up on Telegram message to chat %d after %d attempts.", chatID, maxRetries)
}

// EscapeMarkdownV2 escapes the characters Telegram's MarkdownV2 parser
// treats as syntax.
func EscapeMarkdownV2(text string) string {
	replacer := strings.NewReplacer(
		"_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(",
		")", "\\)", "~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#",
		"+", "\\+", "-", "\\-", "=", "\\=", "|", "\\|", "{", "\\{",
		"}", "\\}", ".", "\\.", "!", "\\!",
	)
	return replacer.Replace(text)
}
