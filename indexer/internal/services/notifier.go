package services

import (
	"context"
	"fmt"
	"time"

	"template-hub-indexer/indexer/database"
	"template-hub-indexer/indexer/internal/models"
	"template-hub-indexer/shared/logger"
	"template-hub-indexer/shared/notifications"
)

// EventNotification describes one watched-template event to dispatch.
type EventNotification struct {
	Kind        string
	TemplateID  int
	UserAddress string
	TxID        string
	Network     string
}

// Notifier delivers watched-template updates. Every watcher gets a
// websocket notification; email goes out only when the watcher opted in
// for the kind, has an address, and a mail sender is configured.
type Notifier struct {
	store database.Store
	hub   *Hub
	email *notifications.EmailClient
	log   *logger.Logger
}

func NewNotifier(store database.Store, hub *Hub, email *notifications.EmailClient, log *logger.Logger) *Notifier {
	return &Notifier{store: store, hub: hub, email: email, log: log}
}

// NotifyWatchers fans one event out to everyone watching its template.
// A failure for one watcher never blocks the rest.
func (n *Notifier) NotifyWatchers(event EventNotification) {
	watchers, err := n.store.TemplateWatchers(event.TemplateID)
	if err != nil {
		n.log.Error("Failed to load template watchers", "template_id", event.TemplateID, "error", err)
		return
	}

	for _, watcher := range watchers {
		n.hub.Broadcast(Message{Type: "notification", Data: map[string]interface{}{
			"user_address": watcher.UserAddress,
			"event_type":   event.Kind,
			"template_id":  event.TemplateID,
			"actor":        event.UserAddress,
			"tx_id":        event.TxID,
			"network":      event.Network,
		}})

		if n.email == nil || watcher.Email == nil || !wantsEmail(&watcher, event.Kind) {
			continue
		}

		subject, body := composeEmail(event)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := n.email.Send(ctx, *watcher.Email, subject, body)
		cancel()
		if err != nil {
			n.log.Warn("Failed to email watcher", "user", watcher.UserAddress, "template_id", event.TemplateID, "error", err)
		}
	}
}

func wantsEmail(prefs *models.NotificationPreferences, kind string) bool {
	switch kind {
	case "mint":
		return prefs.NotifyOnMint
	case "transfer":
		return prefs.NotifyOnTransfer
	case "deployment":
		return prefs.NotifyOnDeployment
	}
	return false
}

func composeEmail(event EventNotification) (subject, body string) {
	actor := ShortAddress(event.UserAddress)
	link := ExplorerTxURL(event.Network, event.TxID)

	switch event.Kind {
	case "mint":
		subject = fmt.Sprintf("New mint on template #%d", event.TemplateID)
		body = fmt.Sprintf(
			"<p><strong>%s</strong> minted access to template #%d.</p><p><a href=\"%s\">View transaction</a></p>",
			actor, event.TemplateID, link)
	case "deployment":
		subject = fmt.Sprintf("New deployment from template #%d", event.TemplateID)
		body = fmt.Sprintf(
			"<p><strong>%s</strong> deployed a contract derived from template #%d.</p><p><a href=\"%s\">View transaction</a></p>",
			actor, event.TemplateID, link)
	default:
		subject = fmt.Sprintf("Activity on template #%d", event.TemplateID)
		body = fmt.Sprintf(
			"<p><strong>%s</strong> interacted with template #%d.</p><p><a href=\"%s\">View transaction</a></p>",
			actor, event.TemplateID, link)
	}
	return subject, body
}

// ShortAddress collapses a Stacks principal for display.
func ShortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

// ExplorerTxURL links a transaction on the Hiro explorer.
func ExplorerTxURL(network, txID string) string {
	return fmt.Sprintf("https://explorer.hiro.so/txid/%s?chain=%s", txID, network)
}
