package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"template-hub-indexer/indexer/database"
	"template-hub-indexer/indexer/internal/events"
	"template-hub-indexer/indexer/internal/models"
	"template-hub-indexer/indexer/internal/services"
	"template-hub-indexer/shared/logger"
)

// Handler wires the ingestion pipeline behind the webhook routes.
type Handler struct {
	store         database.Store
	verifier      *services.VerificationService
	hub           *services.Hub
	notifier      *services.Notifier
	log           *logger.Logger
	mintPriceUSTX int64
}

func NewHandler(store database.Store, verifier *services.VerificationService, hub *services.Hub, notifier *services.Notifier, log *logger.Logger, mintPriceUSTX int64) *Handler {
	return &Handler{
		store:         store,
		verifier:      verifier,
		hub:           hub,
		notifier:      notifier,
		log:           log,
		mintPriceUSTX: mintPriceUSTX,
	}
}

func (h *Handler) HandleMintWebhook(c *gin.Context)       { h.handleWebhook(c, events.KindMint) }
func (h *Handler) HandleTransferWebhook(c *gin.Context)   { h.handleWebhook(c, events.KindTransfer) }
func (h *Handler) HandleDeploymentWebhook(c *gin.Context) { h.handleWebhook(c, events.KindDeployment) }

// handleWebhook runs one delivery through normalize, persist, analytics,
// broadcast, and notify. One bad item never fails the batch; only an
// unrecognizable envelope does.
func (h *Handler) handleWebhook(c *gin.Context, kind events.Kind) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "processed": 0, "error": "unreadable body"})
		return
	}

	batch, err := events.Normalize(kind, payload)
	if err != nil {
		h.log.Error("Rejected webhook payload", "kind", string(kind), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "processed": 0, "error": "malformed payload"})
		return
	}

	for _, itemErr := range batch.Errors {
		h.log.Warn("Skipped malformed webhook item", "kind", string(kind), "index", itemErr.Index, "error", itemErr.Err)
	}

	for i := range batch.Events {
		if err := h.processEvent(&batch.Events[i]); err != nil {
			h.log.Error("Failed to process event", "kind", string(kind), "tx_id", batch.Events[i].TxID, "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "processed": batch.Attempted})
}

func (h *Handler) processEvent(event *events.ChainEvent) error {
	switch event.Kind {
	case events.KindMint:
		return h.processMint(event)
	case events.KindTransfer:
		return h.processTransfer(event)
	case events.KindDeployment:
		return h.processDeployment(event)
	}
	return nil
}

func (h *Handler) processMint(event *events.ChainEvent) error {
	record := &models.MintEvent{
		TxID:        event.TxID,
		UserAddress: event.UserAddress,
		TemplateID:  event.TemplateID,
		BlockHeight: event.BlockHeight,
		Timestamp:   event.Timestamp,
		Network:     event.Network,
	}
	err := h.store.InsertMint(record)
	if errors.Is(err, database.ErrDuplicateEvent) {
		h.log.Debug("Skipping redelivered mint", "tx_id", event.TxID)
		return nil
	}
	if err != nil {
		return err
	}

	// The event row is committed; an analytics failure must not undo it.
	if err := h.store.ApplyMintAnalytics(event.UserAddress, event.TemplateID, h.mintPriceUSTX, event.Timestamp); err != nil {
		h.log.Error("Mint analytics update failed", "tx_id", event.TxID, "error", err)
	}

	h.hub.Broadcast(services.Message{Type: "mint", Data: record})
	h.notifier.NotifyWatchers(services.EventNotification{
		Kind:        "mint",
		TemplateID:  event.TemplateID,
		UserAddress: event.UserAddress,
		TxID:        event.TxID,
		Network:     event.Network,
	})
	return nil
}

func (h *Handler) processTransfer(event *events.ChainEvent) error {
	record := &models.TransferEvent{
		TxID:        event.TxID,
		TokenID:     event.TokenID,
		FromAddress: event.FromAddress,
		ToAddress:   event.ToAddress,
		BlockHeight: event.BlockHeight,
		Timestamp:   event.Timestamp,
		Network:     event.Network,
	}
	err := h.store.InsertTransfer(record)
	if errors.Is(err, database.ErrDuplicateEvent) {
		h.log.Debug("Skipping redelivered transfer", "tx_id", event.TxID)
		return nil
	}
	if err != nil {
		return err
	}

	// Transfers move ownership only; no analytics counters and no
	// watcher notifications, just the live feed.
	h.hub.Broadcast(services.Message{Type: "transfer", Data: record})
	return nil
}

func (h *Handler) processDeployment(event *events.ChainEvent) error {
	verdict := h.verifier.Verify(event.CodeBody)

	record := &models.DeploymentEvent{
		TxID:               event.TxID,
		ContractIdentifier: event.ContractIdentifier,
		DeployerAddress:    event.DeployerAddress,
		TemplateID:         verdict.TemplateID,
		Verified:           verdict.Verified,
		SimilarityScore:    verdict.SimilarityScore,
		CodeHash:           verdict.CodeHash,
		BlockHeight:        event.BlockHeight,
		Timestamp:          event.Timestamp,
		Network:            event.Network,
	}
	err := h.store.InsertDeployment(record)
	if errors.Is(err, database.ErrDuplicateEvent) {
		h.log.Debug("Skipping redelivered deployment", "tx_id", event.TxID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := h.store.ApplyDeploymentAnalytics(event.DeployerAddress, verdict.TemplateID, event.Timestamp); err != nil {
		h.log.Error("Deployment analytics update failed", "tx_id", event.TxID, "error", err)
	}

	h.hub.Broadcast(services.Message{Type: "deployment", Data: record})
	if verdict.TemplateID != nil {
		h.notifier.NotifyWatchers(services.EventNotification{
			Kind:        "deployment",
			TemplateID:  *verdict.TemplateID,
			UserAddress: event.DeployerAddress,
			TxID:        event.TxID,
			Network:     event.Network,
		})
	}
	return nil
}
