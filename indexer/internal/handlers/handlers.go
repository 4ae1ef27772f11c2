package handlers

import (
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	"template-hub-indexer/indexer/internal/models"
	"template-hub-indexer/shared/config"
)

// SetupRoutes mounts everything: the health probe, the websocket upgrade,
// preference management, and the authenticated webhook endpoints.
func (h *Handler) SetupRoutes(router *gin.Engine, cfg *config.Config, webhookSecret string) {
	corsConfig := cors.DefaultConfig()
	if len(cfg.App.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.App.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	router.GET("/health", h.HandleHealth)
	router.GET("/ws", h.hub.HandleConnection)

	api := router.Group("/api")
	api.GET("/preferences/:address", h.HandleGetPreferences)
	api.PUT("/preferences/:address", h.HandleUpdatePreferences)

	limiter := NewRateLimiter(cfg.RateLimit.Requests, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)
	limiter.StartSweeper()

	webhooks := api.Group("/webhooks")
	webhooks.Use(RequireWebhookAuth(webhookSecret, h.log))
	webhooks.Use(limiter.Middleware())
	webhooks.POST("/mint", h.HandleMintWebhook)
	webhooks.POST("/transfer", h.HandleTransferWebhook)
	webhooks.POST("/deployment", h.HandleDeploymentWebhook)
}

func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"websocket_clients": h.hub.ClientCount(),
		"timestamp":         time.Now().Unix(),
	})
}

func (h *Handler) HandleGetPreferences(c *gin.Context) {
	address := c.Param("address")
	prefs, err := h.store.Preferences(address)
	if err != nil {
		h.log.Error("Failed to load preferences", "address", address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load preferences"})
		return
	}
	c.JSON(http.StatusOK, prefs)
}

// The catalog holds templates 1..50; watch entries outside that range
// could never match an event.
const maxCatalogTemplateID = 50

type preferencesRequest struct {
	Email              *string `json:"email"`
	WatchTemplates     []int64 `json:"watch_templates"`
	NotifyOnMint       bool    `json:"notify_on_mint"`
	NotifyOnTransfer   bool    `json:"notify_on_transfer"`
	NotifyOnDeployment bool    `json:"notify_on_deployment"`
}

func (h *Handler) HandleUpdatePreferences(c *gin.Context) {
	address := c.Param("address")

	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	for _, id := range req.WatchTemplates {
		if id < 1 || id > maxCatalogTemplateID {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("template id %d outside catalog range 1..%d", id, maxCatalogTemplateID)})
			return
		}
	}
	if req.Email != nil && *req.Email != "" {
		if _, err := mail.ParseAddress(*req.Email); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email address"})
			return
		}
	}

	prefs := &models.NotificationPreferences{
		UserAddress:        address,
		Email:              req.Email,
		WatchTemplates:     pq.Int64Array(req.WatchTemplates),
		NotifyOnMint:       req.NotifyOnMint,
		NotifyOnTransfer:   req.NotifyOnTransfer,
		NotifyOnDeployment: req.NotifyOnDeployment,
	}
	if prefs.WatchTemplates == nil {
		prefs.WatchTemplates = pq.Int64Array{}
	}
	if err := h.store.UpsertPreferences(prefs); err != nil {
		h.log.Error("Failed to save preferences", "address", address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save preferences"})
		return
	}
	c.JSON(http.StatusOK, prefs)
}
