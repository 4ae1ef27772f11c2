package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"template-hub-indexer/shared/logger"
)

const chainhookAPIBase = "https://api.platform.hiro.so/v1/ext"

// ChainhookClient registers the marketplace event predicates with the
// Hiro platform so chainhook deliveries start flowing to the webhook
// endpoints.
type ChainhookClient struct {
	apiKey      string
	webhookBase string
	authToken   string
	contractID  string
	network     string
	httpClient  *http.Client
	log         *logger.Logger
}

func NewChainhookClient(apiKey, webhookBase, authToken, contractID, network string, log *logger.Logger) *ChainhookClient {
	return &ChainhookClient{
		apiKey:      apiKey,
		webhookBase: webhookBase,
		authToken:   authToken,
		contractID:  contractID,
		network:     network,
		httpClient:  &http.Client{Timeout: 20 * time.Second},
		log:         log,
	}
}

type predicateSpec struct {
	name   string
	path   string
	ifThis map[string]interface{}
}

// RegisterPredicates submits all three predicates. Registration is
// idempotent on the platform side, so rerunning at every boot is safe.
func (c *ChainhookClient) RegisterPredicates(ctx context.Context) error {
	specs := []predicateSpec{
		{
			name: "template-mint-events",
			path: "/api/webhooks/mint",
			ifThis: map[string]interface{}{
				"scope":               "contract_call",
				"contract_identifier": c.contractID,
				"method":              "mint-template-access",
			},
		},
		{
			name: "template-transfer-events",
			path: "/api/webhooks/transfer",
			ifThis: map[string]interface{}{
				"scope":            "nft_event",
				"asset_identifier": c.contractID + "::template-access",
				"actions":          []string{"transfer"},
			},
		},
		{
			name: "template-deployment-events",
			path: "/api/webhooks/deployment",
			ifThis: map[string]interface{}{
				"scope":    "contract_deployment",
				"deployer": "*",
			},
		},
	}

	for _, spec := range specs {
		if err := c.registerPredicate(ctx, spec); err != nil {
			return fmt.Errorf("failed to register predicate %s: %w", spec.name, err)
		}
		c.log.Info("Chainhook predicate registered", "name", spec.name)
	}
	return nil
}

func (c *ChainhookClient) registerPredicate(ctx context.Context, spec predicateSpec) error {
	predicate := map[string]interface{}{
		"name":    spec.name,
		"version": 1,
		"chain":   "stacks",
		"networks": map[string]interface{}{
			c.network: map[string]interface{}{
				"if_this": spec.ifThis,
				"then_that": map[string]interface{}{
					"http_post": map[string]interface{}{
						"url":                  c.webhookBase + spec.path,
						"authorization_header": "Bearer " + c.authToken,
					},
				},
			},
		},
	}

	body, err := json.Marshal(predicate)
	if err != nil {
		return fmt.Errorf("failed to encode predicate: %w", err)
	}

	url := fmt.Sprintf("%s/%s/chainhooks", chainhookAPIBase, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("platform returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
