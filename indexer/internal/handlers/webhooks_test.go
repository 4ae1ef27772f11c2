package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"template-hub-indexer/indexer/database"
	"template-hub-indexer/indexer/internal/models"
	"template-hub-indexer/indexer/internal/services"
	"template-hub-indexer/shared/config"
)

const escrowTemplateCode = "(define-public (deposit (amount uint)) (stx-transfer? amount tx-sender (as-contract tx-sender)))"

type recordingStore struct {
	mints       []models.MintEvent
	transfers   []models.TransferEvent
	deployments []models.DeploymentEvent

	seenTxIDs map[string]bool

	mintAnalyticsCalls       int
	deploymentAnalyticsCalls int
	lastDeploymentTemplate   *int

	prefs map[string]*models.NotificationPreferences
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		seenTxIDs: make(map[string]bool),
		prefs:     make(map[string]*models.NotificationPreferences),
	}
}

func (s *recordingStore) InsertMint(event *models.MintEvent) error {
	if s.seenTxIDs[event.TxID] {
		return database.ErrDuplicateEvent
	}
	s.seenTxIDs[event.TxID] = true
	s.mints = append(s.mints, *event)
	return nil
}

func (s *recordingStore) InsertTransfer(event *models.TransferEvent) error {
	if s.seenTxIDs[event.TxID] {
		return database.ErrDuplicateEvent
	}
	s.seenTxIDs[event.TxID] = true
	s.transfers = append(s.transfers, *event)
	return nil
}

func (s *recordingStore) InsertDeployment(event *models.DeploymentEvent) error {
	if s.seenTxIDs[event.TxID] {
		return database.ErrDuplicateEvent
	}
	s.seenTxIDs[event.TxID] = true
	s.deployments = append(s.deployments, *event)
	return nil
}

func (s *recordingStore) ApplyMintAnalytics(string, int, int64, int64) error {
	s.mintAnalyticsCalls++
	return nil
}

func (s *recordingStore) ApplyDeploymentAnalytics(_ string, templateID *int, _ int64) error {
	s.deploymentAnalyticsCalls++
	s.lastDeploymentTemplate = templateID
	return nil
}

func (s *recordingStore) TopUsers(int) ([]models.UserAnalytics, error) { return nil, nil }
func (s *recordingStore) AllTemplateAnalytics() ([]models.TemplateAnalytics, error) {
	return nil, nil
}
func (s *recordingStore) UpdateUserBadges(string, []string, int64) error { return nil }
func (s *recordingStore) UpdateUserRank(string, int) error               { return nil }
func (s *recordingStore) UpdateTemplateRanking(int, float64, int) error  { return nil }

func (s *recordingStore) Preferences(user string) (*models.NotificationPreferences, error) {
	if p, ok := s.prefs[user]; ok {
		return p, nil
	}
	return &models.NotificationPreferences{UserAddress: user, NotifyOnMint: true}, nil
}

func (s *recordingStore) UpsertPreferences(p *models.NotificationPreferences) error {
	s.prefs[p.UserAddress] = p
	return nil
}

func (s *recordingStore) TemplateWatchers(int) ([]models.NotificationPreferences, error) {
	return nil, nil
}

func newTestRouter(t *testing.T, store database.Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := testLogger(t)
	hub := services.NewHub(log)
	verifier := services.NewVerificationService([]services.CatalogTemplate{
		{ID: 7, Name: "escrow", Code: escrowTemplateCode},
	})
	notifier := services.NewNotifier(store, hub, nil, log)
	handler := NewHandler(store, verifier, hub, notifier, log, 5_000_000)

	cfg := &config.Config{}
	cfg.RateLimit = config.RateLimitConfig{Requests: 100, WindowSeconds: 60}

	router := gin.New()
	handler.SetupRoutes(router, cfg, "s3cret")
	return router
}

func postWebhook(router *gin.Engine, path, payload string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer s3cret")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const mintPayload = `{
	"apply": [{
		"block_identifier": {"index": 150000},
		"timestamp": 1700000000,
		"transaction": {
			"transaction_identifier": {"hash": "0xmint1"},
			"metadata": {"sender": "SPAAA", "success": true}
		},
		"contract_call": {
			"contract_id": "SPAAA.template-hub",
			"function_name": "mint-template-access",
			"function_args": [{"uint": "46"}]
		}
	}],
	"network": "mainnet"
}`

func TestMintWebhook(t *testing.T) {
	store := newRecordingStore()
	router := newTestRouter(t, store)

	rec := postWebhook(router, "/api/webhooks/mint", mintPayload)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success   bool `json:"success"`
		Processed int  `json:"processed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Processed)

	require.Len(t, store.mints, 1)
	assert.Equal(t, "0xmint1", store.mints[0].TxID)
	assert.Equal(t, 46, store.mints[0].TemplateID)
	assert.Equal(t, 1, store.mintAnalyticsCalls)
}

func TestMintWebhookRedeliverySkipsAnalytics(t *testing.T) {
	store := newRecordingStore()
	router := newTestRouter(t, store)

	first := postWebhook(router, "/api/webhooks/mint", mintPayload)
	require.Equal(t, http.StatusOK, first.Code)
	second := postWebhook(router, "/api/webhooks/mint", mintPayload)
	require.Equal(t, http.StatusOK, second.Code)

	// The retry acknowledges the same amount of work but writes nothing new.
	var resp struct {
		Success   bool `json:"success"`
		Processed int  `json:"processed"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Processed)

	assert.Len(t, store.mints, 1)
	assert.Equal(t, 1, store.mintAnalyticsCalls)
}

func TestWebhookRejectsMissingAuth(t *testing.T) {
	router := newTestRouter(t, newRecordingStore())

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/mint", strings.NewReader(mintPayload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookMalformedEnvelope(t *testing.T) {
	store := newRecordingStore()
	router := newTestRouter(t, store)

	rec := postWebhook(router, "/api/webhooks/mint", `{"unexpected": true}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp struct {
		Success   bool `json:"success"`
		Processed int  `json:"processed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, 0, resp.Processed)
	assert.Empty(t, store.mints)
}

func TestTransferWebhook(t *testing.T) {
	store := newRecordingStore()
	router := newTestRouter(t, store)

	payload := `{
		"apply": [{
			"block_identifier": {"index": 150001},
			"timestamp": 1700000100,
			"transaction": {
				"transaction_identifier": {"hash": "0xtransfer1"},
				"metadata": {"sender": "SPAAA", "success": true}
			},
			"contract_call": {
				"contract_id": "SPAAA.template-hub",
				"function_name": "transfer",
				"function_args": [{"uint": "3"}, {"principal": "SPAAA"}, {"principal": "SPBBB"}]
			}
		}],
		"network": "mainnet"
	}`
	rec := postWebhook(router, "/api/webhooks/transfer", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, store.transfers, 1)
	assert.Equal(t, "SPBBB", store.transfers[0].ToAddress)
	assert.Equal(t, 0, store.mintAnalyticsCalls)
	assert.Equal(t, 0, store.deploymentAnalyticsCalls)
}

func TestDeploymentWebhookVerifiesAgainstCatalog(t *testing.T) {
	store := newRecordingStore()
	router := newTestRouter(t, store)

	payload := `{
		"apply": [{
			"block_identifier": {"index": 150002},
			"timestamp": 1700000200,
			"transaction": {
				"transaction_identifier": {"hash": "0xdeploy1"},
				"metadata": {"sender": "SPAAA", "success": true}
			},
			"contract_deployment": {
				"contract_identifier": "SPAAA.my-escrow",
				"code_body": ` + mustJSON(escrowTemplateCode) + `
			}
		}],
		"network": "mainnet"
	}`
	rec := postWebhook(router, "/api/webhooks/deployment", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, store.deployments, 1)
	dep := store.deployments[0]
	assert.True(t, dep.Verified)
	require.NotNil(t, dep.TemplateID)
	assert.Equal(t, 7, *dep.TemplateID)
	assert.NotEmpty(t, dep.CodeHash)

	assert.Equal(t, 1, store.deploymentAnalyticsCalls)
	require.NotNil(t, store.lastDeploymentTemplate)
	assert.Equal(t, 7, *store.lastDeploymentTemplate)
}

func TestDeploymentWebhookUnmatchedCode(t *testing.T) {
	store := newRecordingStore()
	router := newTestRouter(t, store)

	payload := `{
		"apply": [{
			"block_identifier": {"index": 150003},
			"timestamp": 1700000300,
			"transaction": {
				"transaction_identifier": {"hash": "0xdeploy2"},
				"metadata": {"sender": "SPAAA", "success": true}
			},
			"contract_deployment": {
				"contract_identifier": "SPAAA.original-work",
				"code_body": "(define-public (totally-original) (ok u42))"
			}
		}],
		"network": "mainnet"
	}`
	rec := postWebhook(router, "/api/webhooks/deployment", payload)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, store.deployments, 1)
	dep := store.deployments[0]
	assert.False(t, dep.Verified)
	assert.Nil(t, dep.TemplateID)
	assert.NotEmpty(t, dep.CodeHash)
	assert.Nil(t, store.lastDeploymentTemplate)
	assert.Equal(t, 1, store.deploymentAnalyticsCalls)
}

func TestPreferencesRoundTrip(t *testing.T) {
	store := newRecordingStore()
	router := newTestRouter(t, store)

	body := `{"email": "alice@example.com", "watch_templates": [3, 46], "notify_on_mint": true}`
	req := httptest.NewRequest(http.MethodPut, "/api/preferences/SPAAA", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/api/preferences/SPAAA", nil))
	require.Equal(t, http.StatusOK, getRec.Code)

	var prefs models.NotificationPreferences
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &prefs))
	assert.Equal(t, "SPAAA", prefs.UserAddress)
	require.NotNil(t, prefs.Email)
	assert.Equal(t, "alice@example.com", *prefs.Email)
	assert.Equal(t, []int64{3, 46}, []int64(prefs.WatchTemplates))
}

func TestUpdatePreferencesRejectsOutOfRangeWatchList(t *testing.T) {
	store := newRecordingStore()
	router := newTestRouter(t, store)

	for _, body := range []string{
		`{"watch_templates": [0]}`,
		`{"watch_templates": [999]}`,
		`{"watch_templates": [3, 51]}`,
	} {
		req := httptest.NewRequest(http.MethodPut, "/api/preferences/SPAAA", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s must be rejected", body)
	}
	assert.Empty(t, store.prefs)
}

func TestUpdatePreferencesRejectsMalformedEmail(t *testing.T) {
	store := newRecordingStore()
	router := newTestRouter(t, store)

	body := `{"email": "not-an-email", "watch_templates": [3]}`
	req := httptest.NewRequest(http.MethodPut, "/api/preferences/SPAAA", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.prefs)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, newRecordingStore())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status           string `json:"status"`
		WebsocketClients int    `json:"websocket_clients"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.WebsocketClients)
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
