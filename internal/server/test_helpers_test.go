package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clinforge/relay/backend/internal/auth"
	"github.com/clinforge/relay/backend/internal/entities"
	"github.com/clinforge/relay/backend/internal/mutation"
	"github.com/clinforge/relay/backend/internal/realtime"
	"github.com/clinforge/relay/backend/internal/workflow"
	"github.com/gin-gonic/gin"
	githubsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type stubTokenManager struct {
	subject     string
	validateErr error
}

func (s stubTokenManager) IssueToken(context.Context, string) (string, int64, error) {
	return "stub-token", 60, nil
}

func (s stubTokenManager) ValidateToken(string) (string, error) {
	if s.validateErr != nil {
		return "", s.validateErr
	}
	return s.subject, nil
}

type testEnv struct {
	server *httptest.Server
	db     *gorm.DB
	tokens *auth.TokenIssuer
	hub    *realtime.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(githubsqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to unwrap database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(entities.AllModels()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	tokens := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "relay-auth",
		Audience:      "relay-api",
		TokenTTL:      time.Minute,
	})

	hub := realtime.NewHub(realtime.HubConfig{})
	dispatcher := realtime.NewDispatcher(hub, nil)

	pipeline, err := mutation.NewPipeline(mutation.PipelineConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct pipeline: %v", err)
	}
	engine, err := workflow.NewEngine(workflow.EngineConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct workflow engine: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: tokens,
		Pipeline:     pipeline,
		Workflow:     engine,
		Hub:          hub,
		Dispatcher:   dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	t.Cleanup(hub.Shutdown)

	return &testEnv{server: server, db: db, tokens: tokens, hub: hub}
}

func (env *testEnv) bearerToken(t *testing.T) string {
	t.Helper()
	token, _, err := env.tokens.IssueToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

// doJSON performs an authorized request and decodes the JSON response body.
func (env *testEnv) doJSON(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()

	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBufferString("{}")
	} else {
		reader = bytes.NewBufferString(body)
	}
	request, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()

	decoded := map[string]any{}
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return response.StatusCode, decoded
}

// createEntity posts to /api/:collection and returns the new record's id.
func (env *testEnv) createEntity(t *testing.T, token, collection, body string) uint {
	t.Helper()
	status, decoded := env.doJSON(t, http.MethodPost, "/api/"+collection, token, body)
	if status != http.StatusCreated {
		t.Fatalf("failed to create %s: status %d, body %v", collection, status, decoded)
	}
	data, ok := decoded["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data envelope in %v", decoded)
	}
	id, ok := data["id"].(float64)
	if !ok || id == 0 {
		t.Fatalf("missing id in %v", data)
	}
	return uint(id)
}

// seedTrackerChain creates the full parent chain and returns the tracker id.
func (env *testEnv) seedTrackerChain(t *testing.T, token string) uint {
	t.Helper()
	studyID := env.createEntity(t, token, "studies", `{"study_label":"ABC-123"}`)
	releaseID := env.createEntity(t, token, "database_releases",
		fmt.Sprintf(`{"study_id":%d,"label":"DR1"}`, studyID))
	effortID := env.createEntity(t, token, "reporting_efforts",
		fmt.Sprintf(`{"database_release_id":%d,"label":"RE1"}`, releaseID))
	packageID := env.createEntity(t, token, "packages", `{"name":"safety-tables"}`)
	itemID := env.createEntity(t, token, "package_items",
		fmt.Sprintf(`{"package_id":%d,"item_type":"table","subtype":"adverse_events","code":"t-ae-01"}`, packageID))

	status, decoded := env.doJSON(t, http.MethodPost, "/api/reporting_effort_items", token,
		fmt.Sprintf(`{"reporting_effort_id":%d,"package_item_id":%d,"auto_create_tracker":true}`, effortID, itemID))
	if status != http.StatusCreated {
		t.Fatalf("failed to create reporting effort item: status %d, body %v", status, decoded)
	}
	tracker, ok := decoded["tracker"].(map[string]any)
	if !ok {
		t.Fatalf("expected tracker in response, got %v", decoded)
	}
	trackerID, ok := tracker["id"].(float64)
	if !ok || trackerID == 0 {
		t.Fatalf("missing tracker id in %v", tracker)
	}
	return uint(trackerID)
}
