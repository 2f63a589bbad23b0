package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pizarraia/promptboard/internal/db"
	"github.com/pizarraia/promptboard/internal/ratelimit"
	"github.com/pizarraia/promptboard/internal/session"
	"github.com/pizarraia/promptboard/internal/ws"
)

func setupTestServer(t *testing.T) (http.Handler, *db.Database, *ws.Hub, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "promptboard-api-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	database, err := db.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	hub := ws.NewHub(database, session.NewRegistry(), zerolog.Nop())
	go hub.Run()

	api := New(hub, database, zerolog.Nop())
	router := NewRouter(api, hub, zerolog.Nop(), nil)

	cleanup := func() {
		database.Close()
		os.RemoveAll(tmpDir)
	}

	return router, database, hub, cleanup
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	router, _, _, cleanup := setupTestServer(t)
	defer cleanup()

	w := doJSON(t, router, "GET", "/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	router, _, _, cleanup := setupTestServer(t)
	defer cleanup()

	w := doJSON(t, router, "GET", "/api/stats", nil)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	for _, key := range []string{"active_sessions", "active_clients", "prompt_count"} {
		if _, ok := response[key]; !ok {
			t.Errorf("Response should contain '%s'", key)
		}
	}

	sessions, ok := response["sessions"].(map[string]any)
	if !ok {
		t.Fatalf("Response should contain a per-session breakdown, got %T", response["sessions"])
	}
	if len(sessions) != 0 {
		t.Errorf("No connections yet, expected empty breakdown, got %v", sessions)
	}
}

func TestCreatePrompt(t *testing.T) {
	router, _, _, cleanup := setupTestServer(t)
	defer cleanup()

	tests := []struct {
		name           string
		body           map[string]string
		expectedStatus int
	}{
		{
			name:           "Valid prompt",
			body:           map[string]string{"content": "a portrait of a fox"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Empty content should fail",
			body:           map[string]string{"content": ""},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Whitespace content should fail",
			body:           map[string]string{"content": "   "},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, "POST", "/api/prompts", tt.body)
			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
		})
	}
}

func TestCreatePromptInvalidBody(t *testing.T) {
	router, _, _, cleanup := setupTestServer(t)
	defer cleanup()

	req := httptest.NewRequest("POST", "/api/prompts", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestGetPrompt(t *testing.T) {
	router, database, _, cleanup := setupTestServer(t)
	defer cleanup()

	created, err := database.CreatePrompt("find me")
	if err != nil {
		t.Fatalf("Failed to create prompt: %v", err)
	}

	w := doJSON(t, router, "GET", "/api/prompts/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var prompt db.Prompt
	if err := json.NewDecoder(w.Body).Decode(&prompt); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if prompt.ID != created.ID || prompt.Content != "find me" {
		t.Errorf("Unexpected prompt: %+v", prompt)
	}

	w = doJSON(t, router, "GET", "/api/prompts/non-existent", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestListPrompts(t *testing.T) {
	router, database, _, cleanup := setupTestServer(t)
	defer cleanup()

	w := doJSON(t, router, "GET", "/api/prompts", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	var empty []db.Prompt
	if err := json.NewDecoder(w.Body).Decode(&empty); err != nil {
		t.Fatalf("Empty list should decode as an array: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected empty list, got %d", len(empty))
	}

	for i := 0; i < 3; i++ {
		if _, err := database.CreatePrompt(fmt.Sprintf("prompt %d", i)); err != nil {
			t.Fatalf("Failed to create prompt: %v", err)
		}
	}

	w = doJSON(t, router, "GET", "/api/prompts", nil)
	var prompts []db.Prompt
	if err := json.NewDecoder(w.Body).Decode(&prompts); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(prompts) != 3 {
		t.Errorf("Expected 3 prompts, got %d", len(prompts))
	}
}

func TestUpdatePrompt(t *testing.T) {
	router, database, _, cleanup := setupTestServer(t)
	defer cleanup()

	created, err := database.CreatePrompt("before")
	if err != nil {
		t.Fatalf("Failed to create prompt: %v", err)
	}

	w := doJSON(t, router, "PUT", "/api/prompts/"+created.ID, map[string]string{"content": "after"})
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	stored, err := database.GetPrompt(created.ID)
	if err != nil || stored == nil {
		t.Fatalf("Failed to re-read prompt: %v", err)
	}
	if stored.Content != "after" {
		t.Errorf("Expected content 'after', got '%s'", stored.Content)
	}

	w = doJSON(t, router, "PUT", "/api/prompts/non-existent", map[string]string{"content": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestDeletePrompt(t *testing.T) {
	router, database, _, cleanup := setupTestServer(t)
	defer cleanup()

	created, err := database.CreatePrompt("doomed")
	if err != nil {
		t.Fatalf("Failed to create prompt: %v", err)
	}

	w := doJSON(t, router, "DELETE", "/api/prompts/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	w = doJSON(t, router, "DELETE", "/api/prompts/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Deleting twice should 404, got %d", w.Code)
	}
}

func TestActivePromptEndpoint(t *testing.T) {
	router, _, _, cleanup := setupTestServer(t)
	defer cleanup()

	// Nothing recorded yet.
	w := doJSON(t, router, "GET", "/api/active?session=studio", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp ActivePromptResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Active != nil {
		t.Errorf("Fresh session should have no active prompt, got %+v", resp.Active)
	}
	if resp.Session != "studio" {
		t.Errorf("Expected session 'studio', got '%s'", resp.Session)
	}

	// Creating through the API records the active prompt for the
	// originating session.
	w = doJSON(t, router, "POST", "/api/prompts?session=studio", map[string]string{"content": "in focus"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	var created db.Prompt
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	w = doJSON(t, router, "GET", "/api/active?session=studio", nil)
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Active == nil || resp.Active.ID != created.ID {
		t.Errorf("Expected active prompt %s, got %+v", created.ID, resp.Active)
	}

	// Other sessions are unaffected.
	w = doJSON(t, router, "GET", "/api/active?session=other", nil)
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Active != nil {
		t.Errorf("Other session should have no active prompt, got %+v", resp.Active)
	}

	// Deleting the prompt leaves the cached copy in place.
	w = doJSON(t, router, "DELETE", "/api/prompts/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	w = doJSON(t, router, "GET", "/api/active?session=studio", nil)
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Active == nil || resp.Active.Content != "in focus" {
		t.Errorf("Cached active prompt should survive deletion, got %+v", resp.Active)
	}

	// While the list no longer contains the record.
	w = doJSON(t, router, "GET", "/api/prompts", nil)
	var prompts []db.Prompt
	if err := json.NewDecoder(w.Body).Decode(&prompts); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	for _, p := range prompts {
		if p.ID == created.ID {
			t.Error("Deleted prompt should not appear in the list")
		}
	}
}

func TestRateLimitKeysOnClientIP(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "promptboard-api-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	database, err := db.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer database.Close()

	hub := ws.NewHub(database, session.NewRegistry(), zerolog.Nop())
	go hub.Run()

	limiter := ratelimit.NewPerClient(1, 1)
	defer limiter.Stop()

	api := New(hub, database, zerolog.Nop())
	router := NewRouter(api, hub, zerolog.Nop(), limiter)

	send := func(remoteAddr string) int {
		req := httptest.NewRequest("GET", "/api/stats", nil)
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	// Same IP on different ephemeral ports shares one bucket.
	if code := send("1.2.3.4:1111"); code != http.StatusOK {
		t.Errorf("First request should pass, got %d", code)
	}
	if code := send("1.2.3.4:2222"); code != http.StatusTooManyRequests {
		t.Errorf("Second request from the same IP should be limited, got %d", code)
	}

	// A different IP gets its own bucket.
	if code := send("5.6.7.8:3333"); code != http.StatusOK {
		t.Errorf("Request from a different IP should pass, got %d", code)
	}
}

func TestDefaultSessionKey(t *testing.T) {
	router, _, _, cleanup := setupTestServer(t)
	defer cleanup()

	w := doJSON(t, router, "GET", "/api/active", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp ActivePromptResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Session != "1" {
		t.Errorf("Absent session should default to \"1\", got '%s'", resp.Session)
	}
}
