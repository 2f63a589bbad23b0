package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pizarraia/promptboard/internal/db"
	"github.com/pizarraia/promptboard/internal/metrics"
	"github.com/pizarraia/promptboard/internal/session"
	"github.com/pizarraia/promptboard/internal/ws"
)

type API struct {
	hub      *ws.Hub
	database *db.Database
	logger   zerolog.Logger
}

func New(hub *ws.Hub, database *db.Database, logger zerolog.Logger) *API {
	return &API{
		hub:      hub,
		database: database,
		logger:   logger,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_sessions": a.hub.GetSessionCount(),
		"active_clients":  a.hub.GetClientCount(),
		"sessions":        a.hub.GetActiveSessions(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["prompt_count"] = dbStats["prompt_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Prompt handlers

type CreatePromptRequest struct {
	Content string `json:"content"`
}

type UpdatePromptRequest struct {
	Content string `json:"content"`
}

func (a *API) ListPromptsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	prompts, err := a.database.ListPrompts(limit, offset)
	if err != nil {
		a.logger.Error().Err(err).Msg("list prompts failed")
		errorResponse(w, http.StatusInternalServerError, "Failed to list prompts")
		return
	}
	if prompts == nil {
		prompts = []db.Prompt{}
	}

	jsonResponse(w, http.StatusOK, prompts)
}

func (a *API) CreatePromptHandler(w http.ResponseWriter, r *http.Request) {
	var req CreatePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		errorResponse(w, http.StatusBadRequest, "content is required")
		return
	}

	prompt, err := a.database.CreatePrompt(req.Content)
	if err != nil {
		a.logger.Error().Err(err).Msg("create prompt failed")
		errorResponse(w, http.StatusInternalServerError, "Failed to create prompt")
		return
	}

	metrics.PromptsCreated.Inc()
	a.hub.NotifyPromptCreated(prompt, r.URL.Query().Get("session"))

	jsonResponse(w, http.StatusCreated, prompt)
}

func (a *API) GetPromptHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	prompt, err := a.database.GetPrompt(id)
	if err != nil {
		a.logger.Error().Err(err).Str("prompt", id).Msg("get prompt failed")
		errorResponse(w, http.StatusInternalServerError, "Failed to get prompt")
		return
	}
	if prompt == nil {
		errorResponse(w, http.StatusNotFound, "Prompt not found")
		return
	}

	jsonResponse(w, http.StatusOK, prompt)
}

func (a *API) UpdatePromptHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdatePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		errorResponse(w, http.StatusBadRequest, "content is required")
		return
	}

	prompt, err := a.database.UpdatePrompt(id, req.Content)
	if err != nil {
		a.logger.Error().Err(err).Str("prompt", id).Msg("update prompt failed")
		errorResponse(w, http.StatusInternalServerError, "Failed to update prompt")
		return
	}
	if prompt == nil {
		errorResponse(w, http.StatusNotFound, "Prompt not found")
		return
	}

	a.hub.NotifyPromptUpdated(prompt)

	jsonResponse(w, http.StatusOK, prompt)
}

func (a *API) DeletePromptHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := a.database.DeletePrompt(id)
	if err != nil {
		a.logger.Error().Err(err).Str("prompt", id).Msg("delete prompt failed")
		errorResponse(w, http.StatusInternalServerError, "Failed to delete prompt")
		return
	}
	if !deleted {
		errorResponse(w, http.StatusNotFound, "Prompt not found")
		return
	}

	metrics.PromptsDeleted.Inc()
	a.hub.NotifyPromptDeleted(id)

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Prompt deleted"})
}

// ActivePromptResponse reports the prompt a session currently has in
// focus. Active is null when nothing has been recorded. The cached
// content is returned even if the underlying prompt was deleted.
type ActivePromptResponse struct {
	Session string     `json:"session"`
	Active  *db.Prompt `json:"active"`
}

func (a *API) ActivePromptHandler(w http.ResponseWriter, r *http.Request) {
	key := session.KeyFrom(r.URL.Query().Get("session"))

	resp := ActivePromptResponse{Session: string(key)}

	if sess, ok := a.hub.Registry().Lookup(key); ok {
		if active, recorded := sess.Active(); recorded {
			resp.Active = &db.Prompt{
				ID:        active.ID,
				Content:   active.Content,
				CreatedAt: active.CreatedAt,
			}
		}
	}

	jsonResponse(w, http.StatusOK, resp)
}
