// Package session exposes the session lifecycle over HTTP. It is a thin
// surface: validation of the model name happens here against the registry,
// everything else is delegated to the session service.
package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pwalczyk/chatkeeper/internal/model/registry"
	sessionService "github.com/pwalczyk/chatkeeper/internal/service/session"
	"github.com/pwalczyk/chatkeeper/pkg/utils"
)

// Handler serves the session REST routes.
type Handler struct {
	svc              *sessionService.Service
	models           registry.Store
	autoGreetDefault bool
}

// New creates the session handler.
func New(svc *sessionService.Service, models registry.Store, autoGreetDefault bool) *Handler {
	return &Handler{svc: svc, models: models, autoGreetDefault: autoGreetDefault}
}

// RegisterRoutes attaches the session routes to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleStart)
	r.Get("/sessions", h.handleList)
	r.Post("/sessions/{sessionID}/messages", h.handleChat)
	r.Get("/sessions/{sessionID}/last", h.handleLastExchange)
	r.Patch("/sessions/{sessionID}", h.handleRename)
	r.Delete("/sessions/{sessionID}", h.handleEnd)
	r.Get("/models", h.handleModels)
}

// resolveModel maps a user-supplied model name to its canonical registry
// entry, case-insensitively.
func (h *Handler) resolveModel(name string) (string, bool) {
	m, ok := h.models.Find(name)
	if !ok {
		return "", false
	}
	return m.Name, true
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID    string `json:"userId"`
		Model     string `json:"model"`
		SessionID string `json:"sessionId"`
		Name      string `json:"name"`
		AutoGreet *bool  `json:"autoGreet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId is required")
		return
	}
	model, ok := h.resolveModel(payload.Model)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "model not found")
		return
	}

	autoGreet := h.autoGreetDefault
	if payload.AutoGreet != nil {
		autoGreet = *payload.AutoGreet
	}

	id, greeting, err := h.svc.Start(r.Context(), payload.UserID, model, payload.SessionID, payload.Name, autoGreet)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusCreated
	if payload.SessionID != "" && id == payload.SessionID {
		// Idempotent join of an already-active session.
		status = http.StatusOK
	}

	resp := map[string]interface{}{"sessionId": id}
	if greeting != nil {
		resp["greeting"] = greeting
	}
	utils.RespondJSON(w, status, resp)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		UserID string `json:"userId"`
		Model  string `json:"model"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.UserID == "" || payload.Text == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId and text are required")
		return
	}
	model, ok := h.resolveModel(payload.Model)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "model not found")
		return
	}

	reply, err := h.svc.Chat(r.Context(), payload.UserID, model, sessionID, payload.Text)
	if err != nil {
		if errors.Is(err, sessionService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, reply)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		utils.RespondError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	utils.RespondJSON(w, http.StatusOK, h.svc.List(r.Context(), user))
}

func (h *Handler) handleLastExchange(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	user := r.URL.Query().Get("user")
	model, ok := h.resolveModel(r.URL.Query().Get("model"))
	if user == "" || !ok {
		utils.RespondError(w, http.StatusBadRequest, "user and a known model are required")
		return
	}

	exchange, found, err := h.svc.LastExchange(r.Context(), user, model, sessionID)
	if err != nil {
		if errors.Is(err, sessionService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		utils.RespondError(w, http.StatusNotFound, "no completed exchange yet")
		return
	}

	utils.RespondJSON(w, http.StatusOK, exchange)
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		UserID string `json:"userId"`
		Model  string `json:"model"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	model, ok := h.resolveModel(payload.Model)
	if payload.UserID == "" || !ok {
		utils.RespondError(w, http.StatusBadRequest, "userId and a known model are required")
		return
	}

	renamed, err := h.svc.Rename(r.Context(), payload.UserID, model, sessionID, payload.Name)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !renamed {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]bool{"renamed": true})
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	user := r.URL.Query().Get("user")
	model, ok := h.resolveModel(r.URL.Query().Get("model"))
	if user == "" || !ok {
		utils.RespondError(w, http.StatusBadRequest, "user and a known model are required")
		return
	}

	ended, err := h.svc.End(r.Context(), user, model, sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ended {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]bool{"ended": true})
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.models.List())
}
