// Package ws serves chat turns over a single WebSocket connection: the
// client sends turn requests, the server answers each with reply fragments
// followed by a final message.
package ws

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pwalczyk/chatkeeper/internal/model/registry"
	sessionService "github.com/pwalczyk/chatkeeper/internal/service/session"
)

// Handler upgrades chat connections and runs their turn loop.
type Handler struct {
	svc      *sessionService.Service
	models   registry.Store
	upgrader websocket.Upgrader
}

// New creates the WebSocket chat handler.
func New(svc *sessionService.Service, models registry.Store) *Handler {
	return &Handler{
		svc:    svc,
		models: models,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes attaches the WebSocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.handleChat)
}

type turnRequest struct {
	UserID    string `json:"userId"`
	Model     string `json:"model"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content,omitempty"`
	Degraded  bool   `json:"degraded,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req turnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[ws] read failed: %v", err)
			}
			return
		}

		h.runTurn(r, conn, req)
	}
}

func (h *Handler) runTurn(r *http.Request, conn *websocket.Conn, req turnRequest) {
	send := func(msg outgoingMessage) {
		msg.Timestamp = time.Now().UnixMilli()
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("[ws] write failed: %v", err)
		}
	}

	if req.UserID == "" || req.Text == "" {
		send(outgoingMessage{Type: "error", Error: "userId and text are required"})
		return
	}
	model, ok := h.models.Find(req.Model)
	if !ok {
		send(outgoingMessage{Type: "error", Error: "model not found"})
		return
	}

	reply, err := h.svc.ChatStream(r.Context(), req.UserID, model.Name, req.SessionID, req.Text,
		func(fragment string) {
			send(outgoingMessage{Type: "fragment", SessionID: req.SessionID, Content: fragment})
		})
	if err != nil {
		msg := "chat turn failed"
		if errors.Is(err, sessionService.ErrSessionNotFound) {
			msg = "session not found"
		}
		send(outgoingMessage{Type: "error", SessionID: req.SessionID, Error: msg})
		return
	}

	send(outgoingMessage{
		Type:      "reply",
		SessionID: req.SessionID,
		Content:   reply.Text,
		Degraded:  reply.Degraded,
	})
}
