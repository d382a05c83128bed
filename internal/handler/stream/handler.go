// Package stream serves one chat turn over Server-Sent Events, forwarding
// reply fragments as the generation backend produces them.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	sessionService "github.com/pwalczyk/chatkeeper/internal/service/session"
	"github.com/pwalczyk/chatkeeper/pkg/utils"
)

// Handler manages streaming chat turns.
type Handler struct {
	svc *sessionService.Service
}

// New creates a new stream handler.
func New(svc *sessionService.Service) *Handler {
	return &Handler{svc: svc}
}

// Event is a streaming response chunk.
type Event struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Degraded  bool   `json:"degraded,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleTurn runs a chat turn for the session, emitting start, fragment and
// end events. The final end event carries the fully accumulated reply so
// clients that missed fragments can recover.
func (h *Handler) HandleTurn(ctx context.Context, w http.ResponseWriter, user, model, sessionID, message string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	utils.SendSSEChunk(w, flusher, Event{Event: "start", SessionID: sessionID})

	reply, err := h.svc.ChatStream(ctx, user, model, sessionID, message, func(fragment string) {
		utils.SendSSEChunk(w, flusher, Event{
			Event:     "fragment",
			SessionID: sessionID,
			Content:   fragment,
		})
	})
	if err != nil {
		msg := "chat turn failed"
		if errors.Is(err, sessionService.ErrSessionNotFound) {
			msg = "session not found"
		}
		utils.SendSSEChunk(w, flusher, Event{Event: "error", SessionID: sessionID, Error: msg})
		return err
	}

	utils.SendSSEChunk(w, flusher, Event{
		Event:     "end",
		SessionID: sessionID,
		Content:   reply.Text,
		Degraded:  reply.Degraded,
		Finished:  true,
	})

	log.Printf("[stream] completed turn for session=%s model=%s", sessionID, model)
	return nil
}
