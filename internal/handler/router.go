package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	sessionHandler "github.com/pwalczyk/chatkeeper/internal/handler/session"
	"github.com/pwalczyk/chatkeeper/internal/handler/stream"
	"github.com/pwalczyk/chatkeeper/internal/handler/ws"
	middlewarePkg "github.com/pwalczyk/chatkeeper/internal/middleware"
	"github.com/pwalczyk/chatkeeper/internal/model/registry"
	sessionService "github.com/pwalczyk/chatkeeper/internal/service/session"
	"github.com/pwalczyk/chatkeeper/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(svc *sessionService.Service, models registry.Store, autoGreet bool) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sessHandler := sessionHandler.New(svc, models, autoGreet)
	streamHandler := stream.New(svc)
	wsHandler := ws.New(svc, models)

	r.Route("/api", func(api chi.Router) {
		sessHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)

		api.Get("/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "sessionID")
			user := r.URL.Query().Get("user")
			modelName := r.URL.Query().Get("model")
			message := r.URL.Query().Get("message")

			model, ok := models.Find(modelName)
			if user == "" || message == "" || !ok {
				utils.RespondError(w, http.StatusBadRequest, "user, a known model and message are required")
				return
			}

			if err := streamHandler.HandleTurn(r.Context(), w, user, model.Name, sessionID, message); err != nil {
				log.Printf("[stream] error handling request: %v", err)
			}
		})
	})

	return r
}
