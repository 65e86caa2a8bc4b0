package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wakabalab/eikaiwa/backend/internal/handler/chat"
	"github.com/wakabalab/eikaiwa/backend/internal/handler/persona"
	speechHandler "github.com/wakabalab/eikaiwa/backend/internal/handler/speech"
	"github.com/wakabalab/eikaiwa/backend/internal/handler/stream"
	middlewarePkg "github.com/wakabalab/eikaiwa/backend/internal/middleware"
	personaModel "github.com/wakabalab/eikaiwa/backend/internal/model/persona"
	"github.com/wakabalab/eikaiwa/backend/internal/service/conversation"
	"github.com/wakabalab/eikaiwa/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. speechSvc may be nil
// (degraded text-only mode); the controller is always present.
func NewRouter(personas personaModel.Store, convSvc *conversation.Service, controller *conversation.Controller, speechSvc speechHandler.SpeechService) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	personaH := persona.New(personas)
	chatH := chat.New(controller, convSvc, personas)
	streamH := stream.New(controller)

	r.Route("/api", func(api chi.Router) {
		personaH.RegisterRoutes(api)
		chatH.RegisterRoutes(api)

		api.Get("/stream/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
			sessionID := chi.URLParam(r, "sessionID")
			userMessage := r.URL.Query().Get("message")

			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			if err := streamH.HandleStreamRequest(r.Context(), w, sessionID, userMessage); err != nil && !stream.IsClientFault(err) {
				log.Printf("[stream] error handling request: %v", err)
			}
		})

		if speechSvc != nil {
			sh := speechHandler.New(speechSvc, convSvc, personas)
			sh.RegisterRoutes(api, controller)
		}
	})

	return r
}
