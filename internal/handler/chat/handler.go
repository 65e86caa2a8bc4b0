package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wakabalab/eikaiwa/backend/internal/model/persona"
	"github.com/wakabalab/eikaiwa/backend/internal/service/conversation"
	"github.com/wakabalab/eikaiwa/backend/pkg/utils"
)

// Handler exposes session lifecycle and transcript access over HTTP.
type Handler struct {
	controller   *conversation.Controller
	convSvc      *conversation.Service
	personaStore persona.Store
}

// New creates the chat handler.
func New(controller *conversation.Controller, convSvc *conversation.Service, personaStore persona.Store) *Handler {
	return &Handler{
		controller:   controller,
		convSvc:      convSvc,
		personaStore: personaStore,
	}
}

// RegisterRoutes mounts the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}/transcript", h.handleTranscript)
	r.Post("/session/{sessionID}/persona", h.handleSwitchPersona)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PersonaID string `json:"personaId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.PersonaID == "" {
		utils.RespondError(w, http.StatusBadRequest, "personaId is required")
		return
	}

	session, greeting, err := h.controller.StartSession(r.Context(), payload.PersonaID, conversation.TurnEvents{})
	if err != nil {
		if errors.Is(err, conversation.ErrPersonaNotFound) {
			utils.RespondError(w, http.StatusBadRequest, "persona not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"session":  session,
		"greeting": greeting,
	})
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	turns, err := h.convSvc.Transcript(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, turns)
}

func (h *Handler) handleSwitchPersona(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		PersonaID string `json:"personaId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.PersonaID == "" {
		utils.RespondError(w, http.StatusBadRequest, "personaId is required")
		return
	}

	seed, err := h.controller.SwitchPersona(r.Context(), sessionID, payload.PersonaID, conversation.TurnEvents{})
	switch {
	case errors.Is(err, conversation.ErrPersonaUnchanged):
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "unchanged"})
	case errors.Is(err, conversation.ErrPersonaNotFound):
		utils.RespondError(w, http.StatusBadRequest, "persona not found")
	case errors.Is(err, conversation.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, conversation.ErrTurnInFlight):
		utils.RespondError(w, http.StatusConflict, "a response is still in flight")
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	default:
		utils.RespondJSON(w, http.StatusOK, seed)
	}
}
