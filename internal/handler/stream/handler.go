package stream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/wakabalab/eikaiwa/backend/internal/service/conversation"
	"github.com/wakabalab/eikaiwa/backend/pkg/utils"
)

// Handler streams assistant responses over Server-Sent Events.
type Handler struct {
	controller *conversation.Controller
}

// New creates the stream handler.
func New(controller *conversation.Controller) *Handler {
	return &Handler{controller: controller}
}

// StreamResponse is one SSE frame.
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	Audio     string `json:"audio,omitempty"` // base64 synthesized speech
	Format    string `json:"format,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HandleStreamRequest submits one user turn and streams the reply:
// start, delta per chunk, message with the full text, optionally audio,
// then end. A failed model call still ends the stream normally; the
// error message is the assistant turn, per the transcript contract.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, sessionID, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "start",
		SessionID: sessionID,
	})

	// Audio is captured rather than forwarded inline so the frame
	// order stays delta* -> message -> audio.
	var audio []byte
	events := conversation.TurnEvents{
		OnDelta: func(chunk string) {
			h.sendSSE(w, flusher, StreamResponse{
				Event:     "delta",
				SessionID: sessionID,
				Content:   chunk,
			})
		},
		OnAudio: func(b []byte) { audio = b },
	}

	turn, err := h.controller.SubmitUserTurn(ctx, sessionID, userMessage, events)
	if err != nil && turn.ID == "" {
		// Nothing was appended: blank input, unknown session, or a
		// turn already in flight.
		h.sendSSEError(w, flusher, err.Error())
		return err
	}
	if err != nil {
		log.Printf("[stream] model failure surfaced as error turn session=%s: %v", sessionID, err)
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "message",
		SessionID: sessionID,
		Content:   turn.Content,
	})

	if len(audio) > 0 {
		h.sendSSE(w, flusher, StreamResponse{
			Event:     "audio",
			SessionID: sessionID,
			Audio:     base64.StdEncoding.EncodeToString(audio),
			Format:    "mp3",
		})
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: sessionID,
		Finished:  true,
	})

	log.Printf("[stream] completed response for session=%s", sessionID)
	return nil
}

func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}

func (h *Handler) sendSSEError(w http.ResponseWriter, flusher http.Flusher, errorMsg string) {
	h.sendSSE(w, flusher, StreamResponse{
		Event: "error",
		Error: errorMsg,
	})
}

// IsClientFault reports whether err maps to a 4xx rather than a 5xx.
func IsClientFault(err error) bool {
	return errors.Is(err, conversation.ErrBlankInput) ||
		errors.Is(err, conversation.ErrSessionNotFound) ||
		errors.Is(err, conversation.ErrTurnInFlight)
}
