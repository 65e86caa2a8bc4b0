package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wakabalab/eikaiwa/backend/internal/model/persona"
	"github.com/wakabalab/eikaiwa/backend/internal/service/conversation"
)

// WebSocketHandler runs the full voice loop over one connection:
// buffered microphone audio in, transcript and synthesized speech out.
type WebSocketHandler struct {
	speechSvc    SpeechService
	controller   *conversation.Controller
	convSvc      *conversation.Service
	personaStore persona.Store
	upgrader     websocket.Upgrader
}

// NewWebSocketHandler creates the voice-loop handler.
func NewWebSocketHandler(speechSvc SpeechService, controller *conversation.Controller, convSvc *conversation.Service, personaStore persona.Store) *WebSocketHandler {
	return &WebSocketHandler{
		speechSvc:    speechSvc,
		controller:   controller,
		convSvc:      convSvc,
		personaStore: personaStore,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes mounts the websocket endpoint.
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// AudioMessage carries one recorded chunk from the client.
type AudioMessage struct {
	AudioData  []byte `json:"audioData"`
	Format     string `json:"format"`
	Language   string `json:"language"`
	IsFinal    bool   `json:"isFinal"`
	ChunkIndex int    `json:"chunkIndex"`
}

// TextMessage carries a typed user turn.
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage adjusts the connection: persona switch, language and
// capability toggles.
type ConfigMessage struct {
	PersonaID  string `json:"personaId"`
	Language   string `json:"language"`
	ASREnabled *bool  `json:"asrEnabled,omitempty"`
	TTSEnabled *bool  `json:"ttsEnabled,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type connectionState struct {
	sessionID   string
	language    string
	asrEnabled  bool
	ttsEnabled  bool
	audioFormat string
	buffer      bytes.Buffer
}

func newConnectionState(sessionID string) *connectionState {
	return &connectionState{
		sessionID:  sessionID,
		language:   "en",
		asrEnabled: true,
		ttsEnabled: true,
	}
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, "sessionID is required", http.StatusBadRequest)
		return
	}

	session, err := h.convSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if _, ok := h.personaStore.FindByID(session.PersonaID); !ok {
		http.Error(w, "persona not found", http.StatusBadRequest)
		return
	}

	state := newConnectionState(sessionID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go h.pingLoop(ctx, conn)

	h.sendInfo(conn, sessionID, map[string]any{
		"type":     "connected",
		"persona":  session.PersonaID,
		"language": state.language,
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg inboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[websocket] read error: %v", err)
				}
				return
			}

			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if msg.SessionID != "" && msg.SessionID != sessionID {
				h.sendError(conn, "session mismatch")
				continue
			}

			h.handleMessage(ctx, conn, state, &msg)
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, msg *inboundMessage) {
	switch msg.Type {
	case "audio":
		h.handleAudioMessage(ctx, conn, state, msg.Data)
	case "text":
		h.handleTextMessage(ctx, conn, state, msg.Data)
	case "config":
		h.handleConfigMessage(ctx, conn, state, msg.Data)
	default:
		h.sendError(conn, "unsupported message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) handleAudioMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, raw json.RawMessage) {
	if !state.asrEnabled {
		h.sendInfo(conn, state.sessionID, map[string]any{"type": "asr", "enabled": false})
		return
	}

	var audio AudioMessage
	if err := json.Unmarshal(raw, &audio); err != nil {
		h.sendError(conn, "invalid audio payload")
		return
	}

	if len(audio.AudioData) > 0 {
		state.buffer.Write(audio.AudioData)
	}
	if audio.Format != "" {
		state.audioFormat = audio.Format
	}
	if audio.Language != "" {
		state.language = audio.Language
	}

	if audio.IsFinal {
		h.processBufferedAudio(ctx, conn, state)
	}
}

func (h *WebSocketHandler) processBufferedAudio(ctx context.Context, conn *websocket.Conn, state *connectionState) {
	audioBytes := append([]byte(nil), state.buffer.Bytes()...)
	state.buffer.Reset()

	if len(audioBytes) == 0 {
		return
	}

	format := state.audioFormat
	if format == "" {
		format = "wav"
	}

	log.Printf("[websocket] processing ASR audio session=%s format=%s bytes=%d", state.sessionID, format, len(audioBytes))

	asrResp, err := h.speechSvc.TranscribeBuffer(ctx, state.sessionID, audioBytes, format, state.language)
	if err != nil {
		h.sendError(conn, "speech recognition failed")
		return
	}

	h.sendInfo(conn, state.sessionID, map[string]any{
		"type":    "asr",
		"text":    asrResp.Text,
		"isFinal": true,
	})

	// No speech detected: never submit an empty turn.
	if asrResp.Text == "" {
		return
	}

	h.processUserText(ctx, conn, state, asrResp.Text)
}

func (h *WebSocketHandler) handleTextMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, raw json.RawMessage) {
	var text TextMessage
	if err := json.Unmarshal(raw, &text); err != nil {
		h.sendError(conn, "invalid text payload")
		return
	}
	if text.Text == "" {
		return
	}

	h.processUserText(ctx, conn, state, text.Text)
}

func (h *WebSocketHandler) processUserText(ctx context.Context, conn *websocket.Conn, state *connectionState, userText string) {
	h.sendInfo(conn, state.sessionID, map[string]any{
		"type": "user",
		"text": userText,
	})

	var audio []byte
	events := conversation.TurnEvents{
		OnDelta: func(chunk string) {
			h.sendInfo(conn, state.sessionID, map[string]any{
				"type": "ai_delta",
				"text": chunk,
			})
		},
		OnAudio: func(b []byte) { audio = b },
	}

	turn, err := h.controller.SubmitUserTurn(ctx, state.sessionID, userText, events)
	if err != nil && turn.ID == "" {
		switch {
		case errors.Is(err, conversation.ErrBlankInput):
			return
		case errors.Is(err, conversation.ErrTurnInFlight):
			h.sendError(conn, "a response is still in flight")
		default:
			h.sendError(conn, err.Error())
		}
		return
	}
	if err != nil {
		log.Printf("[websocket] model failure surfaced as error turn session=%s: %v", state.sessionID, err)
	}

	h.sendInfo(conn, state.sessionID, map[string]any{
		"type":    "ai",
		"text":    turn.Content,
		"isFinal": true,
	})

	if state.ttsEnabled && len(audio) > 0 {
		h.sendAudio(conn, state, audio)
	}
}

func (h *WebSocketHandler) sendAudio(conn *websocket.Conn, state *connectionState, audio []byte) {
	audioB64 := base64.StdEncoding.EncodeToString(audio)
	h.sendInfo(conn, state.sessionID, map[string]any{
		"type":      "tts",
		"audioData": audioB64,
		"format":    "mp3",
		"isFinal":   true,
	})
}

func (h *WebSocketHandler) handleConfigMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, raw json.RawMessage) {
	var cfg ConfigMessage
	if err := json.Unmarshal(raw, &cfg); err != nil {
		h.sendError(conn, "invalid config payload")
		return
	}

	if cfg.Language != "" {
		state.language = cfg.Language
	}
	if cfg.ASREnabled != nil {
		state.asrEnabled = *cfg.ASREnabled
	}
	if cfg.TTSEnabled != nil {
		state.ttsEnabled = *cfg.TTSEnabled
	}

	if cfg.PersonaID != "" {
		h.switchPersona(ctx, conn, state, cfg.PersonaID)
	}

	session, err := h.convSvc.GetSession(ctx, state.sessionID)
	if err != nil {
		h.sendError(conn, "session not found")
		return
	}

	h.sendInfo(conn, state.sessionID, map[string]any{
		"type":     "config",
		"persona":  session.PersonaID,
		"language": state.language,
		"asr":      state.asrEnabled,
		"tts":      state.ttsEnabled,
	})
}

// switchPersona drives the controller switch and echoes the seeded
// announcement (plus its greeting audio) back to the client.
func (h *WebSocketHandler) switchPersona(ctx context.Context, conn *websocket.Conn, state *connectionState, personaID string) {
	var audio []byte
	events := conversation.TurnEvents{
		OnAudio: func(b []byte) { audio = b },
	}

	seed, err := h.controller.SwitchPersona(ctx, state.sessionID, personaID, events)
	switch {
	case errors.Is(err, conversation.ErrPersonaUnchanged):
		return
	case errors.Is(err, conversation.ErrPersonaNotFound):
		h.sendError(conn, "persona not found")
		return
	case err != nil:
		h.sendError(conn, err.Error())
		return
	}

	h.sendInfo(conn, state.sessionID, map[string]any{
		"type":    "system",
		"text":    seed.Content,
		"isFinal": true,
	})

	if state.ttsEnabled && len(audio) > 0 {
		h.sendAudio(conn, state, audio)
	}
}

func (h *WebSocketHandler) sendInfo(conn *websocket.Conn, sessionID string, data map[string]any) {
	msg := outgoingMessage{
		Type:      "result",
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write info failed: %v", err)
	}
}

func (h *WebSocketHandler) sendError(conn *websocket.Conn, message string) {
	msg := outgoingMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().Unix(),
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
