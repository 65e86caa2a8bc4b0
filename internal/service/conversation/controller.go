package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/wakabalab/eikaiwa/backend/internal/model/chat"
	"github.com/wakabalab/eikaiwa/backend/internal/model/persona"
)

var (
	ErrPersonaNotFound  = errors.New("persona not found")
	ErrPersonaUnchanged = errors.New("persona unchanged")
	ErrBlankInput       = errors.New("blank input")
	ErrTurnInFlight     = errors.New("a turn is already awaiting its response")
	ErrLLMUnavailable   = errors.New("language model unavailable")
)

// ChatSession is one logical model conversation primed with history.
// Sessions are cheap and never reused across turns.
type ChatSession interface {
	Send(ctx context.Context, text string) (*schema.StreamReader[*schema.Message], error)
}

// LLMClient starts model conversations from projected history.
type LLMClient interface {
	StartChat(ctx context.Context, p persona.Persona, history []ModelTurn) (ChatSession, error)
}

// VoiceBridge is the optional speech capability. Both calls fail soft:
// Transcribe returns "" and Synthesize returns nil when the provider
// misbehaves, and callers must treat those as "skip".
type VoiceBridge interface {
	Transcribe(ctx context.Context, audio []byte, format string) string
	Synthesize(ctx context.Context, text, voice string) []byte
}

// TurnEvents receives incremental output while a turn is in flight.
// Either callback may be nil.
type TurnEvents struct {
	OnDelta func(chunk string) // one streamed fragment, arrival order
	OnAudio func(audio []byte) // synthesized speech for the final text
}

type sessionState int

const (
	stateIdle sessionState = iota
	stateAwaitingResponse
)

// Controller drives the conversation state machine for every session:
// Idle -> AwaitingResponse -> Idle, with persona switches permitted
// only while Idle. One user turn is in flight at a time per session.
type Controller struct {
	svc      *Service
	personas persona.Store
	llm      LLMClient
	voice    VoiceBridge // nil when voice is disabled

	mu     sync.Mutex
	states map[string]sessionState
}

// NewController wires the controller over the transcript service.
// voice may be nil; llm may be nil for degraded text-only deployments
// where SubmitUserTurn reports ErrLLMUnavailable.
func NewController(svc *Service, personas persona.Store, llm LLMClient, voice VoiceBridge) *Controller {
	return &Controller{
		svc:      svc,
		personas: personas,
		llm:      llm,
		voice:    voice,
		states:   make(map[string]sessionState),
	}
}

// StartSession creates a session bound to personaID and seeds the
// transcript with the persona greeting as a system notice. Greeting
// audio, when available, is delivered through ev.OnAudio; synthesis
// failures never fail the call.
func (c *Controller) StartSession(ctx context.Context, personaID string, ev TurnEvents) (chat.Session, chat.Turn, error) {
	p, ok := c.personas.FindByID(personaID)
	if !ok {
		return chat.Session{}, chat.Turn{}, ErrPersonaNotFound
	}

	session, err := c.svc.CreateSession(ctx, p.ID)
	if err != nil {
		return chat.Session{}, chat.Turn{}, err
	}

	seed := chat.Turn{
		SessionID: session.ID,
		Role:      chat.RoleAssistant,
		Kind:      chat.KindSystemNotice,
		Content:   p.Greeting,
	}
	stored, err := c.svc.Append(ctx, seed)
	if err != nil {
		return chat.Session{}, chat.Turn{}, err
	}

	c.speak(ctx, p, stored.Content, ev)
	return session, stored, nil
}

// SwitchPersona rebinds the session to personaID, clears the
// transcript and seeds it with a switch announcement embedding the new
// persona's greeting. Switching to the already-active persona is a
// no-op reported as ErrPersonaUnchanged; switching while a turn is in
// flight is refused.
func (c *Controller) SwitchPersona(ctx context.Context, sessionID, personaID string, ev TurnEvents) (chat.Turn, error) {
	session, err := c.svc.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Turn{}, err
	}
	if session.PersonaID == personaID {
		return chat.Turn{}, ErrPersonaUnchanged
	}

	p, ok := c.personas.FindByID(personaID)
	if !ok {
		return chat.Turn{}, ErrPersonaNotFound
	}

	if err := c.enterAwaiting(sessionID); err != nil {
		return chat.Turn{}, err
	}
	defer c.leaveAwaiting(sessionID)

	seed := chat.Turn{
		Role:    chat.RoleAssistant,
		Kind:    chat.KindSystemNotice,
		Content: fmt.Sprintf("Okay, switching to %s. %s", p.Name, p.Greeting),
	}
	stored, err := c.svc.Reset(ctx, sessionID, p.ID, &seed)
	if err != nil {
		return chat.Turn{}, err
	}

	c.speak(ctx, p, stored.Content, ev)
	return stored, nil
}

// SubmitUserTurn runs one full request/response cycle: append the user
// turn, stream the model reply through ev.OnDelta and append the final
// assistant turn. A model failure still appends an assistant turn
// carrying the formatted error message (the conversation does not halt
// on one failed exchange); the turn is returned along with the
// underlying error so callers can surface it.
func (c *Controller) SubmitUserTurn(ctx context.Context, sessionID, text string, ev TurnEvents) (chat.Turn, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Turn{}, ErrBlankInput
	}

	session, err := c.svc.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Turn{}, err
	}
	p, ok := c.personas.FindByID(session.PersonaID)
	if !ok {
		return chat.Turn{}, ErrPersonaNotFound
	}

	if err := c.enterAwaiting(sessionID); err != nil {
		return chat.Turn{}, err
	}
	defer c.leaveAwaiting(sessionID)

	// History is projected before the user turn lands so the model
	// receives it exactly once, as the send payload.
	snapshot, err := c.svc.Transcript(ctx, sessionID)
	if err != nil {
		return chat.Turn{}, err
	}
	history := ProjectHistory(snapshot)

	if _, err := c.svc.Append(ctx, chat.Turn{
		SessionID: sessionID,
		Role:      chat.RoleUser,
		Kind:      chat.KindNormal,
		Content:   text,
	}); err != nil {
		return chat.Turn{}, err
	}

	reply, replyErr := c.generateReply(ctx, p, history, text, ev)

	assistant := chat.Turn{
		SessionID: sessionID,
		Role:      chat.RoleAssistant,
		Kind:      chat.KindNormal,
		Content:   reply,
	}
	if replyErr != nil {
		assistant.Content = fmt.Sprintf("An error occurred: %v. Please try again.", replyErr)
	}

	stored, err := c.svc.Append(ctx, assistant)
	if err != nil {
		return chat.Turn{}, err
	}
	if replyErr != nil {
		log.Printf("[conversation] model request failed session=%s persona=%s: %v", sessionID, p.ID, replyErr)
		return stored, replyErr
	}

	c.speak(ctx, p, stored.Content, ev)
	return stored, nil
}

// SubmitVoiceTurn transcribes recorded audio and, when speech was
// detected, submits it as a user turn. Silent or failed recordings
// yield an empty transcript and no turn (ErrBlankInput).
func (c *Controller) SubmitVoiceTurn(ctx context.Context, sessionID string, audio []byte, format string, ev TurnEvents) (string, chat.Turn, error) {
	if c.voice == nil {
		return "", chat.Turn{}, ErrBlankInput
	}

	text := c.voice.Transcribe(ctx, audio, format)
	if strings.TrimSpace(text) == "" {
		return "", chat.Turn{}, ErrBlankInput
	}

	turn, err := c.SubmitUserTurn(ctx, sessionID, text, ev)
	return text, turn, err
}

// VoiceEnabled reports whether a speech capability is wired in.
func (c *Controller) VoiceEnabled() bool {
	return c.voice != nil
}

func (c *Controller) generateReply(ctx context.Context, p persona.Persona, history []ModelTurn, text string, ev TurnEvents) (string, error) {
	if c.llm == nil {
		return "", ErrLLMUnavailable
	}

	chatSession, err := c.llm.StartChat(ctx, p, history)
	if err != nil {
		return "", err
	}

	stream, err := chatSession.Send(ctx, text)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var accumulated strings.Builder
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		accumulated.WriteString(chunk.Content)
		if ev.OnDelta != nil {
			ev.OnDelta(chunk.Content)
		}
	}

	return accumulated.String(), nil
}

// speak synthesizes text with the persona voice and hands the audio to
// the caller. Failures are swallowed: playback is a side effect, not
// part of the turn contract.
func (c *Controller) speak(ctx context.Context, p persona.Persona, text string, ev TurnEvents) {
	if c.voice == nil || ev.OnAudio == nil || text == "" {
		return
	}
	if audio := c.voice.Synthesize(ctx, text, p.VoiceID); len(audio) > 0 {
		ev.OnAudio(audio)
	}
}

func (c *Controller) enterAwaiting(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states[sessionID] == stateAwaitingResponse {
		return ErrTurnInFlight
	}
	c.states[sessionID] = stateAwaitingResponse
	return nil
}

func (c *Controller) leaveAwaiting(sessionID string) {
	c.mu.Lock()
	c.states[sessionID] = stateIdle
	c.mu.Unlock()
}
