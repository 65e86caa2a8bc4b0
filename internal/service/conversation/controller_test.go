package conversation_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/wakabalab/eikaiwa/backend/internal/model/chat"
	"github.com/wakabalab/eikaiwa/backend/internal/model/persona"
	"github.com/wakabalab/eikaiwa/backend/internal/service/conversation"
)

// scriptedChat replays a fixed chunk sequence, optionally ending the
// stream with an error.
type scriptedChat struct {
	chunks    []string
	sendErr   error
	streamErr error
	block     chan struct{} // when set, Send waits on it before returning
	started   chan struct{}
}

func (s *scriptedChat) Send(_ context.Context, _ string) (*schema.StreamReader[*schema.Message], error) {
	if s.started != nil {
		close(s.started)
	}
	if s.block != nil {
		<-s.block
	}
	if s.sendErr != nil {
		return nil, s.sendErr
	}

	sr, sw := schema.Pipe[*schema.Message](len(s.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, chunk := range s.chunks {
			sw.Send(schema.AssistantMessage(chunk, nil), nil)
		}
		if s.streamErr != nil {
			sw.Send(nil, s.streamErr)
		}
	}()
	return sr, nil
}

type fakeLLM struct {
	chat        *scriptedChat
	startErr    error
	lastPersona string
	lastHistory []conversation.ModelTurn
}

func (f *fakeLLM) StartChat(_ context.Context, p persona.Persona, history []conversation.ModelTurn) (conversation.ChatSession, error) {
	f.lastPersona = p.ID
	f.lastHistory = append([]conversation.ModelTurn(nil), history...)
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.chat, nil
}

type fakeVoice struct {
	transcript string
	audio      []byte
	spoken     []string
}

func (f *fakeVoice) Transcribe(_ context.Context, _ []byte, _ string) string {
	return f.transcript
}

func (f *fakeVoice) Synthesize(_ context.Context, text, _ string) []byte {
	f.spoken = append(f.spoken, text)
	return f.audio
}

func newTestController(llm conversation.LLMClient, voice conversation.VoiceBridge) (*conversation.Controller, *conversation.Service) {
	svc := conversation.NewService()
	store := persona.NewMemoryStore(persona.Seed())
	return conversation.NewController(svc, store, llm, voice), svc
}

func TestStartSessionSeedsGreeting(t *testing.T) {
	controller, svc := newTestController(nil, nil)
	ctx := context.Background()

	session, greeting, err := controller.StartSession(ctx, "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	if greeting.Role != chat.RoleAssistant || greeting.Kind != chat.KindSystemNotice {
		t.Fatalf("greeting tagged %s/%s, want assistant system notice", greeting.Role, greeting.Kind)
	}
	if !strings.Contains(greeting.Content, "Tanaka Hana") {
		t.Fatalf("greeting does not introduce the persona: %q", greeting.Content)
	}

	turns, err := svc.Transcript(ctx, session.ID)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected exactly one seeded turn, got %d", len(turns))
	}
}

func TestStartSessionUnknownPersona(t *testing.T) {
	controller, _ := newTestController(nil, nil)

	_, _, err := controller.StartSession(context.Background(), "nobody", conversation.TurnEvents{})
	if !errors.Is(err, conversation.ErrPersonaNotFound) {
		t.Fatalf("expected ErrPersonaNotFound, got %v", err)
	}
}

func TestSubmitUserTurnAppendsExchange(t *testing.T) {
	llm := &fakeLLM{chat: &scriptedChat{chunks: []string{"Hi", " there", "!"}}}
	controller, svc := newTestController(llm, nil)
	ctx := context.Background()

	session, _, err := controller.StartSession(ctx, "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	var deltas []string
	events := conversation.TurnEvents{
		OnDelta: func(chunk string) { deltas = append(deltas, chunk) },
	}

	turn, err := controller.SubmitUserTurn(ctx, session.ID, "Hello", events)
	if err != nil {
		t.Fatalf("SubmitUserTurn err: %v", err)
	}
	if turn.Content != "Hi there!" {
		t.Fatalf("assembled reply: got %q", turn.Content)
	}
	if turn.Role != chat.RoleAssistant || turn.Kind != chat.KindNormal {
		t.Fatalf("reply tagged %s/%s", turn.Role, turn.Kind)
	}
	if len(deltas) != 3 {
		t.Fatalf("expected 3 deltas, got %d (%v)", len(deltas), deltas)
	}

	// The seed predates the user turn, so the very first exchange runs
	// on an empty model history.
	if len(llm.lastHistory) != 0 {
		t.Fatalf("greeting leaked into model history: %+v", llm.lastHistory)
	}
	if llm.lastPersona != "hana" {
		t.Fatalf("unexpected persona: %s", llm.lastPersona)
	}

	turns, err := svc.Transcript(ctx, session.ID)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected seed + user + assistant, got %d turns", len(turns))
	}
	if turns[1].Role != chat.RoleUser || turns[1].Content != "Hello" {
		t.Fatalf("user turn not stored: %+v", turns[1])
	}
}

func TestSubmitUserTurnHistoryExcludesPendingInput(t *testing.T) {
	llm := &fakeLLM{chat: &scriptedChat{chunks: []string{"Sure!"}}}
	controller, _ := newTestController(llm, nil)
	ctx := context.Background()

	session, _, err := controller.StartSession(ctx, "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}
	if _, err := controller.SubmitUserTurn(ctx, session.ID, "First", conversation.TurnEvents{}); err != nil {
		t.Fatalf("SubmitUserTurn err: %v", err)
	}
	if _, err := controller.SubmitUserTurn(ctx, session.ID, "Second", conversation.TurnEvents{}); err != nil {
		t.Fatalf("SubmitUserTurn err: %v", err)
	}

	// Second turn sees exactly the first exchange; "Second" itself
	// travels as the send payload, not as history.
	want := []conversation.ModelTurn{
		{Role: conversation.ModelRoleUser, Text: "First"},
		{Role: conversation.ModelRoleModel, Text: "Sure!"},
	}
	if len(llm.lastHistory) != len(want) {
		t.Fatalf("history length: got %d want %d (%+v)", len(llm.lastHistory), len(want), llm.lastHistory)
	}
	for i := range want {
		if llm.lastHistory[i] != want[i] {
			t.Fatalf("history[%d]: got %+v want %+v", i, llm.lastHistory[i], want[i])
		}
	}
}

func TestSubmitUserTurnBlankInput(t *testing.T) {
	llm := &fakeLLM{chat: &scriptedChat{chunks: []string{"unused"}}}
	controller, svc := newTestController(llm, nil)
	ctx := context.Background()

	session, _, err := controller.StartSession(ctx, "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	if _, err := controller.SubmitUserTurn(ctx, session.ID, "   \n\t", conversation.TurnEvents{}); !errors.Is(err, conversation.ErrBlankInput) {
		t.Fatalf("expected ErrBlankInput, got %v", err)
	}

	turns, err := svc.Transcript(ctx, session.ID)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("blank input must not append turns, got %d", len(turns))
	}
}

func TestSubmitUserTurnModelFailure(t *testing.T) {
	llm := &fakeLLM{chat: &scriptedChat{chunks: []string{"partial"}, streamErr: errors.New("upstream timeout")}}
	controller, svc := newTestController(llm, nil)
	ctx := context.Background()

	session, _, err := controller.StartSession(ctx, "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	turn, err := controller.SubmitUserTurn(ctx, session.ID, "Hello", conversation.TurnEvents{})
	if err == nil {
		t.Fatal("expected the model error to surface")
	}
	if turn.ID == "" {
		t.Fatal("error turn was not stored")
	}
	if turn.Role != chat.RoleAssistant || turn.Kind != chat.KindNormal {
		t.Fatalf("error turn tagged %s/%s, want assistant normal", turn.Role, turn.Kind)
	}
	if !strings.Contains(turn.Content, "An error occurred:") || !strings.Contains(turn.Content, "Please try again.") {
		t.Fatalf("error turn content: %q", turn.Content)
	}

	turns, err := svc.Transcript(ctx, session.ID)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected seed + user + error turn, got %d", len(turns))
	}

	// The failure released the session: the next turn runs, and its
	// history carries the error turn like any other exchange.
	llm.chat = &scriptedChat{chunks: []string{"Recovered."}}
	next, err := controller.SubmitUserTurn(ctx, session.ID, "Are you ok?", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("SubmitUserTurn after failure err: %v", err)
	}
	if next.Content != "Recovered." {
		t.Fatalf("unexpected recovery reply: %q", next.Content)
	}
	if len(llm.lastHistory) != 2 {
		t.Fatalf("expected error turn in history, got %+v", llm.lastHistory)
	}
	if llm.lastHistory[1].Role != conversation.ModelRoleModel || !strings.Contains(llm.lastHistory[1].Text, "An error occurred:") {
		t.Fatalf("history[1] should be the error turn: %+v", llm.lastHistory[1])
	}
}

func TestSubmitUserTurnWithoutModel(t *testing.T) {
	controller, svc := newTestController(nil, nil)
	ctx := context.Background()

	session, _, err := controller.StartSession(ctx, "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	turn, err := controller.SubmitUserTurn(ctx, session.ID, "Hello", conversation.TurnEvents{})
	if !errors.Is(err, conversation.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
	if turn.ID == "" {
		t.Fatal("expected a stored error turn even without a model")
	}

	turns, err := svc.Transcript(ctx, session.ID)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected seed + user + error turn, got %d", len(turns))
	}
}

func TestSubmitUserTurnRejectsConcurrentTurn(t *testing.T) {
	blocked := &scriptedChat{
		chunks:  []string{"slow reply"},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	llm := &fakeLLM{chat: blocked}
	controller, _ := newTestController(llm, nil)
	ctx := context.Background()

	session, _, err := controller.StartSession(ctx, "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := controller.SubmitUserTurn(ctx, session.ID, "first", conversation.TurnEvents{})
		done <- err
	}()

	select {
	case <-blocked.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first turn never reached the model")
	}

	if _, err := controller.SubmitUserTurn(ctx, session.ID, "second", conversation.TurnEvents{}); !errors.Is(err, conversation.ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	close(blocked.block)
	if err := <-done; err != nil {
		t.Fatalf("first turn err: %v", err)
	}
}

func TestSwitchPersonaSeedsAnnouncement(t *testing.T) {
	controller, svc := newTestController(nil, nil)
	ctx := context.Background()

	session, _, err := controller.StartSession(ctx, "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	seed, err := controller.SwitchPersona(ctx, session.ID, "mark", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("SwitchPersona err: %v", err)
	}
	if !strings.HasPrefix(seed.Content, "Okay, switching to Mark Davis.") {
		t.Fatalf("announcement content: %q", seed.Content)
	}
	if !strings.Contains(seed.Content, "Hey there! I'm Mark. What's up?") {
		t.Fatalf("announcement missing the new greeting: %q", seed.Content)
	}
	if seed.Role != chat.RoleAssistant || seed.Kind != chat.KindSystemNotice {
		t.Fatalf("announcement tagged %s/%s", seed.Role, seed.Kind)
	}

	turns, err := svc.Transcript(ctx, session.ID)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("switch must clear the transcript, got %d turns", len(turns))
	}

	rebound, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if rebound.PersonaID != "mark" {
		t.Fatalf("session not rebound: %s", rebound.PersonaID)
	}
}

func TestSwitchPersonaUnchanged(t *testing.T) {
	controller, svc := newTestController(nil, nil)
	ctx := context.Background()

	session, _, err := controller.StartSession(ctx, "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	if _, err := controller.SwitchPersona(ctx, session.ID, "hana", conversation.TurnEvents{}); !errors.Is(err, conversation.ErrPersonaUnchanged) {
		t.Fatalf("expected ErrPersonaUnchanged, got %v", err)
	}

	turns, err := svc.Transcript(ctx, session.ID)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("no-op switch must keep the transcript, got %d turns", len(turns))
	}
}

func TestSwitchPersonaUnknown(t *testing.T) {
	controller, _ := newTestController(nil, nil)
	ctx := context.Background()

	session, _, err := controller.StartSession(ctx, "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	if _, err := controller.SwitchPersona(ctx, session.ID, "nobody", conversation.TurnEvents{}); !errors.Is(err, conversation.ErrPersonaNotFound) {
		t.Fatalf("expected ErrPersonaNotFound, got %v", err)
	}
}

func TestSubmitVoiceTurnSilentRecording(t *testing.T) {
	llm := &fakeLLM{chat: &scriptedChat{chunks: []string{"unused"}}}
	voice := &fakeVoice{transcript: ""}
	controller, svc := newTestController(llm, voice)
	ctx := context.Background()

	session, _, err := controller.StartSession(ctx, "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	text, _, err := controller.SubmitVoiceTurn(ctx, session.ID, []byte("silence"), "wav", conversation.TurnEvents{})
	if !errors.Is(err, conversation.ErrBlankInput) {
		t.Fatalf("expected ErrBlankInput, got %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty transcript, got %q", text)
	}

	turns, err := svc.Transcript(ctx, session.ID)
	if err != nil {
		t.Fatalf("Transcript err: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("silent recording must not append turns, got %d", len(turns))
	}
}

func TestSubmitVoiceTurnSubmitsTranscript(t *testing.T) {
	llm := &fakeLLM{chat: &scriptedChat{chunks: []string{"Nice to meet you!"}}}
	voice := &fakeVoice{transcript: "Hello, nice to meet you", audio: []byte("mp3-bytes")}
	controller, _ := newTestController(llm, voice)
	ctx := context.Background()

	session, _, err := controller.StartSession(ctx, "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	var audio []byte
	events := conversation.TurnEvents{OnAudio: func(b []byte) { audio = b }}

	text, turn, err := controller.SubmitVoiceTurn(ctx, session.ID, []byte("recording"), "wav", events)
	if err != nil {
		t.Fatalf("SubmitVoiceTurn err: %v", err)
	}
	if text != "Hello, nice to meet you" {
		t.Fatalf("unexpected transcript: %q", text)
	}
	if turn.Content != "Nice to meet you!" {
		t.Fatalf("unexpected reply: %q", turn.Content)
	}
	if len(audio) == 0 {
		t.Fatal("expected synthesized reply audio")
	}
}

func TestStartSessionSpeaksGreeting(t *testing.T) {
	voice := &fakeVoice{audio: []byte("greeting-audio")}
	controller, _ := newTestController(nil, voice)

	var audio []byte
	events := conversation.TurnEvents{OnAudio: func(b []byte) { audio = b }}

	if _, _, err := controller.StartSession(context.Background(), "hana", events); err != nil {
		t.Fatalf("StartSession err: %v", err)
	}
	if len(audio) == 0 {
		t.Fatal("expected greeting audio")
	}
	if len(voice.spoken) != 1 || !strings.Contains(voice.spoken[0], "Tanaka Hana") {
		t.Fatalf("synthesized text: %+v", voice.spoken)
	}
}

func TestVoiceEnabled(t *testing.T) {
	withVoice, _ := newTestController(nil, &fakeVoice{})
	if !withVoice.VoiceEnabled() {
		t.Fatal("expected voice enabled")
	}

	withoutVoice, _ := newTestController(nil, nil)
	if withoutVoice.VoiceEnabled() {
		t.Fatal("expected voice disabled")
	}
}
