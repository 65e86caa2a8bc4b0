package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	chatmodel "github.com/wakabalab/eikaiwa/backend/internal/model/chat"
	"github.com/wakabalab/eikaiwa/backend/internal/model/persona"
	"github.com/wakabalab/eikaiwa/backend/internal/service/conversation"
)

func setupHandler() (*Handler, *conversation.Controller, *conversation.Service, chi.Router) {
	convSvc := conversation.NewService()
	store := persona.NewMemoryStore(persona.Seed())
	controller := conversation.NewController(convSvc, store, nil, nil)
	handler := New(controller, convSvc, store)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return handler, controller, convSvc, r
}

func postJSON(t *testing.T, r chi.Router, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal err: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestCreateSessionSeedsGreeting(t *testing.T) {
	_, _, _, r := setupHandler()

	rr := postJSON(t, r, "/session", map[string]string{"personaId": "hana"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Session  chatmodel.Session `json:"session"`
		Greeting chatmodel.Turn    `json:"greeting"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if resp.Session.ID == "" || resp.Session.PersonaID != "hana" {
		t.Fatalf("unexpected session: %+v", resp.Session)
	}
	if !strings.Contains(resp.Greeting.Content, "Tanaka Hana") {
		t.Fatalf("greeting content: %q", resp.Greeting.Content)
	}
	if resp.Greeting.Kind != chatmodel.KindSystemNotice {
		t.Fatalf("greeting kind: %s", resp.Greeting.Kind)
	}
}

func TestCreateSessionUnknownPersona(t *testing.T) {
	_, _, _, r := setupHandler()

	rr := postJSON(t, r, "/session", map[string]string{"personaId": "nobody"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
}

func TestCreateSessionMissingPersona(t *testing.T) {
	_, _, _, r := setupHandler()

	rr := postJSON(t, r, "/session", map[string]string{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
}

func TestTranscriptReturnsTurnsInOrder(t *testing.T) {
	_, controller, convSvc, r := setupHandler()

	session, _, err := controller.StartSession(context.Background(), "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}
	if _, err := convSvc.Append(context.Background(), chatmodel.Turn{
		SessionID: session.ID,
		Role:      chatmodel.RoleUser,
		Kind:      chatmodel.KindNormal,
		Content:   "Hello",
	}); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/session/"+session.ID+"/transcript", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	var turns []chatmodel.Turn
	if err := json.Unmarshal(rr.Body.Bytes(), &turns); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[1].Content != "Hello" {
		t.Fatalf("turn order: %+v", turns)
	}
}

func TestTranscriptUnknownSession(t *testing.T) {
	_, _, _, r := setupHandler()

	req := httptest.NewRequest(http.MethodGet, "/session/missing/transcript", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
}

func TestSwitchPersonaReturnsSeed(t *testing.T) {
	_, controller, _, r := setupHandler()

	session, _, err := controller.StartSession(context.Background(), "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	rr := postJSON(t, r, "/session/"+session.ID+"/persona", map[string]string{"personaId": "mark"})
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rr.Code, rr.Body.String())
	}

	var seed chatmodel.Turn
	if err := json.Unmarshal(rr.Body.Bytes(), &seed); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if !strings.HasPrefix(seed.Content, "Okay, switching to Mark Davis.") {
		t.Fatalf("seed content: %q", seed.Content)
	}
}

func TestSwitchPersonaUnchanged(t *testing.T) {
	_, controller, _, r := setupHandler()

	session, _, err := controller.StartSession(context.Background(), "hana", conversation.TurnEvents{})
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	rr := postJSON(t, r, "/session/"+session.ID+"/persona", map[string]string{"personaId": "hana"})
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if resp["status"] != "unchanged" {
		t.Fatalf("expected unchanged status, got %+v", resp)
	}
}

func TestSwitchPersonaUnknownSession(t *testing.T) {
	_, _, _, r := setupHandler()

	rr := postJSON(t, r, "/session/missing/persona", map[string]string{"personaId": "mark"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
}
