package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wakabalab/eikaiwa/backend/internal/model/chat"
)

var (
	ErrPersonaRequired = errors.New("persona id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidTurn     = errors.New("invalid turn")
)

// Service owns the per-session transcripts. Each transcript is an
// append-only ordered log; Reset is the only other mutation and is
// reserved for session start and persona switches.
type Service struct {
	mu          sync.RWMutex
	sessions    map[string]chat.Session
	transcripts map[string][]chat.Turn
}

// NewService bootstraps the in-memory transcript store. Sessions live
// for the process lifetime only.
func NewService() *Service {
	return &Service{
		sessions:    make(map[string]chat.Session),
		transcripts: make(map[string][]chat.Turn),
	}
}

// CreateSession provisions an anonymous session bound to a persona.
func (s *Service) CreateSession(_ context.Context, personaID string) (chat.Session, error) {
	if personaID == "" {
		return chat.Session{}, ErrPersonaRequired
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		PersonaID: personaID,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.transcripts[session.ID] = make([]chat.Turn, 0, 16)
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Append adds a turn to the end of its session transcript and returns
// the stored copy with identifier and timestamp filled in. Empty
// content is permitted for normal turns; empty assistant error
// messages are still valid turns.
func (s *Service) Append(_ context.Context, turn chat.Turn) (chat.Turn, error) {
	if turn.SessionID == "" {
		return chat.Turn{}, ErrSessionNotFound
	}
	if err := validateTurn(turn); err != nil {
		return chat.Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[turn.SessionID]; !ok {
		return chat.Turn{}, ErrSessionNotFound
	}

	turn.ID = uuid.NewString()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	s.transcripts[turn.SessionID] = append(s.transcripts[turn.SessionID], turn)
	return turn, nil
}

// Transcript returns a snapshot of the stored turns in append order.
func (s *Service) Transcript(_ context.Context, sessionID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.transcripts[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Turn, len(turns))
	copy(copied, turns)
	return copied, nil
}

// Reset clears the transcript, rebinds the session to personaID and
// optionally appends exactly one seed turn.
func (s *Service) Reset(_ context.Context, sessionID, personaID string, seed *chat.Turn) (chat.Turn, error) {
	if personaID == "" {
		return chat.Turn{}, ErrPersonaRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Turn{}, ErrSessionNotFound
	}

	session.PersonaID = personaID
	s.sessions[sessionID] = session
	s.transcripts[sessionID] = make([]chat.Turn, 0, 16)

	if seed == nil {
		return chat.Turn{}, nil
	}

	stored := *seed
	if err := validateTurn(stored); err != nil {
		return chat.Turn{}, err
	}
	stored.SessionID = sessionID
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.transcripts[sessionID] = append(s.transcripts[sessionID], stored)
	return stored, nil
}

func validateTurn(turn chat.Turn) error {
	switch turn.Role {
	case chat.RoleUser, chat.RoleAssistant:
	default:
		return ErrInvalidTurn
	}
	switch turn.Kind {
	case chat.KindNormal, chat.KindSystemNotice:
	default:
		return ErrInvalidTurn
	}
	return nil
}
