package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wakabalab/eikaiwa/backend/internal/model/speech"
)

// ErrNoSpeech reports that the recording contained nothing but silence.
// Callers translate it into an empty transcript rather than a failure.
var ErrNoSpeech = errors.New("no substantial speech detected")

// Service wraps the OpenAI audio endpoints: Whisper for recognition and
// the speech endpoint for synthesis. Recordings are silence-trimmed
// before they reach the recognizer.
type Service struct {
	cfg    *speech.Config
	client *openai.Client
}

// NewService creates the speech service from its configuration.
func NewService(cfg *speech.Config) *Service {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Service{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
	}
}

// TranscribeAudio converts recorded speech to text. WAV input is
// silence-trimmed first; a recording with no speech left after the trim
// short-circuits to an empty transcript without touching the API.
func (s *Service) TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	payload, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio payload: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}

	format := req.Format
	if format == "" {
		format = "wav"
	}

	var removedMs int64
	if s.cfg.TrimEnabled && format == "wav" {
		trimmed, removed, trimErr := TrimWAVSilence(payload, s.cfg.SilenceFloor, s.cfg.MinSilenceMs)
		switch {
		case errors.Is(trimErr, ErrNoSpeech):
			return &speech.ASRResponse{
				SessionID: req.SessionID,
				Text:      "",
				TrimmedMs: removed,
				CreatedAt: time.Now().UTC(),
			}, nil
		case trimErr != nil:
			// Unparseable container: hand the original bytes to the
			// recognizer and let it decide.
		default:
			payload = trimmed
			removedMs = removed
		}
	}

	language := req.Language
	if language == "" {
		language = s.cfg.ASRLanguage
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.cfg.ASRModel,
		Reader:   bytes.NewReader(payload),
		FilePath: "audio." + format,
		Language: language,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}

	return &speech.ASRResponse{
		SessionID: req.SessionID,
		Text:      resp.Text,
		TrimmedMs: removedMs,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// SynthesizeSpeech converts text to an encoded audio buffer.
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("text is required")
	}

	voice := req.Voice
	if voice == "" {
		voice = s.cfg.TTSVoice
	}
	speed := req.Speed
	if speed <= 0 {
		speed = s.cfg.TTSSpeed
	}
	format := req.Format
	if format == "" {
		format = s.cfg.TTSFormat
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.TTSModel),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		Speed:          float64(speed),
		ResponseFormat: openai.SpeechResponseFormat(format),
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer raw.Close()

	audio, err := io.ReadAll(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	return &speech.TTSResponse{
		SessionID: req.SessionID,
		AudioData: audio,
		Format:    format,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// TranscribeBuffer is TranscribeAudio over a byte slice.
func (s *Service) TranscribeBuffer(ctx context.Context, sessionID string, audioData []byte, format, language string) (*speech.ASRResponse, error) {
	req := &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: bytes.NewReader(audioData),
		Format:    format,
		Language:  language,
	}
	return s.TranscribeAudio(ctx, req)
}

// SynthesizeToBuffer is SynthesizeSpeech with positional arguments.
func (s *Service) SynthesizeToBuffer(ctx context.Context, sessionID, text, voice string) (*speech.TTSResponse, error) {
	req := &speech.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
	}
	return s.SynthesizeSpeech(ctx, req)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.cfg.TimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
