package speech

import (
	"context"
	"log"
)

// Bridge adapts the strict speech service to the soft-fail capability
// the conversation controller expects: transcription errors collapse to
// an empty transcript, synthesis errors to nil audio. Failures are
// logged, never propagated.
type Bridge struct {
	svc *Service
}

// NewBridge wraps the speech service.
func NewBridge(svc *Service) *Bridge {
	return &Bridge{svc: svc}
}

// Transcribe converts audio to text, returning "" on no-speech or on
// any transport failure.
func (b *Bridge) Transcribe(ctx context.Context, audio []byte, format string) string {
	resp, err := b.svc.TranscribeBuffer(ctx, "", audio, format, "")
	if err != nil {
		log.Printf("[speech] transcription failed, treating as silence: %v", err)
		return ""
	}
	return resp.Text
}

// Synthesize converts text to audio, returning nil on failure. Callers
// treat nil as "skip playback".
func (b *Bridge) Synthesize(ctx context.Context, text, voice string) []byte {
	resp, err := b.svc.SynthesizeToBuffer(ctx, "", text, voice)
	if err != nil {
		log.Printf("[speech] synthesis failed, skipping audio: %v", err)
		return nil
	}
	return resp.AudioData
}
