package speech

import "io"

// ASRRequest asks for a transcription of recorded audio.
type ASRRequest struct {
	SessionID string    `json:"sessionId"`
	AudioData io.Reader `json:"-"`
	Format    string    `json:"format"`   // wav, mp3, webm, m4a
	Language  string    `json:"language"` // ISO-639-1, e.g. "en"
}

// TTSRequest asks for synthesized speech.
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	Speed     float32 `json:"speed"`
	Format    string  `json:"format"`
}
