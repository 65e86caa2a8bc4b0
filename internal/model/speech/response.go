package speech

import "time"

// ASRResponse carries the transcription result. Text is empty when no
// speech survived the silence trim.
type ASRResponse struct {
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	TrimmedMs int64     `json:"trimmedMs,omitempty"` // audio removed before recognition
	CreatedAt time.Time `json:"createdAt"`
}

// TTSResponse carries the synthesized audio.
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	AudioData []byte    `json:"-"`
	Format    string    `json:"format"`
	CreatedAt time.Time `json:"createdAt"`
}
