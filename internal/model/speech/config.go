package speech

// Config carries the OpenAI speech credentials and tuning shared by the
// recognizer and the synthesizer.
type Config struct {
	APIKey  string `json:"-"`
	BaseURL string `json:"baseUrl,omitempty"`

	// ASR settings
	ASRModel    string `json:"asrModel"`
	ASRLanguage string `json:"asrLanguage"`

	// TTS settings
	TTSModel  string  `json:"ttsModel"`
	TTSVoice  string  `json:"ttsVoice"`
	TTSSpeed  float32 `json:"ttsSpeed"`
	TTSFormat string  `json:"ttsFormat"`

	// Silence trimming applied before recognition.
	TrimEnabled   bool    `json:"trimEnabled"`
	SilenceFloor  float64 `json:"silenceFloor"`  // dBFS, frames quieter than this count as silence
	MinSilenceMs  int     `json:"minSilenceMs"`  // silent stretch length that gets cut
	TimeoutSecond int     `json:"timeoutSecond"` // per-request deadline
}
