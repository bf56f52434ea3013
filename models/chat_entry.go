package models

// ChatEntry is one element of a submitted chat history batch.
type ChatEntry struct {
	Sender       string  `json:"sender"`
	Message      string  `json:"message"`
	TTSAudioLink *string `json:"tts_audio_link,omitempty"`
}
