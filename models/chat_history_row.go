package models

// ChatHistoryRow is a stored chat_history row. ID is assigned by the database
// and increases with insertion order.
type ChatHistoryRow struct {
	ID           int64   `json:"id"`
	Sender       string  `json:"sender"`
	Message      string  `json:"message"`
	TTSAudioLink *string `json:"tts_audio_link"`
}
