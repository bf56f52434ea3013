package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"chathistory/models"
)

type rawChatEntry struct {
	Sender       *string `json:"sender"`
	Message      *string `json:"message"`
	TTSAudioLink *string `json:"tts_audio_link"`
}

// ParseChatHistory decodes the chat_history form value into entries.
// Every returned error wraps ErrInvalidChatHistory.
func ParseChatHistory(raw string) ([]models.ChatEntry, error) {
	data := bytes.TrimSpace([]byte(raw))
	if len(data) == 0 || !utf8.Valid(data) || !json.Valid(data) {
		return nil, ErrMalformedChatHistory
	}
	if bytes.Equal(data, []byte("null")) {
		return nil, ErrEmptyChatHistory
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	if len(elements) == 0 {
		return nil, ErrEmptyChatHistory
	}

	entries := make([]models.ChatEntry, 0, len(elements))
	for i, element := range elements {
		element = bytes.TrimSpace(element)
		if len(element) == 0 || element[0] != '{' {
			return nil, fmt.Errorf("%w: entry %d is not an object", ErrUnexpectedShape, i)
		}

		var e rawChatEntry
		if err := json.Unmarshal(element, &e); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrUnexpectedShape, i, err)
		}
		if e.Sender == nil {
			return nil, &EntryError{Index: i, Field: "sender"}
		}
		if e.Message == nil {
			return nil, &EntryError{Index: i, Field: "message"}
		}

		entries = append(entries, models.ChatEntry{
			Sender:       *e.Sender,
			Message:      *e.Message,
			TTSAudioLink: e.TTSAudioLink,
		})
	}
	return entries, nil
}
