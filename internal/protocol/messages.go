package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Outbound event types written to the client as JSON text frames.
const (
	TypeConfig                = "config"
	TypeTranscript            = "transcript"
	TypeTranslatedTextPartial = "translated_text_partial"
	TypeTranslatedText        = "translated_text"
	TypeError                 = "error"
)

// ConfigMessage establishes or updates session parameters.
type ConfigMessage struct {
	Type        string `json:"type"`
	SourceLang  string `json:"source_lang"`
	TargetLang  string `json:"target_lang"`
	TTSProvider string `json:"tts_provider,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// Event is a JSON text frame sent to the client.
type Event struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	IsFinal *bool  `json:"is_final,omitempty"`
	Message string `json:"message,omitempty"`
}

func TranscriptEvent(text string, final bool) Event {
	return Event{Type: TypeTranscript, Text: text, IsFinal: &final}
}

func PartialTranslationEvent(text string) Event {
	return Event{Type: TypeTranslatedTextPartial, Text: text}
}

func TranslationEvent(text string) Event {
	return Event{Type: TypeTranslatedText, Text: text}
}

func ErrorEvent(message string) Event {
	return Event{Type: TypeError, Message: message}
}

// ErrUnknownMessage is returned for well-formed JSON of an unsupported type.
var ErrUnknownMessage = errors.New("unsupported message type")

// DecodeInbound parses a client text frame. Only config messages are accepted.
func DecodeInbound(data []byte) (ConfigMessage, error) {
	var msg ConfigMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ConfigMessage{}, fmt.Errorf("malformed message: %w", err)
	}
	if msg.Type != TypeConfig {
		return ConfigMessage{}, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
	return msg, nil
}

// SessionEvent is the envelope mirrored to the bus for every outbound event.
type SessionEvent struct {
	SessionID  string    `json:"session_id"`
	NodeID     string    `json:"node_id,omitempty"`
	Type       string    `json:"type"`
	Text       string    `json:"text,omitempty"`
	Final      bool      `json:"final,omitempty"`
	Message    string    `json:"message,omitempty"`
	AudioBytes int       `json:"audio_bytes,omitempty"`
	SourceLang string    `json:"source_lang,omitempty"`
	TargetLang string    `json:"target_lang,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectSessionPrefix = "interpreter.session"
	SubjectSessionAll    = "interpreter.session.>"
	TypeAudio            = "audio"
	TypeClosed           = "closed"
)

// SessionSubject returns the bus subject for one session event type.
func SessionSubject(sessionID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectSessionPrefix, sessionID, eventType)
}
