package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDeviceUnavailable is returned when the microphone cannot be opened.
	ErrDeviceUnavailable = errors.New("audio capture device unavailable")
	// ErrTranscriptionFailed is returned when the transcription round trip fails.
	ErrTranscriptionFailed = errors.New("transcription failed")
	// ErrChannelTransport marks channel transport failures in logs. It is never
	// returned to callers.
	ErrChannelTransport = errors.New("channel transport failure")
)

// Origin identifies who produced a conversation message.
type Origin string

const (
	OriginUser Origin = "user"
	OriginAI   Origin = "ai"
)

// Message is one immutable entry of the conversation log.
type Message struct {
	ID     string    `json:"id"`
	Origin Origin    `json:"origin"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

func NewMessage(origin Origin, text string) Message {
	return Message{
		ID:     uuid.NewString(),
		Origin: origin,
		Text:   text,
		At:     time.Now(),
	}
}

// ConnectionState models the channel lifecycle.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnected    ConnectionState = "connected"
)

// RecordingState models the push-to-talk lifecycle.
type RecordingState string

const (
	RecordingIdle      RecordingState = "idle"
	RecordingRecording RecordingState = "recording"
)

// AudioClip is one finalized, encoded recording.
type AudioClip struct {
	Data     []byte
	MIMEType string
	Filename string
}

// ErrorCode identifies non-fatal backend errors reported to the front end.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeAudioStart    ErrorCode = "audio_start"
	ErrorCodeAudioStop     ErrorCode = "audio_stop"
	ErrorCodeTranscription ErrorCode = "transcription"
)

// Status summarizes the observable conversation state.
type Status struct {
	Connection ConnectionState `json:"connection"`
	Recording  RecordingState  `json:"recording"`
	Messages   int             `json:"messages"`
}

// ChannelEventKind identifies a channel lifecycle or inbound event.
type ChannelEventKind string

const (
	ChannelConnected    ChannelEventKind = "connected"
	ChannelDisconnected ChannelEventKind = "disconnected"
	ChannelAIMessage    ChannelEventKind = "ai_message"
)

// ChannelEvent is delivered to channel subscribers. Text is set for
// ChannelAIMessage only.
type ChannelEvent struct {
	Kind ChannelEventKind
	Text string
}
