package ports

import (
	"context"
	"io"

	"voicechat/internal/domain"
)

// AudioConfig describes how the microphone should be captured and encoded.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
	Codec       string
	Container   string
}

// AudioStream is a live device capture. Reads return encoded fragments in
// arrival order and io.EOF once the device has finalized after Stop.
type AudioStream interface {
	io.ReadCloser
	Stop() error
}

// AudioDevice opens microphone capture streams. The context bounds opening
// the device, not the lifetime of the returned stream.
type AudioDevice interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioStream, error)
}

// Transcriber turns an encoded clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, clip domain.AudioClip) (string, error)
}

// Synthesizer speaks one utterance, blocking until playback ends or ctx is done.
type Synthesizer interface {
	Say(ctx context.Context, text string) error
}

// Speaker queues spoken playback.
type Speaker interface {
	Speak(text string)
	Cancel()
}

// EventSink emits backend state/events to the front end.
type EventSink interface {
	ConnectionChanged(state domain.ConnectionState)
	RecordingChanged(state domain.RecordingState)
	MessageAppended(msg domain.Message)
	SessionError(code domain.ErrorCode, detail string)
}

// PendingClip resolves to the clip of a stopped recording once the device
// confirms finalization.
type PendingClip interface {
	Wait(ctx context.Context) (domain.AudioClip, error)
}

// Recorder runs one bounded recording at a time. Start's context bounds
// opening the device only.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (PendingClip, error)
}

// Channel is a self-healing message channel to the conversational service.
type Channel interface {
	Connect()
	Send(text string) bool
	Subscribe() <-chan domain.ChannelEvent
	State() domain.ConnectionState
	Close() error
}
