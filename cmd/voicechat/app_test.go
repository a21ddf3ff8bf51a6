package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"voicechat/internal/domain"
	"voicechat/internal/usecase"
)

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:       "Startup failed",
		domain.ErrorCodeAudioStart:    "Microphone unavailable",
		domain.ErrorCodeAudioStop:     "Audio stop issue",
		domain.ErrorCodeTranscription: "Transcription error",
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestStateMessages(t *testing.T) {
	t.Parallel()

	if got := connectionMessage(domain.ConnectionConnected); got != "Connected to server" {
		t.Fatalf("unexpected connected message: %q", got)
	}
	if got := connectionMessage(domain.ConnectionDisconnected); got != "Disconnected from server, retrying" {
		t.Fatalf("unexpected disconnected message: %q", got)
	}
	if got := recordingMessage(domain.RecordingRecording); got != "Recording... press r to stop" {
		t.Fatalf("unexpected recording message: %q", got)
	}
	if got := recordingMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown message, got %q", got)
	}
}

func TestSinkPrintsEvents(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	app := NewApp(&out)

	app.ConnectionChanged(domain.ConnectionConnected)
	app.MessageAppended(domain.Message{Origin: domain.OriginAI, Text: "hello"})
	app.MessageAppended(domain.Message{Origin: domain.OriginUser, Text: "hi back"})
	app.SessionError(domain.ErrorCodeTranscription, "HTTP error 502")

	got := out.String()
	for _, want := range []string{
		"[connected] Connected to server",
		"ai:  hello",
		"you: hi back",
		"[error] Transcription error: HTTP error 502",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%s", want, got)
		}
	}
}

func TestHandleCommandRequiresController(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	app := NewApp(&out)
	if quit := app.handleCommand(context.Background(), "r"); quit {
		t.Fatalf("unexpected quit")
	}
	if !strings.Contains(out.String(), "not initialized") {
		t.Fatalf("expected not initialized message, got %q", out.String())
	}
}

func TestRunDispatchesCommands(t *testing.T) {
	t.Parallel()

	var out safeBuffer
	controller := &fakeConversation{
		status:   domain.Status{Connection: domain.ConnectionConnected, Recording: domain.RecordingIdle, Messages: 1},
		messages: []domain.Message{{Origin: domain.OriginAI, Text: "welcome", At: time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)}},
	}
	app := NewApp(&out)
	app.Attach(controller)

	in := strings.NewReader("r\nr\ns\nl\n?\nbogus\nq\nr\n")
	if err := app.Run(context.Background(), in); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if controller.toggles != 2 {
		t.Fatalf("expected commands after q to be ignored, got %d toggles", controller.toggles)
	}
	if controller.stops != 1 {
		t.Fatalf("expected one stop speaking, got %d", controller.stops)
	}
	got := out.String()
	for _, want := range []string{
		"09:30:00 ai:  welcome",
		"connection=connected recording=idle messages=1",
		`Unknown command "bogus"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%s", want, got)
		}
	}
}

func TestRunStopsWhenControllerClosed(t *testing.T) {
	t.Parallel()

	controller := &fakeConversation{toggleErr: usecase.ErrClosed}
	app := NewApp(&safeBuffer{})
	app.Attach(controller)

	if err := app.Run(context.Background(), strings.NewReader("r\nr\n")); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if controller.toggles != 1 {
		t.Fatalf("expected run to stop after closed controller, got %d toggles", controller.toggles)
	}
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	app := NewApp(&safeBuffer{})
	app.Attach(&fakeConversation{})

	ctx, cancel := context.WithCancel(context.Background())
	reader, writer := io.Pipe()
	defer writer.Close()

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, reader) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

type fakeConversation struct {
	status    domain.Status
	messages  []domain.Message
	toggleErr error
	toggles   int
	stops     int
}

func (f *fakeConversation) ToggleRecording(_ context.Context) error {
	f.toggles++
	return f.toggleErr
}

func (f *fakeConversation) StopSpeaking() { f.stops++ }

func (f *fakeConversation) Status() domain.Status { return f.status }

func (f *fakeConversation) Messages() []domain.Message { return f.messages }

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
