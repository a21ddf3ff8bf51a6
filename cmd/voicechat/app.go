package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"voicechat/internal/domain"
	"voicechat/internal/usecase"
)

// conversation is the part of the controller the terminal drives.
type conversation interface {
	ToggleRecording(ctx context.Context) error
	StopSpeaking()
	Status() domain.Status
	Messages() []domain.Message
}

// App is the terminal front end. It prints backend events and maps line
// commands onto the conversation.
type App struct {
	mu  sync.Mutex
	out io.Writer

	controller conversation
}

func NewApp(out io.Writer) *App {
	return &App{out: out}
}

// Attach binds the controller once the graph is built. Events that arrive
// earlier are still printed.
func (a *App) Attach(controller conversation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.controller = controller
}

// Run reads commands until q, end of input or ctx is done.
func (a *App) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	a.printf("Type r to talk, s to stop speaking, l to list, q to quit.\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := a.handleCommand(ctx, line); quit {
				return nil
			}
		}
	}
}

func (a *App) handleCommand(ctx context.Context, line string) bool {
	controller, err := a.requireReady()
	if err != nil {
		a.printf("%v\n", err)
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return false
	case "r":
		// Failures are already reported through SessionError.
		if err := controller.ToggleRecording(ctx); err != nil && errors.Is(err, usecase.ErrClosed) {
			return true
		}
	case "s":
		controller.StopSpeaking()
		a.printf("Speech stopped\n")
	case "l":
		a.printLog(controller.Messages())
	case "?":
		a.printStatus(controller.Status())
	case "q":
		return true
	default:
		a.printf("Unknown command %q\n", line)
	}
	return false
}

func (a *App) requireReady() (conversation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.controller == nil {
		return nil, fmt.Errorf("application is not initialized")
	}
	return a.controller, nil
}

// ConnectionChanged prints channel lifecycle updates.
func (a *App) ConnectionChanged(state domain.ConnectionState) {
	a.printf("[%s] %s\n", state, connectionMessage(state))
}

// RecordingChanged prints push-to-talk updates.
func (a *App) RecordingChanged(state domain.RecordingState) {
	a.printf("[%s] %s\n", state, recordingMessage(state))
}

// MessageAppended prints a new conversation entry.
func (a *App) MessageAppended(msg domain.Message) {
	a.printf("%s\n", formatMessage(msg))
}

// SessionError prints non-fatal backend errors.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	message := errorMessage(code, detail)
	if detail != "" && detail != message {
		a.printf("[error] %s: %s\n", message, detail)
		return
	}
	a.printf("[error] %s\n", message)
}

func (a *App) printLog(messages []domain.Message) {
	if len(messages) == 0 {
		a.printf("No messages yet\n")
		return
	}
	for _, msg := range messages {
		a.printf("%s %s\n", msg.At.Format("15:04:05"), formatMessage(msg))
	}
}

func (a *App) printStatus(status domain.Status) {
	a.printf("connection=%s recording=%s messages=%d\n", status.Connection, status.Recording, status.Messages)
}

func (a *App) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = fmt.Fprintf(a.out, format, args...)
}

func formatMessage(msg domain.Message) string {
	switch msg.Origin {
	case domain.OriginUser:
		return "you: " + msg.Text
	case domain.OriginAI:
		return "ai:  " + msg.Text
	default:
		return string(msg.Origin) + ": " + msg.Text
	}
}

func connectionMessage(state domain.ConnectionState) string {
	switch state {
	case domain.ConnectionConnected:
		return "Connected to server"
	case domain.ConnectionDisconnected:
		return "Disconnected from server, retrying"
	default:
		return ""
	}
}

func recordingMessage(state domain.RecordingState) string {
	switch state {
	case domain.RecordingRecording:
		return "Recording... press r to stop"
	case domain.RecordingIdle:
		return "Recording stopped"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeAudioStart:
		return "Microphone unavailable"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
