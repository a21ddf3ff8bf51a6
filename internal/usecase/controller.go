package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"voicechat/internal/domain"
	"voicechat/internal/ports"
)

var (
	ErrNoActiveSession = errors.New("no active recording session")
	ErrClosed          = errors.New("conversation controller closed")
)

// ConversationController ties the channel, the recorder, transcription and
// speech into one push-to-talk conversation. Connection and recording state
// are independent.
//
// EventSink methods are called with the controller lock held, so the sink
// observes messages in log order and must not call back into the controller.
type ConversationController struct {
	channel  ports.Channel
	recorder ports.Recorder
	speaker  ports.Speaker
	events   ports.EventSink
	finisher turnFinisher
	logger   *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	tails    sync.WaitGroup

	// recMu serializes recording transitions so the device is never driven
	// by two callers at once.
	recMu sync.Mutex

	mu         sync.Mutex
	connection domain.ConnectionState
	recording  domain.RecordingState
	messages   []domain.Message
	closed     bool
}

// NewConversationController subscribes to channel, starts connecting and
// begins consuming channel events.
func NewConversationController(
	channel ports.Channel,
	recorder ports.Recorder,
	transcriber ports.Transcriber,
	speaker ports.Speaker,
	events ports.EventSink,
	logger *slog.Logger,
) *ConversationController {
	if events == nil {
		events = noopSink{}
	}
	if logger == nil {
		logger = slog.Default().With("component", "conversation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &ConversationController{
		channel:    channel,
		recorder:   recorder,
		speaker:    speaker,
		events:     events,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
		connection: domain.ConnectionDisconnected,
		recording:  domain.RecordingIdle,
	}
	c.finisher = newTurnFinisher(transcriber, channel, events, logger, c.appendMessage)

	stream := channel.Subscribe()
	channel.Connect()
	go c.consume(stream)
	return c
}

// StartRecording opens the microphone. It is a no-op while already recording.
func (c *ConversationController) StartRecording(ctx context.Context) error {
	c.recMu.Lock()
	defer c.recMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	if c.currentRecording() == domain.RecordingRecording {
		return nil
	}

	if err := c.recorder.Start(ctx); err != nil {
		c.logger.Error("failed to start recording", "error", err)
		c.events.SessionError(domain.ErrorCodeAudioStart, err.Error())
		return err
	}

	c.setRecording(domain.RecordingRecording)
	return nil
}

// StopRecording stops the microphone and returns at once; the clip is
// transcribed and sent in the background.
func (c *ConversationController) StopRecording() error {
	c.recMu.Lock()
	defer c.recMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	if c.currentRecording() != domain.RecordingRecording {
		return ErrNoActiveSession
	}

	pending, err := c.recorder.Stop()
	c.setRecording(domain.RecordingIdle)
	if err != nil {
		c.logger.Warn("failed to stop recording", "error", err)
		c.events.SessionError(domain.ErrorCodeAudioStop, err.Error())
		return err
	}

	c.tails.Add(1)
	go func() {
		defer c.tails.Done()
		c.finisher.Finish(c.ctx, pending)
	}()
	return nil
}

// ToggleRecording starts a recording when idle and stops it otherwise.
func (c *ConversationController) ToggleRecording(ctx context.Context) error {
	if c.currentRecording() == domain.RecordingRecording {
		return c.StopRecording()
	}
	return c.StartRecording(ctx)
}

// StopSpeaking silences current and queued speech.
func (c *ConversationController) StopSpeaking() {
	c.speaker.Cancel()
}

func (c *ConversationController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Status{
		Connection: c.connection,
		Recording:  c.recording,
		Messages:   len(c.messages),
	}
}

// Messages returns a copy of the conversation log, oldest first.
func (c *ConversationController) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Close closes the channel, abandons an active recording and cancels
// in-flight turns, waiting for all of them to return.
func (c *ConversationController) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.channel.Close()
	c.cancel()

	c.recMu.Lock()
	if c.currentRecording() == domain.RecordingRecording {
		if _, stopErr := c.recorder.Stop(); stopErr != nil {
			c.logger.Warn("failed to stop recording on close", "error", stopErr)
		}
		c.setRecording(domain.RecordingIdle)
	}
	c.recMu.Unlock()

	<-c.loopDone
	c.tails.Wait()
	return err
}

func (c *ConversationController) consume(stream <-chan domain.ChannelEvent) {
	defer close(c.loopDone)

	for {
		select {
		case <-c.ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			c.handle(event)
		}
	}
}

func (c *ConversationController) handle(event domain.ChannelEvent) {
	switch event.Kind {
	case domain.ChannelConnected:
		c.setConnection(domain.ConnectionConnected)
	case domain.ChannelDisconnected:
		c.setConnection(domain.ConnectionDisconnected)
	case domain.ChannelAIMessage:
		c.appendMessage(domain.NewMessage(domain.OriginAI, event.Text))
		c.speaker.Speak(event.Text)
	default:
		c.logger.Debug("ignoring channel event", "kind", event.Kind)
	}
}

func (c *ConversationController) appendMessage(msg domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	c.events.MessageAppended(msg)
}

func (c *ConversationController) setConnection(state domain.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connection = state
	c.events.ConnectionChanged(state)
}

func (c *ConversationController) setRecording(state domain.RecordingState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = state
	c.events.RecordingChanged(state)
}

func (c *ConversationController) currentRecording() domain.RecordingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

func (c *ConversationController) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type noopSink struct{}

func (noopSink) ConnectionChanged(domain.ConnectionState) {}
func (noopSink) RecordingChanged(domain.RecordingState)   {}
func (noopSink) MessageAppended(domain.Message)           {}
func (noopSink) SessionError(domain.ErrorCode, string)    {}
