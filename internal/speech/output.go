package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"voicechat/internal/metrics"
	"voicechat/internal/ports"
)

// Output plays queued utterances one at a time, in the order they were
// queued. It is safe for concurrent use.
type Output struct {
	synth   ports.Synthesizer
	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	queue   []string
	current context.CancelFunc
	closed  bool
}

func NewOutput(synth ports.Synthesizer, logger *slog.Logger, m *metrics.Metrics) *Output {
	if logger == nil {
		logger = slog.Default().With("component", "speech")
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Output{
		synth:   synth,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

// Speak queues text behind anything already playing.
func (o *Output) Speak(text string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, text)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Cancel stops the current utterance and drops everything queued. Text
// queued afterwards plays normally.
func (o *Output) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	dropped := len(o.queue)
	o.queue = nil
	if o.current != nil {
		o.current()
	}
	if dropped > 0 {
		o.logger.Debug("dropped queued utterances", "count", dropped)
	}
}

// Close cancels playback and stops the worker.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.queue = nil
	o.mu.Unlock()

	o.cancel()
	<-o.done
	return nil
}

func (o *Output) run() {
	defer close(o.done)

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.wake:
		}

		for {
			ctx, text, ok := o.next()
			if !ok {
				break
			}
			o.play(ctx, text)
		}
	}
}

// next pops the head of the queue and installs its cancel func in the same
// critical section, so a concurrent Cancel always reaches it.
func (o *Output) next() (context.Context, string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.queue) == 0 || o.ctx.Err() != nil {
		return nil, "", false
	}
	text := o.queue[0]
	o.queue = o.queue[1:]

	ctx, cancel := context.WithCancel(o.ctx)
	o.current = cancel
	return ctx, text, true
}

func (o *Output) play(ctx context.Context, text string) {
	err := o.synth.Say(ctx, text)
	cancelled := ctx.Err() != nil

	o.mu.Lock()
	o.current()
	o.current = nil
	o.mu.Unlock()

	switch {
	case cancelled:
		o.metrics.RecordUtterance("cancelled")
	case err != nil && !errors.Is(err, context.Canceled):
		o.metrics.RecordUtterance("error")
		o.logger.Warn("speech playback failed", "error", err)
	default:
		o.metrics.RecordUtterance("played")
	}
}

// Muted is a Speaker that discards everything, used when speech output is
// disabled.
type Muted struct{}

func (Muted) Speak(string) {}
func (Muted) Cancel()      {}
