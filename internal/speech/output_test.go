package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"voicechat/internal/metrics"
)

func TestOutputPlaysQueueInOrder(t *testing.T) {
	t.Parallel()

	synth := newFakeSynth()
	m := metrics.NewMetrics(nil)
	output := NewOutput(synth, discardLogger(), m)
	defer output.Close()

	output.Speak("one")
	output.Speak("two")
	output.Speak("three")

	waitUntil(t, func() bool { return len(synth.finishedTexts()) == 3 })
	got := synth.finishedTexts()
	if got[0] != "one" || got[1] != "two" || got[2] != "three" {
		t.Fatalf("unexpected playback order: %v", got)
	}
	if v := testutil.ToFloat64(m.Utterances.WithLabelValues("played")); v != 3 {
		t.Fatalf("expected 3 played utterances, got %v", v)
	}
}

func TestOutputCancelStopsCurrentAndDropsQueue(t *testing.T) {
	t.Parallel()

	synth := newFakeSynth()
	synth.block = true
	m := metrics.NewMetrics(nil)
	output := NewOutput(synth, discardLogger(), m)
	defer output.Close()

	output.Speak("long answer")
	output.Speak("queued")
	<-synth.started

	output.Cancel()
	waitUntil(t, func() bool { return len(synth.finishedTexts()) == 1 })

	// Nothing queued before Cancel may start afterwards.
	time.Sleep(30 * time.Millisecond)
	if got := synth.startedTexts(); len(got) != 1 || got[0] != "long answer" {
		t.Fatalf("expected queued utterance to be dropped, started %v", got)
	}
	if v := testutil.ToFloat64(m.Utterances.WithLabelValues("cancelled")); v != 1 {
		t.Fatalf("expected one cancelled utterance, got %v", v)
	}

	synth.setBlock(false)
	output.Speak("next")
	waitUntil(t, func() bool { return len(synth.finishedTexts()) == 2 })
	if got := synth.finishedTexts(); got[1] != "next" {
		t.Fatalf("expected speech after cancel to play, got %v", got)
	}
}

func TestOutputCancelWithNothingQueuedIsHarmless(t *testing.T) {
	t.Parallel()

	synth := newFakeSynth()
	output := NewOutput(synth, discardLogger(), nil)
	defer output.Close()

	output.Cancel()
	output.Cancel()
	output.Speak("hi")

	waitUntil(t, func() bool { return len(synth.finishedTexts()) == 1 })
	if got := synth.finishedTexts(); got[0] != "hi" {
		t.Fatalf("unexpected playback: %v", got)
	}
}

func TestOutputSynthErrorDoesNotStopQueue(t *testing.T) {
	t.Parallel()

	synth := newFakeSynth()
	synth.failOn = "bad"
	m := metrics.NewMetrics(nil)
	output := NewOutput(synth, discardLogger(), m)
	defer output.Close()

	output.Speak("bad")
	output.Speak("good")

	waitUntil(t, func() bool { return len(synth.finishedTexts()) == 2 })
	if v := testutil.ToFloat64(m.Utterances.WithLabelValues("error")); v != 1 {
		t.Fatalf("expected one failed utterance, got %v", v)
	}
}

func TestOutputCloseCancelsPlaybackAndIgnoresLaterSpeech(t *testing.T) {
	t.Parallel()

	synth := newFakeSynth()
	synth.block = true
	output := NewOutput(synth, discardLogger(), nil)

	output.Speak("playing")
	<-synth.started

	closed := make(chan struct{})
	go func() {
		_ = output.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("close did not return")
	}

	output.Speak("late")
	if err := output.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if got := synth.startedTexts(); len(got) != 1 {
		t.Fatalf("expected no playback after close, started %v", got)
	}
}

// fakeSynth records utterances. With block set, Say waits for its context.
type fakeSynth struct {
	started chan string

	mu       sync.Mutex
	block    bool
	failOn   string
	begun    []string
	finished []string
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{started: make(chan string, 16)}
}

func (f *fakeSynth) Say(ctx context.Context, text string) error {
	f.mu.Lock()
	f.begun = append(f.begun, text)
	block := f.block
	f.mu.Unlock()
	f.started <- text

	var err error
	if block {
		<-ctx.Done()
		err = ctx.Err()
	} else if text == f.failOn {
		err = errors.New("synth failed")
	}

	f.mu.Lock()
	f.finished = append(f.finished, text)
	f.mu.Unlock()
	return err
}

func (f *fakeSynth) setBlock(block bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = block
}

func (f *fakeSynth) startedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.begun...)
}

func (f *fakeSynth) finishedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finished...)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
