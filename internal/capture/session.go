package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"voicechat/internal/domain"
	"voicechat/internal/metrics"
	"voicechat/internal/ports"
)

var (
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
)

const (
	DefaultMIMEType = "audio/webm"
	DefaultFilename = "recording.webm"

	defaultChunkSize = 4096
)

// Config controls how recordings are captured and tagged.
type Config struct {
	Audio     ports.AudioConfig
	MIMEType  string
	Filename  string
	ChunkSize int
}

// Session runs at most one recording at a time and turns each one into a
// single clip. Every recording owns its own fragment buffer.
type Session struct {
	device  ports.AudioDevice
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	active *recording
}

func NewSession(device ports.AudioDevice, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Session {
	if cfg.MIMEType == "" {
		cfg.MIMEType = DefaultMIMEType
	}
	if cfg.Filename == "" {
		cfg.Filename = DefaultFilename
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	if logger == nil {
		logger = slog.Default().With("component", "capture")
	}
	return &Session{device: device, cfg: cfg, logger: logger, metrics: m}
}

// Start opens the device and begins accumulating fragments in arrival order.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return ErrAlreadyRecording
	}

	stream, err := s.device.Start(ctx, s.cfg.Audio)
	if err != nil {
		s.metrics.RecordRecordingFailure()
		if !errors.Is(err, domain.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
		}
		return err
	}

	rec := &recording{
		stream: stream,
		done:   make(chan struct{}),
	}
	s.active = rec
	go rec.pump(s.cfg.ChunkSize, s.logger)

	s.metrics.RecordRecordingStarted()
	s.logger.Debug("recording started")
	return nil
}

// Recording reports whether a recording is in progress.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Stop signals the device to finalize and detaches the recording, so a new
// one may start right away. The clip is available from the returned
// PendingClip once the device confirms completion.
func (s *Session) Stop() (ports.PendingClip, error) {
	s.mu.Lock()
	rec := s.active
	s.active = nil
	s.mu.Unlock()

	if rec == nil {
		return nil, ErrNotRecording
	}

	p := &Pending{done: make(chan struct{})}
	go s.finalize(rec, p)
	return p, nil
}

func (s *Session) finalize(rec *recording, p *Pending) {
	defer close(p.done)

	stopErr := rec.stream.Stop()
	<-rec.done
	if err := rec.stream.Close(); err != nil && stopErr == nil && !errors.Is(err, os.ErrClosed) {
		stopErr = err
	}

	data, fragments, readErr := rec.assemble()
	if stopErr != nil {
		s.logger.Warn("audio device did not stop cleanly", "error", stopErr)
	}
	if len(data) == 0 && (stopErr != nil || readErr != nil) {
		p.err = fmt.Errorf("recording produced no audio: %w", errors.Join(stopErr, readErr))
		return
	}

	p.clip = domain.AudioClip{
		Data:     data,
		MIMEType: s.cfg.MIMEType,
		Filename: s.cfg.Filename,
	}
	s.metrics.RecordClip(len(data))
	s.logger.Debug("recording finalized", "bytes", len(data), "fragments", fragments)
}

// Pending is a stopped recording whose clip is still being finalized.
type Pending struct {
	done chan struct{}
	clip domain.AudioClip
	err  error
}

// Wait blocks until the clip is assembled or ctx is done.
func (p *Pending) Wait(ctx context.Context) (domain.AudioClip, error) {
	select {
	case <-p.done:
		return p.clip, p.err
	case <-ctx.Done():
		return domain.AudioClip{}, ctx.Err()
	}
}

type recording struct {
	stream ports.AudioStream
	done   chan struct{}

	mu        sync.Mutex
	fragments [][]byte
	readErr   error
}

func (r *recording) pump(chunkSize int, logger *slog.Logger) {
	defer close(r.done)

	buf := make([]byte, chunkSize)
	for {
		n, err := r.stream.Read(buf)
		if n > 0 {
			fragment := append([]byte(nil), buf[:n]...)
			r.mu.Lock()
			r.fragments = append(r.fragments, fragment)
			r.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				logger.Warn("audio capture read failed", "error", err)
				r.mu.Lock()
				r.readErr = err
				r.mu.Unlock()
			}
			return
		}
	}
}

// assemble concatenates the fragments in arrival order and clears the buffer.
func (r *recording) assemble() ([]byte, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := len(r.fragments)
	data := bytes.Join(r.fragments, nil)
	r.fragments = nil
	return data, count, r.readErr
}
