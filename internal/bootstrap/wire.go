package bootstrap

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"voicechat/internal/audio"
	"voicechat/internal/capture"
	"voicechat/internal/channel"
	"voicechat/internal/config"
	"voicechat/internal/metrics"
	"voicechat/internal/ports"
	"voicechat/internal/speech"
	"voicechat/internal/transcription"
	"voicechat/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.ConversationController
	Config     config.Config
	Logger     *slog.Logger

	output *speech.Output
}

// Close tears the graph down, controller first.
func (s Services) Close() error {
	err := s.Controller.Close()
	if s.output != nil {
		_ = s.output.Close()
	}
	return err
}

// Build wires all backend dependencies for the current runtime. Metrics are
// registered on reg when it is non-nil.
func Build(eventSink ports.EventSink, reg prometheus.Registerer) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Logging.SlogLevel()}))
	return BuildWith(cfg, eventSink, reg, logger), nil
}

// BuildWith wires the graph from an already resolved configuration.
func BuildWith(cfg config.Config, eventSink ports.EventSink, reg prometheus.Registerer, logger *slog.Logger) Services {
	m := metrics.NewMetrics(reg)

	session := channel.NewSession(
		channel.Config{URL: cfg.Channel.URL, ReconnectDelay: cfg.Channel.ReconnectDelay()},
		channel.WithLogger(logger.With("component", "channel")),
		channel.WithMetrics(m),
	)

	recorder := capture.NewSession(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		capture.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
				Codec:       cfg.Audio.Codec,
				Container:   cfg.Audio.Container,
			},
			MIMEType:  cfg.Audio.MIMEType,
			Filename:  cfg.Audio.Filename,
			ChunkSize: cfg.Audio.ChunkSize,
		},
		logger.With("component", "capture"),
		m,
	)

	transcriber := transcription.NewClient(
		transcription.Config{Endpoint: cfg.Transcription.URL, Timeout: cfg.Transcription.Timeout()},
		transcription.WithLogger(logger.With("component", "transcription")),
		transcription.WithMetrics(m),
	)

	var (
		speaker ports.Speaker = speech.Muted{}
		output  *speech.Output
	)
	if cfg.Speech.Enabled {
		output = speech.NewOutput(
			speech.NewCommandSynthesizer(speech.CommandConfig{Command: cfg.Speech.Command, Voice: cfg.Speech.Voice}),
			logger.With("component", "speech"),
			m,
		)
		speaker = output
	}

	controller := usecase.NewConversationController(
		session,
		recorder,
		transcriber,
		speaker,
		eventSink,
		logger.With("component", "conversation"),
	)

	return Services{Controller: controller, Config: cfg, Logger: logger, output: output}
}
