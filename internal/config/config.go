package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHost             = "localhost"
	defaultTranscriptionURL = "http://127.0.0.1:8000/transcribe/"
	defaultReconnectDelayMS = 2000
	defaultSampleRate       = 48000
	defaultChunkSize        = 4096
)

// Config stores runtime configuration for the voice chat client.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Channel       ChannelConfig       `yaml:"channel"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Audio         AudioConfig         `yaml:"audio"`
	Speech        SpeechConfig        `yaml:"speech"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

type ServerConfig struct {
	// Host is used to derive the channel URL when none is set.
	Host string `yaml:"host"`
}

type ChannelConfig struct {
	URL              string `yaml:"url"`
	ReconnectDelayMS int    `yaml:"reconnect_delay_ms"`
}

func (c ChannelConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

type TranscriptionConfig struct {
	URL string `yaml:"url"`
	// TimeoutMS of zero means no client-side timeout.
	TimeoutMS int `yaml:"timeout_ms"`
}

func (c TranscriptionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	Codec           string `yaml:"codec"`
	Container       string `yaml:"container"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkSize       int    `yaml:"chunk_size"`
	MIMEType        string `yaml:"mime_type"`
	Filename        string `yaml:"filename"`
}

type SpeechConfig struct {
	Enabled bool   `yaml:"enabled"`
	Command string `yaml:"command"`
	Voice   string `yaml:"voice"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel parses Level, falling back to info.
func (c LoggingConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

type MetricsConfig struct {
	// Addr enables the /metrics listener when set.
	Addr string `yaml:"addr"`
}

// Load resolves configuration from defaults, an optional YAML file named by
// VOICECHAT_CONFIG, a .env file and VOICECHAT_* environment variables, in
// increasing order of precedence.
func Load() (Config, error) {
	envFile := envOrDefault("VOICECHAT_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("VOICECHAT_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	normalize(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Host: defaultHost},
		Channel: ChannelConfig{
			ReconnectDelayMS: defaultReconnectDelayMS,
		},
		Transcription: TranscriptionConfig{URL: defaultTranscriptionURL},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			Codec:           "libopus",
			Container:       "webm",
			SampleRate:      defaultSampleRate,
			Channels:        1,
			ChunkSize:       defaultChunkSize,
			MIMEType:        "audio/webm",
			Filename:        "recording.webm",
		},
		Speech: SpeechConfig{
			Enabled: true,
			Command: "espeak-ng",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = envOrDefault("VOICECHAT_SERVER_HOST", cfg.Server.Host)

	cfg.Channel.URL = envOrDefault("VOICECHAT_CHANNEL_URL", cfg.Channel.URL)
	cfg.Channel.ReconnectDelayMS = envOrDefaultInt("VOICECHAT_RECONNECT_DELAY_MS", cfg.Channel.ReconnectDelayMS)

	cfg.Transcription.URL = envOrDefault("VOICECHAT_TRANSCRIBE_URL", cfg.Transcription.URL)
	cfg.Transcription.TimeoutMS = envOrDefaultInt("VOICECHAT_TRANSCRIBE_TIMEOUT_MS", cfg.Transcription.TimeoutMS)

	cfg.Audio.RecorderCommand = envOrDefault("VOICECHAT_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("VOICECHAT_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("VOICECHAT_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)
	cfg.Audio.Codec = envOrDefault("VOICECHAT_AUDIO_CODEC", cfg.Audio.Codec)
	cfg.Audio.Container = envOrDefault("VOICECHAT_AUDIO_CONTAINER", cfg.Audio.Container)
	cfg.Audio.SampleRate = envOrDefaultInt("VOICECHAT_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("VOICECHAT_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.ChunkSize = envOrDefaultInt("VOICECHAT_AUDIO_CHUNK_SIZE", cfg.Audio.ChunkSize)
	cfg.Audio.MIMEType = envOrDefault("VOICECHAT_CLIP_MIME_TYPE", cfg.Audio.MIMEType)
	cfg.Audio.Filename = envOrDefault("VOICECHAT_CLIP_FILENAME", cfg.Audio.Filename)

	cfg.Speech.Enabled = envOrDefaultBool("VOICECHAT_TTS_ENABLED", cfg.Speech.Enabled)
	cfg.Speech.Command = envOrDefault("VOICECHAT_TTS_COMMAND", cfg.Speech.Command)
	cfg.Speech.Voice = envOrDefault("VOICECHAT_TTS_VOICE", cfg.Speech.Voice)

	cfg.Logging.Level = envOrDefault("VOICECHAT_LOG_LEVEL", cfg.Logging.Level)
	cfg.Metrics.Addr = envOrDefault("VOICECHAT_METRICS_ADDR", cfg.Metrics.Addr)
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Host) == "" {
		cfg.Server.Host = defaultHost
	}
	if cfg.Channel.URL == "" {
		cfg.Channel.URL = "ws://" + cfg.Server.Host + ":8000/ws"
	}
	if cfg.Channel.ReconnectDelayMS <= 0 {
		cfg.Channel.ReconnectDelayMS = defaultReconnectDelayMS
	}
	if cfg.Transcription.URL == "" {
		cfg.Transcription.URL = defaultTranscriptionURL
	}
	if cfg.Transcription.TimeoutMS < 0 {
		cfg.Transcription.TimeoutMS = 0
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = defaultSampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = defaultChunkSize
	}
}

// Validate reports endpoints that cannot be used.
func (c Config) Validate() error {
	if err := checkURL(c.Channel.URL, "ws", "wss"); err != nil {
		return fmt.Errorf("channel url: %w", err)
	}
	if err := checkURL(c.Transcription.URL, "http", "https"); err != nil {
		return fmt.Errorf("transcription url: %w", err)
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("%q must use one of %s", raw, strings.Join(schemes, ", "))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
