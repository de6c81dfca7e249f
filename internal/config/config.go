package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the NPC voice relay.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin           bool
	SessionInactivityTimeout time.Duration

	// Upstream dialogue engine (realtime websocket).
	EngineURL   string
	EngineKey   string
	EngineModel string

	// Speech synthesis provider.
	TTSEnabled        bool
	SynthURL          string
	SynthAuth         string
	SynthVoice        string
	SynthModel        string
	SynthLanguage     string
	SynthMaxRetries   int
	SynthTimeout      time.Duration
	TargetSampleRate  int
	MinSentenceChars  int
	HardMaxChars      int
	ChunkDuration     time.Duration
	PrebufferDuration time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("NPC_BIND_ADDR", ":8090"),
		MetricsNamespace: envOrDefault("NPC_METRICS_NAMESPACE", "npcvoice"),
		AllowAnyOrigin:   false,

		EngineURL:   envOrDefault("NPC_ENGINE_URL", "wss://api.openai.com/v1/realtime"),
		EngineKey:   stringsTrimSpace("NPC_ENGINE_KEY"),
		EngineModel: envOrDefault("NPC_ENGINE_MODEL", "gpt-4o-realtime-preview"),

		TTSEnabled: true,
		SynthURL:   envOrDefault("NPC_SYNTH_URL", "https://api.inworld.ai/tts/v1/voice"),
		SynthAuth:  stringsTrimSpace("NPC_SYNTH_AUTH"),
		SynthVoice: envOrDefault("NPC_SYNTH_VOICE", "Deborah"),
		SynthModel: envOrDefault("NPC_SYNTH_MODEL", "inworld-tts-1"),
		// Empty means the provider's own default language.
		SynthLanguage: stringsTrimSpace("NPC_SYNTH_LANGUAGE"),

		SynthMaxRetries: 2,
		SynthTimeout:    15 * time.Second,
		// 16 kHz mono PCM16 is what the game client mixes at.
		TargetSampleRate:  16000,
		MinSentenceChars:  12,
		HardMaxChars:      300,
		ChunkDuration:     30 * time.Millisecond,
		PrebufferDuration: 240 * time.Millisecond,

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,
	}

	var err error
	cfg.TTSEnabled, err = boolFromEnv("NPC_TTS_ENABLED", cfg.TTSEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("NPC_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("NPC_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("NPC_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthTimeout, err = durationFromEnv("NPC_SYNTH_TIMEOUT", cfg.SynthTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthMaxRetries, err = intFromEnv("NPC_SYNTH_MAX_RETRIES", cfg.SynthMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.TargetSampleRate, err = intFromEnv("NPC_TARGET_SAMPLE_RATE", cfg.TargetSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.MinSentenceChars, err = intFromEnv("NPC_MIN_SENTENCE_CHARS", cfg.MinSentenceChars)
	if err != nil {
		return Config{}, err
	}
	cfg.HardMaxChars, err = intFromEnv("NPC_HARD_MAX_CHARS", cfg.HardMaxChars)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkDuration, err = durationFromEnv("NPC_CHUNK_DURATION", cfg.ChunkDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.PrebufferDuration, err = durationFromEnv("NPC_PREBUFFER", cfg.PrebufferDuration)
	if err != nil {
		return Config{}, err
	}

	if cfg.TargetSampleRate < 8000 || cfg.TargetSampleRate > 48000 {
		return Config{}, fmt.Errorf("NPC_TARGET_SAMPLE_RATE must be between 8000 and 48000")
	}
	if cfg.MinSentenceChars <= 0 {
		return Config{}, fmt.Errorf("NPC_MIN_SENTENCE_CHARS must be positive")
	}
	if cfg.HardMaxChars < cfg.MinSentenceChars {
		return Config{}, fmt.Errorf("NPC_HARD_MAX_CHARS must be at least NPC_MIN_SENTENCE_CHARS")
	}
	if cfg.ChunkDuration < 10*time.Millisecond || cfg.ChunkDuration > time.Second {
		return Config{}, fmt.Errorf("NPC_CHUNK_DURATION must be between 10ms and 1s")
	}
	if cfg.PrebufferDuration < 0 {
		return Config{}, fmt.Errorf("NPC_PREBUFFER must not be negative")
	}
	if cfg.SynthMaxRetries < 0 {
		return Config{}, fmt.Errorf("NPC_SYNTH_MAX_RETRIES must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
