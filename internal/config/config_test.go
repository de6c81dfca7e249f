package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BindAddr != ":8090" {
		t.Fatalf("bind addr = %q", cfg.BindAddr)
	}
	if !cfg.TTSEnabled {
		t.Fatalf("tts must default on")
	}
	if cfg.TargetSampleRate != 16000 {
		t.Fatalf("target rate = %d", cfg.TargetSampleRate)
	}
	if cfg.ChunkDuration != 30*time.Millisecond || cfg.PrebufferDuration != 240*time.Millisecond {
		t.Fatalf("pacing defaults = %v / %v", cfg.ChunkDuration, cfg.PrebufferDuration)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NPC_BIND_ADDR", ":9999")
	t.Setenv("NPC_TTS_ENABLED", "off")
	t.Setenv("NPC_CHUNK_DURATION", "60ms")
	t.Setenv("NPC_MIN_SENTENCE_CHARS", "20")
	t.Setenv("NPC_SYNTH_AUTH", "  secret  ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BindAddr != ":9999" {
		t.Fatalf("bind addr = %q", cfg.BindAddr)
	}
	if cfg.TTSEnabled {
		t.Fatalf("tts should be off")
	}
	if cfg.ChunkDuration != 60*time.Millisecond {
		t.Fatalf("chunk duration = %v", cfg.ChunkDuration)
	}
	if cfg.MinSentenceChars != 20 {
		t.Fatalf("min sentence chars = %d", cfg.MinSentenceChars)
	}
	if cfg.SynthAuth != "secret" {
		t.Fatalf("synth auth = %q, want trimmed", cfg.SynthAuth)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad bool", key: "NPC_TTS_ENABLED", value: "maybe"},
		{name: "bad duration", key: "NPC_CHUNK_DURATION", value: "fast"},
		{name: "chunk too small", key: "NPC_CHUNK_DURATION", value: "1ms"},
		{name: "bad int", key: "NPC_MIN_SENTENCE_CHARS", value: "dozen"},
		{name: "rate out of range", key: "NPC_TARGET_SAMPLE_RATE", value: "96000"},
		{name: "hard max below min", key: "NPC_HARD_MAX_CHARS", value: "3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("want error for %s=%s", tc.key, tc.value)
			}
		})
	}
}
