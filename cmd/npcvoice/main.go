package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/overcastgames/npcvoice/internal/config"
	"github.com/overcastgames/npcvoice/internal/httpapi"
	"github.com/overcastgames/npcvoice/internal/observability"
	"github.com/overcastgames/npcvoice/internal/relay"
	"github.com/overcastgames/npcvoice/internal/reputation"
	"github.com/overcastgames/npcvoice/internal/session"
	"github.com/overcastgames/npcvoice/internal/synth"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	repStore, err := reputation.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("reputation store init failed: %v", err)
	}
	defer repStore.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("reputation store: in-memory (set DATABASE_URL for persistence)")
	} else {
		log.Printf("reputation store: postgres")
	}

	synthClient := synth.NewClient(synth.Config{
		BaseURL:          cfg.SynthURL,
		AuthHeader:       cfg.SynthAuth,
		VoiceID:          cfg.SynthVoice,
		ModelID:          cfg.SynthModel,
		Language:         cfg.SynthLanguage,
		TargetSampleRate: cfg.TargetSampleRate,
		RequestTimeout:   cfg.SynthTimeout,
		MaxRetries:       cfg.SynthMaxRetries,
	})

	bridge := relay.NewBridge(relay.BridgeConfig{
		EngineURL:   cfg.EngineURL,
		EngineKey:   cfg.EngineKey,
		EngineModel: cfg.EngineModel,
		TTSEnabled:  cfg.TTSEnabled,
		Pipeline: relay.Config{
			MinSentenceChars: cfg.MinSentenceChars,
			HardMaxChars:     cfg.HardMaxChars,
			ChunkDuration:    cfg.ChunkDuration,
			Prebuffer:        cfg.PrebufferDuration,
			SampleRate:       cfg.TargetSampleRate,
		},
	}, synthClient, metrics)
	if cfg.TTSEnabled {
		log.Printf("tts: enabled (voice %s, %d Hz)", cfg.SynthVoice, cfg.TargetSampleRate)
	} else {
		log.Printf("tts: disabled, relaying engine frames as-is")
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.RelayEvents.WithLabelValues("session_expired").Inc()
		metrics.ActiveConnections.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, sessions, bridge, repStore, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("relay listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
