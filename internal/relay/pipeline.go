// Package relay drives the incremental synthesis pipeline: it watches the
// upstream dialogue engine's event stream, carves assistant text into
// speakable units, synthesizes them in order, and paces the resulting PCM out
// to the game client as audio events.
package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/overcastgames/npcvoice/internal/audio"
	"github.com/overcastgames/npcvoice/internal/observability"
	"github.com/overcastgames/npcvoice/internal/protocol"
	"github.com/overcastgames/npcvoice/internal/speech"
	"github.com/overcastgames/npcvoice/internal/synth"
)

// Synthesizer produces a canonical mono PCM16 clip for one unit of text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}

// Sink delivers events to the game client. Implementations must be safe for
// concurrent use; queue tasks from different turns may send at the same time.
type Sink interface {
	Send(v any) error
}

type Config struct {
	MinSentenceChars int
	HardMaxChars     int
	ChunkDuration    time.Duration
	Prebuffer        time.Duration
	SampleRate       int
}

func (c Config) withDefaults() Config {
	if c.MinSentenceChars <= 0 {
		c.MinSentenceChars = 12
	}
	if c.HardMaxChars <= 0 {
		c.HardMaxChars = 300
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = 30 * time.Millisecond
	}
	if c.Prebuffer < 0 {
		c.Prebuffer = 0
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	return c
}

// Pipeline holds the per-connection synthesis state. It is driven from the
// single goroutine reading the engine socket, so turn bookkeeping needs no
// locking; only queue tasks run concurrently, and each touches state owned
// exclusively by its turn.
type Pipeline struct {
	cfg     Config
	synth   Synthesizer
	sink    Sink
	metrics *observability.Metrics

	turns      map[string]*turnState
	lastTurnID string
	inFlight   sync.WaitGroup
}

type turnState struct {
	id        string
	queue     *turnQueue
	pacer     *pacer
	rest      string
	startedAt time.Time

	corr     protocol.Correlation
	resolved bool

	// sentStart is only touched by queue tasks, which run one at a time.
	sentStart bool
}

func NewPipeline(cfg Config, syn Synthesizer, sink Sink, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		cfg:     cfg.withDefaults(),
		synth:   syn,
		sink:    sink,
		metrics: metrics,
		turns:   make(map[string]*turnState),
	}
}

// HandleEngineEvent feeds one upstream frame through the pipeline and reports
// whether the raw frame should still be forwarded to the client. Text deltas
// are consumed here; everything else passes through.
func (p *Pipeline) HandleEngineEvent(ctx context.Context, evt protocol.EngineEvent) (forward bool) {
	if evt.TurnID != "" {
		p.lastTurnID = evt.TurnID
	}
	turnID := evt.TurnID
	if turnID == "" {
		turnID = p.lastTurnID
	}

	switch evt.Kind {
	case protocol.EngineTurnStarted:
		if turnID != "" {
			p.turn(turnID)
			p.count("turn_started")
		}
		return true

	case protocol.EngineMetadata:
		if turnID != "" {
			p.turn(turnID).observe(evt.ItemID, evt.OutputSlot)
		}
		return true

	case protocol.EngineTextDelta:
		if turnID == "" || evt.Delta == "" {
			return false
		}
		t := p.turn(turnID)
		t.rest += evt.Delta
		var complete []string
		complete, t.rest = speech.Segment(t.rest, p.cfg.MinSentenceChars, p.cfg.HardMaxChars)
		for _, unit := range complete {
			p.enqueueSpeech(ctx, t, unit)
		}
		return false

	case protocol.EngineTurnDone:
		if turnID == "" {
			return true
		}
		t, ok := p.turns[turnID]
		if !ok {
			return true
		}
		for _, unit := range speech.Flush(t.rest, p.cfg.HardMaxChars) {
			p.enqueueSpeech(ctx, t, unit)
		}
		t.rest = ""
		corr := t.correlation()
		p.enqueue(t, func() {
			if !t.sentStart {
				return
			}
			_ = p.sink.Send(protocol.NewAudioDone(corr))
			p.count("audio_done")
		})
		delete(p.turns, turnID)
		p.count("turn_done")
		return true
	}

	return true
}

// Drain waits until every queued task has finished, including tasks for turns
// the engine already closed. Call it only after the last HandleEngineEvent.
func (p *Pipeline) Drain(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		p.inFlight.Wait()
		close(idle)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}

func (p *Pipeline) enqueue(t *turnState, task func()) {
	p.inFlight.Add(1)
	t.queue.enqueue(func() {
		defer p.inFlight.Done()
		task()
	})
}

func (p *Pipeline) turn(id string) *turnState {
	if t, ok := p.turns[id]; ok {
		return t
	}
	t := &turnState{
		id:        id,
		queue:     newTurnQueue(),
		pacer:     newPacer(p.cfg.SampleRate, p.cfg.ChunkDuration, p.cfg.Prebuffer),
		startedAt: time.Now(),
	}
	p.turns[id] = t
	return t
}

func (p *Pipeline) enqueueSpeech(ctx context.Context, t *turnState, text string) {
	corr := t.correlation()
	p.enqueue(t, func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		clip, err := p.synth.Synthesize(ctx, text)
		if err != nil {
			// The unit is skipped, not retried here; later units still play
			// in order and the turn still closes.
			p.recordSynthesisError(err)
			log.Printf("relay: synthesis failed for turn %s: %v", t.id, err)
			return
		}
		if p.metrics != nil {
			p.metrics.ObserveSynthesisLatency(time.Since(start))
		}

		if !t.sentStart {
			t.sentStart = true
			if p.sink.Send(protocol.NewAudioStart(corr)) != nil {
				return
			}
			p.count("audio_start")
			if p.metrics != nil {
				p.metrics.ObserveFirstAudioLatency(time.Since(t.startedAt))
			}
		}
		_ = t.pacer.stream(ctx, clip.PCM, func(chunk []byte) error {
			evt := protocol.NewAudioDelta(corr, base64.StdEncoding.EncodeToString(chunk))
			return p.sink.Send(evt)
		})
	})
}

// observe records the first item id the engine reports for this turn. Once
// audio correlation has been handed to a queue task it is frozen; later
// metadata can no longer move the turn's audio to a different item.
func (t *turnState) observe(itemID string, slot int) {
	if t.resolved || itemID == "" || t.corr.ItemID != "" {
		return
	}
	t.corr.ItemID = itemID
	t.corr.OutputSlot = slot
}

func (t *turnState) correlation() protocol.Correlation {
	if !t.resolved {
		t.corr.TurnID = t.id
		if t.corr.ItemID == "" {
			t.corr.ItemID = fallbackItemID(t.id)
		}
		t.resolved = true
	}
	return t.corr
}

// fallbackItemID names a turn's audio when the engine never reported an item.
// It is a pure function of the turn id so reconnects and retries agree.
func fallbackItemID(turnID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(turnID))
	return fmt.Sprintf("item_%016x", h.Sum64())
}

func (p *Pipeline) count(event string) {
	if p.metrics != nil {
		p.metrics.RelayEvents.WithLabelValues(event).Inc()
	}
}

func (p *Pipeline) recordSynthesisError(err error) {
	if p.metrics == nil {
		return
	}
	code := "synthesis_failed"
	var perr *synth.ProviderError
	switch {
	case errors.As(err, &perr):
		code = "provider_" + perr.Code
	case errors.Is(err, audio.ErrUnsupportedFormat):
		code = "unsupported_format"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = "canceled"
	}
	p.metrics.SynthesisErrors.WithLabelValues(code).Inc()
}
