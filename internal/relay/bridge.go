package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/overcastgames/npcvoice/internal/observability"
	"github.com/overcastgames/npcvoice/internal/protocol"
)

const (
	writeTimeout = 10 * time.Second
	drainTimeout = 30 * time.Second
)

type BridgeConfig struct {
	EngineURL   string
	EngineKey   string
	EngineModel string

	// TTSEnabled turns on the synthesis pipeline. When false the bridge is a
	// plain passthrough and the engine keeps its own output modalities.
	TTSEnabled bool

	Pipeline Config
}

// Bridge relays one game client connection to the dialogue engine. Engine
// frames pass through to the client except for text deltas, which feed the
// synthesis pipeline; client frames pass through to the engine except that
// response requests are rewritten to text-only output.
type Bridge struct {
	cfg     BridgeConfig
	synth   Synthesizer
	metrics *observability.Metrics
}

func NewBridge(cfg BridgeConfig, syn Synthesizer, metrics *observability.Metrics) *Bridge {
	return &Bridge{cfg: cfg, synth: syn, metrics: metrics}
}

// Run pumps frames between client and a freshly dialed engine socket until
// either side closes. It blocks for the life of the connection.
func (b *Bridge) Run(ctx context.Context, client *websocket.Conn) error {
	engine, err := b.dialEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// Closing both sockets unblocks the read loops on teardown.
		<-ctx.Done()
		_ = client.Close()
		_ = engine.Close()
	}()

	toClient := make(chan []byte, 256)
	toEngine := make(chan []byte, 64)

	clientWriterDone := startWriter(ctx, cancel, client, toClient)
	engineWriterDone := startWriter(ctx, cancel, engine, toEngine)
	defer func() {
		cancel()
		<-clientWriterDone
		<-engineWriterDone
	}()

	if b.cfg.TTSEnabled {
		// The engine must not speak for itself; audio comes from the
		// synthesis pipeline.
		update, _ := json.Marshal(map[string]any{
			"type":    "session.update",
			"session": map[string]any{"modalities": []string{"text"}},
		})
		if !send(ctx, toEngine, update) {
			return ctx.Err()
		}
	}

	pipe := NewPipeline(b.cfg.Pipeline, b.synth, &chanSink{ctx: ctx, ch: toClient}, b.metrics)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		for {
			_, data, err := engine.ReadMessage()
			if err != nil {
				break
			}
			b.countMessage("in", "engine")
			evt := protocol.ParseEngineEvent(data)
			if !b.cfg.TTSEnabled || pipe.HandleEngineEvent(ctx, evt) {
				if !send(ctx, toClient, data) {
					return
				}
				b.countMessage("out", "client")
			}
		}
		// The engine hung up; let queued audio finish before tearing the
		// client side down.
		drainCtx, drainCancel := context.WithTimeout(ctx, drainTimeout)
		defer drainCancel()
		_ = pipe.Drain(drainCtx)
		cancel()
	}()

	for {
		msgType, data, err := client.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		b.countMessage("in", "client")
		if !send(ctx, toEngine, b.rewriteClientFrame(data)) {
			break
		}
		b.countMessage("out", "engine")
	}

	cancel()
	<-engineDone
	return nil
}

func (b *Bridge) dialEngine(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(b.cfg.EngineURL)
	if err != nil {
		return nil, fmt.Errorf("engine url: %w", err)
	}
	if b.cfg.EngineModel != "" {
		q := u.Query()
		q.Set("model", b.cfg.EngineModel)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	if b.cfg.EngineKey != "" {
		header.Set("Authorization", "Bearer "+b.cfg.EngineKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial engine: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial engine: %w", err)
	}
	return conn, nil
}

// rewriteClientFrame forces text-only output on response requests so the
// engine never races the pipeline with its own audio. Frames that do not
// parse are forwarded untouched.
func (b *Bridge) rewriteClientFrame(data []byte) []byte {
	if !b.cfg.TTSEnabled {
		return data
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return data
	}
	if t, _ := m["type"].(string); t != "response.create" {
		return data
	}
	resp, _ := m["response"].(map[string]any)
	if resp == nil {
		resp = map[string]any{}
	}
	resp["modalities"] = []string{"text"}
	m["response"] = resp
	out, err := json.Marshal(m)
	if err != nil {
		return data
	}
	return out
}

func (b *Bridge) countMessage(direction, peer string) {
	if b.metrics != nil {
		b.metrics.WSMessages.WithLabelValues(direction, peer).Inc()
	}
}

// startWriter owns all writes to conn; gorilla sockets allow one writer.
func startWriter(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, frames <-chan []byte) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					cancel()
					return
				}
			}
		}
	}()
	return done
}

func send(ctx context.Context, ch chan<- []byte, frame []byte) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- frame:
		return true
	}
}

// chanSink marshals pipeline events onto the client writer channel.
type chanSink struct {
	ctx context.Context
	ch  chan<- []byte
}

func (s *chanSink) Send(v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.ch <- frame:
		return nil
	}
}
