package relay

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestBridgeRelaysTurnAudio(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	type engineSeen struct {
		auth    string
		beta    string
		model   string
		frames  [][]byte
		reading chan struct{}
	}
	seen := &engineSeen{reading: make(chan struct{})}

	engineSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.auth = r.Header.Get("Authorization")
		seen.beta = r.Header.Get("OpenAI-Beta")
		seen.model = r.URL.Query().Get("model")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// session.update, then the rewritten response.create.
		for i := 0; i < 2; i++ {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			seen.frames = append(seen.frames, frame)
		}

		script := []string{
			`{"type":"response.created","response":{"id":"r1"}}`,
			`{"type":"response.output_item.added","response_id":"r1","output_index":0,"item":{"id":"item_1"}}`,
			`{"type":"response.text.delta","response_id":"r1","delta":"Stay awhile and listen. "}`,
			`{"type":"response.done","response":{"id":"r1"}}`,
		}
		for _, frame := range script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		close(seen.reading)
		// Hold the socket open while audio drains.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer engineSrv.Close()

	cfg := BridgeConfig{
		EngineURL:   "ws" + strings.TrimPrefix(engineSrv.URL, "http"),
		EngineKey:   "test-key",
		EngineModel: "gpt-test",
		TTSEnabled:  true,
		Pipeline:    testConfig(),
	}

	bridgeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		b := NewBridge(cfg, &fakeSynth{}, nil)
		_ = b.Run(r.Context(), conn)
	}))
	defer bridgeSrv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(bridgeSrv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial bridge: %v", err)
	}
	defer client.Close()

	create := `{"type":"response.create","response":{"modalities":["text","audio"],"instructions":"greet"}}`
	if err := client.WriteMessage(websocket.TextMessage, []byte(create)); err != nil {
		t.Fatalf("send response.create: %v", err)
	}

	var types []string
	var deltaPayload string
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = client.SetReadDeadline(deadline)
		_, frame, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("read client frame (got %v so far): %v", types, err)
		}
		var m map[string]any
		if err := json.Unmarshal(frame, &m); err != nil {
			t.Fatalf("client frame not json: %s", frame)
		}
		typ, _ := m["type"].(string)
		types = append(types, typ)
		if typ == "audio.delta" {
			raw, err := base64.StdEncoding.DecodeString(m["audio"].(string))
			if err != nil {
				t.Fatalf("audio payload: %v", err)
			}
			deltaPayload = string(raw)
		}
		if typ == "audio.done" {
			break
		}
	}

	<-seen.reading
	if seen.auth != "Bearer test-key" {
		t.Fatalf("engine auth = %q", seen.auth)
	}
	if seen.beta != "realtime=v1" {
		t.Fatalf("beta header = %q", seen.beta)
	}
	if seen.model != "gpt-test" {
		t.Fatalf("model param = %q", seen.model)
	}

	var update struct {
		Type    string `json:"type"`
		Session struct {
			Modalities []string `json:"modalities"`
		} `json:"session"`
	}
	if err := json.Unmarshal(seen.frames[0], &update); err != nil || update.Type != "session.update" {
		t.Fatalf("first engine frame = %s", seen.frames[0])
	}
	if len(update.Session.Modalities) != 1 || update.Session.Modalities[0] != "text" {
		t.Fatalf("session modalities = %v", update.Session.Modalities)
	}

	var forwarded struct {
		Type     string `json:"type"`
		Response struct {
			Modalities   []string `json:"modalities"`
			Instructions string   `json:"instructions"`
		} `json:"response"`
	}
	if err := json.Unmarshal(seen.frames[1], &forwarded); err != nil || forwarded.Type != "response.create" {
		t.Fatalf("second engine frame = %s", seen.frames[1])
	}
	if len(forwarded.Response.Modalities) != 1 || forwarded.Response.Modalities[0] != "text" {
		t.Fatalf("response.create modalities not rewritten: %v", forwarded.Response.Modalities)
	}
	if forwarded.Response.Instructions != "greet" {
		t.Fatalf("rewrite dropped instructions: %s", seen.frames[1])
	}

	// Passthrough frames reach the client; deltas are replaced by audio.
	joined := strings.Join(types, ",")
	for _, want := range []string{"response.created", "response.output_item.added", "response.done", "audio.start", "audio.delta", "audio.done"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("client never saw %q in %v", want, types)
		}
	}
	for _, typ := range types {
		if typ == "response.text.delta" {
			t.Fatalf("text delta leaked to client: %v", types)
		}
	}
	if deltaPayload != "Stay awhile and listen." {
		t.Fatalf("audio payload = %q", deltaPayload)
	}

	idx := func(s string) int {
		for i, typ := range types {
			if typ == s {
				return i
			}
		}
		return -1
	}
	if !(idx("audio.start") < idx("audio.delta") && idx("audio.delta") < idx("audio.done")) {
		t.Fatalf("audio events out of order: %v", types)
	}
}

func TestRewriteClientFramePassthroughWhenDisabled(t *testing.T) {
	b := NewBridge(BridgeConfig{TTSEnabled: false}, nil, nil)
	in := []byte(`{"type":"response.create","response":{"modalities":["audio"]}}`)
	if got := b.rewriteClientFrame(in); string(got) != string(in) {
		t.Fatalf("disabled bridge rewrote frame: %s", got)
	}
}

func TestRewriteClientFrameMalformedJSON(t *testing.T) {
	b := NewBridge(BridgeConfig{TTSEnabled: true}, nil, nil)
	in := []byte(`{"type": "resp`)
	if got := b.rewriteClientFrame(in); string(got) != string(in) {
		t.Fatalf("malformed frame must pass through untouched: %s", got)
	}
}

func TestRewriteClientFrameAddsResponseObject(t *testing.T) {
	b := NewBridge(BridgeConfig{TTSEnabled: true}, nil, nil)
	out := b.rewriteClientFrame([]byte(`{"type":"response.create"}`))

	var m struct {
		Response struct {
			Modalities []string `json:"modalities"`
		} `json:"response"`
	}
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(m.Response.Modalities) != 1 || m.Response.Modalities[0] != "text" {
		t.Fatalf("modalities = %v", m.Response.Modalities)
	}
}
