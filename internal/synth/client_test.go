package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientSynthesize(t *testing.T) {
	wav, pcm := monoWAV(t, rampSamples(480), 16000)

	var gotReq synthesisRequest
	var gotAccept, gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		gotAccept = r.Header.Get("Accept")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	defer ts.Close()

	c := NewClient(Config{
		BaseURL:          ts.URL,
		AuthHeader:       "c2VjcmV0",
		VoiceID:          "Marshal",
		Language:         "en-US",
		TargetSampleRate: 16000,
	})

	clip, err := c.Synthesize(context.Background(), "Stand and deliver.")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !bytes.Equal(clip.PCM, pcm) {
		t.Fatalf("clip payload mangled")
	}
	if gotReq.Text != "Stand and deliver." || gotReq.VoiceID != "Marshal" {
		t.Fatalf("request = %+v", gotReq)
	}
	if gotReq.DesiredEncoding != "LINEAR16" || gotReq.DesiredContainer != "wav" || gotReq.ChannelCount != 1 {
		t.Fatalf("request format fields = %+v", gotReq)
	}
	if gotAccept != "audio/wav, application/json" {
		t.Fatalf("accept header = %q", gotAccept)
	}
	if gotAuth != "Basic c2VjcmV0" {
		t.Fatalf("auth header = %q, want basic-prefixed", gotAuth)
	}
}

func TestClientRetriesRetryableStatus(t *testing.T) {
	wav, _ := monoWAV(t, rampSamples(160), 16000)

	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}))
	defer ts.Close()

	c := NewClient(Config{BaseURL: ts.URL, MaxRetries: 1, RequestTimeout: 5 * time.Second})
	if _, err := c.Synthesize(context.Background(), "again"); err != nil {
		t.Fatalf("synthesize after retry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestClientDoesNotRetryClientError(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad voice", http.StatusBadRequest)
	}))
	defer ts.Close()

	c := NewClient(Config{BaseURL: ts.URL, MaxRetries: 3})
	if _, err := c.Synthesize(context.Background(), "nope"); err == nil {
		t.Fatalf("want error on 400")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (400 is not retryable)", calls)
	}
}
