package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPacerChunkSizing(t *testing.T) {
	cases := []struct {
		rate     int
		chunkDur time.Duration
		want     int
	}{
		{rate: 16000, chunkDur: 30 * time.Millisecond, want: 960},
		{rate: 16000, chunkDur: 60 * time.Millisecond, want: 1920},
		{rate: 24000, chunkDur: 20 * time.Millisecond, want: 960},
	}
	for _, tc := range cases {
		p := newPacer(tc.rate, tc.chunkDur, 0)
		if p.chunkBytes != tc.want {
			t.Fatalf("rate %d dur %v: chunkBytes = %d, want %d", tc.rate, tc.chunkDur, p.chunkBytes, tc.want)
		}
		if p.chunkBytes%2 != 0 {
			t.Fatalf("chunk not sample aligned: %d", p.chunkBytes)
		}
	}
}

func TestPacerBurstsThenPaces(t *testing.T) {
	chunkDur := 20 * time.Millisecond
	prebuffer := 80 * time.Millisecond
	p := newPacer(16000, chunkDur, prebuffer)

	const chunks = 8
	pcm := make([]byte, chunks*p.chunkBytes)

	start := time.Now()
	var stamps []time.Duration
	err := p.stream(context.Background(), pcm, func(chunk []byte) error {
		stamps = append(stamps, time.Since(start))
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(stamps) != chunks {
		t.Fatalf("emitted %d chunks, want %d", len(stamps), chunks)
	}

	// prebuffer/chunkDur chunks go out immediately as the pre-roll burst.
	burst := int(prebuffer / chunkDur)
	for i := 0; i < burst; i++ {
		if stamps[i] > 15*time.Millisecond {
			t.Fatalf("burst chunk %d delayed %v", i, stamps[i])
		}
	}
	// The rest are held to real time.
	wantElapsed := time.Duration(chunks-burst) * chunkDur
	if got := stamps[chunks-1]; got < wantElapsed-10*time.Millisecond {
		t.Fatalf("last chunk at %v, want at least %v", got, wantElapsed)
	}
}

func TestPacerStopsOnEmitError(t *testing.T) {
	p := newPacer(16000, 20*time.Millisecond, time.Second)
	pcm := make([]byte, 4*p.chunkBytes)

	sent := 0
	sinkClosed := errors.New("sink closed")
	err := p.stream(context.Background(), pcm, func(chunk []byte) error {
		sent++
		if sent == 2 {
			return sinkClosed
		}
		return nil
	})
	if !errors.Is(err, sinkClosed) {
		t.Fatalf("err = %v, want sink closed", err)
	}
	if sent != 2 {
		t.Fatalf("sent %d chunks after error, want 2", sent)
	}
}

func TestPacerStopsOnCancel(t *testing.T) {
	p := newPacer(16000, 30*time.Millisecond, 0)
	pcm := make([]byte, 10*p.chunkBytes)

	ctx, cancel := context.WithCancel(context.Background())
	sent := 0
	err := p.stream(ctx, pcm, func(chunk []byte) error {
		sent++
		if sent == 2 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sent >= 10 {
		t.Fatalf("cancel did not stop the stream")
	}
}

func TestPacerScheduleCarriesAcrossClips(t *testing.T) {
	chunkDur := 20 * time.Millisecond
	p := newPacer(16000, chunkDur, 40*time.Millisecond)

	clip := make([]byte, 2*p.chunkBytes)
	if err := p.stream(context.Background(), clip, func([]byte) error { return nil }); err != nil {
		t.Fatalf("first clip: %v", err)
	}

	// The burst credit was spent on the first clip; the second clip must be
	// paced from the first chunk.
	start := time.Now()
	if err := p.stream(context.Background(), clip, func([]byte) error { return nil }); err != nil {
		t.Fatalf("second clip: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Fatalf("second clip finished in %v, want paced output", elapsed)
	}
}
