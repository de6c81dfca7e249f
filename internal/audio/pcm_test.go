package audio

import (
	"bytes"
	"testing"
)

func TestDownmixStereo(t *testing.T) {
	cases := []struct {
		name string
		in   []int16
		want []int16
	}{
		{
			name: "averages pairs",
			in:   []int16{100, 200, -100, 100, 0, 0},
			want: []int16{150, 0, 0},
		},
		{
			name: "truncates toward zero",
			in:   []int16{1, 2, -1, -2},
			want: []int16{1, -1},
		},
		{
			name: "full scale does not overflow",
			in:   []int16{32767, 32767, -32768, -32768},
			want: []int16{32767, -32768},
		},
		{
			name: "empty",
			in:   nil,
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := samplesFromPCM(DownmixStereo(pcmFromSamples(tc.in)))
			if len(got) != len(tc.want) {
				t.Fatalf("got %d samples, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("sample %d: got %d, want %d", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestResampleLength(t *testing.T) {
	cases := []struct {
		name     string
		inCount  int
		fromRate int
		toRate   int
		want     int
	}{
		{name: "24k to 16k", inCount: 2400, fromRate: 24000, toRate: 16000, want: 1600},
		{name: "8k to 16k", inCount: 800, fromRate: 8000, toRate: 16000, want: 1600},
		{name: "44.1k to 16k", inCount: 4410, fromRate: 44100, toRate: 16000, want: 1600},
		{name: "48k to 16k floors", inCount: 100, fromRate: 48000, toRate: 16000, want: 33},
		{name: "minimum one sample", inCount: 1, fromRate: 48000, toRate: 16000, want: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := make([]int16, tc.inCount)
			for i := range in {
				in[i] = int16(i % 1000)
			}
			out := Resample(pcmFromSamples(in), tc.fromRate, tc.toRate)
			if got := len(out) / 2; got != tc.want {
				t.Fatalf("got %d samples, want %d", got, tc.want)
			}
		})
	}
}

func TestResampleSameRateIsIdentity(t *testing.T) {
	in := pcmFromSamples([]int16{1, 2, 3, 4})
	out := Resample(in, 16000, 16000)
	if !bytes.Equal(in, out) {
		t.Fatalf("same-rate resample changed payload")
	}
}

func TestResampleInterpolates(t *testing.T) {
	// Doubling the rate should place the midpoint between adjacent samples.
	in := pcmFromSamples([]int16{0, 100})
	out := samplesFromPCM(Resample(in, 8000, 16000))
	if len(out) != 4 {
		t.Fatalf("got %d samples, want 4", len(out))
	}
	if out[0] != 0 || out[1] != 50 || out[2] != 100 {
		t.Fatalf("got %v, want interpolated [0 50 100 100]", out)
	}
	// Edge index clamps at the last valid sample instead of reading past it.
	if out[3] != 100 {
		t.Fatalf("edge sample = %d, want clamped 100", out[3])
	}
}
