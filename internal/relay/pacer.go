package relay

import (
	"context"
	"time"
)

// pacer meters PCM emission at real-time rate while letting the client hold a
// fixed pre-buffer. Progress is tracked against an absolute schedule, so
// chunk-duration rounding never drifts over a long turn, and the schedule
// carries across sentences so a turn bursts its pre-buffer only once.
type pacer struct {
	chunkBytes int
	chunkDur   time.Duration
	maxLead    time.Duration
	due        time.Time
}

func newPacer(sampleRate int, chunkDur, prebuffer time.Duration) *pacer {
	if chunkDur <= 0 {
		chunkDur = 30 * time.Millisecond
	}
	chunkBytes := int(int64(sampleRate) * 2 * chunkDur.Milliseconds() / 1000)
	chunkBytes -= chunkBytes % 2
	if chunkBytes < 2 {
		chunkBytes = 2
	}
	maxLead := prebuffer - chunkDur
	if maxLead < 0 {
		maxLead = 0
	}
	return &pacer{chunkBytes: chunkBytes, chunkDur: chunkDur, maxLead: maxLead}
}

// stream cuts pcm into fixed-duration chunks and hands them to emit. A chunk
// is sent as soon as the client would be holding no more than the configured
// pre-buffer of audio; otherwise stream sleeps until the schedule catches up.
// An error from emit or a cancelled ctx stops the remainder of the clip.
func (p *pacer) stream(ctx context.Context, pcm []byte, emit func(chunk []byte) error) error {
	for off := 0; off < len(pcm); off += p.chunkBytes {
		end := off + p.chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}

		now := time.Now()
		if p.due.Before(now) {
			p.due = now
		}
		if wait := p.due.Sub(now) - p.maxLead; wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := emit(pcm[off:end]); err != nil {
			return err
		}
		// A short tail chunk advances the schedule by its real duration.
		p.due = p.due.Add(time.Duration(int64(p.chunkDur) * int64(end-off) / int64(p.chunkBytes)))
	}
	return nil
}
