package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedFormat marks audio the pipeline cannot or will not decode:
// compressed containers, non-PCM encodings, bit depths other than 16.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Clip is mono 16-bit little-endian PCM at a known sample rate. A Clip is
// owned by exactly one pipeline stage at a time; stages hand it off rather
// than sharing it.
type Clip struct {
	PCM        []byte
	SampleRate int
}

// SampleCount returns the number of 16-bit samples in the clip.
func (c Clip) SampleCount() int { return len(c.PCM) / 2 }

// WAV holds the decoded payload of an uncompressed PCM16 WAV container.
type WAV struct {
	SampleRate int
	Channels   int
	PCM        []byte
}

// LooksLikeWAV reports whether buf starts with a RIFF/WAVE signature.
func LooksLikeWAV(buf []byte) bool {
	return len(buf) >= 12 &&
		bytes.Equal(buf[0:4], []byte("RIFF")) &&
		bytes.Equal(buf[8:12], []byte("WAVE"))
}

// LooksLikeCompressed reports whether buf starts with a known compressed
// audio signature (ID3/MP3, Ogg, MP4). These are rejected rather than
// decoded; the pipeline only handles linear PCM.
func LooksLikeCompressed(buf []byte) bool {
	if len(buf) >= 3 && bytes.Equal(buf[0:3], []byte("ID3")) {
		return true
	}
	// MP3 frame sync: 11 set bits.
	if len(buf) >= 2 && buf[0] == 0xFF && buf[1]&0xE0 == 0xE0 {
		return true
	}
	if len(buf) >= 4 && bytes.Equal(buf[0:4], []byte("OggS")) {
		return true
	}
	if len(buf) >= 12 && bytes.Equal(buf[4:8], []byte("ftyp")) {
		return true
	}
	return false
}

// ParseWAVPCM16 walks the RIFF chunks of buf and extracts the PCM16 payload.
// Anything other than uncompressed linear PCM at 16 bits/sample fails with
// ErrUnsupportedFormat.
func ParseWAVPCM16(buf []byte) (WAV, error) {
	if !LooksLikeWAV(buf) {
		return WAV{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUnsupportedFormat)
	}

	out := WAV{SampleRate: 16000, Channels: 1}
	sawFmt := false
	pos := 12
	for pos+8 <= len(buf) {
		id := string(buf[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(buf[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(buf) {
			return WAV{}, fmt.Errorf("%w: truncated %q chunk", ErrUnsupportedFormat, id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return WAV{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedFormat)
			}
			format := binary.LittleEndian.Uint16(buf[body : body+2])
			channels := int(binary.LittleEndian.Uint16(buf[body+2 : body+4]))
			rate := int(binary.LittleEndian.Uint32(buf[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(buf[body+14 : body+16])
			if format != 1 || bits != 16 {
				return WAV{}, fmt.Errorf("%w: fmt=%d bits=%d", ErrUnsupportedFormat, format, bits)
			}
			if channels <= 0 || rate <= 0 {
				return WAV{}, fmt.Errorf("%w: channels=%d rate=%d", ErrUnsupportedFormat, channels, rate)
			}
			out.Channels = channels
			out.SampleRate = rate
			sawFmt = true
		case "data":
			if !sawFmt {
				return WAV{}, fmt.Errorf("%w: data chunk before fmt", ErrUnsupportedFormat)
			}
			out.PCM = buf[body : body+size]
			return out, nil
		}
		// Chunks are word-aligned; odd sizes carry a pad byte.
		pos = body + size + (size % 2)
	}
	return WAV{}, fmt.Errorf("%w: data chunk not found", ErrUnsupportedFormat)
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}
