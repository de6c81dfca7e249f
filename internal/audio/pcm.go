package audio

import "encoding/binary"

// DownmixStereo averages each interleaved left/right pair into one mono
// sample. The input is interleaved PCM16LE; a trailing odd sample is dropped.
func DownmixStereo(pcm []byte) []byte {
	pairs := len(pcm) / 4
	out := make([]byte, pairs*2)
	for i := 0; i < pairs; i++ {
		l := int16(binary.LittleEndian.Uint16(pcm[i*4 : i*4+2]))
		r := int16(binary.LittleEndian.Uint16(pcm[i*4+2 : i*4+4]))
		m := int16((int32(l) + int32(r)) / 2)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(m))
	}
	return out
}

// Resample converts mono PCM16LE from fromRate to toRate by linear
// interpolation. Output length is floor(n*toRate/fromRate), minimum 1.
// Good enough for speech; no anti-aliasing is applied.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return pcm
	}
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}

	ratio := float64(toRate) / float64(fromRate)
	outLen := int(float64(n) * ratio)
	if outLen < 1 {
		outLen = 1
	}

	out := make([]byte, outLen*2)
	for i := 0; i < outLen; i++ {
		src := float64(i) / ratio
		s0 := int(src)
		s1 := s0 + 1
		if s1 > n-1 {
			s1 = n - 1
		}
		if s0 > n-1 {
			s0 = n - 1
		}
		t := src - float64(s0)
		v0 := float64(int16(binary.LittleEndian.Uint16(pcm[s0*2 : s0*2+2])))
		v1 := float64(int16(binary.LittleEndian.Uint16(pcm[s1*2 : s1*2+2])))
		v := int16(v0*(1-t) + v1*t)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(v))
	}
	return out
}
