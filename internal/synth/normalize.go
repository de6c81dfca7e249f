package synth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/overcastgames/npcvoice/internal/audio"
)

// FetchFunc retrieves a referenced audio URL. It exists so Normalize can be
// exercised without network access.
type FetchFunc func(ctx context.Context, url string) (body []byte, contentType string, err error)

// maxScanDepth bounds the recursive walk through provider JSON. Real
// responses nest two or three levels; anything deeper is garbage.
const maxScanDepth = 6

// Normalize converts an opaque provider response into mono PCM16 at
// targetRate. The provider's contract is inconsistent: raw WAV bytes, JSON
// wrapping base64 audio, JSON carrying raw PCM with explicit metadata, or a
// remote URL. Compressed audio is rejected, never decoded.
func Normalize(ctx context.Context, body []byte, contentType string, targetRate int, fetch FetchFunc) (audio.Clip, error) {
	if audio.LooksLikeWAV(body) {
		return canonicalizeWAV(body, targetRate)
	}

	if isStructured(contentType, body) {
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return audio.Clip{}, fmt.Errorf("%w: unparseable provider body", audio.ErrUnsupportedFormat)
		}

		payload := extractAudioPayload(doc)
		switch payload.kind {
		case payloadBase64Wav:
			decoded, err := base64.StdEncoding.DecodeString(normalizeBase64(payload.base64))
			if err != nil {
				return audio.Clip{}, fmt.Errorf("%w: bad base64 audio field", audio.ErrUnsupportedFormat)
			}
			if audio.LooksLikeCompressed(decoded) {
				return audio.Clip{}, fmt.Errorf("%w: compressed audio inside base64 payload", audio.ErrUnsupportedFormat)
			}
			if !audio.LooksLikeWAV(decoded) {
				return audio.Clip{}, fmt.Errorf("%w: base64 payload is not a WAV container", audio.ErrUnsupportedFormat)
			}
			return canonicalizeWAV(decoded, targetRate)

		case payloadRawPCM:
			decoded, err := base64.StdEncoding.DecodeString(normalizeBase64(payload.base64))
			if err != nil {
				return audio.Clip{}, fmt.Errorf("%w: bad base64 pcm field", audio.ErrUnsupportedFormat)
			}
			return canonicalizePCM(decoded, payload.rate, payload.channels, targetRate), nil

		case payloadRemoteURL:
			if fetch == nil {
				return audio.Clip{}, fmt.Errorf("%w: remote audio url with no fetcher", audio.ErrUnsupportedFormat)
			}
			fetched, _, err := fetch(ctx, payload.url)
			if err != nil {
				return audio.Clip{}, err
			}
			if audio.LooksLikeCompressed(fetched) {
				return audio.Clip{}, fmt.Errorf("%w: referenced url holds compressed audio", audio.ErrUnsupportedFormat)
			}
			if !audio.LooksLikeWAV(fetched) {
				return audio.Clip{}, fmt.Errorf("%w: referenced url is not a WAV container", audio.ErrUnsupportedFormat)
			}
			return canonicalizeWAV(fetched, targetRate)
		}

		if perr := extractProviderError(doc); perr != nil {
			return audio.Clip{}, perr
		}
		return audio.Clip{}, fmt.Errorf("%w: no audio field in provider json", audio.ErrUnsupportedFormat)
	}

	if audio.LooksLikeCompressed(body) {
		return audio.Clip{}, fmt.Errorf("%w: compressed audio response", audio.ErrUnsupportedFormat)
	}
	return audio.Clip{}, fmt.Errorf("%w: unrecognized provider response (content-type %q)", audio.ErrUnsupportedFormat, contentType)
}

func canonicalizeWAV(wav []byte, targetRate int) (audio.Clip, error) {
	parsed, err := audio.ParseWAVPCM16(wav)
	if err != nil {
		return audio.Clip{}, err
	}
	return canonicalizePCM(parsed.PCM, parsed.SampleRate, parsed.Channels, targetRate), nil
}

func canonicalizePCM(pcm []byte, rate, channels, targetRate int) audio.Clip {
	if channels > 1 {
		pcm = audio.DownmixStereo(pcm)
	}
	if rate > 0 && rate != targetRate {
		pcm = audio.Resample(pcm, rate, targetRate)
	}
	return audio.Clip{PCM: pcm, SampleRate: targetRate}
}

func isStructured(contentType string, body []byte) bool {
	if strings.Contains(contentType, "json") {
		return true
	}
	trimmed := strings.TrimLeft(string(body[:min(len(body), 16)]), " \t\r\n")
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

type payloadKind int

const (
	payloadNotFound payloadKind = iota
	payloadBase64Wav
	payloadRawPCM
	payloadRemoteURL
)

type audioPayload struct {
	kind     payloadKind
	base64   string
	rate     int
	channels int
	url      string
}

// Extraction rules, in priority order: a named base64 waveform field, a
// structured audio-content object with explicit metadata, then a remote
// reference URL. Each rule first checks well-known field names and only then
// walks the whole document.
func extractAudioPayload(doc any) audioPayload {
	if b64, ok := findBase64Audio(doc, 0); ok {
		return audioPayload{kind: payloadBase64Wav, base64: b64}
	}
	if p, ok := findStructuredPCM(doc, 0); ok {
		return p
	}
	if u, ok := findAudioURL(doc, 0); ok {
		return audioPayload{kind: payloadRemoteURL, url: u}
	}
	return audioPayload{kind: payloadNotFound}
}

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/=\r\n]+$`)

func looksLikeBase64(s string) bool {
	return len(s) > 80 && base64Pattern.MatchString(s)
}

func normalizeBase64(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}

var base64FieldNames = []string{"audio", "audioBase64", "audio_base64", "data", "audioContent", "wav"}

func findBase64Audio(v any, depth int) (string, bool) {
	if depth > maxScanDepth {
		return "", false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		if arr, ok := v.([]any); ok {
			for _, item := range arr {
				if b64, ok := findBase64Audio(item, depth+1); ok {
					return b64, true
				}
			}
		}
		return "", false
	}
	if firstString(obj, "encoding", "audioEncoding", "audio_encoding") != "" {
		// Objects with explicit encoding metadata belong to the raw-PCM rule.
		return "", false
	}

	for _, name := range base64FieldNames {
		switch field := obj[name].(type) {
		case string:
			if looksLikeBase64(field) {
				return field, true
			}
		case map[string]any:
			if firstString(field, "encoding", "audioEncoding", "audio_encoding") != "" {
				continue
			}
			if inner, ok := field["data"].(string); ok && looksLikeBase64(inner) {
				return inner, true
			}
		}
	}
	for _, value := range obj {
		switch field := value.(type) {
		case string:
			if looksLikeBase64(field) {
				return field, true
			}
		case map[string]any, []any:
			if b64, ok := findBase64Audio(field, depth+1); ok {
				return b64, true
			}
		}
	}
	return "", false
}

func findStructuredPCM(v any, depth int) (audioPayload, bool) {
	if depth > maxScanDepth {
		return audioPayload{}, false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return audioPayload{}, false
	}

	encoding := strings.ToUpper(firstString(obj, "encoding", "audioEncoding", "audio_encoding"))
	rate := firstInt(obj, "sampleRateHertz", "sampleRate", "sample_rate")
	if encoding == "LINEAR16" && rate > 0 {
		data := firstString(obj, "data", "content", "audioContent", "pcm")
		if data != "" {
			channels := firstInt(obj, "audioChannelCount", "channels", "channelCount", "channel_count")
			if channels <= 0 {
				channels = 1
			}
			return audioPayload{kind: payloadRawPCM, base64: data, rate: rate, channels: channels}, true
		}
	}

	for _, value := range obj {
		if inner, ok := value.(map[string]any); ok {
			if p, ok := findStructuredPCM(inner, depth+1); ok {
				return p, true
			}
		}
	}
	return audioPayload{}, false
}

var urlFieldNames = []string{"url", "audioUrl", "href", "signedUrl", "link"}

func findAudioURL(v any, depth int) (string, bool) {
	if depth > maxScanDepth {
		return "", false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}

	for _, name := range urlFieldNames {
		if s, ok := obj[name].(string); ok && isHTTPURL(s) {
			return s, true
		}
	}
	for _, value := range obj {
		if inner, ok := value.(map[string]any); ok {
			if u, ok := findAudioURL(inner, depth+1); ok {
				return u, true
			}
		}
	}
	return "", false
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// extractProviderError recognizes {"error": {"code": ..., "message": ...}}
// and flat code/message pairs.
func extractProviderError(doc any) *ProviderError {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	if inner, ok := obj["error"].(map[string]any); ok {
		obj = inner
	}
	code := asString(obj["code"])
	message := asString(obj["message"])
	if code == "" && message == "" {
		return nil
	}
	return &ProviderError{Code: code, Message: message}
}

func firstString(obj map[string]any, names ...string) string {
	for _, name := range names {
		if s, ok := obj[name].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstInt(obj map[string]any, names ...string) int {
	for _, name := range names {
		switch n := obj[name].(type) {
		case float64:
			return int(n)
		case string:
			// Some providers quote numeric metadata.
			var out int
			if _, err := fmt.Sscanf(n, "%d", &out); err == nil {
				return out
			}
		}
	}
	return 0
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return ""
	}
}
