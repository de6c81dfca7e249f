// Package protocol defines the event shapes crossing the relay: loosely
// parsed upstream engine events and the audio event family sent to the game
// client.
package protocol

import "encoding/json"

// EngineEventKind classifies an upstream engine frame for the pipeline.
type EngineEventKind int

const (
	// EngineOpaque is anything the pipeline does not act on, including
	// frames that fail to parse. Opaque frames are forwarded to the client
	// unmodified, never dropped.
	EngineOpaque EngineEventKind = iota
	EngineTurnStarted
	EngineMetadata
	EngineTextDelta
	EngineTurnDone
)

// EngineEvent is one upstream frame. The engine's schema drifts across
// revisions, so parsing is deliberately loose: identifiers are pulled from
// every known field spelling and absent fields stay zero.
type EngineEvent struct {
	Kind       EngineEventKind
	Type       string
	TurnID     string
	ItemID     string
	OutputSlot int
	Delta      string
	Raw        []byte
}

// ParseEngineEvent never fails; malformed frames come back as EngineOpaque
// with Raw set so the relay can pass them through verbatim.
func ParseEngineEvent(raw []byte) EngineEvent {
	evt := EngineEvent{Kind: EngineOpaque, Raw: raw}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return evt
	}

	evt.Type, _ = m["type"].(string)
	evt.TurnID = stringField(m, "response_id")
	if evt.TurnID == "" {
		if resp, ok := m["response"].(map[string]any); ok {
			evt.TurnID = stringField(resp, "id")
		}
	}
	evt.ItemID = stringField(m, "item_id")
	if evt.ItemID == "" {
		if item, ok := m["item"].(map[string]any); ok {
			evt.ItemID = stringField(item, "id")
		}
	}
	evt.OutputSlot = intField(m, "output_index")

	switch evt.Type {
	case "response.created":
		evt.Kind = EngineTurnStarted
		return evt
	case "response.done", "response.completed":
		evt.Kind = EngineTurnDone
		return evt
	}

	// Any string delta counts as assistant text; checking the field is more
	// robust than enumerating delta event types across engine revisions.
	if delta, ok := m["delta"].(string); ok {
		evt.Kind = EngineTextDelta
		evt.Delta = delta
		return evt
	}

	switch evt.Type {
	case "response.output_item.added", "response.content_part.added", "conversation.item.created":
		evt.Kind = EngineMetadata
	}
	return evt
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	if f, ok := m[key].(float64); ok {
		return int(f)
	}
	return 0
}

// Correlation tags every audio event with the triple the game client uses to
// route audio to the right conversational turn and output slot.
type Correlation struct {
	TurnID     string
	ItemID     string
	OutputSlot int
}

type AudioStart struct {
	Type       string `json:"type"`
	TurnID     string `json:"response_id"`
	ItemID     string `json:"item_id"`
	OutputSlot int    `json:"output_index"`
}

type AudioDelta struct {
	Type       string `json:"type"`
	TurnID     string `json:"response_id"`
	ItemID     string `json:"item_id"`
	OutputSlot int    `json:"output_index"`
	Audio      string `json:"audio"`
}

type AudioDone struct {
	Type       string `json:"type"`
	TurnID     string `json:"response_id"`
	ItemID     string `json:"item_id"`
	OutputSlot int    `json:"output_index"`
}

const (
	TypeAudioStart = "audio.start"
	TypeAudioDelta = "audio.delta"
	TypeAudioDone  = "audio.done"
)

func NewAudioStart(c Correlation) AudioStart {
	return AudioStart{Type: TypeAudioStart, TurnID: c.TurnID, ItemID: c.ItemID, OutputSlot: c.OutputSlot}
}

func NewAudioDelta(c Correlation, audioBase64 string) AudioDelta {
	return AudioDelta{Type: TypeAudioDelta, TurnID: c.TurnID, ItemID: c.ItemID, OutputSlot: c.OutputSlot, Audio: audioBase64}
}

func NewAudioDone(c Correlation) AudioDone {
	return AudioDone{Type: TypeAudioDone, TurnID: c.TurnID, ItemID: c.ItemID, OutputSlot: c.OutputSlot}
}
