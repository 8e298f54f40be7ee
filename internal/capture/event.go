package capture

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/scrypster/cogwire/internal/protocol"
)

// Direction marks which side of the transport an event was observed on.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Stage is the lifecycle stage at which a frame was captured.
type Stage string

const (
	StageReceived Stage = "received"
	StageSent     Stage = "sent"
)

// Event is an immutable record of one frame observed at the transport
// boundary. The three layer fields and the coherence signature are filled
// in by the enrichment hook during capture; after Capture returns the
// event is never mutated again.
type Event struct {
	// EventID is process-unique (not globally unique): 16 hex chars.
	EventID string `json:"event_id"`
	// TimestampNS is the wall-clock capture time at nanosecond resolution.
	TimestampNS int64     `json:"timestamp_ns"`
	Direction   Direction `json:"direction"`
	Stage       Stage     `json:"stage"`

	// RawBytes is the exact on-wire line, including any trailing newline
	// the reader preserved.
	RawBytes []byte `json:"-"`
	// Frame is the decoded message; nil when the line failed to decode.
	Frame *protocol.Frame `json:"-"`

	// Method is the originating method name; empty for responses.
	Method string `json:"method"`
	// RequestID is the stringified correlation id ("" when the frame has
	// no id). Ids may be numeric or string on the wire.
	RequestID string `json:"request_id,omitempty"`
	// ParentEventID back-references the inbound request event that caused
	// this one. Set on outbound events if and only if a still-tracked
	// inbound request with the same correlation id existed at capture time.
	ParentEventID string `json:"parent_event_id,omitempty"`
	// Turn is assigned once at creation and never changes. Responses carry
	// the turn of the request that caused them, not a new turn.
	Turn int `json:"turn"`

	ContentLength int    `json:"content_length"`
	Error         string `json:"error,omitempty"`

	// Enrichment payloads, attached by the bridge (free-form mappings).
	DataLayer     map[string]any `json:"data_layer,omitempty"`
	LightLayer    map[string]any `json:"light_layer,omitempty"`
	InstinctLayer map[string]any `json:"instinct_layer,omitempty"`
	// CoherenceSignature is a content hash used for cross-session matching.
	CoherenceSignature string `json:"coherence_signature,omitempty"`
}

// newEvent constructs an event with a fresh identifier and the stage
// derived from the direction.
func newEvent(raw []byte, frame *protocol.Frame, timestampNS int64, dir Direction, errText string) *Event {
	ev := &Event{
		EventID:       newEventID(),
		TimestampNS:   timestampNS,
		Direction:     dir,
		Stage:         StageReceived,
		RawBytes:      raw,
		Frame:         frame,
		ContentLength: len(raw),
		Error:         errText,
	}
	if dir == DirectionOut {
		ev.Stage = StageSent
	}
	if frame != nil {
		ev.Method = frame.Method
		ev.RequestID = frame.CorrelationID()
	}
	return ev
}

// newEventID returns 16 hex chars of a fresh UUID.
func newEventID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:16]
}
