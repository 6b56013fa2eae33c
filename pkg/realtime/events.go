package realtime

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// ── Inbound events ─────────────────────────────────────────────────────────────

// EventType is the closed set of server event kinds the client understands.
// Unknown wire types decode to [EventUnrecognized] and are ignored, never
// fatal: the protocol adds event types over time.
type EventType int

const (
	EventUnrecognized EventType = iota
	EventSessionCreated
	EventSessionUpdated
	EventItemCreated
	EventAudioDelta
	EventTranscriptDelta
	EventTranscriptDone
	EventSpeechStarted
	EventSpeechStopped
	EventResponseDone
	EventError
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EventSessionCreated:
		return "session.created"
	case EventSessionUpdated:
		return "session.updated"
	case EventItemCreated:
		return "conversation.item.created"
	case EventAudioDelta:
		return "response.audio.delta"
	case EventTranscriptDelta:
		return "response.audio_transcript.delta"
	case EventTranscriptDone:
		return "response.audio_transcript.done"
	case EventSpeechStarted:
		return "input_audio_buffer.speech_started"
	case EventSpeechStopped:
		return "input_audio_buffer.speech_stopped"
	case EventResponseDone:
		return "response.done"
	case EventError:
		return "error"
	default:
		return "unrecognized"
	}
}

// eventTypeFromWire maps a wire type string onto the closed event set.
func eventTypeFromWire(s string) EventType {
	switch s {
	case "session.created":
		return EventSessionCreated
	case "session.updated":
		return EventSessionUpdated
	case "conversation.item.created":
		return EventItemCreated
	case "response.audio.delta":
		return EventAudioDelta
	case "response.audio_transcript.delta":
		return EventTranscriptDelta
	case "response.audio_transcript.done":
		return EventTranscriptDone
	case "input_audio_buffer.speech_started":
		return EventSpeechStarted
	case "input_audio_buffer.speech_stopped":
		return EventSpeechStopped
	case "response.done":
		return EventResponseDone
	case "error":
		return EventError
	default:
		return EventUnrecognized
	}
}

// ServerEvent is one decoded inbound event with its typed payload.
type ServerEvent struct {
	Type EventType

	// SessionID is set for session.created / session.updated.
	SessionID string

	// Audio holds decoded PCM16 bytes for response.audio.delta.
	Audio []byte

	// Text holds the transcript fragment for transcript delta/done events.
	Text string

	// ItemID is set for conversation.item.created.
	ItemID string

	// Err is set for error events.
	Err *ProtocolError
}

// wireServerEvent mirrors the union of fields across inbound event payloads.
type wireServerEvent struct {
	Type string `json:"type"`

	// session.created / session.updated
	Session *wireSessionInfo `json:"session,omitempty"`

	// response.audio.delta / response.audio_transcript.delta (base64 vs text)
	Delta string `json:"delta,omitempty"`

	// response.audio_transcript.done
	Transcript string `json:"transcript,omitempty"`

	// conversation.item.created
	Item *wireItemInfo `json:"item,omitempty"`

	// error
	Error *wireErrorDetail `json:"error,omitempty"`
}

type wireSessionInfo struct {
	ID string `json:"id"`
}

type wireItemInfo struct {
	ID string `json:"id"`
}

// wireErrorDetail is the nested error object in an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type wireErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// parseServerEvent decodes one inbound wire frame. A malformed JSON frame is
// an error; a well-formed frame of unknown type yields EventUnrecognized.
func parseServerEvent(data []byte) (ServerEvent, error) {
	var wire wireServerEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return ServerEvent{}, err
	}

	evt := ServerEvent{Type: eventTypeFromWire(wire.Type)}

	switch evt.Type {
	case EventSessionCreated, EventSessionUpdated:
		if wire.Session != nil {
			evt.SessionID = wire.Session.ID
		}

	case EventAudioDelta:
		if wire.Delta == "" {
			break
		}
		decoded, err := base64.StdEncoding.DecodeString(wire.Delta)
		if err != nil {
			// A corrupt delta is dropped, not fatal: the stream continues.
			evt.Type = EventUnrecognized
			break
		}
		evt.Audio = decoded

	case EventTranscriptDelta:
		evt.Text = wire.Delta

	case EventTranscriptDone:
		evt.Text = wire.Transcript

	case EventItemCreated:
		if wire.Item != nil {
			evt.ItemID = wire.Item.ID
		}

	case EventError:
		perr := &ProtocolError{Message: "unknown error"}
		if wire.Error != nil {
			perr.Type = wire.Error.Type
			perr.Code = wire.Error.Code
			if wire.Error.Message != "" {
				perr.Message = wire.Error.Message
			}
		}
		evt.Err = perr
	}

	return evt, nil
}

// ── Outbound messages ──────────────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities        []string       `json:"modalities,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *turnDetection `json:"turn_detection,omitempty"`
	Temperature       float64        `json:"temperature,omitempty"`
}

// turnDetection configures server-side VAD. When nil the client runs with
// local VAD only and commits explicitly.
type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type createResponseMessage struct {
	Type     string          `json:"type"`
	Response *responseParams `json:"response,omitempty"`
}

type responseParams struct {
	Modalities []string `json:"modalities,omitempty"`
}

type createItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Transcript is one transcript fragment surfaced to subscribers. Non-final
// entries carry a single delta; the final entry carries the fully assembled
// utterance text.
type Transcript struct {
	Text      string
	Final     bool
	Timestamp time.Time
}

// Signal is a turn-relevant lifecycle notification surfaced on the Signals
// channel, consumed by the turn coordinator.
type Signal int

const (
	// SignalSpeechStarted: server VAD detected the user speaking.
	SignalSpeechStarted Signal = iota

	// SignalSpeechStopped: server VAD detected the user stopped.
	SignalSpeechStopped

	// SignalResponseDone: the agent finished generating its reply.
	SignalResponseDone

	// SignalItemCreated: the server acknowledged a conversation item.
	SignalItemCreated
)

// String returns the human-readable name of the signal.
func (s Signal) String() string {
	switch s {
	case SignalSpeechStarted:
		return "speech_started"
	case SignalSpeechStopped:
		return "speech_stopped"
	case SignalResponseDone:
		return "response_done"
	case SignalItemCreated:
		return "item_created"
	default:
		return "unknown"
	}
}
