// Package protocol defines the wire envelope exchanged with the counselor
// service: outbound intents and inbound frames, both tagged JSON objects
// discriminated by a "type" field.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError describes a malformed or unsupported envelope. Protocol errors
// are non-fatal to the session; callers log and drop the offending frame.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

func badIntent(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_intent", Message: message, Param: param}
}

// Intent is an outbound client message.
type Intent interface {
	intentTag() string
}

// ConnectIntent is the first frame sent after the transport opens. The
// session stays unacknowledged until the service answers with "connected".
type ConnectIntent struct{}

func (ConnectIntent) intentTag() string { return "connect" }

// TextIntent submits one user turn.
type TextIntent struct {
	Message    string
	WantsAudio bool
}

func (TextIntent) intentTag() string { return "text" }

// StartSessionIntent asks the service to begin the guided flow.
type StartSessionIntent struct {
	WantsAudio bool
}

func (StartSessionIntent) intentTag() string { return "start_session" }

// RequestArtifactIntent asks the service to generate the session plan.
type RequestArtifactIntent struct {
	WantsAudio bool
}

func (RequestArtifactIntent) intentTag() string { return "request_plan" }

// PingIntent is the keep-alive no-op.
type PingIntent struct{}

func (PingIntent) intentTag() string { return "ping" }

// ClearIntent clears the remote conversation history. This is distinct from
// a full session reset: the turn counter is untouched.
type ClearIntent struct{}

func (ClearIntent) intentTag() string { return "clear" }

// ExploreIntent requests career suggestions for a set of interests.
type ExploreIntent struct {
	Interests  []string
	WantsAudio bool
}

func (ExploreIntent) intentTag() string { return "explore_careers" }

// CompareIntent requests a side-by-side comparison of two options.
type CompareIntent struct {
	First      string
	Second     string
	WantsAudio bool
}

func (CompareIntent) intentTag() string { return "compare_careers" }

// ProfileIntent requests the accumulated profile as seen by the service.
type ProfileIntent struct{}

func (ProfileIntent) intentTag() string { return "profile" }

// HistoryIntent requests the remote conversation history.
type HistoryIntent struct{}

func (HistoryIntent) intentTag() string { return "history" }

// StatsIntent requests session statistics (message counts, phase, language).
type StatsIntent struct{}

func (StatsIntent) intentTag() string { return "stats" }

// Encode serializes an outbound intent to its wire envelope.
func Encode(intent Intent) ([]byte, error) {
	switch msg := intent.(type) {
	case ConnectIntent:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{Type: "connect"})
	case TextIntent:
		text := strings.TrimSpace(msg.Message)
		if text == "" {
			return nil, badIntent("text.message must not be empty", "message")
		}
		return json.Marshal(struct {
			Type       string `json:"type"`
			Message    string `json:"message"`
			WantsAudio bool   `json:"wants_audio"`
		}{Type: "text", Message: text, WantsAudio: msg.WantsAudio})
	case StartSessionIntent:
		return json.Marshal(struct {
			Type       string `json:"type"`
			WantsAudio bool   `json:"wants_audio"`
		}{Type: "start_session", WantsAudio: msg.WantsAudio})
	case RequestArtifactIntent:
		return json.Marshal(struct {
			Type       string `json:"type"`
			WantsAudio bool   `json:"wants_audio"`
		}{Type: "request_plan", WantsAudio: msg.WantsAudio})
	case PingIntent:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{Type: "ping"})
	case ClearIntent:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{Type: "clear"})
	case ExploreIntent:
		interests := make([]string, 0, len(msg.Interests))
		for _, raw := range msg.Interests {
			if trimmed := strings.TrimSpace(raw); trimmed != "" {
				interests = append(interests, trimmed)
			}
		}
		if len(interests) == 0 {
			return nil, badIntent("explore_careers.interests must not be empty", "interests")
		}
		return json.Marshal(struct {
			Type       string   `json:"type"`
			Interests  []string `json:"interests"`
			WantsAudio bool     `json:"wants_audio"`
		}{Type: "explore_careers", Interests: interests, WantsAudio: msg.WantsAudio})
	case CompareIntent:
		first := strings.TrimSpace(msg.First)
		second := strings.TrimSpace(msg.Second)
		if first == "" || second == "" {
			return nil, badIntent("compare_careers requires both careers", "career1/career2")
		}
		return json.Marshal(struct {
			Type       string `json:"type"`
			First      string `json:"career1"`
			Second     string `json:"career2"`
			WantsAudio bool   `json:"wants_audio"`
		}{Type: "compare_careers", First: first, Second: second, WantsAudio: msg.WantsAudio})
	case ProfileIntent:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{Type: "profile"})
	case HistoryIntent:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{Type: "history"})
	case StatsIntent:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{Type: "stats"})
	default:
		return nil, badIntent(fmt.Sprintf("unsupported intent %T", intent), "")
	}
}

// Frame is an inbound service message.
type Frame interface {
	frameTag() string
}

// ConnectedFrame acknowledges the session and assigns its id.
type ConnectedFrame struct {
	SessionID string
	Message   string
}

func (ConnectedFrame) frameTag() string { return "connected" }

// ReplyKind distinguishes the flavors of conversational replies. All kinds
// advance the turn counter and pass through the same playback gate.
type ReplyKind int

const (
	KindTurn ReplyKind = iota
	KindSuggestion
	KindComparison
)

func (k ReplyKind) String() string {
	switch k {
	case KindTurn:
		return "turn"
	case KindSuggestion:
		return "suggestion"
	case KindComparison:
		return "comparison"
	default:
		return "unknown"
	}
}

// TurnReplyFrame is one completed conversational turn from the counterpart.
// Audio, when present, is the decoded synthesized payload. ProfileUpdate,
// when present, is merged into the local profile accumulator.
type TurnReplyFrame struct {
	Kind          ReplyKind
	Text          string
	Audio         []byte
	ProfileUpdate map[string]any

	// Suggestion/comparison context, set for the matching kinds only.
	Interests []string
	First     string
	Second    string
}

func (TurnReplyFrame) frameTag() string { return "turn_reply" }

// ArtifactReadyFrame delivers a generated plan document. The artifact is
// opaque to the client and supersedes any previously held one wholesale.
type ArtifactReadyFrame struct {
	Text     string
	Artifact json.RawMessage
}

func (ArtifactReadyFrame) frameTag() string { return "artifact_ready" }

// StatusFrame is a transient progress notice ("thinking", "planning", ...).
type StatusFrame struct {
	Status  string
	Message string
}

func (StatusFrame) frameTag() string { return "status" }

// ErrorFrame is a remote error. Errors are non-fatal to the session.
type ErrorFrame struct {
	Message string
}

func (ErrorFrame) frameTag() string { return "error" }

// PongFrame acknowledges a keep-alive ping.
type PongFrame struct{}

func (PongFrame) frameTag() string { return "pong" }

// ClearedFrame confirms the remote history was cleared.
type ClearedFrame struct {
	Message string
}

func (ClearedFrame) frameTag() string { return "cleared" }

// ProfileFrame reports the service-side view of the accumulated profile.
type ProfileFrame struct {
	Profile map[string]any
	Phase   string
}

func (ProfileFrame) frameTag() string { return "profile" }

// HistoryEntry is one remote transcript line.
type HistoryEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// HistoryFrame reports the remote conversation history.
type HistoryFrame struct {
	Conversation []HistoryEntry
	Total        int
}

func (HistoryFrame) frameTag() string { return "history" }

// StatsFrame reports session statistics as the service tracks them. The
// payload shape is the service's to define; the client renders it verbatim.
type StatsFrame struct {
	Stats map[string]any
}

func (StatsFrame) frameTag() string { return "stats" }

// UnknownFrame carries an unrecognized tag. Decoding it is not an error;
// dispatchers log and drop it.
type UnknownFrame struct {
	Tag string
	Raw json.RawMessage
}

func (f UnknownFrame) frameTag() string { return f.Tag }

type wireReply struct {
	Text      string         `json:"text"`
	Audio     string         `json:"audio,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Interests []string       `json:"interests,omitempty"`
	First     string         `json:"career1,omitempty"`
	Second    string         `json:"career2,omitempty"`
}

// Decode parses an inbound envelope into its typed frame. Unrecognized tags
// decode into UnknownFrame with a nil error; structural problems (bad JSON,
// missing type, undecodable audio) return a *DecodeError.
func Decode(data []byte) (Frame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	tag := strings.TrimSpace(envelope.Type)
	if tag == "" {
		return nil, badFrame("missing type", "type")
	}

	switch tag {
	case "connected":
		var msg struct {
			SessionID string `json:"session_id"`
			Message   string `json:"message"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid connected frame", "")
		}
		if strings.TrimSpace(msg.SessionID) == "" {
			return nil, badFrame("connected.session_id is required", "session_id")
		}
		return ConnectedFrame{SessionID: msg.SessionID, Message: msg.Message}, nil
	case "response":
		return decodeReply(data, KindTurn)
	case "career_suggestions":
		return decodeReply(data, KindSuggestion)
	case "career_comparison":
		return decodeReply(data, KindComparison)
	case "plan_generated":
		var msg struct {
			Text string          `json:"text"`
			Plan json.RawMessage `json:"plan"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid plan_generated frame", "")
		}
		if len(msg.Plan) == 0 {
			return nil, badFrame("plan_generated.plan is required", "plan")
		}
		return ArtifactReadyFrame{Text: msg.Text, Artifact: msg.Plan}, nil
	case "status":
		var msg struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid status frame", "")
		}
		return StatusFrame{Status: msg.Status, Message: msg.Message}, nil
	case "error":
		var msg struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid error frame", "")
		}
		return ErrorFrame{Message: msg.Message}, nil
	case "pong":
		return PongFrame{}, nil
	case "conversation_cleared":
		var msg struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid conversation_cleared frame", "")
		}
		return ClearedFrame{Message: msg.Message}, nil
	case "profile":
		var msg struct {
			Profile map[string]any `json:"student_profile"`
			Phase   string         `json:"current_phase"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid profile frame", "")
		}
		return ProfileFrame{Profile: msg.Profile, Phase: msg.Phase}, nil
	case "history":
		var msg struct {
			Conversation []HistoryEntry `json:"conversation"`
			Total        int            `json:"total_messages"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid history frame", "")
		}
		return HistoryFrame{Conversation: msg.Conversation, Total: msg.Total}, nil
	case "stats":
		var msg struct {
			Stats map[string]any `json:"stats"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid stats frame", "")
		}
		return StatsFrame{Stats: msg.Stats}, nil
	default:
		return UnknownFrame{Tag: tag, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func decodeReply(data []byte, kind ReplyKind) (Frame, error) {
	var msg wireReply
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, badFrame(fmt.Sprintf("invalid %s reply frame", kind), "")
	}
	if strings.TrimSpace(msg.Text) == "" {
		return nil, badFrame("reply text is required", "text")
	}

	frame := TurnReplyFrame{
		Kind:      kind,
		Text:      msg.Text,
		Interests: msg.Interests,
		First:     msg.First,
		Second:    msg.Second,
	}
	if strings.TrimSpace(msg.Audio) != "" {
		audio, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			return nil, badFrame("reply audio is not valid base64", "audio")
		}
		frame.Audio = audio
	}
	if update, ok := msg.Metadata["profile_update"].(map[string]any); ok {
		frame.ProfileUpdate = update
	}
	return frame, nil
}
