package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pathwise-ai/pathwise/pkg/protocol"
)

// Author identifies who produced a transcript entry.
type Author int

const (
	AuthorUser Author = iota
	AuthorCounselor
	AuthorSystem
)

func (a Author) String() string {
	switch a {
	case AuthorUser:
		return "you"
	case AuthorCounselor:
		return "counselor"
	default:
		return "system"
	}
}

// Sink receives the UI side effects requested by dispatch handlers. The
// terminal front-end implements it; tests use a recorder.
type Sink interface {
	// AppendMessage adds one entry to the visible transcript.
	AppendMessage(author Author, text string)

	// SetStatus surfaces a status line. Transient statuses self-clear after
	// a fixed delay; persistent ones (disconnected) stay until replaced.
	SetStatus(message string, persistent bool)

	// PlayAudio renders a synthesized reply payload.
	PlayAudio(audio []byte)

	// SpeakText synthesizes text locally when a spoken reply is expected
	// but no remote payload is available.
	SpeakText(text string)

	// EnableArtifactRequests unlocks the request-artifact affordance.
	EnableArtifactRequests()

	// ArtifactUpdated reports a newly held artifact.
	ArtifactUpdated(artifact json.RawMessage)

	// ProfileUpdated reports the latest accumulated profile.
	ProfileUpdated(profile map[string]any)
}

// Dispatcher routes each inbound frame by tag to a handler that mutates the
// session state and requests UI side effects. Handlers run to completion in
// arrival order on the consumer's goroutine.
type Dispatcher struct {
	state  *State
	sink   Sink
	logger *slog.Logger
}

// NewDispatcher wires a dispatcher to its state and sink.
func NewDispatcher(state *State, sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{state: state, sink: sink, logger: logger}
}

// Dispatch handles one inbound frame. Unknown tags are logged and dropped;
// no frame is ever fatal to the session.
func (d *Dispatcher) Dispatch(frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.ConnectedFrame:
		d.handleConnected(f)
	case protocol.TurnReplyFrame:
		d.handleTurnReply(f)
	case protocol.ArtifactReadyFrame:
		d.handleArtifactReady(f)
	case protocol.StatusFrame:
		message := f.Message
		if message == "" {
			message = f.Status
		}
		d.sink.SetStatus(message, false)
	case protocol.ErrorFrame:
		// Remote errors surface twice: as a transient status and as a
		// counterpart-authored transcript entry. The session continues.
		d.sink.SetStatus(f.Message, false)
		d.sink.AppendMessage(AuthorCounselor, f.Message)
	case protocol.PongFrame:
		d.logger.Debug("heartbeat acknowledged")
	case protocol.ClearedFrame:
		message := f.Message
		if strings.TrimSpace(message) == "" {
			message = "conversation cleared"
		}
		d.sink.AppendMessage(AuthorSystem, message)
	case protocol.ProfileFrame:
		d.state.MergeProfile(f.Profile)
		d.sink.ProfileUpdated(d.state.ProfileSnapshot())
	case protocol.HistoryFrame:
		for _, entry := range f.Conversation {
			author := AuthorCounselor
			if entry.Role == "user" {
				author = AuthorUser
			}
			d.sink.AppendMessage(author, entry.Text)
		}
	case protocol.StatsFrame:
		if line := formatStats(f.Stats); line != "" {
			d.sink.AppendMessage(AuthorSystem, line)
		}
	case protocol.UnknownFrame:
		d.logger.Warn("dropping unrecognized frame", "tag", f.Tag)
	default:
		d.logger.Warn("dropping unhandled frame", "tag", frame)
	}
}

func (d *Dispatcher) handleConnected(f protocol.ConnectedFrame) {
	if !d.state.SetID(f.SessionID) {
		d.logger.Warn("ignoring conflicting session id", "have", d.state.ID(), "got", f.SessionID)
		return
	}
	d.state.SetStarted(true)
	d.logger.Info("session acknowledged", "session_id", f.SessionID)
	d.sink.SetStatus("ready", false)
}

func (d *Dispatcher) handleTurnReply(f protocol.TurnReplyFrame) {
	count, unlocked, err := d.state.AdvanceTurn(OwnerRemote)
	if err != nil {
		// The offline engine owns turn progression; a late remote reply
		// cannot be counted without double-advancing the session.
		d.logger.Warn("dropping remote turn", "kind", f.Kind.String(), "error", err)
		return
	}

	d.sink.AppendMessage(AuthorCounselor, f.Text)

	if len(f.ProfileUpdate) > 0 {
		d.state.MergeProfile(f.ProfileUpdate)
		d.sink.ProfileUpdated(d.state.ProfileSnapshot())
	}

	d.gateAudio(f.Text, f.Audio)

	if unlocked {
		d.sink.EnableArtifactRequests()
	}
	d.logger.Debug("turn completed", "kind", f.Kind.String(), "turn", count, "progress", d.state.Progress())
}

func (d *Dispatcher) handleArtifactReady(f protocol.ArtifactReadyFrame) {
	d.state.SetArtifact(f.Artifact)
	d.sink.ArtifactUpdated(d.state.Artifact())
	if strings.TrimSpace(f.Text) != "" {
		d.sink.AppendMessage(AuthorCounselor, f.Text)
		d.gateAudio(f.Text, nil)
	}
	d.sink.SetStatus("plan ready", false)
}

// formatStats flattens the service's stats payload into one transcript line,
// keys sorted for a stable rendering.
func formatStats(stats map[string]any) string {
	if len(stats) == 0 {
		return ""
	}
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, stats[k]))
	}
	return "session stats: " + strings.Join(parts, ", ")
}

// gateAudio applies the playback gate to one reply.
func (d *Dispatcher) gateAudio(text string, audio []byte) {
	modality := d.state.Modality()
	if ShouldPlay(modality, len(audio) > 0) {
		d.sink.PlayAudio(audio)
		return
	}
	if modality == ModalityVoice && strings.TrimSpace(text) != "" {
		d.sink.SpeakText(text)
	}
}
