package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pathwise-ai/pathwise/pkg/protocol"
)

// ErrNoArtifact is returned by ExportArtifact before any plan has arrived.
var ErrNoArtifact = errors.New("session: no artifact held")

// Sender is the outbound side of the connection manager the controller
// needs. *client.Manager satisfies it.
type Sender interface {
	Send(intent protocol.Intent) error
	IsOpen() bool
	Connect(ctx context.Context)
}

// CaptureAborter discards an active microphone capture, in-flight transcript
// included. Reset uses it; a nil aborter is allowed when no audio pipeline is
// wired.
type CaptureAborter interface {
	Abort()
}

// Controller is the shared submit path for typed and spoken input, plus the
// session-level operations (request artifact, clear, reset, export). Voice
// and text submissions are indistinguishable downstream except through the
// recorded modality.
type Controller struct {
	state    *State
	sink     Sink
	sender   Sender
	fallback *FallbackEngine
	capture  CaptureAborter
	logger   *slog.Logger
}

// NewController wires the controller. capture may be nil.
func NewController(state *State, sink Sink, sender Sender, fallback *FallbackEngine, capture CaptureAborter, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		state:    state,
		sink:     sink,
		sender:   sender,
		fallback: fallback,
		capture:  capture,
		logger:   logger,
	}
}

// SubmitText submits a typed user turn.
func (c *Controller) SubmitText(text string) {
	c.submit(text, ModalityText)
}

// SubmitTranscript submits a finalized spoken transcript. This is the same
// path as SubmitText apart from the recorded modality.
func (c *Controller) SubmitTranscript(text string) {
	c.submit(text, ModalityVoice)
}

func (c *Controller) submit(text string, modality Modality) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.state.SetModality(modality)
	c.sink.AppendMessage(AuthorUser, text)

	if c.sender.IsOpen() {
		err := c.sender.Send(protocol.TextIntent{
			Message:    text,
			WantsAudio: modality == ModalityVoice,
		})
		if err != nil {
			c.logger.Warn("submit failed", "error", err)
		}
		return
	}

	if c.fallback != nil && c.fallback.CanRun() {
		if _, err := c.fallback.Submit(text); err != nil {
			c.logger.Warn("fallback submit rejected", "error", err)
		}
		return
	}
	c.sink.SetStatus("not connected", false)
}

// StartSession asks the service to begin the guided flow.
func (c *Controller) StartSession() {
	if !c.sender.IsOpen() {
		c.sink.SetStatus("not connected", false)
		return
	}
	_ = c.sender.Send(protocol.StartSessionIntent{WantsAudio: c.state.Modality() == ModalityVoice})
}

// RequestArtifact asks the service to generate the plan. Gated on the
// affordance unlocking at the configured turn threshold.
func (c *Controller) RequestArtifact() {
	if !c.state.ArtifactEnabled() {
		remaining := c.state.Config().ArtifactThreshold - c.state.TurnCount()
		c.sink.SetStatus(fmt.Sprintf("keep chatting: %d more turns before a plan", remaining), false)
		return
	}
	if !c.sender.IsOpen() {
		c.sink.SetStatus("not connected", false)
		return
	}
	_ = c.sender.Send(protocol.RequestArtifactIntent{WantsAudio: c.state.Modality() == ModalityVoice})
}

// ExploreInterests requests suggestions for the given interests.
func (c *Controller) ExploreInterests(interests []string) {
	if !c.sender.IsOpen() {
		c.sink.SetStatus("not connected", false)
		return
	}
	err := c.sender.Send(protocol.ExploreIntent{
		Interests:  interests,
		WantsAudio: c.state.Modality() == ModalityVoice,
	})
	if err != nil {
		c.logger.Warn("explore failed", "error", err)
	}
}

// CompareOptions requests a side-by-side comparison.
func (c *Controller) CompareOptions(first, second string) {
	if !c.sender.IsOpen() {
		c.sink.SetStatus("not connected", false)
		return
	}
	err := c.sender.Send(protocol.CompareIntent{
		First:      first,
		Second:     second,
		WantsAudio: c.state.Modality() == ModalityVoice,
	})
	if err != nil {
		c.logger.Warn("compare failed", "error", err)
	}
}

// ClearConversation clears the remote history. Distinct from Reset: the
// turn counter is untouched.
func (c *Controller) ClearConversation() {
	if !c.sender.IsOpen() {
		c.sink.SetStatus("not connected", false)
		return
	}
	_ = c.sender.Send(protocol.ClearIntent{})
}

// RequestProfile asks the service for its view of the accumulated profile.
// Offline, the local accumulator is surfaced instead.
func (c *Controller) RequestProfile() {
	if c.sender.IsOpen() {
		_ = c.sender.Send(protocol.ProfileIntent{})
		return
	}
	c.sink.ProfileUpdated(c.state.ProfileSnapshot())
}

// RequestHistory asks the service to replay the remote transcript.
func (c *Controller) RequestHistory() {
	if !c.sender.IsOpen() {
		c.sink.SetStatus("not connected", false)
		return
	}
	_ = c.sender.Send(protocol.HistoryIntent{})
}

// RequestStats asks the service for its session statistics.
func (c *Controller) RequestStats() {
	if !c.sender.IsOpen() {
		c.sink.SetStatus("not connected", false)
		return
	}
	_ = c.sender.Send(protocol.StatsIntent{})
}

// Reset is the only full session reset: it aborts any active capture so an
// in-flight transcript cannot land as a post-reset turn, zeroes the turn
// counter, empties the profile, discards the artifact, reverts the modality
// to text, restarts the session clock, rewinds the fallback script, and
// re-triggers a connect if the transport is not open.
func (c *Controller) Reset(ctx context.Context) {
	if c.capture != nil {
		c.capture.Abort()
	}
	c.state.Reset()
	if c.fallback != nil {
		c.fallback.Reset()
	}
	c.sink.SetStatus("session reset", false)
	if !c.sender.IsOpen() {
		c.sender.Connect(ctx)
	}
}

// ExportArtifact writes the held artifact as a JSON document in dir, named
// deterministically from the session id. Returns the written path.
func (c *Controller) ExportArtifact(dir string) (string, error) {
	artifact := c.state.Artifact()
	if len(artifact) == 0 {
		return "", ErrNoArtifact
	}
	id := c.state.ID()
	if id == "" {
		id = "local"
	}

	var pretty []byte
	var indented map[string]any
	if err := json.Unmarshal(artifact, &indented); err == nil {
		pretty, err = json.MarshalIndent(indented, "", "  ")
		if err != nil {
			pretty = artifact
		}
	} else {
		pretty = artifact
	}

	path := filepath.Join(dir, fmt.Sprintf("plan_%s.json", id))
	if err := os.WriteFile(path, pretty, 0o644); err != nil {
		return "", fmt.Errorf("export artifact: %w", err)
	}
	return path, nil
}
