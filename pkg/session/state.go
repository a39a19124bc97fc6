// Package session holds the single source of truth for a conversation: turn
// progression, the accumulated profile, the held artifact, and the input
// modality that gates audio playback. All mutation funnels through the
// dispatcher handlers or the explicit reset.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Modality records how the most recent user input was produced. It decides
// whether a synthesized reply is rendered as audio.
type Modality int

const (
	ModalityText Modality = iota
	ModalityVoice
)

func (m Modality) String() string {
	if m == ModalityVoice {
		return "voice"
	}
	return "text"
}

// TurnOwner identifies which path is advancing the turn counter. The online
// dispatcher and the offline fallback engine are mutually exclusive for the
// session's lifetime unless an explicit reset occurs.
type TurnOwner int

const (
	OwnerNone TurnOwner = iota
	OwnerRemote
	OwnerFallback
)

func (o TurnOwner) String() string {
	switch o {
	case OwnerRemote:
		return "remote"
	case OwnerFallback:
		return "fallback"
	default:
		return "none"
	}
}

// ErrTurnOwnership is returned when the non-owning path tries to advance the
// turn counter.
var ErrTurnOwnership = errors.New("session: turn progression owned by the other path")

// Config parameterizes a session. The same client serves different guided
// flows (career counseling, essay brainstorming) through configuration, not
// forked code.
type Config struct {
	// TotalExpectedTurns sizes the derived progress percentage. Must be > 0.
	TotalExpectedTurns int

	// ArtifactThreshold is the turn count at which the request-artifact
	// affordance unlocks.
	ArtifactThreshold int

	// FallbackScript is the fixed ordered prompt list the offline engine
	// advances through.
	FallbackScript []string
}

// DefaultConfig returns the career-guidance flow parameters.
func DefaultConfig() Config {
	return Config{
		TotalExpectedTurns: 10,
		ArtifactThreshold:  3,
		FallbackScript:     DefaultFallbackScript(),
	}
}

func (c Config) normalized() Config {
	if c.TotalExpectedTurns <= 0 {
		c.TotalExpectedTurns = DefaultConfig().TotalExpectedTurns
	}
	if c.ArtifactThreshold <= 0 {
		c.ArtifactThreshold = DefaultConfig().ArtifactThreshold
	}
	if len(c.FallbackScript) == 0 {
		c.FallbackScript = DefaultFallbackScript()
	}
	return c
}

// State is the conversation's single mutable structure.
type State struct {
	mu sync.Mutex

	cfg             Config
	id              string
	turnCount       int
	started         bool
	modality        Modality
	profile         *Profile
	artifact        json.RawMessage
	artifactEnabled bool
	owner           TurnOwner
	startedAt       time.Time
}

// NewState creates a fresh session state with the session clock running.
func NewState(cfg Config) *State {
	return &State{
		cfg:       cfg.normalized(),
		profile:   NewProfile(),
		startedAt: time.Now(),
	}
}

// Config returns the session parameters.
func (s *State) Config() Config {
	return s.cfg
}

// ID returns the remote-assigned session id, or "" before the connect
// acknowledgment.
func (s *State) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// SetID assigns the session id. The id is immutable once set; a second
// assignment is ignored and reported as false.
func (s *State) SetID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != "" {
		return s.id == id
	}
	s.id = id
	return true
}

// Started reports whether the remote acknowledged the session.
func (s *State) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// SetStarted marks the session acknowledged.
func (s *State) SetStarted(started bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = started
}

// TurnCount returns the number of completed conversational turns.
func (s *State) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// AdvanceTurn increments the turn counter on behalf of the given owner. The
// first advance claims ownership; the other path is rejected until reset.
// The second return value is true exactly once, when the count reaches the
// artifact threshold.
func (s *State) AdvanceTurn(owner TurnOwner) (count int, unlockedArtifact bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == OwnerNone {
		s.owner = owner
	} else if s.owner != owner {
		return s.turnCount, false, fmt.Errorf("%w: held by %s", ErrTurnOwnership, s.owner)
	}
	s.turnCount++
	if !s.artifactEnabled && s.turnCount >= s.cfg.ArtifactThreshold {
		s.artifactEnabled = true
		return s.turnCount, true, nil
	}
	return s.turnCount, false, nil
}

// Owner reports which path currently owns turn progression.
func (s *State) Owner() TurnOwner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Progress derives the completion percentage. Values above 100 are not
// special-cased, matching the observed service behavior.
func (s *State) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(math.Round(float64(s.turnCount) / float64(s.cfg.TotalExpectedTurns) * 100))
}

// Modality returns the modality of the most recent submitted user input.
func (s *State) Modality() Modality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modality
}

// SetModality records the modality of the input being submitted.
func (s *State) SetModality(m Modality) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modality = m
}

// MergeProfile folds a remote profile update into the accumulator.
func (s *State) MergeProfile(update map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile.Merge(update)
}

// ProfileSnapshot returns a copy of the accumulated profile.
func (s *State) ProfileSnapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Snapshot()
}

// Artifact returns the held artifact, or nil.
func (s *State) Artifact() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

// SetArtifact replaces the held artifact wholesale. Artifacts are never
// partially merged.
func (s *State) SetArtifact(artifact json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifact = append(json.RawMessage(nil), artifact...)
}

// ArtifactEnabled reports whether the request-artifact affordance has
// unlocked.
func (s *State) ArtifactEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifactEnabled
}

// StartedAt returns the session clock origin.
func (s *State) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Reset returns the state to its initial shape: zero turns, empty profile,
// no artifact, text modality, ownership released, session clock restarted.
// The session id is cleared too; the next connect acknowledgment assigns a
// fresh one.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	s.turnCount = 0
	s.started = false
	s.modality = ModalityText
	s.profile = NewProfile()
	s.artifact = nil
	s.artifactEnabled = false
	s.owner = OwnerNone
	s.startedAt = time.Now()
}
