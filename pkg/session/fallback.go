package session

import (
	"log/slog"
	"sync"
)

// DefaultFallbackScript is the fixed local prompt list used when the
// service is unreachable, mirroring the discovery questions the remote flow
// opens with.
func DefaultFallbackScript() []string {
	return []string{
		"What grade are you in?",
		"What are your favorite subjects in school?",
		"Tell me about your hobbies or interests outside school.",
		"What kind of activities make you lose track of time?",
		"Is there a career you have always been curious about?",
	}
}

const fallbackClosing = "That covers what I wanted to ask for now. Once we're reconnected I can put together your plan."

// FallbackEngine advances a fixed local script of prompts when no
// connection is available, keeping the same turn-count contract as the
// online path. It never runs concurrently with dispatcher-driven turns:
// whichever path first advances the counter owns it until reset.
type FallbackEngine struct {
	mu     sync.Mutex
	state  *State
	sink   Sink
	script []string
	pos    int
	logger *slog.Logger
}

// NewFallbackEngine builds an engine over the session's configured script.
func NewFallbackEngine(state *State, sink Sink, logger *slog.Logger) *FallbackEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackEngine{
		state:  state,
		sink:   sink,
		script: state.Config().FallbackScript,
		logger: logger,
	}
}

// CanRun reports whether the engine may advance turns: only while the
// remote dispatcher has not claimed turn progression.
func (e *FallbackEngine) CanRun() bool {
	return e.state.Owner() != OwnerRemote
}

// Submit advances one scripted position in response to a local user input,
// applying the same turn increment and affordance rules as the online path.
// If the last user input was spoken, the prompt is synthesized locally.
// Returns the prompt shown.
func (e *FallbackEngine) Submit(input string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	count, unlocked, err := e.state.AdvanceTurn(OwnerFallback)
	if err != nil {
		return "", err
	}

	prompt := fallbackClosing
	if e.pos < len(e.script) {
		prompt = e.script[e.pos]
	}
	e.pos++

	e.sink.AppendMessage(AuthorCounselor, prompt)
	if e.state.Modality() == ModalityVoice {
		e.sink.SpeakText(prompt)
	}
	if unlocked {
		e.sink.EnableArtifactRequests()
	}
	e.logger.Debug("fallback turn", "turn", count, "position", e.pos, "input_chars", len(input))
	return prompt, nil
}

// Position returns the next script index.
func (e *FallbackEngine) Position() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

// Reset rewinds the script to the beginning.
func (e *FallbackEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = 0
}
