// Package tts defines the local speech-synthesis collaborator interface used
// when a spoken reply is expected but no remote audio payload is available.
package tts

import (
	"context"
	"log/slog"
)

// Options configures synthesis.
type Options struct {
	Voice    string
	Language string  // ISO language code (default "en")
	Speed    float64 // speed multiplier, 0 means provider default
}

// Synthesizer speaks text through a local backend. Speak blocks until
// playback has been handed to the device or the context is canceled.
type Synthesizer interface {
	// Name returns the provider identifier.
	Name() string

	// Speak synthesizes and plays the given text.
	Speak(ctx context.Context, text string, opts Options) error
}

// Noop is a synthesizer that logs instead of speaking. It stands in when no
// local TTS backend is configured so the voice path stays exercisable.
type Noop struct {
	Logger *slog.Logger
}

func (Noop) Name() string { return "noop" }

func (n Noop) Speak(_ context.Context, text string, _ Options) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("tts noop", "chars", len(text))
	return nil
}
