// Package stt defines the speech-to-text collaborator interface consumed by
// the capture pipeline. Implementations wrap a live recognition backend and
// surface interim/final transcript events plus lifecycle notifications.
package stt

import (
	"context"
	"errors"
)

// EventKind classifies recognition session events.
type EventKind int

const (
	// KindStarted fires once when the recognizer begins consuming audio.
	KindStarted EventKind = iota
	// KindInterim carries a provisional transcript that may still change.
	KindInterim
	// KindFinal carries a committed transcript segment.
	KindFinal
	// KindEnded fires when the recognizer finishes on its own.
	KindEnded
	// KindError carries a recognition failure; the session is over.
	KindError
)

func (k EventKind) String() string {
	switch k {
	case KindStarted:
		return "started"
	case KindInterim:
		return "interim"
	case KindFinal:
		return "final"
	case KindEnded:
		return "ended"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one recognition session update.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// StreamOptions configures a recognition session.
type StreamOptions struct {
	Language       string // ISO language code (default "en")
	Encoding       string // audio encoding hint (default "pcm_s16le")
	SampleRate     int    // input sample rate in Hz
	Channels       int    // input channel count
	InterimResults bool   // emit provisional transcripts
}

// Session is an active streaming recognition session. The events channel is
// closed when the session ends for any reason.
type Session interface {
	// SendAudio feeds raw PCM into the recognizer.
	SendAudio(chunk []byte) error

	// Events yields transcript and lifecycle events in order.
	Events() <-chan Event

	// Close stops the session and releases backend resources. Safe to call
	// more than once.
	Close() error
}

// Recognizer creates streaming recognition sessions.
type Recognizer interface {
	// Name returns the provider identifier.
	Name() string

	// Start opens a new session. It blocks until the backend is ready to
	// accept audio or the context is canceled.
	Start(ctx context.Context, opts StreamOptions) (Session, error)
}

// ErrUnavailable reports that no recognition backend is configured.
var ErrUnavailable = errors.New("stt: no speech recognizer configured")

// Unavailable is the recognizer used when no backend is wired. Start always
// fails, so capture follows its non-fatal error path and input falls back to
// typing.
type Unavailable struct{}

func (Unavailable) Name() string { return "unavailable" }

func (Unavailable) Start(context.Context, StreamOptions) (Session, error) {
	return nil, ErrUnavailable
}
