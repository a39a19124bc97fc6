// Package capture drives the microphone-to-transcript pipeline: it acquires
// the capture device, streams PCM into a speech recognizer, publishes interim
// and final transcripts, and feeds the live visualization. A finalized
// transcript is handed to the same submit path as typed input after a short
// settle delay for trailing recognizer output.
package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pathwise-ai/pathwise/pkg/audio"
	"github.com/pathwise-ai/pathwise/pkg/voice/stt"
)

// ErrCaptureBusy is returned by Start while a session is already active.
// Only idle accepts a new start.
var ErrCaptureBusy = errors.New("capture: session already active")

// Phase is the capture state machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAcquiring
	PhaseListening
	PhaseSubmitting
)

func (p Phase) String() string {
	switch p {
	case PhaseAcquiring:
		return "acquiring"
	case PhaseListening:
		return "listening"
	case PhaseSubmitting:
		return "submitting"
	default:
		return "idle"
	}
}

// EventKind classifies recorder events.
type EventKind int

const (
	// EventPhase reports a state machine transition.
	EventPhase EventKind = iota
	// EventInterim carries a provisional transcript for the draft line.
	EventInterim
	// EventFinal carries a committed transcript segment.
	EventFinal
	// EventBars carries one visualization frame.
	EventBars
	// EventError carries a capture failure. The recorder is idle again and
	// the input modality should revert to text.
	EventError
)

// Event is one recorder update. Utterance ties all events of one capture
// session together.
type Event struct {
	Kind      EventKind
	Utterance string
	Phase     Phase
	Text      string
	Bars      []float64
	Err       error
}

// Config wires a recorder to its collaborators.
type Config struct {
	Microphone audio.Microphone
	Recognizer stt.Recognizer

	// Submit receives the finalized transcript. It is the same path typed
	// input takes, so voice and text turns are indistinguishable downstream.
	Submit func(text string)

	// Format of the capture stream. Zero value picks the default.
	Format audio.Format

	// SettleDelay is how long to wait after a final transcript for trailing
	// recognizer output before submitting. Zero picks the default.
	SettleDelay time.Duration

	// Bars is the visualization bar count. Zero picks the default.
	Bars int

	// FrameInterval is the visualization frame cadence. Zero picks ~30fps.
	FrameInterval time.Duration

	// EventBuffer sizes the events channel. Zero picks the default.
	EventBuffer int

	Logger *slog.Logger
}

const (
	defaultSettleDelay   = 400 * time.Millisecond
	defaultBars          = 16
	defaultFrameInterval = 33 * time.Millisecond
	defaultEventBuffer   = 64
	captureChunk         = 1600 // 50ms of 16kHz mono s16le
)

// Recorder runs at most one capture session at a time.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	events chan Event

	mu      sync.Mutex
	phase   Phase
	cancel  context.CancelFunc
	discard bool
}

// NewRecorder builds a recorder. Microphone, Recognizer, and Submit are
// required.
func NewRecorder(cfg Config) *Recorder {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.Bars <= 0 {
		cfg.Bars = defaultBars
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = defaultFrameInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	cfg.Format = audio.Format{
		SampleRate: max(cfg.Format.SampleRate, 0),
		Channels:   max(cfg.Format.Channels, 0),
	}
	if cfg.Format.SampleRate == 0 {
		cfg.Format = audio.DefaultCaptureFormat()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, cfg.EventBuffer),
	}
}

// Events yields recorder updates. The channel is never closed; it goes quiet
// when the recorder is idle.
func (r *Recorder) Events() <-chan Event {
	return r.events
}

// Phase returns the current state machine position.
func (r *Recorder) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Start begins a capture session. Only legal while idle.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.phase != PhaseIdle {
		r.mu.Unlock()
		return ErrCaptureBusy
	}
	r.phase = PhaseAcquiring
	r.discard = false
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	utterance := uuid.NewString()
	r.emit(Event{Kind: EventPhase, Utterance: utterance, Phase: PhaseAcquiring})
	go r.run(runCtx, utterance)
	return nil
}

// Stop ends the active session, if any. Accumulated final transcript is still
// submitted; use Stop to end an utterance early rather than discard it.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Abort ends the active session and discards any transcript the recognizer
// already committed. A session reset uses it so an in-flight utterance cannot
// land as a turn after the reset.
func (r *Recorder) Abort() {
	r.mu.Lock()
	cancel := r.cancel
	if cancel != nil {
		r.discard = true
	}
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Recorder) discarding() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discard
}

func (r *Recorder) setPhase(utterance string, p Phase) {
	r.mu.Lock()
	if r.phase == p {
		r.mu.Unlock()
		return
	}
	r.phase = p
	if p == PhaseIdle {
		r.cancel = nil
	}
	r.mu.Unlock()
	r.emit(Event{Kind: EventPhase, Utterance: utterance, Phase: p})
}

func (r *Recorder) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("capture event buffer full, dropping", "kind", ev.Kind)
	}
}

func (r *Recorder) fail(utterance string, err error) {
	r.logger.Warn("capture failed", "utterance", utterance, "error", err)
	r.emit(Event{Kind: EventError, Utterance: utterance, Err: err})
}

// run owns one capture session end to end. Every exit path goes through the
// single release below: feed stopped with one resting frame, stream and
// recognizer closed, phase back to idle.
func (r *Recorder) run(ctx context.Context, utterance string) {
	var (
		stream  audio.Stream
		session stt.Session
		once    sync.Once
	)
	release := func() {
		once.Do(func() {
			r.emit(Event{Kind: EventBars, Utterance: utterance, Bars: Resting(r.cfg.Bars)})
			if stream != nil {
				_ = stream.Close()
			}
			if session != nil {
				_ = session.Close()
			}
			r.setPhase(utterance, PhaseIdle)
		})
	}
	defer release()

	var err error
	stream, err = r.cfg.Microphone.Open(ctx, r.cfg.Format)
	if err != nil {
		r.fail(utterance, err)
		return
	}

	session, err = r.cfg.Recognizer.Start(ctx, stt.StreamOptions{
		Language:       "en",
		Encoding:       "pcm_s16le",
		SampleRate:     r.cfg.Format.SampleRate,
		Channels:       r.cfg.Format.Channels,
		InterimResults: true,
	})
	if err != nil {
		r.fail(utterance, err)
		return
	}

	r.setPhase(utterance, PhaseListening)

	feed := NewFeed(r.cfg.Format.SampleRate, 0)
	pumpDone := make(chan struct{})
	go r.pump(ctx, stream, session, feed, pumpDone)

	frames := time.NewTicker(r.cfg.FrameInterval)
	defer frames.Stop()

	// Trailing finals within the settle window extend the utterance instead
	// of splitting it into separate submits.
	settle := time.NewTimer(time.Hour)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	// The deferred release runs after each return below, so the microphone
	// and recognizer are freed on every exit path.
	var finals []string
	submit := func() {
		if r.discarding() {
			return
		}
		text := strings.TrimSpace(strings.Join(finals, " "))
		if text == "" {
			return
		}
		r.setPhase(utterance, PhaseSubmitting)
		r.emit(Event{Kind: EventFinal, Utterance: utterance, Text: text})
		if r.cfg.Submit != nil {
			r.cfg.Submit(text)
		}
	}

	for {
		select {
		case <-ctx.Done():
			// Explicit stop or teardown. An utterance already committed by
			// the recognizer is still worth submitting.
			submit()
			return

		case <-frames.C:
			if r.Phase() == PhaseListening {
				r.emit(Event{Kind: EventBars, Utterance: utterance, Bars: feed.Bars(r.cfg.Bars)})
			}

		case ev, ok := <-session.Events():
			if !ok {
				submit()
				return
			}
			switch ev.Kind {
			case stt.KindInterim:
				r.emit(Event{Kind: EventInterim, Utterance: utterance, Text: ev.Text})
			case stt.KindFinal:
				if text := strings.TrimSpace(ev.Text); text != "" {
					finals = append(finals, text)
				}
				if !settle.Stop() {
					select {
					case <-settle.C:
					default:
					}
				}
				settle.Reset(r.cfg.SettleDelay)
			case stt.KindError:
				r.fail(utterance, ev.Err)
				return
			case stt.KindEnded:
				submit()
				return
			}

		case <-settle.C:
			submit()
			return

		case <-pumpDone:
			// Microphone stream ended underneath us. If a final is pending
			// its settle timer will still fire; with nothing pending, finish
			// now.
			pumpDone = nil
			if len(finals) == 0 {
				return
			}
		}
	}
}

// pump copies microphone PCM into the recognizer and the visualization
// window until the stream ends or the context is canceled.
func (r *Recorder) pump(ctx context.Context, stream audio.Stream, session stt.Session, feed *Feed, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, captureChunk)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			feed.Push(chunk)
			if sendErr := session.SendAudio(chunk); sendErr != nil {
				r.logger.Debug("recognizer rejected audio", "error", sendErr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				r.logger.Warn("capture stream read failed", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
