// Command pathwise is the terminal client for the PathWise counseling
// service: a live conversation transcript, microphone capture with streaming
// transcription, synthesized reply playback, and an exportable session plan.
// When the service is unreachable it degrades to a scripted offline flow.
//
// Configuration (environment, after loading ./.env):
//
//	PATHWISE_URL            websocket endpoint (default ws://localhost:8000/ws)
//	PATHWISE_EXPECTED_TURNS turns that map to 100% progress
//	PATHWISE_TURN_THRESHOLD turns before plan requests unlock
//	PATHWISE_EXPORT_DIR     directory for exported plans (default ".")
//	PATHWISE_LOG            log file path (default: logging disabled)
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pathwise-ai/pathwise/internal/dotenv"
	"github.com/pathwise-ai/pathwise/pkg/audio"
	"github.com/pathwise-ai/pathwise/pkg/capture"
	"github.com/pathwise-ai/pathwise/pkg/client"
	"github.com/pathwise-ai/pathwise/pkg/session"
	"github.com/pathwise-ai/pathwise/pkg/voice/stt"
	"github.com/pathwise-ai/pathwise/pkg/voice/tts"
)

const defaultURL = "ws://localhost:8000/ws"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pathwise:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = dotenv.Load()
	logger, closeLog, err := newLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	cfg := session.DefaultConfig()
	if v := envInt("PATHWISE_EXPECTED_TURNS"); v > 0 {
		cfg.TotalExpectedTurns = v
	}
	if v := envInt("PATHWISE_TURN_THRESHOLD"); v > 0 {
		cfg.ArtifactThreshold = v
	}

	state := session.NewState(cfg)
	manager := client.NewManager(client.Config{
		URL:    envOr("PATHWISE_URL", defaultURL),
		Logger: logger,
	})
	defer manager.Close()

	player, err := audio.NewPlayer(audio.DefaultPlayerConfig())
	if err != nil {
		logger.Warn("reply playback unavailable", "error", err)
		player = nil
	} else {
		defer player.Close()
	}

	mic := audio.NewMalgoMicrophone()
	defer mic.Close()

	a := &app{
		state:     state,
		manager:   manager,
		player:    player,
		speech:    tts.Noop{Logger: logger},
		logger:    logger,
		exportDir: envOr("PATHWISE_EXPORT_DIR", "."),
	}
	sink := &uiSink{app: a}
	a.dispatcher = session.NewDispatcher(state, sink, logger)
	fallback := session.NewFallbackEngine(state, sink, logger)

	// The submit hook crosses from the capture goroutine back onto the
	// bubbletea loop, so every Sink mutation stays single-threaded.
	var program *tea.Program
	a.recorder = capture.NewRecorder(capture.Config{
		Microphone: mic,
		Recognizer: stt.Unavailable{},
		Submit: func(text string) {
			program.Send(transcriptMsg{text: text})
		},
		Logger: logger,
	})
	a.controller = session.NewController(state, sink, manager, fallback, a.recorder, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Connect(ctx)

	program = tea.NewProgram(newModel(a), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}

func newLogger() (*slog.Logger, func(), error) {
	path := os.Getenv("PATHWISE_LOG")
	if path == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { _ = file.Close() }, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}
