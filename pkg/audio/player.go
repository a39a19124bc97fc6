package audio

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
)

// PlayerConfig configures speaker output.
type PlayerConfig struct {
	// SampleRate of the playback context. The counselor service synthesizes
	// 24 kHz MP3, which go-mp3 decodes as stereo at the source rate.
	SampleRate int
	// BufferSize in bytes. Smaller is lower latency at glitch risk.
	BufferSize int
	Logger     *slog.Logger
}

// DefaultPlayerConfig returns playback defaults matching the service's
// synthesized audio.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate: 24000,
		BufferSize: 4800, // ~50ms at 24kHz stereo s16
	}
}

// Player renders synthesized reply audio through the speaker. One Player
// owns the process-wide oto context; construct it once.
type Player struct {
	cfg    PlayerConfig
	otoCtx *oto.Context
	logger *slog.Logger

	mu      sync.Mutex
	current *oto.Player
	closed  bool
}

// NewPlayer initializes the speaker context and blocks until it is ready.
func NewPlayer(cfg PlayerConfig) (*Player, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultPlayerConfig().SampleRate
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultPlayerConfig().BufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(cfg.BufferSize) * time.Second / time.Duration(cfg.SampleRate*4),
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	return &Player{cfg: cfg, otoCtx: otoCtx, logger: logger}, nil
}

// PlayMP3 decodes and plays one synthesized reply payload, blocking until
// playback drains or the player is flushed. Callers run it off the event
// loop.
func (p *Player) PlayMP3(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode reply audio: %w", err)
	}
	if decoder.SampleRate() != p.cfg.SampleRate {
		p.logger.Warn("reply audio sample rate differs from playback context",
			"reply_hz", decoder.SampleRate(), "context_hz", p.cfg.SampleRate)
	}
	return p.play(p.otoCtx.NewPlayer(decoder))
}

// PlayPCM plays raw s16le stereo PCM at the context sample rate.
func (p *Player) PlayPCM(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return p.play(p.otoCtx.NewPlayer(bytes.NewReader(pcm)))
}

func (p *Player) play(player *oto.Player) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = player.Close()
		return fmt.Errorf("player is closed")
	}
	if p.current != nil {
		// A newer reply supersedes whatever is still draining.
		_ = p.current.Close()
	}
	p.current = player
	p.mu.Unlock()

	player.Play()
	for player.IsPlaying() {
		time.Sleep(20 * time.Millisecond)
	}

	p.mu.Lock()
	if p.current == player {
		p.current = nil
	}
	p.mu.Unlock()
	return player.Close()
}

// Flush stops the reply currently playing, if any.
func (p *Player) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		_ = p.current.Close()
		p.current = nil
	}
}

// Close stops playback and marks the player unusable.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.current != nil {
		_ = p.current.Close()
		p.current = nil
	}
	return nil
}
