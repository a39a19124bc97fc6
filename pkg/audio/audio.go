// Package audio provides the device layer: microphone capture streams and
// speaker playback for synthesized replies.
package audio

import (
	"context"
	"errors"
)

// Errors mapping device failures onto the client's error taxonomy. Both are
// non-fatal: capture reverts to idle and the input modality falls back to
// text.
var (
	ErrPermissionDenied = errors.New("audio: microphone permission denied")
	ErrNoDevice         = errors.New("audio: no capture device available")
)

// Format describes a raw PCM stream shape (signed 16-bit little endian).
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultCaptureFormat is the microphone format used for recognition input.
func DefaultCaptureFormat() Format {
	return Format{SampleRate: 16000, Channels: 1}
}

func (f Format) normalized() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = 16000
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return f
}

// BytesPerSecond returns the PCM byte rate for the format.
func (f Format) BytesPerSecond() int {
	f = f.normalized()
	return f.SampleRate * f.Channels * 2
}

// Stream is a live, revocable audio source. Read blocks until data is
// available or the stream is closed; Close releases the device and is safe
// to call more than once.
type Stream interface {
	Read(p []byte) (int, error)
	Close() error
}

// Microphone acquires capture streams. Open blocks while the device (and,
// where applicable, the user permission prompt) is being acquired.
type Microphone interface {
	Open(ctx context.Context, format Format) (Stream, error)
}
