package audio

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoMicrophone captures audio through miniaudio. The underlying audio
// context is initialized lazily on first Open and reused across capture
// sessions; Close tears it down.
type MalgoMicrophone struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgoMicrophone returns an uninitialized microphone. No device is
// touched until Open is called.
func NewMalgoMicrophone() *MalgoMicrophone {
	return &MalgoMicrophone{}
}

// Open acquires the default capture device and starts delivering PCM.
func (m *MalgoMicrophone) Open(ctx context.Context, format Format) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format = format.normalized()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		cfg := malgo.ContextConfig{}
		cfg.ThreadPriority = malgo.ThreadPriorityRealtime
		allocated, err := malgo.InitContext(nil, cfg, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: init audio context: %v", ErrNoDevice, err)
		}
		m.ctx = allocated
	}

	stream := &malgoStream{
		buf: make([]byte, 0, format.BytesPerSecond()),
	}
	stream.cond = sync.NewCond(&stream.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			stream.push(input)
		},
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: init capture device: %v", ErrNoDevice, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: start capture device: %v", ErrPermissionDenied, err)
	}
	stream.device = device
	return stream, nil
}

// Close releases the shared audio context. Open streams must be closed
// first.
func (m *MalgoMicrophone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
	return nil
}

type malgoStream struct {
	device *malgo.Device

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func (s *malgoStream) push(input []byte) {
	s.mu.Lock()
	if !s.closed {
		s.buf = append(s.buf, input...)
	}
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *malgoStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *malgoStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()

	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
	}
	return nil
}
