package capture

import (
	"math"
	"sync"
)

// Feed derives display bars from the most recent window of captured PCM. The
// recorder pushes every chunk it reads from the microphone; the frame ticker
// samples Bars at display cadence. The two never block each other beyond the
// window mutex.
type Feed struct {
	mu         sync.Mutex
	sampleRate int
	window     []float64
	pos        int
	filled     int
}

const (
	defaultWindowSamples = 2048

	// Display band for speech input. Bins are spread evenly across it.
	vizLowHz  = 200.0
	vizHighHz = 3800.0
)

// NewFeed builds a feed over a fixed sample window. windowSamples <= 0 picks
// the default.
func NewFeed(sampleRate, windowSamples int) *Feed {
	if windowSamples <= 0 {
		windowSamples = defaultWindowSamples
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Feed{
		sampleRate: sampleRate,
		window:     make([]float64, windowSamples),
	}
}

// Push folds a chunk of little-endian signed 16-bit mono PCM into the window,
// overwriting the oldest samples.
func (f *Feed) Push(pcm []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		f.window[f.pos] = float64(sample) / 32768.0
		f.pos = (f.pos + 1) % len(f.window)
		if f.filled < len(f.window) {
			f.filled++
		}
	}
}

// Reset empties the window, so the next Bars call reports silence.
func (f *Feed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.window {
		f.window[i] = 0
	}
	f.pos = 0
	f.filled = 0
}

// Bars computes one normalized magnitude in [0,1] per display bar. Each bar
// aggregates the energy of its slice of the speech band.
func (f *Feed) Bars(n int) []float64 {
	if n <= 0 {
		return nil
	}
	f.mu.Lock()
	samples := make([]float64, f.filled)
	if f.filled < len(f.window) {
		copy(samples, f.window[:f.filled])
	} else {
		// Ring order does not matter for magnitude estimation.
		copy(samples, f.window)
	}
	rate := f.sampleRate
	f.mu.Unlock()

	bars := make([]float64, n)
	if len(samples) == 0 {
		return bars
	}
	step := (vizHighHz - vizLowHz) / float64(n)
	for i := range bars {
		low := vizLowHz + step*float64(i)
		bars[i] = min(bandMagnitude(samples, rate, low, low+step), 1)
	}
	return bars
}

// Resting returns the all-floor frame emitted once when capture stops.
func Resting(n int) []float64 {
	if n <= 0 {
		return nil
	}
	return make([]float64, n)
}

// Lerp maps a normalized magnitude onto a display height between floor and
// ceiling.
func Lerp(floor, ceiling, v float64) float64 {
	v = min(max(v, 0), 1)
	return floor + (ceiling-floor)*v
}

// bandMagnitude sums Goertzel bin powers across [low, high) and converts the
// total to a normalized amplitude. One bin spans sampleRate/len(samples) Hz,
// a few Hz for a typical window; a single bin would miss any tone landing
// between bin centers, so the whole band is walked at bin spacing.
func bandMagnitude(samples []float64, sampleRate int, low, high float64) float64 {
	binHz := float64(sampleRate) / float64(len(samples))
	var power float64
	for freq := low + binHz/2; freq < high; freq += binHz {
		power += goertzelPower(samples, sampleRate, freq)
	}
	if power == 0 {
		// Band narrower than one bin: probe its center.
		power = goertzelPower(samples, sampleRate, (low+high)/2)
	}
	// Scale so a full-amplitude sine inside the band reads ~1.0.
	return 2 * math.Sqrt(power) / float64(len(samples))
}

// goertzelPower estimates the squared magnitude of one frequency component.
// Cheaper than a full FFT for the handful of bins the display needs.
func goertzelPower(samples []float64, sampleRate int, freq float64) float64 {
	omega := 2 * math.Pi * freq / float64(sampleRate)
	coeff := 2 * math.Cos(omega)
	var s1, s2 float64
	for _, x := range samples {
		s0 := x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		power = 0
	}
	return power
}
