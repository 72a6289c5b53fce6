// Package audio declares the boundary to device-backed audio I/O. The
// switching core only needs a byte sink for playback and a byte source
// for capture; real device wrappers live outside this repository.
package audio

import (
	"fmt"
	"math"
)

// PCM format shared by both endpoint roles: 44.1 kHz, 16-bit, mono,
// little-endian signed samples.
const (
	SampleRate    = 44100
	BytesPerFrame = 2
)

// Sink consumes decoded PCM for playback.
type Sink interface {
	Play(pcm []byte) error
}

// Source produces captured PCM. Capture blocks until a chunk is available.
type Source interface {
	Capture() ([]byte, error)
}

// Discard is a Sink that drops everything, for headless nodes.
type Discard struct{}

func (Discard) Play([]byte) error { return nil }

// ToneSource synthesizes a continuous sine tone, chunk by chunk. It
// replaces a microphone in test deployments.
type ToneSource struct {
	Frequency float64
	ChunkSize int

	phase float64
}

// NewToneSource returns a source producing chunkSize-byte PCM chunks of a
// freq-Hz tone.
func NewToneSource(freq float64, chunkSize int) (*ToneSource, error) {
	if chunkSize <= 0 || chunkSize%BytesPerFrame != 0 {
		return nil, fmt.Errorf("chunk size %d is not a whole number of 16-bit frames", chunkSize)
	}
	return &ToneSource{Frequency: freq, ChunkSize: chunkSize}, nil
}

func (t *ToneSource) Capture() ([]byte, error) {
	const amplitude = 32760 // just below 16-bit max

	buf := make([]byte, t.ChunkSize)
	step := 2 * math.Pi * t.Frequency / SampleRate
	for i := 0; i < len(buf); i += 2 {
		sample := int16(amplitude * math.Sin(t.phase))
		buf[i] = byte(sample)
		buf[i+1] = byte(sample >> 8)
		t.phase += step
	}
	// Keep the phase bounded so long calls do not lose precision.
	t.phase = math.Mod(t.phase, 2*math.Pi)
	return buf, nil
}
