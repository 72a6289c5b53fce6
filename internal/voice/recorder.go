package voice

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/switchpoint/msc/internal/audio"
)

// Recorder flushes a finished session's accumulated media to a dated WAV
// file in the voice directory.
type Recorder struct {
	dir string
}

// NewRecorder creates the voice directory if needed.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create voice directory %s: %w", dir, err)
	}
	return &Recorder{dir: dir}, nil
}

// WriteRecording writes pcm to
// voice_call_msisdn_<n>_date_<yyyy_MM_dd>_Time_<HH_mm_ss>.wav and returns
// the path. An empty recording writes nothing.
func (r *Recorder) WriteRecording(msisdn string, start time.Time, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		log.Printf("[Recorder] no audio data for %s, skipping recording", msisdn)
		return "", nil
	}

	name := fmt.Sprintf("voice_call_msisdn_%s_date_%s_Time_%s.wav",
		msisdn, start.Format("2006_01_02"), start.Format("15_04_05"))
	path := filepath.Join(r.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create recording %s: %w", path, err)
	}
	defer f.Close()

	if err := writeWAVHeader(f, len(pcm)); err != nil {
		return "", err
	}
	if _, err := f.Write(pcm); err != nil {
		return "", fmt.Errorf("failed to write recording: %w", err)
	}
	return path, nil
}

// writeWAVHeader emits the 44-byte RIFF header for 16-bit mono PCM at the
// shared sample rate.
func writeWAVHeader(f *os.File, dataLen int) error {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := audio.SampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	hdr := make([]byte, 44)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+dataLen))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(hdr[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], channels)
	binary.LittleEndian.PutUint32(hdr[24:28], audio.SampleRate)
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(dataLen))

	if _, err := f.Write(hdr); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	return nil
}
