package encryption

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFraming classifies media-frame violations: a failed decrypt, a frame
// too short to carry its length header, or an implausible declared length.
// Callers treat it as a recoverable per-packet signal, never as fatal.
var ErrFraming = errors.New("invalid media frame")

// EncryptFrame frame-encrypts one audio chunk: a 4-byte big-endian length
// of the plaintext, the chunk itself, zero padding up to the next 16-byte
// boundary, then AES-CBC with PKCS#7 on top. The double padding is the
// wire format the calling endpoints already speak; do not "fix" it.
func EncryptFrame(key, iv, chunk []byte) ([]byte, error) {
	padded := (len(chunk) + 15) &^ 15

	combined := make([]byte, 4+padded)
	binary.BigEndian.PutUint32(combined[:4], uint32(len(chunk)))
	copy(combined[4:], chunk)

	return EncryptAES(key, iv, combined)
}

// DecryptFrame reverses EncryptFrame and returns exactly the original
// chunk bytes. Every failure is reported as ErrFraming so the media
// router can fall back to its legacy-plaintext heuristic.
func DecryptFrame(key, iv, ciphertext []byte) ([]byte, error) {
	combined, err := DecryptAES(key, iv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFraming, err)
	}

	if len(combined) < 4 {
		return nil, fmt.Errorf("%w: decrypted buffer too short for length header", ErrFraming)
	}
	length := int(binary.BigEndian.Uint32(combined[:4]))
	if length <= 0 || length > len(combined)-4 {
		return nil, fmt.Errorf("%w: declared length %d out of range", ErrFraming, length)
	}

	chunk := make([]byte, length)
	copy(chunk, combined[4:4+length])
	return chunk, nil
}
