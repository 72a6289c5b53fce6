package voice

import (
	"fmt"
	"net"

	"github.com/switchpoint/msc/internal/encryption"
)

// Sender is the endpoint-side outbound media path: it fragments captured
// audio into fixed-size chunks and frame-encrypts each one when a session
// key exists, otherwise sends plaintext for legacy interop.
type Sender struct {
	conn net.Conn
	key  []byte
	iv   []byte
}

// NewSender wraps a connected UDP socket. key and iv may be nil for the
// legacy plaintext path.
func NewSender(conn net.Conn, key, iv []byte) *Sender {
	return &Sender{conn: conn, key: key, iv: iv}
}

// Send transmits pcm as one or more datagrams of at most ChunkSize
// plaintext bytes each.
func (s *Sender) Send(pcm []byte) error {
	for off := 0; off < len(pcm); off += ChunkSize {
		end := off + ChunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := s.sendChunk(pcm[off:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sender) sendChunk(chunk []byte) error {
	out := chunk
	if s.key != nil {
		enc, err := encryption.EncryptFrame(s.key, s.iv, chunk)
		if err != nil {
			return fmt.Errorf("frame encrypt failed: %w", err)
		}
		out = enc
	}
	if _, err := s.conn.Write(out); err != nil {
		return fmt.Errorf("media send failed: %w", err)
	}
	return nil
}
