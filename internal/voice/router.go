// Package voice moves media: the node-side UDP router, the endpoint-side
// sender, and the recording flush.
package voice

import (
	"context"
	"errors"
	"log"
	"net"

	"github.com/switchpoint/msc/internal/audio"
	"github.com/switchpoint/msc/internal/encryption"
	"github.com/switchpoint/msc/internal/metrics"
	"github.com/switchpoint/msc/internal/registry"
)

// ChunkSize is the fixed audio fragment size endpoints send. Inbound
// buffers are larger because frame encryption expands the payload.
const ChunkSize = 1024

// Router is the single long-lived receiver on the media port. It matches
// datagrams to sessions by source address, frame-decrypts them, appends
// the plaintext to the session recording, and forwards it to the sink.
type Router struct {
	reg  *registry.Registry
	sink audio.Sink
	conn *net.UDPConn
}

// NewRouter wraps an already-bound media socket.
func NewRouter(conn *net.UDPConn, reg *registry.Registry, sink audio.Sink) *Router {
	return &Router{reg: reg, sink: sink, conn: conn}
}

// Run receives datagrams until the context is cancelled or the socket is
// closed. Per-packet failures never stop the loop.
func (r *Router) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	buf := make([]byte, ChunkSize*2)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Printf("[Voice] router stopped")
				return
			}
			log.Printf("[Voice] receive error: %v", err)
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		r.handlePacket(src, payload)
	}
}

// handlePacket routes one datagram. Split out from the socket loop so the
// matching and fallback logic is testable without sockets.
func (r *Router) handlePacket(src *net.UDPAddr, payload []byte) {
	sess, ok := r.reg.SessionByAddr(src.IP.String())
	if !ok {
		metrics.MediaPacketsTotal.WithLabelValues("dropped").Inc()
		return
	}
	if prev, changed := sess.UpdatePort(src.Port); changed {
		log.Printf("[Voice] updating source port for %s from %d to %d", sess.MSISDN, prev, src.Port)
	}
	if len(payload) == 0 {
		return
	}

	ch, haveKey := r.reg.Channel(sess.MSISDN)
	if !haveKey {
		// No session key, treat as legacy plaintext audio.
		r.deliver(sess, payload, "legacy")
		return
	}

	pcm, err := encryption.DecryptFrame(ch.Key, ch.IV, payload)
	if err != nil {
		if looksLikeAudio(payload) {
			log.Printf("[Voice] undecryptable packet from %s looks like legacy audio, forwarding", sess.MSISDN)
			r.deliver(sess, payload, "legacy")
		} else {
			log.Printf("[Voice] dropping undecryptable packet from %s: %v", sess.MSISDN, err)
			metrics.MediaPacketsTotal.WithLabelValues("dropped").Inc()
		}
		return
	}
	r.deliver(sess, pcm, "played")
}

func (r *Router) deliver(sess *registry.Session, pcm []byte, disposition string) {
	sess.AppendRecording(pcm)
	if err := r.sink.Play(pcm); err != nil {
		log.Printf("[Voice] playback error for %s: %v", sess.MSISDN, err)
	}
	metrics.MediaPacketsTotal.WithLabelValues(disposition).Inc()
}

// looksLikeAudio decides whether an undecryptable payload is legacy
// plaintext PCM: real audio shows non-zero bytes early in the buffer.
func looksLikeAudio(payload []byte) bool {
	if len(payload) <= 10 {
		return false
	}
	n := len(payload)
	if n > 20 {
		n = 20
	}
	nonZero := 0
	for _, b := range payload[:n] {
		if b != 0 {
			nonZero++
		}
	}
	return nonZero > 5
}
