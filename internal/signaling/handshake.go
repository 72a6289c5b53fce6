package signaling

import (
	"context"
	"encoding/base64"
	"log"

	"github.com/switchpoint/msc/internal/encryption"
	"github.com/switchpoint/msc/internal/helpers"
	"github.com/switchpoint/msc/internal/metrics"
	"github.com/switchpoint/msc/internal/protocol"
	"github.com/switchpoint/msc/internal/registry"
)

// sendPublicKey opens the handshake: the node offers its public key so
// the endpoint can send back an encrypted session key.
func (h *Handler) sendPublicKey() error {
	pub, err := encryption.PublicKeyToString(&h.priv.PublicKey)
	if err != nil {
		return err
	}
	return h.cc.WriteLine(protocol.PrefixPublicKey + pub)
}

// handshakeKey handles the AES_KEY line: base64-decode, RSA-decrypt, and
// hold the session key until the IV line that must follow.
func (h *Handler) handshakeKey(ctx context.Context, arg string) {
	if h.machine.Current() != StateAwaitingHandshake {
		log.Printf("[Signaling] out-of-order AES_KEY from %s, ignoring", h.connID)
		return
	}

	raw, err := base64.StdEncoding.DecodeString(arg)
	if err != nil {
		h.handshakeFailed(ctx, "malformed AES_KEY", err)
		return
	}
	key, err := encryption.DecryptRSA(h.priv, raw)
	if err != nil {
		h.handshakeFailed(ctx, "AES key decrypt", err)
		return
	}
	h.pendingKey = key
}

// handshakeIV completes the handshake: the IV arrives unencrypted (it is
// not secret), the channel is stored under the connection identity, and
// the node confirms readiness.
func (h *Handler) handshakeIV(ctx context.Context, arg string) {
	if h.machine.Current() != StateAwaitingHandshake || h.pendingKey == nil {
		h.handshakeFailed(ctx, "IV without preceding AES_KEY", nil)
		return
	}

	iv, err := base64.StdEncoding.DecodeString(arg)
	if err != nil || len(iv) != encryption.IVSize {
		h.handshakeFailed(ctx, "malformed IV", err)
		return
	}

	h.reg.PutChannel(h.connID, &registry.SecureChannel{Key: h.pendingKey, IV: iv})
	h.pendingKey = nil

	if err := h.cc.WriteLine(protocol.Ready); err != nil {
		log.Printf("[Signaling] failed to confirm encryption to %s: %v", h.connID, err)
		return
	}
	if err := h.machine.Event(ctx, eventHandshakeDone); err != nil {
		log.Printf("[Signaling] state error completing handshake for %s: %v", h.connID, err)
		return
	}
	log.Printf("[Signaling] secure channel established with %s", h.connID)
}

// handshakeFailed applies the failure policy: fail-open falls back to the
// legacy unencrypted path and keeps going; fail-closed drops the
// connection.
func (h *Handler) handshakeFailed(ctx context.Context, what string, err error) {
	if h.pendingKey != nil {
		helpers.WipeBytes(h.pendingKey)
		h.pendingKey = nil
	}

	if h.cfg.EncryptionRequired {
		log.Printf("[Signaling] handshake with %s failed (%s: %v), closing (encryption required)", h.connID, what, err)
		h.machine.SetState(StateClosed)
		return
	}

	log.Printf("[Signaling] WARNING: handshake with %s failed (%s: %v), continuing unencrypted", h.connID, what, err)
	metrics.LegacyFallbacksTotal.Inc()
	if e := h.machine.Event(ctx, eventHandshakeFallback); e != nil {
		log.Printf("[Signaling] state error on fallback for %s: %v", h.connID, e)
	}
}

// legacyFallback handles a plaintext call verb arriving before any
// handshake completed: an old endpoint revision that never encrypts.
func (h *Handler) legacyFallback(ctx context.Context, kind protocol.Kind) {
	if h.machine.Current() != StateAwaitingHandshake {
		return
	}
	if h.cfg.EncryptionRequired {
		log.Printf("[Signaling] plaintext %s from %s rejected, closing (encryption required)", kind, h.connID)
		h.machine.SetState(StateClosed)
		return
	}
	log.Printf("[Signaling] WARNING: unencrypted %s from %s, legacy mode", kind, h.connID)
	metrics.LegacyFallbacksTotal.Inc()
	if err := h.machine.Event(ctx, eventHandshakeFallback); err != nil {
		log.Printf("[Signaling] state error on legacy fallback for %s: %v", h.connID, err)
	}
}
