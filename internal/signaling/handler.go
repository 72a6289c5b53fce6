// Package signaling implements the control channel: the TCP accept loop,
// the per-connection secure-channel handshake, and the state machine that
// turns control lines into registry operations.
package signaling

import (
	"bufio"
	"context"
	"crypto/rsa"
	"errors"
	"log"
	"net"

	"github.com/looplab/fsm"

	"github.com/switchpoint/msc/internal/billing"
	"github.com/switchpoint/msc/internal/cdr"
	"github.com/switchpoint/msc/internal/metrics"
	"github.com/switchpoint/msc/internal/protocol"
	"github.com/switchpoint/msc/internal/registry"
)

// Handler states. A connection always reaches awaiting_call, encrypted or
// not; legacy endpoints simply never complete the handshake.
const (
	StateAwaitingHandshake = "awaiting_handshake"
	StateAwaitingCall      = "awaiting_call"
	StateInCall            = "in_call"
	StateClosed            = "closed"
)

// Handler events.
const (
	eventHandshakeDone     = "handshake_done"
	eventHandshakeFallback = "handshake_fallback"
	eventCallAdmitted      = "call_admitted"
	eventCallCleared       = "call_cleared"
)

func newHandlerFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateAwaitingHandshake,
		fsm.Events{
			{Name: eventHandshakeDone, Src: []string{StateAwaitingHandshake}, Dst: StateAwaitingCall},
			{Name: eventHandshakeFallback, Src: []string{StateAwaitingHandshake}, Dst: StateAwaitingCall},
			{Name: eventCallAdmitted, Src: []string{StateAwaitingCall}, Dst: StateInCall},
			{Name: eventCallCleared, Src: []string{StateAwaitingCall, StateInCall}, Dst: StateClosed},
		}, nil,
	)
}

// Config carries the handler knobs that come from node configuration.
type Config struct {
	// VoicePort is the node's media port, recorded as the session's
	// expected port until the first datagram reveals the real one.
	VoicePort int
	// EncryptionRequired switches the handshake from fail-open (legacy
	// plaintext fallback) to fail-closed (drop the connection).
	EncryptionRequired bool
}

// Handler drives one control connection.
type Handler struct {
	cfg  Config
	reg  *registry.Registry
	eng  *billing.Engine
	priv *rsa.PrivateKey

	conn   net.Conn
	cc     *registry.ClientConn
	connID string
	peerIP string

	machine *fsm.FSM
	msisdn  string

	// pendingKey holds a decrypted AES key between the AES_KEY line and
	// the IV line that must follow it.
	pendingKey []byte
}

// NewHandler wraps one accepted control connection.
func NewHandler(conn net.Conn, cfg Config, reg *registry.Registry, eng *billing.Engine, priv *rsa.PrivateKey) *Handler {
	ip := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return &Handler{
		cfg:     cfg,
		reg:     reg,
		eng:     eng,
		priv:    priv,
		conn:    conn,
		cc:      registry.NewClientConn(conn),
		connID:  conn.RemoteAddr().String(),
		peerIP:  ip,
		machine: newHandlerFSM(),
	}
}

// Run processes the connection until it closes. It always cleans up the
// connection-keyed key material afterwards.
func (h *Handler) Run(ctx context.Context) {
	defer h.cleanup()

	go func() {
		<-ctx.Done()
		h.conn.Close()
	}()

	if err := h.sendPublicKey(); err != nil {
		log.Printf("[Signaling] failed to offer public key to %s: %v", h.connID, err)
		return
	}

	scanner := bufio.NewScanner(h.conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		h.handleLine(ctx, scanner.Text())
		if h.machine.Current() == StateClosed {
			log.Printf("[Signaling] connection %s closed", h.connID)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[Signaling] connection %s lost: %v", h.connID, err)
	} else {
		log.Printf("[Signaling] client %s disconnected", h.connID)
	}

	// An abrupt disconnect while in a call is an implicit END_CALL.
	if h.machine.Current() == StateInCall && h.msisdn != "" {
		log.Printf("[Signaling] ending call for %s due to connection loss", h.msisdn)
		h.clearCall(ctx, h.msisdn)
	}
}

// handleLine dispatches one parsed control line. Malformed or out-of-order
// messages are logged and ignored; the connection stays open.
func (h *Handler) handleLine(ctx context.Context, line string) {
	msg := protocol.Parse(line)

	switch msg.Kind {
	case protocol.KindAESKey:
		h.handshakeKey(ctx, msg.Arg)
	case protocol.KindIV:
		h.handshakeIV(ctx, msg.Arg)
	case protocol.KindEncrypted:
		h.handleEncrypted(ctx, msg.Arg)
	case protocol.KindStartCall:
		h.legacyFallback(ctx, msg.Kind)
		if h.machine.Current() != StateClosed {
			h.startCall(ctx, msg.Arg)
		}
	case protocol.KindEndCall:
		h.legacyFallback(ctx, msg.Kind)
		if h.machine.Current() != StateClosed {
			h.clearCall(ctx, msg.Arg)
		}
	default:
		// Unknown content is ignored for forward compatibility.
		log.Printf("[Signaling] ignoring unrecognized line from %s", h.connID)
	}
}

// handleEncrypted unwraps an ENC envelope with whichever channel binding
// is current (connection identity before START_CALL, subscriber after)
// and re-dispatches the plaintext.
func (h *Handler) handleEncrypted(ctx context.Context, arg string) {
	ch, ok := h.channel()
	if !ok {
		log.Printf("[Signaling] ENC from %s but no session key, ignoring", h.connID)
		return
	}
	plain, err := protocol.Unwrap(ch.Key, ch.IV, arg)
	if err != nil {
		log.Printf("[Signaling] failed to unwrap ENC from %s: %v", h.connID, err)
		return
	}

	msg := protocol.Parse(plain)
	switch msg.Kind {
	case protocol.KindStartCall:
		h.startCall(ctx, msg.Arg)
	case protocol.KindEndCall:
		h.clearCall(ctx, msg.Arg)
	default:
		log.Printf("[Signaling] ignoring unrecognized encrypted line from %s", h.connID)
	}
}

// startCall admits the subscriber. On rejection it writes a zero-duration
// CDR, pushes a termination notice, and keeps the connection open so the
// endpoint may retry.
func (h *Handler) startCall(ctx context.Context, msisdn string) {
	// The subscriber identity is now known: move any handshake key from
	// the transient connection binding to the subscriber binding.
	if h.reg.Rekey(h.connID, msisdn) {
		log.Printf("[Signaling] session key for %s now bound to %s", h.connID, msisdn)
	}
	h.reg.BindConn(msisdn, h.cc)

	sess, err := h.reg.Admit(msisdn, h.peerIP, h.cfg.VoicePort, h.eng.Rate())
	switch {
	case errors.Is(err, registry.ErrUserNotFound):
		h.rejectCall(msisdn, cdr.ReasonUserNotFound, 0)
		return
	case errors.Is(err, registry.ErrInsufficientBalance):
		bal, _ := h.reg.Balance(msisdn)
		h.rejectCall(msisdn, cdr.ReasonInsufficientBalance, bal)
		return
	case errors.Is(err, registry.ErrAlreadyInCall):
		log.Printf("[Signaling] duplicate START_CALL for %s, ignoring", msisdn)
		return
	case err != nil:
		log.Printf("[Signaling] admission for %s failed: %v", msisdn, err)
		return
	}

	h.msisdn = msisdn
	if err := h.machine.Event(ctx, eventCallAdmitted); err != nil {
		log.Printf("[Signaling] state error admitting %s: %v", msisdn, err)
	}
	log.Printf("[Signaling] voice call started for %s from %s, balance %.2f L.E.",
		msisdn, sess.Addr, sess.InitialBalance)
}

func (h *Handler) rejectCall(msisdn, reason string, balance float64) {
	log.Printf("[Signaling] rejecting call from %s: %s", msisdn, reason)
	metrics.CallsRejectedTotal.WithLabelValues(reason).Inc()

	if err := h.eng.Ledger().Append(cdr.Rejection(msisdn, reason, balance)); err != nil {
		log.Printf("[Signaling] failed to write rejection CDR for %s: %v", msisdn, err)
	}
	if err := h.reg.PushLine(msisdn, protocol.TerminateCall(reason)); err != nil {
		log.Printf("[Signaling] failed to notify %s of rejection: %v", msisdn, err)
	}

	// Move the session key back to the connection binding so the endpoint
	// can retry encrypted.
	h.reg.Rekey(msisdn, h.connID)
}

// clearCall settles the named subscriber's session and closes the
// connection's call state.
func (h *Handler) clearCall(ctx context.Context, msisdn string) {
	if _, err := h.eng.CloseOut(msisdn, cdr.ReasonNormalClearing); err != nil {
		if errors.Is(err, registry.ErrNoActiveSession) {
			log.Printf("[Signaling] END_CALL for %s but no active session", msisdn)
		} else {
			log.Printf("[Signaling] failed to settle %s: %v", msisdn, err)
		}
	}
	if h.machine.Can(eventCallCleared) {
		if err := h.machine.Event(ctx, eventCallCleared); err != nil {
			log.Printf("[Signaling] state error clearing %s: %v", msisdn, err)
		}
	}
}

func (h *Handler) channel() (*registry.SecureChannel, bool) {
	if ch, ok := h.reg.Channel(h.connID); ok {
		return ch, true
	}
	if h.msisdn != "" {
		if ch, ok := h.reg.Channel(h.msisdn); ok {
			return ch, true
		}
	}
	return nil, false
}

func (h *Handler) cleanup() {
	// Key material never outlives the connection, under either binding.
	h.reg.DropChannel(h.connID)
	if h.msisdn != "" {
		h.reg.DropChannel(h.msisdn)
		h.reg.UnbindConn(h.msisdn, h.cc)
	}
	h.conn.Close()
	log.Printf("[Signaling] cleanup completed for %s", h.connID)
}
