// Package registry is the concurrent store shared by the signaling
// handlers, the billing engine, and the media router: active sessions,
// subscriber balances, secure-channel key material, and outbound control
// connections. All state lives behind one mutex; per-subscriber updates
// are linearizable because no caller touches the maps directly.
package registry

import (
	"errors"
	"log"
	"time"

	"github.com/switchpoint/msc/internal/cdr"
	"github.com/switchpoint/msc/internal/helpers"
	"github.com/switchpoint/msc/internal/metrics"
	"github.com/switchpoint/msc/internal/protocol"

	"sync"
)

var (
	// ErrUserNotFound rejects admission for unknown subscriber numbers.
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientBalance rejects admission below one charging unit.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrAlreadyInCall rejects a second concurrent session per subscriber.
	ErrAlreadyInCall = errors.New("subscriber already in call")
	// ErrNoActiveSession signals finalize of a subscriber with no call.
	ErrNoActiveSession = errors.New("no active session")
	// ErrNoClientConn signals a notice push with no bound connection.
	ErrNoClientConn = errors.New("no control connection for subscriber")
)

// SecureChannel is the symmetric key material negotiated during the
// handshake. It is keyed by connection identity before START_CALL and by
// subscriber number afterwards.
type SecureChannel struct {
	Key []byte
	IV  []byte
}

// Registry owns all shared call-control state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	balances map[string]float64
	channels map[string]*SecureChannel
	conns    map[string]*ClientConn
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		balances: make(map[string]float64),
		channels: make(map[string]*SecureChannel),
		conns:    make(map[string]*ClientConn),
	}
}

// SeedBalance installs a subscriber balance at process start.
func (r *Registry) SeedBalance(msisdn string, amount float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[msisdn] = amount
}

// Balance reads a subscriber's current balance.
func (r *Registry) Balance(msisdn string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bal, ok := r.balances[msisdn]
	return bal, ok
}

// Admit validates a START_CALL and creates the session. It rejects
// unknown subscribers, balances below one charging unit, and subscribers
// that already have an active session. The balance is snapshotted on the
// session at admission.
func (r *Registry) Admit(msisdn, addr string, port int, rate float64) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bal, ok := r.balances[msisdn]
	if !ok {
		return nil, ErrUserNotFound
	}
	if bal < rate {
		return nil, ErrInsufficientBalance
	}
	if _, exists := r.sessions[msisdn]; exists {
		return nil, ErrAlreadyInCall
	}

	s := newSession(msisdn, addr, port, bal)
	r.sessions[msisdn] = s
	metrics.ActiveCalls.Inc()
	return s, nil
}

// Finalize atomically ends the subscriber's session, settles the bill,
// and removes the session from the active set. Billable minutes are
// ceil(elapsed/60) with a one-minute floor; cost is capped at the
// subscriber's remaining balance so it never goes negative.
func (r *Registry) Finalize(msisdn, reason string, rate float64) (*Session, cdr.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[msisdn]
	if !ok {
		return nil, cdr.Record{}, ErrNoActiveSession
	}
	delete(r.sessions, msisdn)

	end := time.Now()
	s.close(end)

	billable := cdr.BillableMinutes(end.Sub(s.StartTime))
	bal := r.balances[msisdn]
	cost := float64(billable) * rate
	if cost > bal {
		cost = bal
	}
	final := bal - cost
	if final < 0 {
		final = 0
	}
	r.balances[msisdn] = final

	metrics.ActiveCalls.Dec()
	metrics.CallsFinalizedTotal.WithLabelValues(reason).Inc()
	return s, cdr.New(msisdn, s.StartTime, end, billable, reason, cost, final), nil
}

// ChargeTick debits one charging unit from the subscriber. If the debit
// would leave the balance at or below zero it is not applied and the tick
// reports exhaustion; the caller then finalizes the session, which caps
// the settlement at the remaining balance.
func (r *Registry) ChargeTick(msisdn string, rate float64) (balance float64, exhausted bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bal, ok := r.balances[msisdn]
	if !ok {
		return 0, false, ErrUserNotFound
	}
	if bal-rate <= 0 {
		return bal, true, nil
	}
	r.balances[msisdn] = bal - rate
	metrics.ChargeTicksTotal.Inc()
	return bal - rate, false, nil
}

// ActiveMSISDNs snapshots the subscribers with active sessions.
func (r *Registry) ActiveMSISDNs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for msisdn := range r.sessions {
		out = append(out, msisdn)
	}
	return out
}

// Session returns the subscriber's active session, if any.
func (r *Registry) Session(msisdn string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[msisdn]
	return s, ok
}

// SessionByAddr matches an inbound media datagram to a session by source
// IP only; the source port is not part of the match key.
func (r *Registry) SessionByAddr(addr string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.Addr == addr {
			return s, true
		}
	}
	return nil, false
}

// PutChannel stores handshake key material under a connection identity
// (pre-call) or subscriber number (post-call).
func (r *Registry) PutChannel(id string, ch *SecureChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[id] = ch
}

// Channel looks up key material.
func (r *Registry) Channel(id string) (*SecureChannel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Rekey atomically moves key material from a transient connection
// identity to the subscriber number revealed by START_CALL. Doing the
// rename under the registry lock closes the window where a concurrent
// billing or media lookup would find neither mapping.
func (r *Registry) Rekey(connID, msisdn string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[connID]
	if !ok {
		return false
	}
	r.channels[msisdn] = ch
	delete(r.channels, connID)
	return true
}

// DropChannel discards key material and wipes the key bytes.
func (r *Registry) DropChannel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[id]; ok {
		helpers.WipeBytes(ch.Key)
		delete(r.channels, id)
	}
}

// BindConn registers the subscriber's control connection for pushed
// termination notices.
func (r *Registry) BindConn(msisdn string, c *ClientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[msisdn] = c
}

// UnbindConn removes the binding, but only if it still points at the
// given connection; a reconnected subscriber keeps its fresh binding.
func (r *Registry) UnbindConn(msisdn string, c *ClientConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[msisdn]; ok && cur == c {
		delete(r.conns, msisdn)
	}
}

// PushLine sends a control line to the subscriber's bound connection,
// encrypting it when the subscriber has a secure channel. Invoked from
// both the handler's own goroutine and the billing goroutine; the
// ClientConn serializes the actual writes.
func (r *Registry) PushLine(msisdn, line string) error {
	r.mu.RLock()
	conn, ok := r.conns[msisdn]
	ch := r.channels[msisdn]
	r.mu.RUnlock()

	if !ok {
		return ErrNoClientConn
	}
	if ch != nil {
		wrapped, err := protocol.Wrap(ch.Key, ch.IV, line)
		if err == nil {
			return conn.WriteLine(wrapped)
		}
		log.Printf("[Registry] encrypt for %s failed, pushing plaintext: %v", msisdn, err)
	}
	return conn.WriteLine(line)
}
