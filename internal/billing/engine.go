// Package billing owns the charging lifecycle: the per-minute debit tick,
// balance-triggered forced termination, and the shared settlement path
// that every call terminus goes through.
package billing

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/switchpoint/msc/internal/cdr"
	"github.com/switchpoint/msc/internal/protocol"
	"github.com/switchpoint/msc/internal/registry"
	"github.com/switchpoint/msc/internal/voice"
)

// Engine charges active sessions at a fixed interval and finalizes them
// on exhaustion or shutdown.
type Engine struct {
	reg      *registry.Registry
	ledger   *cdr.Writer
	recorder *voice.Recorder
	rate     float64
	interval time.Duration
}

// NewEngine wires the charging engine. rate is the per-minute price in
// L.E.; interval is one minute in production and shortened in tests.
func NewEngine(reg *registry.Registry, ledger *cdr.Writer, recorder *voice.Recorder, rate float64, interval time.Duration) *Engine {
	return &Engine{reg: reg, ledger: ledger, recorder: recorder, rate: rate, interval: interval}
}

// Run ticks until the context is cancelled, then settles every session
// still active with the shutdown reason.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.Shutdown()
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick debits one charging unit from every active session. A session
// whose balance is exhausted is terminated: the client is notified, the
// recording flushed, and a CDR written. Failures are isolated per
// session; one bad session never stops the tick.
func (e *Engine) Tick() {
	for _, msisdn := range e.reg.ActiveMSISDNs() {
		balance, exhausted, err := e.reg.ChargeTick(msisdn, e.rate)
		if err != nil {
			log.Printf("[Billing] charge tick for %s failed: %v", msisdn, err)
			continue
		}
		if !exhausted {
			log.Printf("[Billing] charged %s %.2f L.E., balance now %.2f L.E.", msisdn, e.rate, balance)
			continue
		}

		log.Printf("[Billing] %s ran out of balance, ending call", msisdn)
		if err := e.reg.PushLine(msisdn, protocol.TerminateCall(cdr.ReasonInsufficientBalance)); err != nil {
			log.Printf("[Billing] failed to notify %s: %v", msisdn, err)
		}
		if _, err := e.CloseOut(msisdn, cdr.ReasonInsufficientBalance); err != nil {
			log.Printf("[Billing] failed to settle %s: %v", msisdn, err)
		}
	}
}

// Shutdown settles every still-active session with the shutdown reason,
// using the same billable-minutes formula as a normal terminus.
func (e *Engine) Shutdown() {
	for _, msisdn := range e.reg.ActiveMSISDNs() {
		if _, err := e.CloseOut(msisdn, cdr.ReasonShutdown); err != nil && !errors.Is(err, registry.ErrNoActiveSession) {
			log.Printf("[Billing] shutdown settlement for %s failed: %v", msisdn, err)
		}
	}
}

// CloseOut is the single settlement path for a call terminus: finalize
// the session in the registry, flush its recording, append the CDR. The
// signaling handler uses it for normal clearing, the engine for forced
// termination and shutdown.
func (e *Engine) CloseOut(msisdn, reason string) (cdr.Record, error) {
	sess, rec, err := e.reg.Finalize(msisdn, reason, e.rate)
	if err != nil {
		return cdr.Record{}, err
	}

	log.Printf("[Billing] call with %s ended: %d:%02d elapsed, %d billable minute(s), %.2f L.E. charged, %.2f L.E. left (%s)",
		msisdn, rec.DurationSeconds/60, rec.DurationSeconds%60, rec.BillableMinutes, rec.Cost, rec.Balance, reason)

	if path, err := e.recorder.WriteRecording(msisdn, sess.StartTime, sess.Recording()); err != nil {
		log.Printf("[Billing] failed to flush recording for %s: %v", msisdn, err)
	} else if path != "" {
		log.Printf("[Billing] call recording saved to %s", path)
	}

	if err := e.ledger.Append(rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// Rate returns the per-minute charging rate.
func (e *Engine) Rate() float64 { return e.rate }

// Ledger exposes the CDR writer for rejection records that never became
// sessions.
func (e *Engine) Ledger() *cdr.Writer { return e.ledger }
