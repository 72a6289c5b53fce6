// Package cdr holds the immutable Call Detail Record type and the
// append-only ledger writer.
package cdr

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clearing reasons recorded on the ledger. The strings are part of the
// CDR format consumed downstream; keep them verbatim.
const (
	ReasonNormalClearing      = "Normal call Clearing"
	ReasonInsufficientBalance = "Insufficient Balance"
	ReasonUserNotFound        = "User Not Found"
	ReasonShutdown            = "MSC Shutdown"
)

const timeLayout = "2006-01-02T15:04:05"

// BillableMinutes rounds elapsed call time up to whole minutes, with a
// one-minute floor: a 1-second call bills 1 minute, a 61-second call
// bills 2.
func BillableMinutes(elapsed time.Duration) int64 {
	m := (int64(elapsed/time.Second) + 59) / 60
	if m < 1 {
		m = 1
	}
	return m
}

// Record is one ledger entry: a call terminus or a rejected attempt.
type Record struct {
	ID              string
	MSISDN          string
	StartTime       time.Time
	EndTime         time.Time
	DurationSeconds int64
	BillableMinutes int64
	Reason          string
	Cost            float64
	Balance         float64
}

// New builds a terminus record for a finished call.
func New(msisdn string, start, end time.Time, billableMinutes int64, reason string, cost, balance float64) Record {
	return Record{
		ID:              uuid.NewString(),
		MSISDN:          msisdn,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: int64(end.Sub(start) / time.Second),
		BillableMinutes: billableMinutes,
		Reason:          reason,
		Cost:            cost,
		Balance:         balance,
	}
}

// Rejection builds a zero-duration, zero-cost record for a call attempt
// that never became a session.
func Rejection(msisdn, reason string, balance float64) Record {
	now := time.Now()
	return Record{
		ID:        uuid.NewString(),
		MSISDN:    msisdn,
		StartTime: now,
		EndTime:   now,
		Reason:    reason,
		Balance:   balance,
	}
}

// Line renders the record as one ledger line:
// msisdn, start, end, M:SS, billable minutes, reason, cost, balance.
func (r Record) Line() string {
	return fmt.Sprintf("%s, %s, %s, %d:%02d, %d, %s, %.2f, %.2f",
		r.MSISDN,
		r.StartTime.Format(timeLayout),
		r.EndTime.Format(timeLayout),
		r.DurationSeconds/60,
		r.DurationSeconds%60,
		r.BillableMinutes,
		r.Reason,
		r.Cost,
		r.Balance)
}
