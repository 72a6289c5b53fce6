package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "msc_active_calls",
		Help: "Number of currently active call sessions",
	})

	CallsFinalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msc_calls_finalized_total",
		Help: "Call sessions finalized, by clearing reason",
	}, []string{"reason"})

	CallsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msc_calls_rejected_total",
		Help: "Call attempts rejected at admission, by reason",
	}, []string{"reason"})

	ChargeTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msc_charge_ticks_total",
		Help: "Per-minute charge ticks applied to active sessions",
	})

	MediaPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msc_media_packets_total",
		Help: "Inbound media datagrams, by disposition (played, legacy, dropped)",
	}, []string{"disposition"})

	LegacyFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msc_legacy_fallbacks_total",
		Help: "Control connections that fell back to the unencrypted legacy path",
	})

	CDRsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msc_cdrs_written_total",
		Help: "CDR lines appended to the ledger",
	})
)
