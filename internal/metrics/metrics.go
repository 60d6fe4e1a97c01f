package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "sacn2lifx_"

	ResultAccepted = "accepted"
	ResultRejected = "rejected"

	SendSuccess = "success"
	SendError   = "error"
	SendTimeout = "timeout"
)

var (
	registerOnce sync.Once

	framesTotal   *prometheus.CounterVec
	sendsTotal    *prometheus.CounterVec
	sendLatency   prometheus.Histogram
	suppressTotal prometheus.Counter
	deferTotal    prometheus.Counter
	decodeErrors  *prometheus.CounterVec
)

// Init registers collectors with reg (prometheus.DefaultRegisterer when nil).
// Helpers are no-ops until Init has run.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}

		framesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "frames_total",
				Help: "DMX frames by result and reason",
			},
			[]string{"result", "reason"},
		)
		sendsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "light_sends_total",
				Help: "Color commands sent to lights by result",
			},
			[]string{"result"},
		)
		sendLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "light_send_latency_seconds",
				Help:    "Color command latency in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
			},
		)
		suppressTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "light_sends_suppressed_total",
				Help: "Pending targets dropped because they did not change enough",
			},
		)
		deferTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "light_sends_deferred_total",
				Help: "Ticks where a send was postponed by the minimum interval",
			},
		)
		decodeErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "decode_errors_total",
				Help: "Undecodable packets by source",
			},
			[]string{"source"},
		)

		reg.MustRegister(
			framesTotal,
			sendsTotal,
			sendLatency,
			suppressTotal,
			deferTotal,
			decodeErrors,
		)
	})
}

// IncFrame counts an ingested frame.
func IncFrame(result, reason string) {
	if reason == "" {
		reason = "none"
	}
	if framesTotal != nil {
		framesTotal.WithLabelValues(result, reason).Inc()
	}
}

// ObserveSend records a Sink call.
func ObserveSend(result string, d time.Duration) {
	if result == "" {
		result = SendSuccess
	}
	if sendsTotal != nil {
		sendsTotal.WithLabelValues(result).Inc()
	}
	if sendLatency != nil {
		sendLatency.Observe(d.Seconds())
	}
}

// IncSuppressed counts a pending target dropped by the change threshold.
func IncSuppressed() {
	if suppressTotal != nil {
		suppressTotal.Inc()
	}
}

// IncDeferred counts a send postponed by the minimum interval.
func IncDeferred() {
	if deferTotal != nil {
		deferTotal.Inc()
	}
}

// IncDecodeError counts a packet a frame source could not decode.
func IncDecodeError(source string) {
	if source == "" {
		source = "unknown"
	}
	if decodeErrors != nil {
		decodeErrors.WithLabelValues(source).Inc()
	}
}
