package bidi

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bidi",
			Subsystem: "session",
			Name:      "commands_total",
			Help:      "Commands sent, by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	metricCommandLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bidi",
			Subsystem: "session",
			Name:      "command_duration_seconds",
			Help:      "Time from sending a command to its reply.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method"},
	)

	metricEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bidi",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Events received, by event name.",
		},
		[]string{"event"},
	)

	metricDispatch = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bidi",
			Subsystem: "network",
			Name:      "dispatch_total",
			Help:      "Intercepted requests decided, by outcome.",
		},
		[]string{"outcome"},
	)

	metricDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bidi",
			Subsystem: "network",
			Name:      "dropped_events_total",
			Help:      "beforeRequestSent events a pipeline did not handle, by reason.",
		},
		[]string{"reason"},
	)

	metricHandlerFaults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bidi",
		Subsystem: "network",
		Name:      "handler_faults_total",
		Help:      "Filter or handler panics, errors and timeouts.",
	})
)

func recordCommand(method string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrTransportTimeout):
		outcome = "timeout"
	case IsProtocolError(err, ""):
		outcome = "protocol_error"
	default:
		outcome = "transport_error"
	}
	metricCommands.WithLabelValues(method, outcome).Inc()
	if err == nil {
		metricCommandLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
}

func recordEvent(event string) {
	metricEvents.WithLabelValues(event).Inc()
}

func recordDispatch(outcome Outcome) {
	metricDispatch.WithLabelValues(string(outcome)).Inc()
	if outcome == OutcomeFallback {
		metricHandlerFaults.Inc()
	}
}

func recordDrop(reason string) {
	metricDropped.WithLabelValues(reason).Inc()
}
