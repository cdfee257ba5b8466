package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskvisor"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	appStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "starts_total",
			Help:      "Number of successful application launches.",
		}, []string{"app"},
	)
	appStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "stops_total",
			Help:      "Number of stops, labelled graceful or forced.",
		}, []string{"app", "mode"},
	)
	appCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "crashes_total",
			Help:      "Number of detected crashes.",
		}, []string{"app"},
	)
	appAutoRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "auto_restarts_total",
			Help:      "Number of crash-triggered restart attempts.",
		}, []string{"app"},
	)
	appRestartCeiling = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "restart_ceiling_total",
			Help:      "Number of crashes that hit max_restart_attempts and were not restarted.",
		}, []string{"app"},
	)
	appLaunchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "launch_failures_total",
			Help:      "Number of failed launches.",
		}, []string{"app"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "state_transitions_total",
			Help:      "Number of status transitions.",
		}, []string{"app", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "app",
			Name:      "current_state",
			Help:      "Current status of applications (1 = active state, 0 = inactive).",
		}, []string{"app", "state"},
	)
	taskExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "executions_total",
			Help:      "Number of dispatched schedule rules by action and result.",
		}, []string{"action", "result"},
	)
	notificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notifications dropped because the delivery queue was full.",
		},
	)
	persistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "persist_failures_total",
			Help:      "Snapshot saves that failed during background cycles.",
		},
	)
	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of supervisor and scheduler cycles.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"loop"},
	)
)

var statuses = []string{"stopped", "starting", "running", "stopping", "error"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{appStarts, appStops, appCrashes, appAutoRestarts, appRestartCeiling, appLaunchFailures,
		stateTransitions, currentStates, taskExecutions, notificationsDropped, persistFailures, cycleDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the metrics of a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(app string) {
	if regOK.Load() {
		appStarts.WithLabelValues(app).Inc()
	}
}

func IncStop(app string, forced bool) {
	if regOK.Load() {
		mode := "graceful"
		if forced {
			mode = "forced"
		}
		appStops.WithLabelValues(app, mode).Inc()
	}
}

func IncCrash(app string) {
	if regOK.Load() {
		appCrashes.WithLabelValues(app).Inc()
	}
}

func IncAutoRestart(app string) {
	if regOK.Load() {
		appAutoRestarts.WithLabelValues(app).Inc()
	}
}

func IncRestartCeiling(app string) {
	if regOK.Load() {
		appRestartCeiling.WithLabelValues(app).Inc()
	}
}

func IncLaunchFailure(app string) {
	if regOK.Load() {
		appLaunchFailures.WithLabelValues(app).Inc()
	}
}

// RecordStateTransition counts the transition and moves the current-state gauge.
func RecordStateTransition(app, from, to string) {
	if !regOK.Load() || from == to {
		return
	}
	stateTransitions.WithLabelValues(app, from, to).Inc()
	for _, s := range statuses {
		v := 0.0
		if s == to {
			v = 1
		}
		currentStates.WithLabelValues(app, s).Set(v)
	}
}

// ForgetApp drops the per-application gauge series of a removed application.
func ForgetApp(app string) {
	if regOK.Load() {
		for _, s := range statuses {
			currentStates.DeleteLabelValues(app, s)
		}
	}
}

func IncTaskExecution(action string, ok bool) {
	if regOK.Load() {
		result := "success"
		if !ok {
			result = "failure"
		}
		taskExecutions.WithLabelValues(action, result).Inc()
	}
}

func IncNotificationDropped() {
	if regOK.Load() {
		notificationsDropped.Inc()
	}
}

func IncPersistFailure() {
	if regOK.Load() {
		persistFailures.Inc()
	}
}

func ObserveCycle(loop string, seconds float64) {
	if regOK.Load() {
		cycleDuration.WithLabelValues(loop).Observe(seconds)
	}
}
