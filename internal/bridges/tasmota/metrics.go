package tasmota

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "tasmota_bridge"

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	messages       *prometheus.CounterVec
	dropped        prometheus.Counter
	commands       *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	devices        *prometheus.GaugeVec
	pairing        *prometheus.CounterVec
	handlerErrors  *prometheus.CounterVec
	watchdogResets prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// It panics if registration fails, like prometheus.MustRegister.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Routed MQTT messages by kind tag.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_dropped_total",
			Help:      "MQTT messages dropped for having fewer than two topic segments.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Commands published to devices.",
		}, []string{"driver", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "availability_transitions_total",
			Help:      "Available/unavailable edges by driver and new status.",
		}, []string{"driver", "status"}),
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "devices",
			Help:      "Runtime devices by driver and availability stage.",
		}, []string{"driver", "stage"}),
		pairing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pairing_sessions_total",
			Help:      "Finished pairing sessions by driver and outcome.",
		}, []string{"driver", "result"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handler_errors_total",
			Help:      "Per-device message handling errors.",
		}, []string{"driver"}),
		watchdogResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "watchdog_resets_total",
			Help:      "Transport resets triggered by the liveness watchdog.",
		}),
	}
	reg.MustRegister(m.messages, m.dropped, m.commands, m.transitions,
		m.devices, m.pairing, m.handlerErrors, m.watchdogResets)
	return m
}

func (m *Metrics) messageReceived(msg Message) {
	if m == nil {
		return
	}
	kind := "other"
	if msg.PrefixFirst {
		kind = msg.Parts[0]
	} else if isKind(msg.Segment(1)) {
		kind = msg.Parts[1]
	}
	m.messages.WithLabelValues(kind).Inc()
}

func (m *Metrics) messageDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) commandSent(driver string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(driver, result).Inc()
}

func (m *Metrics) transition(driver string, available bool) {
	if m == nil {
		return
	}
	status := "unavailable"
	if available {
		status = "available"
	}
	m.transitions.WithLabelValues(driver, status).Inc()
}

func (m *Metrics) setDeviceStages(driver string, counts map[Stage]int) {
	if m == nil {
		return
	}
	for _, s := range []Stage{StageInit, StageAvailable, StageUnavailable} {
		m.devices.WithLabelValues(driver, s.String()).Set(float64(counts[s]))
	}
}

func (m *Metrics) pairingFinished(driver string, err error) {
	if m == nil {
		return
	}
	result := "devices"
	switch {
	case err == nil:
	case errors.Is(err, ErrNoMessages):
		result = "no_messages"
	case errors.Is(err, ErrNoNewDevices):
		result = "no_new_devices"
	default:
		result = "error"
	}
	m.pairing.WithLabelValues(driver, result).Inc()
}

func (m *Metrics) handlerError(driver string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(driver).Inc()
}

func (m *Metrics) watchdogReset() {
	if m == nil {
		return
	}
	m.watchdogResets.Inc()
}
