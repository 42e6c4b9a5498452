package tasmota

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	r := NewRouter(newFakeClock(), m)

	mustNoError(t, r.Dispatch("stat/plug/RESULT", []byte(`{}`)))
	mustNoError(t, r.Dispatch("plug/tele/STATE", []byte(`{}`)))
	mustNoError(t, r.Dispatch("$SYS/broker/uptime", []byte("1")))
	mustNoError(t, r.Dispatch("nonsense", []byte("1")))

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"stat", m.messages.WithLabelValues(KindStatus), 1},
		{"tele", m.messages.WithLabelValues(KindTelemetry), 1},
		{"other", m.messages.WithLabelValues("other"), 1},
		{"dropped", m.dropped, 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}

	m.commandSent(GenericDriver, nil)
	m.commandSent(GenericDriver, errors.New("down"))
	m.transition(ZigbeeDriver, false)
	m.pairingFinished(GenericDriver, ErrNoNewDevices)
	m.setDeviceStages(GenericDriver, map[Stage]int{StageAvailable: 3})

	if got := testutil.ToFloat64(m.commands.WithLabelValues(GenericDriver, "error")); got != 1 {
		t.Errorf("command errors = %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues(ZigbeeDriver, "unavailable")); got != 1 {
		t.Errorf("transitions = %v", got)
	}
	if got := testutil.ToFloat64(m.pairing.WithLabelValues(GenericDriver, "no_new_devices")); got != 1 {
		t.Errorf("pairing = %v", got)
	}
	if got := testutil.ToFloat64(m.devices.WithLabelValues(GenericDriver, "available")); got != 3 {
		t.Errorf("devices = %v", got)
	}
	if got := testutil.ToFloat64(m.devices.WithLabelValues(GenericDriver, "init")); got != 0 {
		t.Errorf("devices init = %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.messageDropped()
	m.commandSent(GenericDriver, nil)
	m.transition(GenericDriver, true)
	m.setDeviceStages(GenericDriver, nil)
	m.pairingFinished(GenericDriver, nil)
	m.handlerError(GenericDriver)
	m.watchdogReset()
}
