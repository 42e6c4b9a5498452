package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementCapability   = "tasmota_capability"
	MeasurementAvailability = "tasmota_availability"
)

// WriteCapability records one capability value.
//
// Numbers are written as a float "value" field and booleans as 1/0.
// Strings go to a "text" field. Other types (nil, objects) are dropped and
// reported as false.
//
//	client.WriteCapability("DVES_1A2B3C", "tasmota", "measure_power", 42.5)
//	client.WriteCapability("DVES_1A2B3C", "tasmota", "onoff", true)
func (c *Client) WriteCapability(deviceID, driver, capability string, value any) bool {
	if !c.IsConnected() {
		return false
	}

	fields := capabilityFields(value)
	if fields == nil {
		return false
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementCapability,
		map[string]string{
			"device_id":  deviceID,
			"driver":     driver,
			"capability": capability,
		},
		fields,
		c.now(),
	))
	return true
}

// WriteAvailability records an available/unavailable transition.
func (c *Client) WriteAvailability(deviceID, driver string, available bool) {
	if !c.IsConnected() {
		return
	}

	c.writer.WritePoint(write.NewPoint(
		MeasurementAvailability,
		map[string]string{
			"device_id": deviceID,
			"driver":    driver,
		},
		map[string]any{"available": boolValue(available)},
		c.now(),
	))
}

func capabilityFields(value any) map[string]any {
	switch v := value.(type) {
	case bool:
		return map[string]any{"value": boolValue(v)}
	case float64:
		return map[string]any{"value": v}
	case float32:
		return map[string]any{"value": float64(v)}
	case int:
		return map[string]any{"value": float64(v)}
	case int64:
		return map[string]any{"value": float64(v)}
	case string:
		return map[string]any{"text": v}
	default:
		return nil
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
