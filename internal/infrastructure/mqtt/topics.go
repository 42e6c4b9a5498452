package mqtt

import "strings"

// Topics builds the topics the bridge itself owns. Device topics follow the
// Tasmota layout and are built by the tasmota package.
//
//	topics := mqtt.NewTopics("tasmota-bridge")
//	topics.Status()                              // "tasmota-bridge/status"
//	topics.Trigger("device_connection_changed")  // "tasmota-bridge/trigger/device_connection_changed"
type Topics struct {
	prefix string
}

// NewTopics returns a builder rooted at prefix (normally the MQTT client id).
// An empty prefix falls back to "tasmota-bridge".
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "tasmota-bridge"
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root segment of every bridge topic.
func (t Topics) Prefix() string { return t.prefix }

// Status is the retained online/offline status and Last Will topic.
func (t Topics) Status() string { return t.prefix + "/status" }

// Trigger is where flow trigger events with the given name are published.
func (t Topics) Trigger(name string) string { return t.prefix + "/trigger/" + name }

// AllTriggers matches every trigger event topic.
func (t Topics) AllTriggers() string { return t.prefix + "/trigger/+" }

// BrokerUptime is the Mosquitto system topic the bridge watches for liveness.
func (Topics) BrokerUptime() string { return "$SYS/broker/uptime" }
