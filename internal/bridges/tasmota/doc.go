// Package tasmota implements the Tasmota MQTT bridge.
//
// It keeps one availability and capability model per paired field device in
// sync with the MQTT traffic those devices produce, and discovers new
// devices from their status replies.
//
// # Architecture
//
//	┌──────────────┐   MQTT   ┌──────────────────────────────────────┐
//	│ Tasmota /    │◄────────►│ Bridge (single owner goroutine)      │
//	│ Zigbee2Tas.  │          │   Router ─► Driver ─► Device ─► Kind │
//	└──────────────┘          │              └─► Collector (pairing) │
//	                          └──────────────┬───────────────────────┘
//	                                         ▼
//	                               device.Registry (host)
//
// # Topics
//
// Tasmota publishes under two layouts, chosen per device by its
// swap_prefix_topic setting:
//
//	stat/<topic>/RESULT     prefix first (default)
//	<topic>/stat/RESULT     suffix first (swapped)
//
// Commands go to cmnd/<topic>/<command> or <topic>/cmnd/<command>.
//
// Example:
//
//	addr, ok := tasmota.ParseAddress("tele/kitchen/SENSOR")
//	// addr.Kind == "tele", addr.DeviceTopic == "kitchen", addr.Suffix == "SENSOR"
//
// # Availability
//
// Every device runs a small state machine (init, available, unavailable)
// driven by poll commands, answer timeouts and LWT Offline notices. Zigbee
// end devices layer a last-seen freshness window on top of it.
//
// # Thread Safety
//
// Router, Driver, Collector and Device are not safe for concurrent use.
// They are owned by Bridge.Run; other goroutines reach them through
// Bridge.Do.
package tasmota
