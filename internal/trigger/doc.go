// Package trigger publishes host flow triggers as JSON events over MQTT.
//
// Each trigger goes to {prefix}/trigger/{name} at QoS 1, not retained.
// The payload carries a unique event id, the trigger name, its tokens
// and the UTC time it fired:
//
//	{"id":"…","trigger":"device_connection_changed","tokens":{…},"timestamp":"…"}
//
// Publishing at QoS 1 waits for the broker's acknowledgement. Callers that
// must not block, such as the bridge's event loop, fire through a Queue.
package trigger
