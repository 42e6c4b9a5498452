package tasmota

import "strings"

// Message kind tags and the command prefix used in Tasmota topics.
const (
	KindStatus    = "stat"
	KindTelemetry = "tele"
	PrefixCommand = "cmnd"

	// lwtSuffix is the Last Will topic suffix; payloads are "Online" or "Offline".
	lwtSuffix = "LWT"

	payloadOnline  = "Online"
	payloadOffline = "Offline"
)

// kindTags is the fixed vocabulary the router classifies topics with.
var kindTags = []string{KindStatus, KindTelemetry}

func isKind(segment string) bool {
	for _, k := range kindTags {
		if segment == k {
			return true
		}
	}
	return false
}

// Address is a Tasmota topic resolved into its parts.
type Address struct {
	Kind        string
	DeviceTopic string
	// Suffix is everything after the kind and device segments, joined by "/".
	Suffix string
	// SwapPrefixTopic is true for the <topic>/<kind>/... layout.
	SwapPrefixTopic bool
}

// ParseAddress resolves a topic carrying a kind tag in either position.
// Topics with fewer than two segments or without a kind tag are rejected.
func ParseAddress(topic string) (Address, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return Address{}, false
	}

	var addr Address
	switch {
	case isKind(parts[0]):
		addr = Address{Kind: parts[0], DeviceTopic: parts[1]}
	case isKind(parts[1]):
		addr = Address{Kind: parts[1], DeviceTopic: parts[0], SwapPrefixTopic: true}
	default:
		return Address{}, false
	}
	if addr.DeviceTopic == "" {
		return Address{}, false
	}
	addr.Suffix = strings.Join(parts[2:], "/")
	return addr, true
}

// CommandTopic builds the command topic for a device in its layout.
//
//	CommandTopic("kitchen", false, "Status") // "cmnd/kitchen/Status"
//	CommandTopic("kitchen", true, "Status")  // "kitchen/cmnd/Status"
func CommandTopic(deviceTopic string, swap bool, command string) string {
	if swap {
		return deviceTopic + "/" + PrefixCommand + "/" + command
	}
	return PrefixCommand + "/" + deviceTopic + "/" + command
}

// SubscriptionTopics lists the wildcard subscriptions covering both layouts
// of every kind tag.
func SubscriptionTopics() []string {
	topics := make([]string, 0, 2*len(kindTags))
	for _, k := range kindTags {
		topics = append(topics, k+"/#", "+/"+k+"/#")
	}
	return topics
}
