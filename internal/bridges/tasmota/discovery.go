package tasmota

import (
	"slices"
	"strings"
)

// Record accumulates the status replies of one device topic during a
// pairing session. Scalar and object values are appended per occurrence;
// array values are concatenated.
type Record struct {
	Topic           string
	SwapPrefixTopic bool
	Fields          map[string][]any
}

// Last returns the most recent value collected for field.
func (r *Record) Last(field string) (any, bool) {
	vals := r.Fields[field]
	if len(vals) == 0 {
		return nil, false
	}
	return vals[len(vals)-1], true
}

// LastObject returns the most recent object value collected for field.
func (r *Record) LastObject(field string) (map[string]any, bool) {
	vals := r.Fields[field]
	for i := len(vals) - 1; i >= 0; i-- {
		if obj, ok := vals[i].(map[string]any); ok {
			return obj, true
		}
	}
	return nil, false
}

func (r *Record) merge(payload map[string]any) {
	for key, value := range payload {
		if list, ok := value.([]any); ok {
			r.Fields[key] = append(r.Fields[key], list...)
			continue
		}
		r.Fields[key] = append(r.Fields[key], value)
	}
}

// ProbeFunc asks a device that just announced itself online for a full
// status reply.
type ProbeFunc func(deviceTopic string, swap bool)

// Collector gathers status replies while a pairing session is active and
// decides when discovery has converged.
//
// Convergence is a debounce on the number of collected topics: a sample of
// zero never converges, a sample equal to the previous one does, and any
// other sample becomes the new baseline.
type Collector struct {
	probe ProbeFunc

	active   bool
	ignore   map[string]struct{}
	records  map[string]*Record
	messages int
	previous int
}

// NewCollector creates an idle collector. probe may be nil.
func NewCollector(probe ProbeFunc) *Collector {
	return &Collector{
		probe:   probe,
		ignore:  make(map[string]struct{}),
		records: make(map[string]*Record),
	}
}

// StartSession discards any previous state and starts collecting. Topics in
// ignore (already paired devices) are never collected or probed.
func (c *Collector) StartSession(ignore []string) {
	c.ignore = make(map[string]struct{}, len(ignore))
	for _, t := range ignore {
		c.ignore[t] = struct{}{}
	}
	c.records = make(map[string]*Record)
	c.messages = 0
	c.previous = 0
	c.active = true
}

// Active reports whether a session is collecting.
func (c *Collector) Active() bool {
	return c.active
}

// Observe counts msg and merges it when it is a status reply with a JSON
// object payload. A telemetry LWT Online notice from an unknown topic
// triggers the probe.
func (c *Collector) Observe(msg Message) {
	if !c.active {
		return
	}
	c.messages++

	addr, ok := ParseAddress(msg.Topic)
	if !ok {
		return
	}
	if _, skip := c.ignore[addr.DeviceTopic]; skip {
		return
	}

	switch addr.Kind {
	case KindTelemetry:
		if addr.Suffix != lwtSuffix || c.probe == nil {
			return
		}
		if text, ok := msg.Text(); ok && strings.EqualFold(text, payloadOnline) {
			c.probe(addr.DeviceTopic, addr.SwapPrefixTopic)
		}
	case KindStatus:
		obj, ok := msg.Object()
		if !ok {
			return
		}
		rec, ok := c.records[addr.DeviceTopic]
		if !ok {
			rec = &Record{
				Topic:           addr.DeviceTopic,
				SwapPrefixTopic: addr.SwapPrefixTopic,
				Fields:          make(map[string][]any),
			}
			c.records[addr.DeviceTopic] = rec
		}
		rec.merge(obj)
	}
}

// Sample takes one stabilization sample and reports convergence.
func (c *Collector) Sample() bool {
	count := len(c.records)
	if count == 0 {
		return false
	}
	if count == c.previous {
		c.previous = 0
		return true
	}
	c.previous = count
	return false
}

// Finish stops collecting and returns the records sorted by topic. The
// message count survives until the next session.
func (c *Collector) Finish() []*Record {
	records := c.Records()
	c.active = false
	c.records = make(map[string]*Record)
	c.previous = 0
	return records
}

// Abort stops collecting and discards everything gathered.
func (c *Collector) Abort() {
	c.active = false
	c.records = make(map[string]*Record)
	c.messages = 0
	c.previous = 0
}

// MessageCount returns how many messages the current or last session saw.
func (c *Collector) MessageCount() int {
	return c.messages
}

// Records returns the collected records sorted by topic.
func (c *Collector) Records() []*Record {
	out := make([]*Record, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Record) int { return strings.Compare(a.Topic, b.Topic) })
	return out
}
