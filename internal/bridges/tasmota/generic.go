package tasmota

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/sensor"
)

// GenericDriver is the driver name of plain Tasmota devices.
const GenericDriver = "tasmota"

// Settings keys of generic devices.
const (
	settingRelays            = "relays_number"
	settingPowerMonitor      = "pwr_monitor"
	settingDimmable          = "is_dimmable"
	settingLightTemp         = "has_lighttemp"
	settingLightColor        = "has_lightcolor"
	settingFan               = "has_fan"
	settingChipType          = "chip_type"
	settingAdditionalSensors = "additional_sensors"
	settingSensors           = "sensors"
)

// Capabilities written by generic devices.
const (
	capOnOff           = "onoff"
	capSwitchPrefix    = "switch."
	capMultipleSockets = "multiplesockets"
	capSingleSocket    = "singlesocket"
	capDim             = "dim"
	capLightTemp       = "light_temperature"
	capLightHue        = "light_hue"
	capLightSaturation = "light_saturation"
	capLightMode       = "light_mode"
	capFanSpeed        = "fan_speed"
	capSignalStrength  = "measure_signal_strength"
	capAdditional      = "additional_sensors"
)

// Tasmota colour temperature range in mireds.
const (
	ctMin = 153
	ctMax = 500
)

var powerKey = regexp.MustCompile(`^POWER(\d*)$`)

// powerIndex returns the relay number of a POWER or POWERn key.
func powerIndex(key string) (int, bool) {
	m := powerKey.FindStringSubmatch(key)
	if m == nil {
		return 0, false
	}
	if m[1] == "" {
		return 1, true
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// GenericFamily describes Tasmota devices that publish on their own topic:
// plugs, relays, lights, fans and sensor nodes.
type GenericFamily struct {
	schema sensor.Schema
}

// NewGenericFamily creates the family using schema for sensor readings.
func NewGenericFamily(schema sensor.Schema) *GenericFamily {
	return &GenericFamily{schema: schema}
}

// Name implements Family.
func (f *GenericFamily) Name() string { return GenericDriver }

// Probe implements Family: "Status 0" makes Tasmota publish every status block.
func (f *GenericFamily) Probe() (string, string) { return "Status", "0" }

// IgnoreTopics implements Family.
func (f *GenericFamily) IgnoreTopics(paired []device.Device) []string {
	topics := make([]string, 0, len(paired))
	for _, d := range paired {
		topics = append(topics, d.Settings.String(settingTopic))
	}
	return topics
}

// Address implements Family.
func (f *GenericFamily) Address(settings device.Settings) string {
	return settings.String(settingTopic)
}

type sensorRef struct {
	instance string
	key      string
}

func (r sensorRef) String() string { return r.instance + ":" + r.key }

func parseSensorRef(s string) (sensorRef, bool) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return sensorRef{}, false
	}
	return sensorRef{instance: s[:i], key: s[i+1:]}, true
}

// Describe implements Family. Records without a StatusMQT reply carry no
// device id and are skipped.
func (f *GenericFamily) Describe(rec *Record, defaults DescribeDefaults) []Descriptor {
	mqt, _ := rec.LastObject("StatusMQT")
	id, _ := mqt["MqttClient"].(string)
	if id == "" {
		return nil
	}

	name := rec.Topic
	if status, ok := rec.LastObject("Status"); ok {
		if names, ok := status["FriendlyName"].([]any); ok && len(names) > 0 {
			if n, ok := names[0].(string); ok && n != "" {
				name = n
			}
		}
	}

	chip := "unknown"
	if fwr, ok := rec.LastObject("StatusFWR"); ok {
		if hw, ok := fwr["Hardware"].(string); ok && hw != "" {
			chip = hw
		}
	}

	var relays int
	var dimmable, lightTemp, lightColor, fan bool
	if sts, ok := rec.LastObject("StatusSTS"); ok {
		for key := range sts {
			switch key {
			case "FanSpeed":
				fan = true
			case "Dimmer":
				dimmable = true
			case "CT":
				lightTemp = true
			case "HSBColor":
				lightColor = true
			default:
				if powerKey.MatchString(key) {
					relays++
				}
			}
		}
	}

	refs, attrs, summary := f.detectSensors(rec)
	powerMonitor := slices.ContainsFunc(refs, func(r sensorRef) bool { return r.instance == sensor.EnergyInstance })

	refStrings := make([]string, len(refs))
	for i, r := range refs {
		refStrings[i] = r.String()
	}

	single := relays == 1
	settings := device.Settings{
		settingTopic:             rec.Topic,
		settingSwapPrefix:        rec.SwapPrefixTopic,
		settingRelays:            strconv.Itoa(relays),
		settingPowerMonitor:      yesNo(powerMonitor),
		settingDimmable:          yesNo(single && dimmable),
		settingLightTemp:         yesNo(single && lightTemp),
		settingLightColor:        yesNo(single && lightColor),
		settingFan:               yesNo(fan),
		settingChipType:          chip,
		settingAdditionalSensors: summary,
		settingSensors:           strings.Join(refStrings, ","),
		settingUpdateInterval:    defaults.UpdateInterval,
	}

	options := make(map[string]device.CapabilityOption)
	for i := 1; i <= relays; i++ {
		options[capSwitchPrefix+strconv.Itoa(i)] = device.CapabilityOption{Title: "switch " + strconv.Itoa(i)}
	}
	for _, r := range refs {
		entry := f.schema[r.key]
		options[sensor.CapabilityID(entry.Capability, r.instance)] = device.CapabilityOption{
			Title: entry.Title(r.instance),
			Units: entry.UnitsFor(attrs),
		}
	}

	class, icon := classAndIcon(settings)
	return []Descriptor{{
		ID:                id,
		Name:              name,
		Address:           rec.Topic,
		Class:             class,
		Icon:              icon,
		Settings:          settings,
		Capabilities:      f.Capabilities(settings),
		CapabilityOptions: options,
	}}
}

// detectSensors walks the last StatusSNS block. It returns the readings the
// schema knows, the unit fields found next to them, and a summary such as
// "Temperature (x2), Humidity".
func (f *GenericFamily) detectSensors(rec *Record) ([]sensorRef, map[string]string, string) {
	sns, ok := rec.LastObject("StatusSNS")
	if !ok {
		return nil, nil, ""
	}

	instances := make([]string, 0, len(sns))
	for k := range sns {
		instances = append(instances, k)
	}
	slices.Sort(instances)

	var refs []sensorRef
	attrs := make(map[string]string)
	counts := make(map[string]int)
	var order []string
	for _, inst := range instances {
		readings, ok := sns[inst].(map[string]any)
		if !ok {
			continue
		}
		keys := make([]string, 0, len(readings))
		for k := range readings {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, key := range keys {
			entry, ok := f.schema.Lookup(key)
			if !ok {
				continue
			}
			// Per-channel arrays ("Power":[10,20]) have no single value to store.
			if _, isArray := readings[key].([]any); isArray {
				continue
			}
			refs = append(refs, sensorRef{instance: inst, key: key})
			if counts[key] == 0 {
				order = append(order, key)
			}
			counts[key]++
			if field := entry.Units.Field; field != "" {
				if _, seen := attrs[field]; !seen {
					if v, ok := sns[field]; ok {
						attrs[field] = fmt.Sprint(v)
					}
				}
			}
		}
	}

	parts := make([]string, len(order))
	for i, key := range order {
		if counts[key] > 1 {
			parts[i] = fmt.Sprintf("%s (x%d)", key, counts[key])
		} else {
			parts[i] = key
		}
	}
	return refs, attrs, strings.Join(parts, ", ")
}

// Capabilities implements Family. Order: switches, aggregate on/off and
// socket type, light controls (single relay only), fan, sensors, summary.
func (f *GenericFamily) Capabilities(settings device.Settings) []string {
	var caps capabilityList

	relays := settings.Int(settingRelays, 0)
	for i := 1; i <= relays; i++ {
		caps.add(capSwitchPrefix + strconv.Itoa(i))
	}
	if relays > 0 {
		socket := capSingleSocket
		if relays > 1 {
			socket = capMultipleSockets
		}
		caps.add(capOnOff, socket)
	}
	if relays == 1 {
		if settings.Bool(settingDimmable) {
			caps.add(capDim)
		}
		temp, color := settings.Bool(settingLightTemp), settings.Bool(settingLightColor)
		if temp {
			caps.add(capLightTemp)
		}
		if color {
			caps.add(capLightHue, capLightSaturation)
		}
		if temp && color {
			caps.add(capLightMode)
		}
	}
	if settings.Bool(settingFan) {
		caps.add(capFanSpeed)
	}
	for _, s := range settingsList(settings, settingSensors) {
		ref, ok := parseSensorRef(s)
		if !ok {
			continue
		}
		if entry, ok := f.schema.Lookup(ref.key); ok {
			caps.add(sensor.CapabilityID(entry.Capability, ref.instance))
		}
	}
	if settings.String(settingAdditionalSensors) != "" {
		caps.add(capAdditional)
	}
	return caps
}

// DefaultIcon implements Family.
func (f *GenericFamily) DefaultIcon(settings device.Settings) string {
	_, icon := classAndIcon(settings)
	return icon
}

func classAndIcon(settings device.Settings) (string, string) {
	relays := settings.Int(settingRelays, 0)
	switch {
	case settings.Bool(settingFan):
		return device.ClassFan, "table_fan.svg"
	case relays == 1 && settings.Bool(settingDimmable):
		return device.ClassLight, "light_bulb.svg"
	case relays == 1:
		return device.ClassSocket, "power_socket.svg"
	case relays == 0:
		return device.ClassOther, "sensor.svg"
	default:
		return device.ClassOther, "power_strip.svg"
	}
}

// NewKind implements Family.
func (f *GenericFamily) NewKind(device.Settings) Kind {
	return &genericKind{schema: f.schema}
}

// Register implements Family. SetOption59 makes Tasmota publish tele/STATE
// after every power change; signal strength is added to older pairings.
func (f *GenericFamily) Register(d *Device) {
	d.publish("SetOption59", "1")
	if err := d.host.AddCapability(d.ctx, d.id, capSignalStrength); err != nil {
		d.logger.Warn("adding signal strength capability failed", "error", err)
	}
}

// genericKind decodes RESULT, STATE, STATUS10/11 and SENSOR payloads.
type genericKind struct {
	schema sensor.Schema
}

func (k *genericKind) Name() string { return GenericDriver }

func (k *genericKind) DefaultPoll(d *Device) {
	d.send("Status", "11")
	if len(settingsList(d.settings, settingSensors)) > 0 || d.settings.Bool(settingPowerMonitor) {
		d.send("Status", "10")
	}
}

func (k *genericKind) Accepts(*Device, Message) bool { return true }

func (k *genericKind) CheckStatus(d *Device, now time.Time) error {
	d.checkSchedule(now)
	return nil
}

func (k *genericKind) Configure(*Device, device.Settings, []string) bool { return false }

// ProcessMessage marks the device available and applies every value it
// recognises. Conversion failures are returned after the other values have
// been applied.
func (k *genericKind) ProcessMessage(d *Device, msg Message) error {
	d.markAvailable()

	suffix := msg.Segment(2)
	var errs []error
	switch p := msg.Payload.(type) {
	case string:
		if n, ok := powerIndex(suffix); ok && k.applyPower(d, n, p) {
			k.updateOnOff(d)
		}
	case map[string]any:
		state := p
		if sts, ok := p["StatusSTS"].(map[string]any); ok {
			state = sts
		}
		power, err := k.applyState(d, state)
		if power {
			k.updateOnOff(d)
		}
		errs = append(errs, err)
		if sns, ok := p["StatusSNS"].(map[string]any); ok {
			errs = append(errs, k.applySensors(d, sns))
		} else if suffix == "SENSOR" {
			errs = append(errs, k.applySensors(d, p))
		}
	}
	return errors.Join(errs...)
}

func (k *genericKind) applyPower(d *Device, relay int, value any) bool {
	text, ok := value.(string)
	if !ok {
		return false
	}
	var on bool
	switch {
	case strings.EqualFold(text, "ON"):
		on = true
	case strings.EqualFold(text, "OFF"):
	default:
		return false
	}
	d.updateCapability(capSwitchPrefix+strconv.Itoa(relay), on)
	return true
}

// updateOnOff sets the aggregate on/off from the relay switches.
func (k *genericKind) updateOnOff(d *Device) {
	relays := d.settings.Int(settingRelays, 0)
	anyOn := false
	for i := 1; i <= relays; i++ {
		if v, ok := d.host.CapabilityValue(d.id, capSwitchPrefix+strconv.Itoa(i)); ok {
			if on, _ := v.(bool); on {
				anyOn = true
				break
			}
		}
	}
	d.updateCapability(capOnOff, anyOn)
}

// applyState applies STATE/StatusSTS style fields and reports whether any
// relay state was among them.
func (k *genericKind) applyState(d *Device, state map[string]any) (bool, error) {
	var power bool
	var errs []error
	for key, value := range state {
		if n, ok := powerIndex(key); ok {
			if k.applyPower(d, n, value) {
				power = true
			}
			continue
		}
		switch key {
		case "Dimmer":
			errs = append(errs, k.applyScaled(d, capDim, value, 0, 100))
		case "CT":
			errs = append(errs, k.applyScaled(d, capLightTemp, value, ctMin, ctMax))
		case "HSBColor":
			errs = append(errs, k.applyColor(d, value))
		case "FanSpeed":
			f, err := sensor.ToFloat(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", capFanSpeed, err))
				continue
			}
			d.updateCapability(capFanSpeed, f)
		case "Wifi":
			wifi, ok := value.(map[string]any)
			if !ok {
				continue
			}
			if rssi, ok := wifi["RSSI"]; ok {
				f, err := sensor.ToFloat(rssi)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", capSignalStrength, err))
					continue
				}
				d.updateCapability(capSignalStrength, f)
			}
		}
	}
	return power, errors.Join(errs...)
}

// applyScaled maps value from [lo, hi] onto [0, 1].
func (k *genericKind) applyScaled(d *Device, capability string, value any, lo, hi float64) error {
	raw, err := sensor.ToFloat(value)
	if err != nil {
		return fmt.Errorf("%s: %w", capability, err)
	}
	d.updateCapability(capability, clamp01((raw.(float64)-lo)/(hi-lo)))
	return nil
}

// applyColor decodes "hue,saturation,brightness".
func (k *genericKind) applyColor(d *Device, value any) error {
	text, ok := value.(string)
	if !ok {
		return fmt.Errorf("%s: %w: %v", capLightHue, ErrInvalidValue, value)
	}
	parts := strings.Split(text, ",")
	if len(parts) < 2 {
		return fmt.Errorf("%s: %w: %q", capLightHue, ErrInvalidValue, text)
	}
	hue, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return fmt.Errorf("%s: %w: %q", capLightHue, ErrInvalidValue, text)
	}
	sat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return fmt.Errorf("%s: %w: %q", capLightSaturation, ErrInvalidValue, text)
	}
	d.updateCapability(capLightHue, clamp01(hue/360))
	d.updateCapability(capLightSaturation, clamp01(sat/100))
	return nil
}

// applySensors writes every schema reading found in sns.
func (k *genericKind) applySensors(d *Device, sns map[string]any) error {
	var errs []error
	sensor.Walk(sns, func(path []string, value any) {
		res, ok := k.schema.Resolve(path)
		if !ok || value == nil {
			return
		}
		v, err := res.Value(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Capability, err))
			return
		}
		d.updateCapability(res.Capability, v)
	})
	return errors.Join(errs...)
}

// Command implements Commander.
func (k *genericKind) Command(d *Device, capability string, value any) error {
	switch {
	case capability == capOnOff:
		return k.sendPower(d, "POWER0", value)
	case strings.HasPrefix(capability, capSwitchPrefix):
		n, err := strconv.Atoi(strings.TrimPrefix(capability, capSwitchPrefix))
		if err != nil || n < 1 {
			return fmt.Errorf("%w: %s", ErrUnsupportedCapability, capability)
		}
		return k.sendPower(d, "POWER"+strconv.Itoa(n), value)
	case capability == capDim:
		return k.sendScaled(d, "Dimmer", capability, value, 0, 100)
	case capability == capLightTemp:
		return k.sendScaled(d, "CT", capability, value, ctMin, ctMax)
	case capability == capLightHue:
		return k.sendScaled(d, "HSBColor1", capability, value, 0, 360)
	case capability == capLightSaturation:
		return k.sendScaled(d, "HSBColor2", capability, value, 0, 100)
	case capability == capFanSpeed:
		f, err := sensor.ToFloat(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidValue, capability, err)
		}
		return d.SendCommand("FanSpeed", strconv.Itoa(int(math.Round(f.(float64)))))
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCapability, capability)
	}
}

func (k *genericKind) sendPower(d *Device, command string, value any) error {
	on, err := sensor.ToBool(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, command, err)
	}
	payload := "OFF"
	if on.(bool) {
		payload = "ON"
	}
	return d.SendCommand(command, payload)
}

// sendScaled maps a [0, 1] capability value onto [lo, hi].
func (k *genericKind) sendScaled(d *Device, command, capability string, value any, lo, hi float64) error {
	f, err := sensor.ToFloat(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, capability, err)
	}
	scaled := lo + clamp01(f.(float64))*(hi-lo)
	return d.SendCommand(command, strconv.Itoa(int(math.Round(scaled))))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
