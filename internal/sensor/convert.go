package sensor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ToFloat converts a decoded JSON number (or numeric string) to float64.
func ToFloat(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, fmt.Errorf("sensor: %q is not a number", n)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("sensor: unsupported numeric value %T", v)
	}
}

// ToBool converts Tasmota alarm style readings (0/1, "ON"/"OFF", bool).
func ToBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToUpper(strings.TrimSpace(b)) {
		case "ON", "1", "TRUE", "OPEN":
			return true, nil
		case "OFF", "0", "FALSE", "CLOSED":
			return false, nil
		}
		return nil, fmt.Errorf("sensor: %q is not a boolean", b)
	default:
		f, err := ToFloat(v)
		if err != nil {
			return nil, err
		}
		return f.(float64) != 0, nil
	}
}
