package bridge

import (
	"strconv"
	"strings"
)

// CoerceScalar applies the broker's loose value heuristics: boolean-like
// strings become bools, numeric strings become floats, everything else
// passes through raw. The heuristic is deliberately unchanged from the
// broker's observed encoding - it is lossy, but it is what the wire
// carries.
func CoerceScalar(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}

	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on", "1", "1.0":
		return true
	case "false", "off", "0", "0.0":
		return false
	}

	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f
	}

	return s
}

// coerceForSuffix shapes an already-coerced scalar to the type the
// addressed attribute expects. Values that cannot be shaped pass
// through unchanged; the device layer rejects them with a typed error.
func coerceForSuffix(suffix string, value any) any {
	v := CoerceScalar(value)

	switch suffix {
	case "onoff", "shake", "mute":
		if b, ok := toBool(v); ok {
			return b
		}
	case "Brightness", "speed", "volume", "channel":
		if f, ok := toFloat(v); ok {
			return int(f)
		}
	case "set_temp", "power", "voltage", "current", "energy":
		if f, ok := toFloat(v); ok {
			return f
		}
	case "Color":
		if s, ok := v.(string); ok {
			return s
		}
	}
	return v
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case int:
		return b != 0, true
	}
	return false, false
}

func toFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case int:
		return float64(f), true
	case bool:
		if f {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
