package monitor

import (
	"fmt"
	"maps"
	"strconv"
	"time"
)

// Config is an opaque plugin configuration passed verbatim to Init.
// Values usually come from YAML, so numbers may be int, int64 or float64;
// the getters accept any of them.
type Config map[string]any

// Clone returns a shallow copy of c. Nested maps are copied one level deep
// so callers cannot alter stored configuration through them.
func (c Config) Clone() Config {
	if c == nil {
		return Config{}
	}
	out := make(Config, len(c))
	for k, v := range c {
		switch typed := v.(type) {
		case map[string]any:
			out[k] = maps.Clone(typed)
		case map[string]string:
			out[k] = maps.Clone(typed)
		default:
			out[k] = v
		}
	}
	return out
}

// String returns the string value for key, or def if absent.
func (c Config) String(key, def string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the integer value for key, or def if absent.
func (c Config) Int(key string, def int) (int, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return def, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("%s: %v is not a whole number", key, v)
	}
	return int(f), nil
}

// Float returns the numeric value for key, or def if absent.
func (c Config) Float(key string, def float64) (float64, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return def, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

// Bool returns the boolean value for key, or def if absent.
func (c Config) Bool(key string, def bool) (bool, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("%s: %w", key, err)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("%s: %v is not a boolean", key, v)
	}
}

// Millis reads an integer millisecond value as a duration.
func (c Config) Millis(key string, def time.Duration) (time.Duration, error) {
	ms, err := c.Int(key, int(def/time.Millisecond))
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, fmt.Errorf("%s: must not be negative", key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// StringMap returns a nested map with string values, such as metric to OID.
func (c Config) StringMap(key string) (map[string]string, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return map[string]string{}, nil
	}
	out := map[string]string{}
	switch m := v.(type) {
	case map[string]string:
		maps.Copy(out, m)
	case map[string]any:
		for k, item := range m {
			out[k] = fmt.Sprint(item)
		}
	default:
		return nil, fmt.Errorf("%s: expected a mapping, got %T", key, v)
	}
	return out, nil
}

// FloatMap returns a nested map with numeric values, such as metric to register.
func (c Config) FloatMap(key string) (map[string]float64, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return map[string]float64{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a mapping, got %T", key, v)
	}
	out := make(map[string]float64, len(m))
	for k, item := range m {
		f, err := toFloat(item)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", key, k, err)
		}
		out[k] = f
	}
	return out, nil
}

// Strings returns a list of strings.
func (c Config) Strings(key string) ([]string, error) {
	v, ok := c[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: expected a list, got %T", key, v)
	}
}

// ToFloat converts a numeric value of any Go number type to float64.
func ToFloat(v any) (float64, error) {
	return toFloat(v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%v (%T) is not a number", v, v)
	}
}
