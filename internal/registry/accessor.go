package registry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/gist/internal/domain"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coercers normalise raw stored values to the canonical Go type of each value
// type: string, int64, float64, bool, time.Time.
var coercers = map[domain.ValueType]func(any) (any, bool){
	domain.TypeString:    coerceString,
	domain.TypeReference: coerceString,
	domain.TypeInteger:   coerceInteger,
	domain.TypeNumber:    coerceNumber,
	domain.TypeBoolean:   coerceBoolean,
	domain.TypeDateTime:  coerceDateTime,
}

// Coerce converts raw to the canonical representation of vt.
func Coerce(vt domain.ValueType, raw any) (any, bool) {
	if raw == nil {
		return nil, false
	}
	fn, ok := coercers[vt]
	if !ok {
		return nil, false
	}
	return fn(raw)
}

// CoerceIDs converts a stored to-many value to a list of ids.
func CoerceIDs(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case []string:
		return v, true
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := coerceString(item)
			if !ok {
				return nil, false
			}
			ids = append(ids, s.(string))
		}
		return ids, true
	case string:
		if strings.TrimSpace(v) == "" {
			return []string{}, true
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, true
	default:
		return nil, false
	}
}

// getterFor builds the typed accessor of a descriptor. It is resolved once per
// descriptor when the registry is built.
func getterFor(name string, kind domain.PropertyKind, vt domain.ValueType) Getter {
	if name == IDProperty {
		return func(rec domain.Record) any {
			if rec.ID == "" {
				return nil
			}
			return rec.ID
		}
	}
	if kind == domain.KindToMany {
		return func(rec domain.Record) any {
			raw, ok := rec.Raw(name)
			if !ok {
				return nil
			}
			ids, ok := CoerceIDs(raw)
			if !ok {
				return nil
			}
			return ids
		}
	}
	coerce := coercers[vt]
	return func(rec domain.Record) any {
		raw, ok := rec.Raw(name)
		if !ok || raw == nil {
			return nil
		}
		v, ok := coerce(raw)
		if !ok {
			return nil
		}
		return v
	}
}

func coerceString(raw any) (any, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	case int, int32, int64, float64, bool:
		return fmt.Sprint(v), true
	default:
		return nil, false
	}
}

func coerceInteger(raw any) (any, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) {
			return nil, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return nil, false
	}
}

func coerceNumber(raw any) (any, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return nil, false
	}
}

func coerceBoolean(raw any) (any, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	default:
		return nil, false
	}
}

func coerceDateTime(raw any) (any, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), true
	case string:
		t, err := ParseTime(v)
		return t, err == nil
	default:
		return nil, false
	}
}

// ParseTime parses the datetime layouts accepted in stored values and filters.
func ParseTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported datetime %q", raw)
}
