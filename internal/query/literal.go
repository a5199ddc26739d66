package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/registry"
)

// ParseLiteral converts a filter argument to the canonical Go value of vt.
// Datetime arguments also accept `now`.
func ParseLiteral(vt domain.ValueType, raw string, now func() time.Time) (any, error) {
	if vt == domain.TypeDateTime && strings.EqualFold(strings.TrimSpace(raw), "now") {
		if now == nil {
			now = time.Now
		}
		return now().UTC(), nil
	}
	v, ok := registry.Coerce(vt, raw)
	if !ok {
		return nil, fmt.Errorf("%q is not a valid %s", raw, vt)
	}
	return v, nil
}
