// Package filter evaluates resolved filters and sort keys against records held
// in memory. Stores without a query language use it for pushdown; the engine
// uses it to post-filter hierarchy traversals.
package filter

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/query"
	"github.com/rpattn/gist/internal/registry"
)

// Lookup resolves associated records by id. Missing ids are left out of the
// result.
type Lookup interface {
	Records(ctx context.Context, entityType string, ids []string) ([]domain.Record, error)
}

// Evaluator applies filters and orders. It keeps no state between calls.
type Evaluator struct {
	lookup Lookup
}

// NewEvaluator creates an evaluator resolving associations through lookup.
func NewEvaluator(lookup Lookup) *Evaluator {
	return &Evaluator{lookup: lookup}
}

type compiled struct {
	query.Filter
	pattern *regexp.Regexp
}

// Apply returns the records matching filters, keeping their relative order.
func (e *Evaluator) Apply(ctx context.Context, records []domain.Record, filters []query.Filter, junction domain.Junction) ([]domain.Record, error) {
	if len(filters) == 0 {
		return records, nil
	}
	cfs, err := compile(filters)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := e.match(ctx, rec, cfs, junction)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Match reports whether a single record satisfies filters.
func (e *Evaluator) Match(ctx context.Context, rec domain.Record, filters []query.Filter, junction domain.Junction) (bool, error) {
	cfs, err := compile(filters)
	if err != nil {
		return false, err
	}
	return e.match(ctx, rec, cfs, junction)
}

func (e *Evaluator) match(ctx context.Context, rec domain.Record, cfs []compiled, junction domain.Junction) (bool, error) {
	if len(cfs) == 0 {
		return true, nil
	}
	for _, cf := range cfs {
		ok, err := e.matchOne(ctx, rec, cf)
		if err != nil {
			return false, err
		}
		if junction == domain.JunctionOr && ok {
			return true, nil
		}
		if junction != domain.JunctionOr && !ok {
			return false, nil
		}
	}
	return junction != domain.JunctionOr, nil
}

// matchOne follows SQL semantics: a comparison against an absent value is
// unknown and never matches, negated or not. Paths through associations match
// when any reached value satisfies the test.
func (e *Evaluator) matchOne(ctx context.Context, rec domain.Record, cf compiled) (bool, error) {
	if len(cf.Chain) == 1 {
		ok, known := test(cf, cf.Terminal().Get(rec))
		if !known {
			return false, nil
		}
		return ok != cf.Negate, nil
	}
	values, err := e.Values(ctx, rec, cf.Chain)
	if err != nil {
		return false, err
	}
	found := false
	for _, v := range values {
		if ok, known := test(cf, v); known && ok {
			found = true
			break
		}
	}
	return found != cf.Negate, nil
}

// Values walks chain from rec and returns the terminal value of every record
// reached. An absent association contributes nothing.
func (e *Evaluator) Values(ctx context.Context, rec domain.Record, chain []*registry.PropertyDescriptor) ([]any, error) {
	current := []domain.Record{rec}
	for _, step := range chain[:len(chain)-1] {
		var ids []string
		for _, r := range current {
			switch v := step.Get(r).(type) {
			case string:
				ids = append(ids, v)
			case []string:
				ids = append(ids, v...)
			}
		}
		if len(ids) == 0 {
			return nil, nil
		}
		next, err := e.lookup.Records(ctx, step.Target.Name, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", step.Name, err)
		}
		current = next
	}
	terminal := chain[len(chain)-1]
	values := make([]any, 0, len(current))
	for _, r := range current {
		values = append(values, terminal.Get(r))
	}
	return values, nil
}

// Sort orders records by keys, keeping the input order for ties.
func (e *Evaluator) Sort(ctx context.Context, records []domain.Record, keys []query.OrderKey) error {
	if len(keys) == 0 || len(records) < 2 {
		return nil
	}
	sortValues := make([][]any, len(records))
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := make([]any, len(keys))
		for k, key := range keys {
			v, err := e.orderValue(ctx, rec, key)
			if err != nil {
				return err
			}
			row[k] = v
		}
		sortValues[i] = row
	}

	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := sortValues[idx[a]], sortValues[idx[b]]
		for k, key := range keys {
			if c := compareForOrder(ra[k], rb[k], key.Direction == domain.SortDirectionDesc); c != 0 {
				return c < 0
			}
		}
		return false
	})

	sorted := make([]domain.Record, len(records))
	for i, j := range idx {
		sorted[i] = records[j]
	}
	copy(records, sorted)
	return nil
}

func (e *Evaluator) orderValue(ctx context.Context, rec domain.Record, key query.OrderKey) (any, error) {
	if len(key.Chain) == 1 {
		return key.Terminal().Get(rec), nil
	}
	values, err := e.Values(ctx, rec, key.Chain)
	if err != nil || len(values) == 0 {
		return nil, err
	}
	return values[0], nil
}

func compile(filters []query.Filter) ([]compiled, error) {
	out := make([]compiled, len(filters))
	for i, f := range filters {
		out[i] = compiled{Filter: f}
		if !f.Operator.IsPattern() {
			continue
		}
		re, err := likeRegexp(f.LikePattern(), f.Operator.IsCaseInsensitive())
		if err != nil {
			return nil, fmt.Errorf("failed to compile filter %s: %w", f.Raw, err)
		}
		out[i].pattern = re
	}
	return out, nil
}

// likeRegexp translates a SQL LIKE pattern with backslash escapes.
func likeRegexp(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	var b strings.Builder
	if caseInsensitive {
		b.WriteString("(?i)")
	}
	b.WriteString("(?s)^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// test evaluates the operator of cf against one value without negation. The
// second result is false when the outcome is unknown.
func test(cf compiled, v any) (bool, bool) {
	switch cf.Operator {
	case domain.OpNull:
		return v == nil, true
	case domain.OpNotNull:
		return v != nil, true
	case domain.OpEmpty:
		switch tv := v.(type) {
		case nil:
			return true, true
		case []string:
			return len(tv) == 0, true
		case string:
			return tv == "", true
		default:
			return false, true
		}
	}
	if v == nil {
		return false, false
	}
	if ids, ok := v.([]string); ok {
		for _, id := range ids {
			if ok, known := test(cf, id); known && ok {
				return true, true
			}
		}
		return false, true
	}

	switch cf.Operator {
	case domain.OpEq, domain.OpNe, domain.OpLt, domain.OpLe, domain.OpGt, domain.OpGe:
		c, ok := Compare(v, cf.Value())
		if !ok {
			return false, false
		}
		switch cf.Operator {
		case domain.OpEq:
			return c == 0, true
		case domain.OpNe:
			return c != 0, true
		case domain.OpLt:
			return c < 0, true
		case domain.OpLe:
			return c <= 0, true
		case domain.OpGt:
			return c > 0, true
		default:
			return c >= 0, true
		}
	case domain.OpIn:
		for _, candidate := range cf.Values {
			if c, ok := Compare(v, candidate); ok && c == 0 {
				return true, true
			}
		}
		return false, true
	default:
		s, ok := v.(string)
		if !ok || cf.pattern == nil {
			return false, false
		}
		return cf.pattern.MatchString(s), true
	}
}
