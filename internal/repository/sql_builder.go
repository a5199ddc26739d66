package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/query"
	"github.com/rpattn/gist/internal/registry"
)

const entitiesTable = "gist_entities"

var comparisonOperators = map[domain.Operator]string{
	domain.OpEq: "=",
	domain.OpNe: "<>",
	domain.OpLt: "<",
	domain.OpLe: "<=",
	domain.OpGt: ">",
	domain.OpGe: ">=",
}

// sqlBuilder collects positional arguments while rendering filter and order
// clauses over the JSONB entity table. Property names are always passed as
// arguments, never spliced into the statement.
type sqlBuilder struct {
	args    []any
	aliases int
}

func newSQLBuilder() *sqlBuilder {
	return &sqlBuilder{args: make([]any, 0)}
}

func (b *sqlBuilder) addArg(value any) int {
	b.args = append(b.args, value)
	return len(b.args)
}

func (b *sqlBuilder) placeholder(idx int) string {
	return fmt.Sprintf("$%d", idx)
}

func (b *sqlBuilder) arg(value any) string {
	return b.placeholder(b.addArg(value))
}

func (b *sqlBuilder) nextAlias() string {
	b.aliases++
	return fmt.Sprintf("e%d", b.aliases)
}

// where renders the WHERE condition selecting records of t matching filters.
func (b *sqlBuilder) where(alias string, t *registry.EntityType, filters []query.Filter, junction domain.Junction) string {
	clause := fmt.Sprintf("%s.entity_type = %s", alias, b.arg(t.Name))
	if len(filters) == 0 {
		return clause
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, b.filterClause(alias, f))
	}
	sep := " AND "
	if junction == domain.JunctionOr {
		sep = " OR "
	}
	return clause + " AND (" + strings.Join(parts, sep) + ")"
}

func (b *sqlBuilder) filterClause(alias string, f query.Filter) string {
	clause := b.chainCondition(alias, f, 0)
	if f.Negate {
		return "NOT (" + clause + ")"
	}
	return clause
}

// chainCondition nests one EXISTS per association step so that a path matches
// when any reached record satisfies the terminal condition.
func (b *sqlBuilder) chainCondition(alias string, f query.Filter, step int) string {
	p := f.Chain[step]
	if step == len(f.Chain)-1 {
		return b.terminalCondition(alias, p, f)
	}
	next := b.nextAlias()
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s.entity_type = %s AND %s AND %s)",
		entitiesTable, next, next, b.arg(p.Target.Name),
		b.joinCondition(alias, next, p),
		b.chainCondition(next, f, step+1))
}

func (b *sqlBuilder) joinCondition(alias, next string, p *registry.PropertyDescriptor) string {
	if p.Kind == domain.KindToMany {
		return fmt.Sprintf("jsonb_exists(COALESCE(%s.properties -> %s::text, '[]'::jsonb), %s.id)", alias, b.arg(p.Name), next)
	}
	return fmt.Sprintf("%s.id = %s.properties ->> %s::text", next, alias, b.arg(p.Name))
}

func (b *sqlBuilder) terminalCondition(alias string, p *registry.PropertyDescriptor, f query.Filter) string {
	if p.Kind == domain.KindToMany {
		arr := fmt.Sprintf("NULLIF(%s.properties -> %s::text, 'null'::jsonb)", alias, b.arg(p.Name))
		switch f.Operator {
		case domain.OpNull:
			return arr + " IS NULL"
		case domain.OpNotNull:
			return arr + " IS NOT NULL"
		case domain.OpEmpty:
			return fmt.Sprintf("COALESCE(jsonb_array_length(%s), 0) = 0", arr)
		}
		return fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE EXISTS (SELECT 1 FROM jsonb_array_elements_text(%s) AS el(v) WHERE %s) END",
			arr, arr, b.scalarCondition("el.v", domain.TypeReference, f))
	}

	expr := b.valueExpr(alias, p)
	switch f.Operator {
	case domain.OpNull:
		return expr + " IS NULL"
	case domain.OpNotNull:
		return expr + " IS NOT NULL"
	case domain.OpEmpty:
		return fmt.Sprintf("COALESCE(%s, '') = ''", expr)
	}
	return b.scalarCondition(expr, p.ValueType, f)
}

func (b *sqlBuilder) scalarCondition(expr string, vt domain.ValueType, f query.Filter) string {
	if vt.IsText() {
		expr = "(" + expr + ") COLLATE \"C\""
	}
	switch {
	case f.Operator.IsPattern():
		op := "LIKE"
		if f.Operator.IsCaseInsensitive() {
			op = "ILIKE"
		}
		return fmt.Sprintf("%s %s %s", expr, op, b.arg(f.LikePattern()))
	case f.Operator == domain.OpIn:
		return fmt.Sprintf("%s = ANY(%s)", expr, b.arg(typedSlice(vt, f.Values)))
	default:
		return fmt.Sprintf("%s %s %s", expr, comparisonOperators[f.Operator], b.arg(f.Value()))
	}
}

// valueExpr renders the typed SQL value of a scalar property.
func (b *sqlBuilder) valueExpr(alias string, p *registry.PropertyDescriptor) string {
	if p.Name == registry.IDProperty {
		return alias + ".id"
	}
	raw := fmt.Sprintf("(%s.properties ->> %s::text)", alias, b.arg(p.Name))
	switch p.ValueType {
	case domain.TypeInteger:
		return raw + "::bigint"
	case domain.TypeNumber:
		return raw + "::double precision"
	case domain.TypeBoolean:
		return raw + "::boolean"
	case domain.TypeDateTime:
		return raw + "::timestamptz"
	default:
		return raw
	}
}

// orderBy renders the ORDER BY clause. Without keys the persisted order is used.
func (b *sqlBuilder) orderBy(alias string, keys []query.OrderKey) string {
	if len(keys) == 0 {
		return "ORDER BY " + alias + ".position"
	}
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		expr := b.orderExpr(alias, key.Chain, 0)
		if key.Terminal().ValueType.IsText() {
			expr = "(" + expr + ") COLLATE \"C\""
		}
		dir := "ASC"
		if key.Direction == domain.SortDirectionDesc {
			dir = "DESC"
		}
		parts = append(parts, expr+" "+dir)
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

func (b *sqlBuilder) orderExpr(alias string, chain []*registry.PropertyDescriptor, step int) string {
	p := chain[step]
	if step == len(chain)-1 {
		return b.valueExpr(alias, p)
	}
	next := b.nextAlias()
	return fmt.Sprintf("(SELECT %s FROM %s %s WHERE %s.entity_type = %s AND %s)",
		b.orderExpr(next, chain, step+1), entitiesTable, next, next, b.arg(p.Target.Name),
		b.joinCondition(alias, next, p))
}

func typedSlice(vt domain.ValueType, values []any) any {
	switch vt {
	case domain.TypeInteger:
		out := make([]int64, 0, len(values))
		for _, v := range values {
			if n, ok := v.(int64); ok {
				out = append(out, n)
			}
		}
		return out
	case domain.TypeNumber:
		out := make([]float64, 0, len(values))
		for _, v := range values {
			if n, ok := v.(float64); ok {
				out = append(out, n)
			}
		}
		return out
	case domain.TypeBoolean:
		out := make([]bool, 0, len(values))
		for _, v := range values {
			if n, ok := v.(bool); ok {
				out = append(out, n)
			}
		}
		return out
	case domain.TypeDateTime:
		out := make([]time.Time, 0, len(values))
		for _, v := range values {
			if n, ok := v.(time.Time); ok {
				out = append(out, n)
			}
		}
		return out
	default:
		out := make([]string, 0, len(values))
		for _, v := range values {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
}
