package query

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/registry"
)

// operatorTokens maps accepted operator spellings to canonical operators.
// A leading `!` negates any of them.
var operatorTokens = map[string]domain.Operator{
	"eq":         domain.OpEq,
	"ne":         domain.OpNe,
	"neq":        domain.OpNe,
	"lt":         domain.OpLt,
	"le":         domain.OpLe,
	"lte":        domain.OpLe,
	"gt":         domain.OpGt,
	"ge":         domain.OpGe,
	"gte":        domain.OpGe,
	"in":         domain.OpIn,
	"like":       domain.OpLike,
	"ilike":      domain.OpILike,
	"startswith": domain.OpStartsWith,
	"$like":      domain.OpStartsWith,
	"endswith":   domain.OpEndsWith,
	"like$":      domain.OpEndsWith,
	"$ilike":     domain.OpIStartsWith,
	"ilike$":     domain.OpIEndsWith,
	"null":       domain.OpNull,
	"notnull":    domain.OpNotNull,
	"empty":      domain.OpEmpty,
}

// Parse validates the parameters of one request against the registry. No
// storage is touched; the first violation found is returned.
func Parse(reg *registry.Registry, typeName string, params url.Values, opts Options) (*Spec, error) {
	opts = opts.withDefaults()

	t, err := reg.Describe(typeName)
	if err != nil {
		return nil, err
	}

	spec := &Spec{Type: t, Junction: domain.JunctionAnd}

	if spec.Fields, err = parseFields(reg, t, params["fields"], opts); err != nil {
		return nil, err
	}
	for _, raw := range params["filter"] {
		f, err := parseFilter(reg, t, raw, opts)
		if err != nil {
			return nil, err
		}
		spec.Filters = append(spec.Filters, f)
	}
	if strings.EqualFold(strings.TrimSpace(params.Get("rootJunction")), string(domain.JunctionOr)) {
		spec.Junction = domain.JunctionOr
	}
	for _, raw := range splitList(params["order"]) {
		o, err := parseOrder(reg, t, raw)
		if err != nil {
			return nil, err
		}
		spec.Orders = append(spec.Orders, o)
	}
	if spec.Page, spec.PageSize, err = parsePaging(params, opts); err != nil {
		return nil, err
	}
	spec.Headless = parseFlag(params, "headless")
	if err := parseHierarchyMode(spec, params); err != nil {
		return nil, err
	}
	return spec, nil
}

func parseFields(reg *registry.Registry, t *registry.EntityType, raw []string, opts Options) ([]FieldPath, error) {
	entries := splitList(raw)
	if len(entries) == 0 {
		entries = append([]string{registry.IDProperty}, t.DisplayFields...)
	}

	var fields []FieldPath
	seen := make(map[string]struct{})
	add := func(f FieldPath) {
		id := f.Path + "::" + string(f.Transform)
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		fields = append(fields, f)
	}

	for _, entry := range entries {
		if entry == "*" {
			for _, p := range t.Properties {
				if p.Kind == domain.KindSimple || p.Kind == domain.KindComputed {
					add(FieldPath{Path: p.Name, Segments: []string{p.Name}, Chain: []*registry.PropertyDescriptor{p}})
				}
			}
			continue
		}
		f, err := parseField(reg, t, entry, opts)
		if err != nil {
			return nil, err
		}
		add(f)
	}

	assignKeys(fields)
	return fields, nil
}

func parseField(reg *registry.Registry, t *registry.EntityType, entry string, opts Options) (FieldPath, error) {
	path, transform, hasTransform := strings.Cut(entry, "::")
	f := FieldPath{Path: path, Segments: strings.Split(path, ".")}
	if len(f.Segments) > opts.MaxFieldDepth {
		return FieldPath{}, domain.NewQueryError(domain.ErrInvalidField, entry,
			"Field `%s` exceeds the maximum depth of %d.", entry, opts.MaxFieldDepth)
	}
	chain, err := reg.ResolvePath(t, path)
	if err != nil {
		return FieldPath{}, err
	}
	f.Chain = chain

	if hasTransform {
		switch Transform(transform) {
		case TransformIDs, TransformSize:
			if !f.Terminal().Kind.IsAssociation() {
				return FieldPath{}, domain.NewQueryError(domain.ErrInvalidField, entry,
					"Field `%s` uses transformation `%s` which only applies to associations.", entry, transform)
			}
			f.Transform = Transform(transform)
		default:
			return FieldPath{}, domain.NewQueryError(domain.ErrInvalidField, entry,
				"Field `%s` uses unknown transformation `%s`.", entry, transform)
		}
	}
	return f, nil
}

// assignKeys names each field by its leaf, falling back to the full path when
// two fields share a leaf.
func assignKeys(fields []FieldPath) {
	counts := make(map[string]int, len(fields))
	for _, f := range fields {
		counts[f.Segments[len(f.Segments)-1]]++
	}
	for i := range fields {
		leaf := fields[i].Segments[len(fields[i].Segments)-1]
		if counts[leaf] > 1 {
			fields[i].Key = fields[i].Path
		} else {
			fields[i].Key = leaf
		}
	}
}

func parseFilter(reg *registry.Registry, t *registry.EntityType, raw string, opts Options) (Filter, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" {
		return Filter{}, domain.NewQueryError(domain.ErrInvalidFilterSyntax, raw,
			"Filter `%s` must have the form property:operator[:value].", raw)
	}
	path := strings.TrimSpace(parts[0])
	token := strings.TrimSpace(parts[1])

	f := Filter{Raw: raw, Path: path}
	opToken := token
	if len(opToken) > 1 && strings.HasPrefix(opToken, "!") {
		f.Negate = true
		opToken = opToken[1:]
	}
	op, ok := operatorTokens[strings.ToLower(opToken)]
	if !ok {
		return Filter{}, domain.NewQueryError(domain.ErrUnknownOperator, token,
			"Filter `%s` uses unknown operator `%s`.", raw, token)
	}
	f.Operator = op

	chain, err := reg.ResolvePath(t, path)
	if err != nil {
		return Filter{}, err
	}
	f.Chain = chain
	terminal := f.Terminal()
	if !terminal.Filterable {
		return Filter{}, domain.NewQueryError(domain.ErrNotFilterable, path,
			"Property `%s` cannot be used as filter property.", path)
	}

	var args []string
	if len(parts) == 3 {
		args = splitArgs(parts[2])
	}
	shown := path + ":" + token + ":[" + strings.Join(args, ", ") + "]"
	switch {
	case op.IsUnary() && len(args) > 0:
		return Filter{}, domain.NewQueryError(domain.ErrInvalidFilterSyntax, raw,
			"Filter `%s` uses an unary operator and does not need an argument.", shown)
	case !op.IsUnary() && len(args) == 0:
		return Filter{}, domain.NewQueryError(domain.ErrInvalidFilterSyntax, raw,
			"Filter `%s` uses a binary operator that does need an argument.", shown)
	case !op.IsUnary() && !op.IsMulti() && len(args) > 1:
		return Filter{}, domain.NewQueryError(domain.ErrInvalidFilterSyntax, raw,
			"Filter `%s` can only be used with a single argument.", shown)
	}

	switch {
	case op.IsPattern():
		if !terminal.ValueType.IsText() {
			return Filter{}, domain.NewQueryError(domain.ErrInvalidFilterValueType, raw,
				"Filter `%s` uses text operator `%s` on %s property `%s`.", raw, token, terminal.ValueType, path)
		}
		f.Values = []any{args[0]}
	case op == domain.OpEmpty:
		if terminal.Kind != domain.KindToMany && !terminal.ValueType.IsText() {
			return Filter{}, domain.NewQueryError(domain.ErrInvalidFilterValueType, raw,
				"Filter `%s` tests emptiness of %s property `%s`.", raw, terminal.ValueType, path)
		}
	case op.IsUnary():
	default:
		for _, arg := range args {
			v, err := ParseLiteral(terminal.ValueType, arg, opts.Now)
			if err != nil {
				return Filter{}, domain.NewQueryError(domain.ErrInvalidFilterValueType, raw,
					"Value `%s` of filter `%s` is not a valid %s.", arg, raw, terminal.ValueType)
			}
			f.Values = append(f.Values, v)
		}
	}
	return f, nil
}

func parseOrder(reg *registry.Registry, t *registry.EntityType, raw string) (OrderKey, error) {
	path, dir, _ := strings.Cut(raw, ":")
	path = strings.TrimSpace(path)
	direction, ok := domain.ParseSortDirection(dir)
	if !ok {
		return OrderKey{}, domain.NewQueryError(domain.ErrInvalidFilterSyntax, raw,
			"Order `%s` must use direction asc or desc.", raw)
	}
	chain, err := reg.ResolvePath(t, path)
	if err != nil {
		return OrderKey{}, err
	}
	for _, p := range chain {
		if p.Kind == domain.KindToMany {
			return OrderKey{}, domain.NewQueryError(domain.ErrNotSortable, path,
				"Property `%s` cannot be used as order property.", path)
		}
	}
	if !chain[len(chain)-1].Sortable {
		return OrderKey{}, domain.NewQueryError(domain.ErrNotSortable, path,
			"Property `%s` cannot be used as order property.", path)
	}
	return OrderKey{Path: path, Chain: chain, Direction: direction}, nil
}

func parsePaging(params url.Values, opts Options) (int, int, error) {
	page := 1
	if raw := strings.TrimSpace(params.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, 0, domain.NewQueryError(domain.ErrInvalidPagination, raw,
				"Page must be a positive integer but was `%s`.", raw)
		}
		page = n
	}
	pageSize := opts.DefaultPageSize
	if raw := strings.TrimSpace(params.Get("pageSize")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > opts.MaxPageSize {
			return 0, 0, domain.NewQueryError(domain.ErrInvalidPagination, raw,
				"Page size must be between 1 and %d but was `%s`.", opts.MaxPageSize, raw)
		}
		pageSize = n
	}
	if page-1 > math.MaxInt/pageSize {
		raw := strconv.Itoa(page)
		return 0, 0, domain.NewQueryError(domain.ErrInvalidPagination, raw,
			"Page `%s` is beyond the last addressable row for page size %d.", raw, pageSize)
	}
	return page, pageSize, nil
}

func parseHierarchyMode(spec *Spec, params url.Values) error {
	offline := parseFlag(params, "orgUnitsOffline")
	tree := parseFlag(params, "orgUnitsTree")
	switch {
	case offline && tree:
		return domain.NewQueryError(domain.ErrConflictingHierarchyMode, "orgUnitsTree",
			"Parameters `orgUnitsOffline` and `orgUnitsTree` cannot be combined.")
	case !offline && !tree:
		return nil
	}
	if !spec.Type.IsHierarchical() {
		token := "orgUnitsOffline"
		if tree {
			token = "orgUnitsTree"
		}
		return domain.NewQueryError(domain.ErrConflictingHierarchyMode, token,
			"Parameter `%s` requires a hierarchical entity type but %s is not.", token, spec.Type.Name)
	}
	if offline {
		spec.Mode = domain.ModeOffline
		return nil
	}

	spec.Mode = domain.ModeTree
	for i, f := range spec.Filters {
		if len(f.Chain) == 1 && f.Path == registry.IDProperty && f.Operator == domain.OpEq && !f.Negate {
			spec.AnchorID, _ = f.Value().(string)
			spec.Filters = append(spec.Filters[:i:i], spec.Filters[i+1:]...)
			return nil
		}
	}
	return domain.NewQueryError(domain.ErrInvalidFilterSyntax, "orgUnitsTree",
		"Parameter `orgUnitsTree` requires an anchor given as filter `id:eq:<id>`.")
}

// parseFlag treats a present parameter without value as true.
func parseFlag(params url.Values, name string) bool {
	values, ok := params[name]
	if !ok {
		return false
	}
	if len(values) == 0 || values[0] == "" {
		return true
	}
	b, err := strconv.ParseBool(values[0])
	return err == nil && b
}

// splitList splits comma separated parameter values, ignoring commas inside
// brackets.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		depth := 0
		start := 0
		for i, r := range v {
			switch r {
			case '[', '(':
				depth++
			case ']', ')':
				depth--
			case ',':
				if depth == 0 {
					out = appendTrimmed(out, v[start:i])
					start = i + 1
				}
			}
		}
		out = appendTrimmed(out, v[start:])
	}
	return out
}

// splitArgs reads a filter argument: `[a,b]` is a list, anything else a single
// value. An empty list yields no arguments.
func splitArgs(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		var args []string
		for _, item := range strings.Split(trimmed[1:len(trimmed)-1], ",") {
			args = appendTrimmed(args, item)
		}
		return args
	}
	if trimmed == "" {
		return nil
	}
	return []string{trimmed}
}

func appendTrimmed(out []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	return append(out, s)
}
