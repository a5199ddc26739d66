package domain

import "strings"

// PropertyKind describes how a property value is reached from its owning record.
type PropertyKind int

const (
	KindSimple PropertyKind = iota
	KindToOne
	KindToMany
	KindComputed
)

func (k PropertyKind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindToOne:
		return "to-one"
	case KindToMany:
		return "to-many"
	case KindComputed:
		return "computed"
	default:
		return "unknown"
	}
}

// IsAssociation reports whether the kind points at other records.
func (k PropertyKind) IsAssociation() bool {
	return k == KindToOne || k == KindToMany
}

// ValueType is the declared type of a property's terminal value.
type ValueType int

const (
	TypeString ValueType = iota
	TypeInteger
	TypeNumber
	TypeBoolean
	TypeDateTime
	TypeReference
)

func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInteger:
		return "integer"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeDateTime:
		return "datetime"
	case TypeReference:
		return "reference"
	default:
		return "unknown"
	}
}

// IsText reports whether pattern operators apply to the type.
func (t ValueType) IsText() bool {
	return t == TypeString || t == TypeReference
}

// SortDirection represents ordering direction for sortable fields.
type SortDirection string

const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// ParseSortDirection accepts asc/desc in any case.
func ParseSortDirection(raw string) (SortDirection, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "asc":
		return SortDirectionAsc, true
	case "desc":
		return SortDirectionDesc, true
	default:
		return "", false
	}
}

// HierarchyMode selects a traversal over a hierarchical entity type.
type HierarchyMode int

const (
	ModeNone HierarchyMode = iota
	ModeOffline
	ModeTree
)

func (m HierarchyMode) String() string {
	switch m {
	case ModeOffline:
		return "offline"
	case ModeTree:
		return "tree"
	default:
		return "none"
	}
}

// Junction combines the filters of one request.
type Junction string

const (
	JunctionAnd Junction = "AND"
	JunctionOr  Junction = "OR"
)

// Operator is the canonical form of a filter operator. Negated variants such
// as `!like` are expressed by a separate flag on the filter.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNe          Operator = "ne"
	OpLt          Operator = "lt"
	OpLe          Operator = "le"
	OpGt          Operator = "gt"
	OpGe          Operator = "ge"
	OpIn          Operator = "in"
	OpLike        Operator = "like"
	OpILike       Operator = "ilike"
	OpStartsWith  Operator = "startsWith"
	OpEndsWith    Operator = "endsWith"
	OpIStartsWith Operator = "iStartsWith"
	OpIEndsWith   Operator = "iEndsWith"
	OpNull        Operator = "null"
	OpNotNull     Operator = "notNull"
	OpEmpty       Operator = "empty"
)

// IsUnary reports whether the operator takes no argument.
func (o Operator) IsUnary() bool {
	return o == OpNull || o == OpNotNull || o == OpEmpty
}

// IsMulti reports whether the operator takes a list argument.
func (o Operator) IsMulti() bool {
	return o == OpIn
}

// IsPattern reports whether the operator matches text patterns.
func (o Operator) IsPattern() bool {
	switch o {
	case OpLike, OpILike, OpStartsWith, OpEndsWith, OpIStartsWith, OpIEndsWith:
		return true
	}
	return false
}

// IsCaseInsensitive reports whether a pattern operator ignores case.
func (o Operator) IsCaseInsensitive() bool {
	return o == OpILike || o == OpIStartsWith || o == OpIEndsWith
}
