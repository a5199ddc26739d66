package domain

// Record is one stored entity as handed over by a storage collaborator.
// Associations are stored by id: a to-one value is a string, a to-many value
// is a []string in the store's natural order. Computed values are already
// materialized by the store.
type Record struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Values map[string]any `json:"values"`
}

// NewRecord returns a record with an initialised value map.
func NewRecord(entityType, id string) Record {
	return Record{ID: id, Type: entityType, Values: map[string]any{"id": id}}
}

// Raw returns the stored value for a property name.
func (r Record) Raw(name string) (any, bool) {
	if name == "id" {
		return r.ID, r.ID != ""
	}
	if r.Values == nil {
		return nil, false
	}
	v, ok := r.Values[name]
	return v, ok
}

// With returns a copy of the record with the given value set.
func (r Record) With(name string, value any) Record {
	values := make(map[string]any, len(r.Values)+1)
	for k, v := range r.Values {
		values[k] = v
	}
	values[name] = value
	return Record{ID: r.ID, Type: r.Type, Values: values}
}
