package gist

import (
	"bytes"
	"encoding/json"
)

// Document is one projected record. Keys keep request order.
type Document struct {
	Keys   []string
	Values []any
}

// Get returns the value rendered under key.
func (d Document) Get(key string) (any, bool) {
	for i, k := range d.Keys {
		if k == key {
			return d.Values[i], true
		}
	}
	return nil, false
}

// MarshalJSON renders the document as an object with keys in request order.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(d.Values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Pager describes the window of a flat query.
type Pager struct {
	Page      int `json:"page"`
	PageSize  int `json:"pageSize"`
	Total     int `json:"total"`
	PageCount int `json:"pageCount"`
}

func newPager(page, pageSize, total int) *Pager {
	count := 0
	if pageSize > 0 {
		count = (total + pageSize - 1) / pageSize
	}
	return &Pager{Page: page, PageSize: pageSize, Total: total, PageCount: count}
}

// Envelope is the result of one query.
type Envelope struct {
	// Pager is nil for hierarchy traversals.
	Pager      *Pager
	Collection string
	Keys       []string
	Items      []Document
	Headless   bool
}

// MarshalJSON renders a bare array when headless, otherwise an object holding
// the pager (when present) and the items under the collection name.
func (e Envelope) MarshalJSON() ([]byte, error) {
	items := e.Items
	if items == nil {
		items = []Document{}
	}
	if e.Headless {
		return json.Marshal(items)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	if e.Pager != nil {
		pager, err := json.Marshal(e.Pager)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`"pager":`)
		buf.Write(pager)
		buf.WriteByte(',')
	}
	key, err := json.Marshal(e.Collection)
	if err != nil {
		return nil, err
	}
	buf.Write(key)
	buf.WriteByte(':')
	body, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	buf.Write(body)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
