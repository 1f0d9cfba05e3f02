package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// StringSet is a set of ids stored as a JSON array column.
type StringSet map[string]struct{}

func NewStringSet(ids ...string) StringSet {
	s := make(StringSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s StringSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s StringSet) Add(id string) {
	s[id] = struct{}{}
}

func (s StringSet) Remove(id string) {
	delete(s, id)
}

// Toggle flips membership and reports whether the id was added.
func (s StringSet) Toggle(id string) bool {
	if s.Has(id) {
		delete(s, id)
		return false
	}
	s[id] = struct{}{}
	return true
}

func (s StringSet) Len() int { return len(s) }

// Values returns the members in sorted order.
func (s StringSet) Values() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) Clone() StringSet {
	out := make(StringSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s.Values())
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringSet) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = NewStringSet()
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("stringset: cannot scan %T", src)
	}
	if len(raw) == 0 {
		*s = NewStringSet()
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("stringset: %w", err)
	}
	*s = NewStringSet(ids...)
	return nil
}
