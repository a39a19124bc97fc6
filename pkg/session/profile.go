package session

import (
	"fmt"
	"sort"
)

// Profile accumulates what the counterpart has learned about the user.
// Fields are either scalars (overwritten on update) or string sets (merged
// by union). Once a field is classified as set-valued it stays set-valued
// for the session's life.
type Profile struct {
	scalars map[string]string
	sets    map[string][]string
	member  map[string]map[string]bool
}

// Set-valued fields of the guidance flow, pre-classified so a scalar update
// cannot demote them.
var setValuedFields = []string{"interests", "strengths", "constraints"}

// NewProfile returns the empty profile shape.
func NewProfile() *Profile {
	p := &Profile{
		scalars: make(map[string]string),
		sets:    make(map[string][]string),
		member:  make(map[string]map[string]bool),
	}
	for _, field := range setValuedFields {
		p.sets[field] = nil
		p.member[field] = make(map[string]bool)
	}
	return p
}

// Merge folds an update into the profile. List values union into the
// field's set (duplicates removed, first-seen order kept); scalar values
// overwrite, unless the field is already set-valued, in which case they
// join the set. Merging the same update twice is a no-op.
func (p *Profile) Merge(update map[string]any) {
	for field, value := range update {
		switch v := value.(type) {
		case nil:
			continue
		case []any:
			for _, item := range v {
				p.addMember(field, stringify(item))
			}
		case []string:
			for _, item := range v {
				p.addMember(field, item)
			}
		default:
			if _, isSet := p.member[field]; isSet {
				p.addMember(field, stringify(v))
				continue
			}
			p.scalars[field] = stringify(v)
		}
	}
}

func (p *Profile) addMember(field, value string) {
	if value == "" {
		return
	}
	members, isSet := p.member[field]
	if !isSet {
		// First list value classifies the field as set-valued for good. Any
		// earlier scalar value joins the set.
		members = make(map[string]bool)
		p.member[field] = members
		if prior, ok := p.scalars[field]; ok {
			delete(p.scalars, field)
			members[prior] = true
			p.sets[field] = append(p.sets[field], prior)
		}
	}
	if members[value] {
		return
	}
	members[value] = true
	p.sets[field] = append(p.sets[field], value)
}

// Scalar returns a scalar field's value.
func (p *Profile) Scalar(field string) (string, bool) {
	value, ok := p.scalars[field]
	return value, ok
}

// Set returns a copy of a set-valued field's members in insertion order.
func (p *Profile) Set(field string) []string {
	return append([]string(nil), p.sets[field]...)
}

// Snapshot returns the whole profile as a plain map for display or export.
func (p *Profile) Snapshot() map[string]any {
	out := make(map[string]any, len(p.scalars)+len(p.sets))
	for field, value := range p.scalars {
		out[field] = value
	}
	for field, values := range p.sets {
		out[field] = append([]string(nil), values...)
	}
	return out
}

// Fields lists every known field name, sorted for stable display.
func (p *Profile) Fields() []string {
	fields := make([]string, 0, len(p.scalars)+len(p.sets))
	for field := range p.scalars {
		fields = append(fields, field)
	}
	for field := range p.sets {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// JSON numbers arrive as float64; render integers without a
		// trailing ".0".
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
