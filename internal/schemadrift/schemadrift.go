// Package schemadrift learns the field shape of the first raw timeline item
// seen in a run and flags subsequent items whose shape has changed —
// fields that disappeared, appeared, or changed JSON type. A feed that
// "occasionally changes its response structure without notice" is exactly
// the scenario this detects, just applied to timeline items instead of an
// HTTP response payload.
package schemadrift

import (
	"fmt"
	"sort"
	"sync"
)

// MismatchKind classifies a single detected field drift.
type MismatchKind string

const (
	MissingField MismatchKind = "MISSING_FIELD"
	AddedField   MismatchKind = "ADDED_FIELD"
	TypeChange   MismatchKind = "TYPE_CHANGE"
)

// Mismatch describes one field that drifted relative to the baseline.
type Mismatch struct {
	Kind         MismatchKind
	Field        string
	BaselineType string
	CurrentType  string
}

func (m Mismatch) String() string {
	switch m.Kind {
	case MissingField:
		return fmt.Sprintf("%s: field %q present in baseline, missing now", m.Kind, m.Field)
	case AddedField:
		return fmt.Sprintf("%s: field %q not in baseline, present now", m.Kind, m.Field)
	default:
		return fmt.Sprintf("%s: field %q was %s in baseline, now %s", m.Kind, m.Field, m.BaselineType, m.CurrentType)
	}
}

// Detector learns a baseline schema from the first item it sees and reports
// drift on every item after that. Safe for concurrent use.
type Detector struct {
	mu       sync.Mutex
	baseline map[string]string // dot-path -> JSON type name
}

// NewDetector returns a Detector with no baseline learned yet.
func NewDetector() *Detector {
	return &Detector{}
}

// HasBaseline reports whether a baseline has been learned, i.e. whether
// Check has been called since construction or the last Reset.
func (d *Detector) HasBaseline() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseline != nil
}

// BaselineFields returns the sorted list of field paths in the learned
// baseline, or nil if none has been learned.
func (d *Detector) BaselineFields() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.baseline == nil {
		return nil
	}
	fields := make([]string, 0, len(d.baseline))
	for k := range d.baseline {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Reset clears the learned baseline; the next call to Check re-learns it.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.baseline = nil
	d.mu.Unlock()
}

// Check compares item's shape against the baseline, learning it first if
// none exists yet. Returns nil on the learning call and on any call that
// finds no drift.
func (d *Detector) Check(item map[string]interface{}) []Mismatch {
	current := flatten("", item)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.baseline == nil {
		d.baseline = current
		return nil
	}
	return diff(d.baseline, current)
}

func diff(baseline, current map[string]string) []Mismatch {
	var mismatches []Mismatch

	fields := make(map[string]struct{}, len(baseline)+len(current))
	for k := range baseline {
		fields[k] = struct{}{}
	}
	for k := range current {
		fields[k] = struct{}{}
	}

	sorted := make([]string, 0, len(fields))
	for k := range fields {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, field := range sorted {
		bType, inBaseline := baseline[field]
		cType, inCurrent := current[field]
		switch {
		case inBaseline && !inCurrent:
			mismatches = append(mismatches, Mismatch{Kind: MissingField, Field: field, BaselineType: bType})
		case !inBaseline && inCurrent:
			mismatches = append(mismatches, Mismatch{Kind: AddedField, Field: field, CurrentType: cType})
		case bType != cType:
			mismatches = append(mismatches, Mismatch{Kind: TypeChange, Field: field, BaselineType: bType, CurrentType: cType})
		}
	}
	return mismatches
}

// flatten walks a decoded JSON value and records the JSON-ish type name of
// every leaf and object field under a dot-separated path, the same
// flattening scheme used to diff two arbitrary JSON documents field by
// field regardless of nesting depth.
func flatten(prefix string, v interface{}) map[string]string {
	out := make(map[string]string)
	flattenInto(prefix, v, out)
	return out
}

func flattenInto(prefix string, v interface{}, out map[string]string) {
	switch val := v.(type) {
	case map[string]interface{}:
		if prefix != "" {
			out[prefix] = "object"
		}
		for k, child := range val {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			flattenInto(path, child, out)
		}
	case []interface{}:
		out[prefix] = "array"
	case string:
		out[prefix] = "string"
	case float64:
		out[prefix] = "number"
	case bool:
		out[prefix] = "bool"
	case nil:
		out[prefix] = "null"
	default:
		out[prefix] = fmt.Sprintf("%T", val)
	}
}
