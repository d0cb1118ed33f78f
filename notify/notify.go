// Package notify extracts typed fields from untyped notification payloads.
// Backends disagree on field casing and on how deeply values are nested, so
// every lookup accepts alias names and transparently unwraps the conventional
// wrapper objects. Lookups never panic and never coerce invalid values.
package notify

import (
	"math"

	"github.com/tidwall/gjson"
)

// wrapperKeys are the conventional envelope objects notification payloads
// nest their fields under. A field missing at the top level is searched
// under each of these, in order.
var wrapperKeys = []string{"item", "msg", "thread", "turn"}

// Payload is a parsed notification parameter object.
type Payload struct {
	root gjson.Result
}

// FromRaw parses raw JSON bytes into a Payload. Invalid JSON yields a
// Payload whose lookups all report missing.
func FromRaw(raw []byte) Payload {
	if !gjson.ValidBytes(raw) {
		return Payload{}
	}
	return Payload{root: gjson.ParseBytes(raw)}
}

// FromResult wraps an already-parsed gjson value, used when descending into
// nested objects such as list elements.
func FromResult(r gjson.Result) Payload {
	return Payload{root: r}
}

// lookup finds the first alias present either directly or under a wrapper
// key. The zero gjson.Result reports !Exists().
func (p Payload) lookup(names ...string) gjson.Result {
	if !p.root.IsObject() {
		return gjson.Result{}
	}
	for _, name := range names {
		if v := p.root.Get(name); v.Exists() {
			return v
		}
	}
	for _, wrap := range wrapperKeys {
		inner := p.root.Get(wrap)
		if !inner.IsObject() {
			continue
		}
		for _, name := range names {
			if v := inner.Get(name); v.Exists() {
				return v
			}
		}
	}
	return gjson.Result{}
}

// Str returns the named string field. Non-string values report missing.
func (p Payload) Str(names ...string) (string, bool) {
	v := p.lookup(names...)
	if v.Type != gjson.String {
		return "", false
	}
	return v.String(), true
}

// Bool returns the named boolean field. Non-boolean values report missing.
func (p Payload) Bool(names ...string) (bool, bool) {
	v := p.lookup(names...)
	if v.Type != gjson.True && v.Type != gjson.False {
		return false, false
	}
	return v.Bool(), true
}

// Num returns the named numeric field. NaN and infinities report missing.
func (p Payload) Num(names ...string) (float64, bool) {
	v := p.lookup(names...)
	if v.Type != gjson.Number {
		return 0, false
	}
	f := v.Float()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int returns the named numeric field truncated to int64.
func (p Payload) Int(names ...string) (int64, bool) {
	f, ok := p.Num(names...)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Obj returns the named object field decoded to a map.
func (p Payload) Obj(names ...string) (map[string]any, bool) {
	v := p.lookup(names...)
	if !v.IsObject() {
		return nil, false
	}
	m, ok := v.Value().(map[string]any)
	if !ok {
		return nil, false
	}
	return m, true
}

// List returns the elements of the named array field.
func (p Payload) List(names ...string) ([]gjson.Result, bool) {
	v := p.lookup(names...)
	if !v.IsArray() {
		return nil, false
	}
	return v.Array(), true
}

// Field returns the raw gjson value for the named field, for callers that
// need to inspect a shape the typed accessors do not cover.
func (p Payload) Field(names ...string) (gjson.Result, bool) {
	v := p.lookup(names...)
	return v, v.Exists()
}

// Value returns the whole payload decoded to a map, or nil when the payload
// is not an object.
func (p Payload) Value() map[string]any {
	if !p.root.IsObject() {
		return nil
	}
	m, _ := p.root.Value().(map[string]any)
	return m
}

// JoinedCommand extracts a command as a single string. Backends send either
// one string or an argv-style array; array elements are joined with single
// spaces.
func (p Payload) JoinedCommand(names ...string) (string, bool) {
	v := p.lookup(names...)
	switch {
	case v.Type == gjson.String:
		return v.String(), true
	case v.IsArray():
		parts := v.Array()
		out := ""
		for i, part := range parts {
			if part.Type != gjson.String {
				continue
			}
			if i > 0 && out != "" {
				out += " "
			}
			out += part.String()
		}
		if out == "" {
			return "", false
		}
		return out, true
	default:
		return "", false
	}
}
