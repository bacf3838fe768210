// Package value implements the heterogeneous result-document algebra used
// throughout the dataset engine: every recipe, augment payload, translated
// row, and solver result is a Value.
package value

import (
	"fmt"
	"sort"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindSeq
	KindMap
)

// Value is a recursive tagged variant: Null | Bool | Int | Float | String |
// Time | Seq<Value> | Map<string, Value>.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	seq  []Value
	m    map[string]Value
	// keys preserves insertion order for Map, since Go maps are unordered
	// and row/column order matters for "list" output and augment merge.
	keys []string
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Int(i int64) Value          { return Value{kind: KindInt, i: i} }
func Float(f float64) Value      { return Value{kind: KindFloat, f: f} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func Time(t time.Time) Value     { return Value{kind: KindTime, t: t} }
func Seq(items ...Value) Value   { return Value{kind: KindSeq, seq: items} }

// NewMap returns an empty, ordered Map value.
func NewMap() Value {
	return Value{kind: KindMap, m: make(map[string]Value)}
}

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsNull() bool  { return v.kind == KindNull }
func (v Value) Bool() bool    { return v.b }
func (v Value) Int() int64    { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) String() string {
	if v.kind == KindString {
		return v.s
	}
	return fmt.Sprintf("%v", v.Interface())
}
func (v Value) Time() time.Time { return v.t }
func (v Value) Seq() []Value    { return v.seq }

// Get returns the value at key and whether it was present.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Null(), false
	}
	val, ok := v.m[key]
	return val, ok
}

// Set inserts or overwrites key, preserving first-insertion order.
func (v *Value) Set(key string, val Value) {
	if v.kind != KindMap {
		*v = NewMap()
	}
	if _, exists := v.m[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.m[key] = val
}

// Keys returns the Map's keys in insertion order.
func (v Value) Keys() []string {
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Len returns the number of entries for Seq and Map, 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindSeq:
		return len(v.seq)
	case KindMap:
		return len(v.keys)
	default:
		return 0
	}
}

// Append returns a new Seq with item appended.
func (v Value) Append(item Value) Value {
	if v.kind != KindSeq {
		return Seq(item)
	}
	seq := make([]Value, len(v.seq), len(v.seq)+1)
	copy(seq, v.seq)
	seq = append(seq, item)
	return Value{kind: KindSeq, seq: seq}
}

// Interface converts a Value into a plain Go value (map[string]interface{},
// []interface{}, string, bool, int64, float64, time.Time, or nil), useful
// for JSON-style serialization at the boundary.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindTime:
		return v.t
	case KindSeq:
		out := make([]interface{}, len(v.seq))
		for i, item := range v.seq {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.keys))
		for _, k := range v.keys {
			out[k] = v.m[k].Interface()
		}
		return out
	default:
		return nil
	}
}

// FromInterface builds a Value tree out of a decoded YAML/JSON document
// (map[string]interface{}, []interface{}, scalar types, or nil). Map key
// order is not preserved for inputs of type map[string]interface{} — callers
// that need stable ordering should build Maps via Set directly instead.
func FromInterface(in interface{}) Value {
	switch t := in.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Float(t)
	case string:
		return String(t)
	case time.Time:
		return Time(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromInterface(item)
		}
		return Seq(items...)
	case map[string]interface{}:
		out := NewMap()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out.Set(k, FromInterface(t[k]))
		}
		return out
	case map[interface{}]interface{}:
		out := NewMap()
		keys := make([]string, 0, len(t))
		conv := make(map[string]interface{}, len(t))
		for k, val := range t {
			ks := fmt.Sprintf("%v", k)
			keys = append(keys, ks)
			conv[ks] = val
		}
		sort.Strings(keys)
		for _, k := range keys {
			out.Set(k, FromInterface(conv[k]))
		}
		return out
	default:
		return String(fmt.Sprintf("%v", t))
	}
}
