package dataset

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// DateLayout is the wire form of every date value.
const DateLayout = "2006-01-02"

// Kind identifies which member of the Value variant is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindDate
	KindBool
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDate:
		return "date"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Entry is one key of a nested object carried by a list value.
type Entry struct {
	Key   string
	Value Value
}

// Object is an ordered set of entries, e.g. one age band of a demographic breakdown.
type Object []Entry

// MarshalJSON writes the entries as a JSON object in their stored order.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := e.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// Value is a closed tagged variant holding one record field value.
// The zero Value is null.
type Value struct {
	kind  Kind
	s     string
	i     int64
	f     float64
	t     time.Time
	b     bool
	items []Object
}

func Null() Value { return Value{} }
func StringValue(s string) Value { return Value{kind: KindString, s: s} }
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }
func ListValue(items []Object) Value {
	return Value{kind: KindList, items: items}
}

// DateValue truncates t to its UTC calendar day.
func DateValue(t time.Time) Value {
	y, m, d := t.UTC().Date()
	return Value{kind: KindDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsScalar() bool { return v.kind != KindList }

func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInt }
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) Date() (time.Time, bool) { return v.t, v.kind == KindDate }
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) List() ([]Object, bool) { return v.items, v.kind == KindList }

// Equal reports whether both values have the same kind and payload.
// List values are never equal to anything; they cannot be filtered on.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindDate:
		return v.t.Equal(o.t)
	case KindBool:
		return v.b == o.b
	default:
		return false
	}
}

// String renders the canonical text form shared by filters, CSV and XML.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindDate:
		return v.t.Format(DateLayout)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		b, err := json.Marshal(v.items)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

// MarshalJSON renders the value as native JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return []byte("null"), nil
		}
		return strconv.AppendFloat(nil, v.f, 'f', -1, 64), nil
	case KindDate:
		return json.Marshal(v.t.Format(DateLayout))
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindList:
		if v.items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.items)
	default:
		return []byte("null"), nil
	}
}
