// Package measurement provides the sensor record model and its tabular form.
package measurement

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Known field names written by the sensor node.
const (
	FieldTimestamp   = "timestamp"
	FieldCO2         = "co2_ppm"
	FieldGas         = "gas_kohm"
	FieldTemperature = "temperature"
	FieldPM25        = "pm25"
	FieldPM10        = "pm10"

	// FieldRecordID holds the key under which the store indexed the record.
	FieldRecordID = "record_id"
)

// canonicalColumns is the preferred layout of known fields in the output.
var canonicalColumns = []string{
	FieldTimestamp,
	FieldCO2,
	FieldGas,
	FieldTemperature,
	FieldPM25,
	FieldPM10,
	FieldRecordID,
}

// CanonicalColumns returns the canonical column order.
func CanonicalColumns() []string {
	cols := make([]string, len(canonicalColumns))
	copy(cols, canonicalColumns)
	return cols
}

// ValueKind identifies the JSON type a Value was decoded from.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindNumber
	KindString
	KindBool
	KindJSON
)

// Value is a single field value. Numbers keep their textual form so output
// is byte-stable across runs.
type Value struct {
	kind ValueKind
	text string
}

// Null returns the empty value.
func Null() Value { return Value{} }

// Number returns a numeric value from its decimal text.
func Number(text string) Value { return Value{kind: KindNumber, text: text} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, text: strconv.FormatBool(b)} }

// RawJSON returns a value holding nested JSON in compact form.
func RawJSON(text string) Value { return Value{kind: KindJSON, text: text} }

// ValueOf converts a decoded JSON value into a Value.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case json.Number:
		return Number(t.String())
	case float64:
		return Number(strconv.FormatFloat(t, 'f', -1, 64))
	case float32:
		return Number(strconv.FormatFloat(float64(t), 'f', -1, 32))
	case int:
		return Number(strconv.Itoa(t))
	case int64:
		return Number(strconv.FormatInt(t, 10))
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case Value:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return String(fmt.Sprint(t))
		}
		return RawJSON(string(b))
	}
}

// Kind returns the value kind.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is empty.
func (v Value) IsNull() bool { return v.kind == KindNull }

// String returns the cell text. Null renders as the empty string.
func (v Value) String() string { return v.text }

// Float64 returns the numeric value if v is a number.
func (v Value) Float64() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Interface returns v as a plain Go value suitable for JSON encoding.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return json.Number(v.text)
	case KindString:
		return v.text
	case KindBool:
		return v.text == "true"
	case KindJSON:
		return json.RawMessage(v.text)
	default:
		return nil
	}
}

// Field is a named value within a record.
type Field struct {
	Name  string
	Value Value
}

// Record is one reading event as stored remotely. Field keys are not assumed
// to be homogeneous across records.
type Record struct {
	ID     string
	Fields []Field
}

// Get returns the value of the named field.
func (r *Record) Get(name string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Null(), false
}

// Set replaces the named field, or appends it if absent.
func (r *Record) Set(name string, v Value) {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			r.Fields[i].Value = v
			return
		}
	}
	r.Fields = append(r.Fields, Field{Name: name, Value: v})
}

// Snapshot is one full point-in-time read of all records at a path.
type Snapshot struct {
	// Path is the collection path the snapshot was read from.
	Path string

	// FetchedAt is when the store answered.
	FetchedAt time.Time

	// Records are kept in the order the store returned them.
	Records []Record

	index map[string]int
}

// NewSnapshot creates an empty snapshot for path.
func NewSnapshot(path string) *Snapshot {
	return &Snapshot{
		Path:      path,
		FetchedAt: time.Now(),
	}
}

// Add appends a record. Ids are unique by construction of the source
// mapping; a repeated id replaces the earlier record in place.
func (s *Snapshot) Add(id string, fields []Field) {
	if s.index == nil {
		s.index = make(map[string]int, len(s.Records))
		for i, r := range s.Records {
			s.index[r.ID] = i
		}
	}
	if i, ok := s.index[id]; ok {
		s.Records[i].Fields = fields
		return
	}
	s.index[id] = len(s.Records)
	s.Records = append(s.Records, Record{ID: id, Fields: fields})
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	return len(s.Records)
}

// IsEmpty reports whether the snapshot has no records.
func (s *Snapshot) IsEmpty() bool {
	return len(s.Records) == 0
}
