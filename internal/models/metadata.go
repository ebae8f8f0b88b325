package models

import (
	"encoding/json"
	"fmt"
)

// MetaKind discriminates the value stored in a MetaValue.
type MetaKind int

const (
	MetaString MetaKind = iota
	MetaNumber
	MetaBool
	MetaMap
)

// MetaValue is one carrier metadata value: a string, a number, a bool or a
// nested metadata map. Carriers push loosely shaped payloads; this keeps them
// round-trippable through JSON without resorting to untyped maps.
type MetaValue struct {
	kind MetaKind
	str  string
	num  float64
	b    bool
	m    Metadata
}

type Metadata map[string]MetaValue

func MetaStringValue(v string) MetaValue  { return MetaValue{kind: MetaString, str: v} }
func MetaNumberValue(v float64) MetaValue { return MetaValue{kind: MetaNumber, num: v} }
func MetaBoolValue(v bool) MetaValue      { return MetaValue{kind: MetaBool, b: v} }
func MetaMapValue(v Metadata) MetaValue   { return MetaValue{kind: MetaMap, m: v} }

func (v MetaValue) Kind() MetaKind { return v.kind }

func (v MetaValue) String() (string, bool)  { return v.str, v.kind == MetaString }
func (v MetaValue) Number() (float64, bool) { return v.num, v.kind == MetaNumber }
func (v MetaValue) Bool() (bool, bool)      { return v.b, v.kind == MetaBool }
func (v MetaValue) Map() (Metadata, bool)   { return v.m, v.kind == MetaMap }

func (v MetaValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case MetaString:
		return json.Marshal(v.str)
	case MetaNumber:
		return json.Marshal(v.num)
	case MetaBool:
		return json.Marshal(v.b)
	case MetaMap:
		return json.Marshal(v.m)
	default:
		return nil, fmt.Errorf("unknown metadata kind %d", v.kind)
	}
}

func (v *MetaValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := metaValueFromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func metaValueFromAny(raw any) (MetaValue, error) {
	switch value := raw.(type) {
	case string:
		return MetaStringValue(value), nil
	case float64:
		return MetaNumberValue(value), nil
	case bool:
		return MetaBoolValue(value), nil
	case map[string]any:
		nested := make(Metadata, len(value))
		for key, inner := range value {
			converted, err := metaValueFromAny(inner)
			if err != nil {
				return MetaValue{}, fmt.Errorf("key %q: %w", key, err)
			}
			nested[key] = converted
		}
		return MetaMapValue(nested), nil
	default:
		return MetaValue{}, fmt.Errorf("unsupported metadata value of type %T", raw)
	}
}
