// Package state persists run checkpoints: a type-preserving codec for the
// heterogeneous state bag, optional gzip compression, optional AES
// encryption, and pluggable storage backends.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rendis/blockflow/pkg/schema"
)

// Type tags written into the serialized envelope. The tag travels with every
// value so a decoded bag carries the exact Go types that were stored, not
// the post-JSON float64/map soup.
const (
	tagString = "str"
	tagBool   = "bool"
	tagInt32  = "i32"
	tagInt64  = "i64"
	tagFloat  = "f32"
	tagDouble = "f64"
	tagTime   = "time"
	tagMap    = "map"
	tagSeq    = "seq"
	tagNil    = "nil"

	// tagInt is accepted on decode for payloads written before the width
	// split: values that fit int32 narrow, the rest stay int64.
	tagInt = "int"
)

// envelope is the wire form of a single value.
type envelope struct {
	Tag   string          `json:"t"`
	Value json.RawMessage `json:"v,omitempty"`
}

// EncodeState serializes a state bag into the tagged JSON form. Values
// outside the supported universe (string, bool, int32, int64, float32,
// float64, time.Time, map[string]any, []any, nil) are rejected.
func EncodeState(bag map[string]any) ([]byte, error) {
	enc, err := encodeMap(bag, "")
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(enc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "marshal state").WithCause(err)
	}
	return data, nil
}

// DecodeState reverses EncodeState, restoring the original Go types.
func DecodeState(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]envelope
	if err := dec.Decode(&raw); err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "unmarshal state").WithCause(err)
	}

	bag := make(map[string]any, len(raw))
	for name, env := range raw {
		v, err := decodeEnvelope(env, name)
		if err != nil {
			return nil, err
		}
		bag[name] = v
	}
	return bag, nil
}

func encodeMap(m map[string]any, path string) (map[string]envelope, error) {
	out := make(map[string]envelope, len(m))
	for k, v := range m {
		p := k
		if path != "" {
			p = path + "." + k
		}
		env, err := encodeValue(v, p)
		if err != nil {
			return nil, err
		}
		out[k] = env
	}
	return out, nil
}

func encodeValue(v any, path string) (envelope, error) {
	switch t := v.(type) {
	case nil:
		return envelope{Tag: tagNil}, nil
	case string:
		return marshalEnvelope(tagString, t, path)
	case bool:
		return marshalEnvelope(tagBool, t, path)
	case int32:
		return marshalEnvelope(tagInt32, t, path)
	case int64:
		return marshalEnvelope(tagInt64, t, path)
	case int:
		// Plain ints show up from Go callers; they ride the int64 lane.
		return marshalEnvelope(tagInt64, int64(t), path)
	case float32:
		return marshalEnvelope(tagFloat, float64(t), path)
	case float64:
		return marshalEnvelope(tagDouble, t, path)
	case time.Time:
		return marshalEnvelope(tagTime, t.Format(time.RFC3339Nano), path)
	case map[string]any:
		inner, err := encodeMap(t, path)
		if err != nil {
			return envelope{}, err
		}
		return marshalEnvelope(tagMap, inner, path)
	case []any:
		inner := make([]envelope, len(t))
		for i, e := range t {
			env, err := encodeValue(e, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return envelope{}, err
			}
			inner[i] = env
		}
		return marshalEnvelope(tagSeq, inner, path)
	default:
		return envelope{}, schema.NewErrorf(schema.ErrCodeSerialization,
			"unsupported state value type %T at %q", v, path)
	}
}

func marshalEnvelope(tag string, v any, path string) (envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return envelope{}, schema.NewErrorf(schema.ErrCodeSerialization,
			"marshal value at %q", path).WithCause(err)
	}
	return envelope{Tag: tag, Value: raw}, nil
}

func decodeEnvelope(env envelope, path string) (any, error) {
	switch env.Tag {
	case tagNil:
		return nil, nil
	case tagString:
		var s string
		if err := unmarshalValue(env.Value, &s, path); err != nil {
			return nil, err
		}
		return s, nil
	case tagBool:
		var b bool
		if err := unmarshalValue(env.Value, &b, path); err != nil {
			return nil, err
		}
		return b, nil
	case tagInt32:
		n, err := decodeInt(env.Value, path)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, schema.NewErrorf(schema.ErrCodeSerialization,
				"value %d at %q does not fit int32", n, path)
		}
		return int32(n), nil
	case tagInt64:
		return decodeInt(env.Value, path)
	case tagInt:
		n, err := decodeInt(env.Value, path)
		if err != nil {
			return nil, err
		}
		if n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n), nil
		}
		return n, nil
	case tagFloat:
		f, err := decodeFloat(env.Value, path)
		if err != nil {
			return nil, err
		}
		return float32(f), nil
	case tagDouble:
		return decodeFloat(env.Value, path)
	case tagTime:
		var s string
		if err := unmarshalValue(env.Value, &s, path); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeSerialization,
				"invalid timestamp at %q", path).WithCause(err)
		}
		return ts, nil
	case tagMap:
		var inner map[string]envelope
		if err := unmarshalValue(env.Value, &inner, path); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(inner))
		for k, e := range inner {
			v, err := decodeEnvelope(e, path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case tagSeq:
		var inner []envelope
		if err := unmarshalValue(env.Value, &inner, path); err != nil {
			return nil, err
		}
		out := make([]any, len(inner))
		for i, e := range inner {
			v, err := decodeEnvelope(e, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeSerialization,
			"unknown type tag %q at %q", env.Tag, path)
	}
}

func unmarshalValue(raw json.RawMessage, dst any, path string) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return schema.NewErrorf(schema.ErrCodeSerialization,
			"decode value at %q", path).WithCause(err)
	}
	return nil
}

// decodeInt parses via json.Number so 64-bit integers survive untouched;
// going through float64 would corrupt anything above 2^53.
func decodeInt(raw json.RawMessage, path string) (int64, error) {
	var num json.Number
	if err := unmarshalValue(raw, &num, path); err != nil {
		return 0, err
	}
	n, err := num.Int64()
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeSerialization,
			"non-integer value %q at %q", num.String(), path).WithCause(err)
	}
	return n, nil
}

func decodeFloat(raw json.RawMessage, path string) (float64, error) {
	var num json.Number
	if err := unmarshalValue(raw, &num, path); err != nil {
		return 0, err
	}
	f, err := num.Float64()
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeSerialization,
			"non-numeric value %q at %q", num.String(), path).WithCause(err)
	}
	return f, nil
}
