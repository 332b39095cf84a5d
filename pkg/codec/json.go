package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/valyala/fastjson"

	"github.com/modoterra/logrelay/pkg/core"
)

var parserPool fastjson.ParserPool

// EncodeJSON serializes an entry as a single JSON object.
func EncodeJSON(e *core.LogEntry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeJSON(data []byte) (*core.LogEntry, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("expected object, got %s", v.Type())
	}

	msg := v.Get("message")
	if msg == nil || msg.Type() != fastjson.TypeString {
		return nil, errors.New("message must be a string")
	}

	e := &core.LogEntry{
		ID:       string(v.GetStringBytes("id")),
		TsUnixNs: v.GetInt64("ts_unix_ns"),
		Severity: core.Severity(v.GetStringBytes("severity")),
		Title:    string(v.GetStringBytes("title")),
		Message:  string(msg.GetStringBytes()),
	}

	if cats := v.Get("categories"); cats != nil && cats.Type() != fastjson.TypeNull {
		arr, err := cats.Array()
		if err != nil {
			return nil, fmt.Errorf("categories: %w", err)
		}
		for _, c := range arr {
			s, err := c.StringBytes()
			if err != nil {
				return nil, fmt.Errorf("categories: %w", err)
			}
			e.Categories = append(e.Categories, string(s))
		}
	}

	if props := v.Get("properties"); props != nil && props.Type() != fastjson.TypeNull {
		obj, err := props.Object()
		if err != nil {
			return nil, fmt.Errorf("properties: %w", err)
		}
		e.Properties = make(map[string]any, obj.Len())
		obj.Visit(func(key []byte, pv *fastjson.Value) {
			e.Properties[string(key)] = toAny(pv)
		})
	}

	return e, nil
}

// toAny converts a parsed value into the shapes encoding/json produces for
// an any target.
func toAny(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.GetFloat64()
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeArray:
		arr := v.GetArray()
		out := make([]any, len(arr))
		for i, item := range arr {
			out[i] = toAny(item)
		}
		return out
	case fastjson.TypeObject:
		obj := v.GetObject()
		out := make(map[string]any, obj.Len())
		obj.Visit(func(key []byte, item *fastjson.Value) {
			out[string(key)] = toAny(item)
		})
		return out
	default:
		return nil
	}
}
