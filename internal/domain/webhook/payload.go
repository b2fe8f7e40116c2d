package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformed is returned when a webhook body is not a JSON object.
var ErrMalformed = errors.New("malformed webhook payload")

// Shape identifies which of the observed payload layouts a body uses.
type Shape int

const (
	// ShapeUnknown is the catch-all: no event kind and no data object.
	ShapeUnknown Shape = iota
	// ShapeEnveloped is {"action": "...", "data": {...}}.
	ShapeEnveloped
	// ShapeFlat carries the event kind and member fields side by side at the top level.
	ShapeFlat
)

func (s Shape) String() string {
	switch s {
	case ShapeEnveloped:
		return "enveloped"
	case ShapeFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// Envelope is a decoded webhook body. Data always points at the object member
// attributes live in: the nested data object, or the root for flat payloads.
type Envelope struct {
	Kind  string
	Shape Shape
	Data  map[string]any
	Root  map[string]any
}

// Parse decodes body and classifies its shape. kindFields are the top-level
// keys that may carry the event kind, in priority order.
func Parse(body []byte, kindFields []string) (*Envelope, error) {
	root, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	env := &Envelope{Root: root, Data: root}
	env.Kind = Doc{raw: bytes.TrimSpace(body)}.FirstString(kindFields)

	if data, ok := AsMap(root["data"]); ok {
		env.Shape = ShapeEnveloped
		env.Data = data
		return env, nil
	}
	if env.Kind != "" {
		env.Shape = ShapeFlat
	}
	return env, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrMalformed)
	}
	return obj, nil
}

// Doc is a JSON object addressed with gjson paths ("user.id",
// "answers.0.value"). Numbers keep their literal digits.
type Doc struct {
	raw []byte
}

// NewDoc encodes obj once so several paths can be read from it.
func NewDoc(obj map[string]any) Doc {
	if obj == nil {
		return Doc{}
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return Doc{}
	}
	return Doc{raw: raw}
}

// Lookup resolves path. Null and missing values report false.
func (d Doc) Lookup(path string) (any, bool) {
	path = strings.TrimSpace(path)
	if len(d.raw) == 0 || path == "" {
		return nil, false
	}
	return resultValue(gjson.GetBytes(d.raw, path))
}

// LookupString resolves path to a trimmed, non-empty scalar. A path of the form
// "first_name+last_name" joins every populated part with a space.
func (d Doc) LookupString(path string) (string, bool) {
	if strings.Contains(path, "+") {
		var parts []string
		for _, p := range strings.Split(path, "+") {
			if v, ok := d.LookupString(p); ok {
				parts = append(parts, v)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, " "), true
	}
	v, ok := d.Lookup(path)
	if !ok {
		return "", false
	}
	return ScalarString(v)
}

// FirstString returns the first path that resolves to a usable string.
func (d Doc) FirstString(paths []string) string {
	for _, path := range paths {
		if v, ok := d.LookupString(path); ok {
			return v
		}
	}
	return ""
}

func resultValue(res gjson.Result) (any, bool) {
	switch res.Type {
	case gjson.String:
		return res.Str, true
	case gjson.Number:
		return json.Number(res.Raw), true
	case gjson.True, gjson.False:
		return res.Bool(), true
	case gjson.JSON:
		dec := json.NewDecoder(strings.NewReader(res.Raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, false
		}
		return v, true
	default:
		return nil, false
	}
}

// Lookup resolves a gjson path against an already decoded object.
func Lookup(doc map[string]any, path string) (any, bool) {
	return NewDoc(doc).Lookup(path)
}

// LookupString is Doc.LookupString for an already decoded object.
func LookupString(doc map[string]any, path string) (string, bool) {
	return NewDoc(doc).LookupString(path)
}

// ScalarString converts JSON scalars to their string form. Objects, arrays and
// booleans are not identifiers and report false.
func ScalarString(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// AsMap accepts an object, or a string holding a JSON object (some senders
// double-encode metadata).
func AsMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		trimmed := strings.TrimSpace(t)
		if !strings.HasPrefix(trimmed, "{") {
			return nil, false
		}
		obj, err := decodeObject([]byte(trimmed))
		if err != nil {
			return nil, false
		}
		return obj, true
	default:
		return nil, false
	}
}
