package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Mapping is an insertion-ordered key/value container used for packet
// bodies. Routing and framing fields live in Meta; free-form message
// content lives here. JSON encoding preserves key order, which keeps
// packed packets byte-stable across a round trip.
type Mapping struct {
	keys []string
	vals map[string]any
}

func NewMapping() *Mapping {
	return &Mapping{vals: make(map[string]any)}
}

// Set stores v under k, appending k to the order on first use.
func (m *Mapping) Set(k string, v any) *Mapping {
	if m.vals == nil {
		m.vals = make(map[string]any)
	}
	if _, ok := m.vals[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.vals[k] = v
	return m
}

func (m *Mapping) Get(k string) (any, bool) {
	if m == nil || m.vals == nil {
		return nil, false
	}
	v, ok := m.vals[k]
	return v, ok
}

// GetString returns the value under k coerced to a string, or "" when the
// key is absent or not a string.
func (m *Mapping) GetString(k string) string {
	v, ok := m.Get(k)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetUint32 coerces a numeric value under k to uint32.
func (m *Mapping) GetUint32(k string) (uint32, bool) {
	v, ok := m.Get(k)
	if !ok {
		return 0, false
	}
	return numToUint32(v)
}

func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

func (m *Mapping) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// MarshalJSON encodes the mapping compactly in insertion order.
func (m *Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.vals[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving key order. Nested objects
// decode as *Mapping, numbers as json.Number. Non-object input is an error
// so scalar or array bodies are rejected at the codec layer.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("mapping: not a JSON object")
	}
	m.keys = nil
	m.vals = make(map[string]any)
	return m.decodeObject(dec)
}

func (m *Mapping) decodeObject(dec *json.Decoder) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("mapping: non-string key")
		}
		val, err := decodeValue(dec)
		if err != nil {
			return err
		}
		m.Set(key, val)
	}
	_, err := dec.Token() // closing brace
	return err
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			nested := NewMapping()
			if err := nested.decodeObject(dec); err != nil {
				return nil, err
			}
			return nested, nil
		case '[':
			var arr []any
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("mapping: unexpected delimiter %v", t)
	default:
		return tok, nil
	}
}

func numToUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 || i > 0xffffffff {
			return 0, false
		}
		return uint32(i), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	case uint32:
		return n, true
	case uint16:
		return uint32(n), true
	case uint8:
		return uint32(n), true
	case float64:
		if n < 0 || n > 0xffffffff {
			return 0, false
		}
		return uint32(n), true
	}
	return 0, false
}
