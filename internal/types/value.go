package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Value is a model-supplied field kept exactly as the model sent it. It
// marshals back to the same JSON, so "72.9", 72.9 and "false" survive a round
// trip untouched. The accessors read it loosely for callers that need a typed
// view.
type Value json.RawMessage

// ValueOf encodes x as a Value. Values that cannot be encoded become null.
func ValueOf(x any) Value {
	b, err := json.Marshal(x)
	if err != nil {
		return nil
	}
	return Value(b)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return v, nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	*v = append((*v)[:0], b...)
	return nil
}

// IsZero reports whether the value is absent or JSON null.
func (v Value) IsZero() bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Float reads a JSON number or a numeric string.
func (v Value) Float() (float64, bool) {
	if v.IsZero() {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Bool reads a JSON boolean or a string such as "false" or "True".
func (v Value) Bool() (bool, bool) {
	if v.IsZero() {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, false
	}
	return b, true
}

// String returns the text of a JSON string, or the raw JSON for any other
// value. Absent and null values are empty.
func (v Value) String() string {
	if v.IsZero() {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(v))
}
