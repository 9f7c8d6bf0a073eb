package review

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// flexFloat accepts a JSON number, a numeric string ("37.5", "85%") or a
// boolean. Anything else decodes to "absent" rather than failing the whole
// payload.
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	*f = flexFloat{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			*f = flexFloat{v: v, set: true}
		}
	case 't':
		*f = flexFloat{v: 1, set: true}
	case 'f':
		*f = flexFloat{v: 0, set: true}
	default:
		var v float64
		if err := json.Unmarshal(b, &v); err == nil {
			*f = flexFloat{v: v, set: true}
		}
	}
	return nil
}

func (f *flexFloat) ok() bool { return f != nil && f.set }

func (f *flexFloat) value() float64 {
	if f == nil {
		return 0
	}
	return f.v
}

// maxFlexInt caps counts so a huge reported value never overflows int.
const maxFlexInt = 1_000_000_000

func (f *flexFloat) int() int {
	if f == nil || !f.set || f.v < 0 {
		return 0
	}
	if f.v >= maxFlexInt {
		return maxFlexInt
	}
	return int(math.Round(f.v))
}

// firstFloat returns the first present value.
func firstFloat(vals ...*flexFloat) (*flexFloat, bool) {
	for _, v := range vals {
		if v.ok() {
			return v, true
		}
	}
	return nil, false
}

// flexBool accepts true/false, 0/1 and common strings ("yes", "valid").
type flexBool struct {
	v   bool
	set bool
}

func (f *flexBool) UnmarshalJSON(b []byte) error {
	*f = flexBool{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	switch v := raw.(type) {
	case bool:
		*f = flexBool{v: v, set: true}
	case float64:
		*f = flexBool{v: v != 0, set: true}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1", "present", "found", "valid", "correct", "ok":
			*f = flexBool{v: true, set: true}
		case "false", "no", "0", "absent", "missing", "invalid", "incorrect", "error":
			*f = flexBool{v: false, set: true}
		}
	}
	return nil
}

func (f *flexBool) ok() bool { return f != nil && f.set }

func firstBool(vals ...*flexBool) (bool, bool) {
	for _, v := range vals {
		if v.ok() {
			return v.v, true
		}
	}
	return false, false
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// objectField returns root[key] when it holds a JSON object.
func objectField(root map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := root[key]
	if !ok {
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	return raw, true
}

func hasAny(root map[string]json.RawMessage, keys ...string) bool {
	for _, k := range keys {
		raw, ok := root[k]
		if ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return true
		}
	}
	return false
}

func isJSONArray(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '['
}

func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "…"
}
