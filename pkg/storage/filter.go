package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// MatchKind is the type of value a Condition matches.
type MatchKind int

const (
	// MatchKeyword matches a string value exactly.
	MatchKeyword MatchKind = iota + 1

	// MatchInteger matches an integer value.
	MatchInteger

	// MatchBool matches a boolean value.
	MatchBool
)

// Condition is a single exact-match condition on a payload field.
//
// Key addresses a payload field, optionally prefixed with "payload." and
// using dots for nested objects. When the addressed field is an array the
// condition holds if any element equals the value (tags use this).
type Condition struct {
	Key  string
	Kind MatchKind

	keyword string
	integer int64
	boolean bool
}

// Keyword builds a string match condition.
func Keyword(key, value string) Condition {
	return Condition{Key: key, Kind: MatchKeyword, keyword: value}
}

// Integer builds an integer match condition.
func Integer(key string, value int64) Condition {
	return Condition{Key: key, Kind: MatchInteger, integer: value}
}

// Bool builds a boolean match condition.
func Bool(key string, value bool) Condition {
	return Condition{Key: key, Kind: MatchBool, boolean: value}
}

// TypeIs matches points of the given payload type.
func TypeIs(memoryType string) Condition { return Keyword(KeyType, memoryType) }

// HasTag matches points carrying the given tag. The tag is normalized the
// same way the point builder normalizes stored tags.
func HasTag(tag string) Condition { return Keyword(KeyTags, strings.ToLower(strings.TrimSpace(tag))) }

// SourceIs matches points originating from the given source id.
func SourceIs(sourceID string) Condition { return Keyword(KeySourceID, sourceID) }

// TextIs matches points whose stored text equals text exactly.
func TextIs(text string) Condition { return Keyword(KeyText, text) }

// ContentHashIs matches the chunks of the document with the given hash.
func ContentHashIs(hash string) Condition { return Keyword(KeyContentHash, hash) }

// Value returns the matched value as string, int64 or bool.
func (c Condition) Value() interface{} {
	switch c.Kind {
	case MatchInteger:
		return c.integer
	case MatchBool:
		return c.boolean
	default:
		return c.keyword
	}
}

// Field returns the key without the optional "payload." prefix.
func (c Condition) Field() string {
	return strings.TrimPrefix(c.Key, "payload.")
}

// Path returns the field split into nested segments.
func (c Condition) Path() []string {
	return strings.Split(c.Field(), ".")
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks the condition is well formed.
func (c Condition) Validate() error {
	if c.Kind < MatchKeyword || c.Kind > MatchBool {
		return fmt.Errorf("%w: condition on %q has no match value", ErrInvalidFilter, c.Key)
	}
	if c.Field() == "" {
		return fmt.Errorf("%w: condition with empty key", ErrInvalidFilter)
	}
	for _, seg := range c.Path() {
		if !segmentPattern.MatchString(seg) {
			return fmt.Errorf("%w: malformed key %q", ErrInvalidFilter, c.Key)
		}
	}
	return nil
}

// Filter is a conjunction of conditions: a point matches only if every
// condition holds. Repeated conditions on the same key are also ANDed, so
// HasTag("a") and HasTag("b") require both tags.
type Filter struct {
	Must []Condition
}

// NewFilter builds a filter requiring all conditions.
func NewFilter(conds ...Condition) *Filter {
	return &Filter{Must: append([]Condition(nil), conds...)}
}

// And returns a new filter with conds appended.
func (f *Filter) And(conds ...Condition) *Filter {
	out := &Filter{}
	if f != nil {
		out.Must = append(out.Must, f.Must...)
	}
	out.Must = append(out.Must, conds...)
	return out
}

// IsEmpty reports whether the filter has no conditions.
func (f *Filter) IsEmpty() bool {
	return f == nil || len(f.Must) == 0
}

// Validate checks every condition. A nil filter is valid.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	for _, c := range f.Must {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Matches evaluates the filter against a payload. Backends without native
// filtering use it to post-filter candidates.
func (f *Filter) Matches(payload map[string]interface{}) bool {
	if f.IsEmpty() {
		return true
	}
	for _, c := range f.Must {
		if !c.matches(payload) {
			return false
		}
	}
	return true
}

func (c Condition) matches(payload map[string]interface{}) bool {
	var cur interface{} = payload
	for _, seg := range c.Path() {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return false
		}
		cur, ok = m[seg]
		if !ok {
			return false
		}
	}

	switch v := cur.(type) {
	case []interface{}:
		for _, elem := range v {
			if c.equals(elem) {
				return true
			}
		}
		return false
	case []string:
		for _, elem := range v {
			if c.equals(elem) {
				return true
			}
		}
		return false
	default:
		return c.equals(v)
	}
}

func (c Condition) equals(v interface{}) bool {
	switch c.Kind {
	case MatchKeyword:
		s, ok := v.(string)
		return ok && s == c.keyword
	case MatchBool:
		b, ok := v.(bool)
		return ok && b == c.boolean
	case MatchInteger:
		switch n := v.(type) {
		case int:
			return int64(n) == c.integer
		case int64:
			return n == c.integer
		case float64:
			return n == float64(c.integer)
		case json.Number:
			i, err := n.Int64()
			return err == nil && i == c.integer
		}
	}
	return false
}

// wireFilter is the JSON shape used by feature callers:
//
//	{"must": [{"key": "payload.type", "match": {"value": "note"}}]}
type wireFilter struct {
	Must []wireCondition `json:"must"`
}

type wireCondition struct {
	Key   string     `json:"key"`
	Match *wireMatch `json:"match"`
}

type wireMatch struct {
	Value json.RawMessage `json:"value"`
}

// ParseFilter decodes a filter from its JSON wire form. Only "must" clauses
// are supported; any other clause is rejected with ErrInvalidFilter.
func ParseFilter(data []byte) (*Filter, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	for clause := range raw {
		if clause != "must" {
			return nil, fmt.Errorf("%w: unsupported clause %q", ErrInvalidFilter, clause)
		}
	}

	var wf wireFilter
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	f := &Filter{}
	for i, wc := range wf.Must {
		if wc.Match == nil || len(wc.Match.Value) == 0 {
			return nil, fmt.Errorf("%w: condition %d has no match value", ErrInvalidFilter, i)
		}
		cond, err := decodeCondition(wc.Key, wc.Match.Value)
		if err != nil {
			return nil, err
		}
		f.Must = append(f.Must, cond)
	}
	return f, f.Validate()
}

func decodeCondition(key string, raw json.RawMessage) (Condition, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return Condition{}, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	switch val := v.(type) {
	case string:
		return Keyword(key, val), nil
	case bool:
		return Bool(key, val), nil
	case json.Number:
		i, err := val.Int64()
		if err != nil {
			return Condition{}, fmt.Errorf("%w: non-integer match value %s on %q", ErrInvalidFilter, val, key)
		}
		return Integer(key, i), nil
	default:
		return Condition{}, fmt.Errorf("%w: unsupported match value on %q", ErrInvalidFilter, key)
	}
}

// MarshalJSON encodes the filter in its wire form.
func (f *Filter) MarshalJSON() ([]byte, error) {
	wf := wireFilter{Must: make([]wireCondition, 0, len(f.Must))}
	for _, c := range f.Must {
		raw, err := json.Marshal(c.Value())
		if err != nil {
			return nil, err
		}
		wf.Must = append(wf.Must, wireCondition{Key: c.Key, Match: &wireMatch{Value: raw}})
	}
	return json.Marshal(wf)
}
