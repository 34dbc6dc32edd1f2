// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpc2

import (
	"encoding/json"
	"fmt"
)

// Params is a read-only, typed view over a JSON value taken from a request's
// parameters. The root view returned by Request.Params normalizes over the
// two shapes JSON-RPC allows for params: a positional array or a named
// object. Index and Key navigate into children of an array or object view
// respectively; the Get* accessors decode the value the current view points
// at.
//
// A nil *Params is valid and behaves as an empty value: all Get* accessors on
// it fail with InvalidParams, and all Or variants return their default.
type Params struct {
	method string          // the enclosing method name, for error messages
	raw    json.RawMessage // the raw JSON this view points at; nil if absent
}

// newParams constructs the root parameters view for a request to method,
// whose raw (possibly empty) parameter bytes are raw.
func newParams(method string, raw json.RawMessage) *Params {
	return &Params{method: method, raw: raw}
}

// Method reports the name of the method whose parameters p represents.
func (p *Params) Method() string {
	if p == nil {
		return ""
	}
	return p.method
}

// Raw returns the raw JSON text of the current view, or nil if it is absent.
func (p *Params) Raw() json.RawMessage {
	if p == nil {
		return nil
	}
	return p.raw
}

// IsNull reports whether the current view is absent or the JSON "null".
func (p *Params) IsNull() bool {
	return p == nil || len(p.raw) == 0 || isNull(p.raw)
}

func (p *Params) fail(format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if p != nil && p.method != "" {
		msg = fmt.Sprintf("%s: %s", p.method, msg)
	}
	return &Error{Code: InvalidParams, Message: msg}
}

// Index returns a view of the i'th element (zero-based) of the current view,
// which must be a JSON array. It reports an InvalidParams error if the
// current view is not an array, or if i is out of range.
func (p *Params) Index(i int) (*Params, error) {
	var arr []json.RawMessage
	if p.IsNull() {
		return nil, p.fail("parameters are not an array")
	}
	if err := json.Unmarshal(p.raw, &arr); err != nil {
		return nil, p.fail("parameters are not an array: %v", err)
	}
	if i < 0 || i >= len(arr) {
		return nil, p.fail("index %d out of range (%d elements)", i, len(arr))
	}
	return &Params{method: p.method, raw: arr[i]}, nil
}

// Key returns a view of the named member of the current view, which must be
// a JSON object. It reports an InvalidParams error if the current view is
// not an object, or if name is not present.
func (p *Params) Key(name string) (*Params, error) {
	var obj map[string]json.RawMessage
	if p.IsNull() {
		return nil, p.fail("parameters are not an object")
	}
	if err := json.Unmarshal(p.raw, &obj); err != nil {
		return nil, p.fail("parameters are not an object: %v", err)
	}
	v, ok := obj[name]
	if !ok {
		return nil, &Error{Code: InvalidParams, Message: fmt.Sprintf("Required parameter %q not provided.", name)}
	}
	return &Params{method: p.method, raw: v}, nil
}

// GetNum decodes the current view as a JSON number.
func (p *Params) GetNum() (float64, error) {
	var v float64
	if p.IsNull() {
		return 0, p.fail("value is missing")
	}
	if err := json.Unmarshal(p.raw, &v); err != nil {
		return 0, p.fail("invalid number: %v", err)
	}
	return v, nil
}

// GetNumOr is like GetNum, but returns def instead of an error.
func (p *Params) GetNumOr(def float64) float64 {
	v, err := p.GetNum()
	if err != nil {
		return def
	}
	return v
}

// GetInt decodes the current view as a JSON integer.
func (p *Params) GetInt() (int64, error) {
	var v int64
	if p.IsNull() {
		return 0, p.fail("value is missing")
	}
	if err := json.Unmarshal(p.raw, &v); err != nil {
		return 0, p.fail("invalid integer: %v", err)
	}
	return v, nil
}

// GetIntOr is like GetInt, but returns def instead of an error.
func (p *Params) GetIntOr(def int64) int64 {
	v, err := p.GetInt()
	if err != nil {
		return def
	}
	return v
}

// GetString decodes the current view as a JSON string.
func (p *Params) GetString() (string, error) {
	var v string
	if p.IsNull() {
		return "", p.fail("value is missing")
	}
	if err := json.Unmarshal(p.raw, &v); err != nil {
		return "", p.fail("invalid string: %v", err)
	}
	return v, nil
}

// GetStringOr is like GetString, but returns def instead of an error.
func (p *Params) GetStringOr(def string) string {
	v, err := p.GetString()
	if err != nil {
		return def
	}
	return v
}

// GetBool decodes the current view as a JSON boolean.
func (p *Params) GetBool() (bool, error) {
	var v bool
	if p.IsNull() {
		return false, p.fail("value is missing")
	}
	if err := json.Unmarshal(p.raw, &v); err != nil {
		return false, p.fail("invalid boolean: %v", err)
	}
	return v, nil
}

// GetBoolOr is like GetBool, but returns def instead of an error.
func (p *Params) GetBoolOr(def bool) bool {
	v, err := p.GetBool()
	if err != nil {
		return def
	}
	return v
}

// GetList decodes the current view as a JSON array and returns a view over
// each of its elements, in order.
func (p *Params) GetList() ([]*Params, error) {
	var arr []json.RawMessage
	if p.IsNull() {
		return nil, p.fail("value is not an array")
	}
	if err := json.Unmarshal(p.raw, &arr); err != nil {
		return nil, p.fail("invalid array: %v", err)
	}
	out := make([]*Params, len(arr))
	for i, v := range arr {
		out[i] = &Params{method: p.method, raw: v}
	}
	return out, nil
}

// GetListOr is like GetList, but returns def instead of an error.
func (p *Params) GetListOr(def []*Params) []*Params {
	v, err := p.GetList()
	if err != nil {
		return def
	}
	return v
}

// GetMap decodes the current view as a JSON object and returns a view over
// each of its members, keyed by name.
func (p *Params) GetMap() (map[string]*Params, error) {
	var obj map[string]json.RawMessage
	if p.IsNull() {
		return nil, p.fail("value is not an object")
	}
	if err := json.Unmarshal(p.raw, &obj); err != nil {
		return nil, p.fail("invalid object: %v", err)
	}
	out := make(map[string]*Params, len(obj))
	for k, v := range obj {
		out[k] = &Params{method: p.method, raw: v}
	}
	return out, nil
}

// GetMapOr is like GetMap, but returns def instead of an error.
func (p *Params) GetMapOr(def map[string]*Params) map[string]*Params {
	v, err := p.GetMap()
	if err != nil {
		return def
	}
	return v
}

// Unmarshal decodes the current view into v, using the same rules as
// Request.UnmarshalParams.
func (p *Params) Unmarshal(v any) error {
	if p.IsNull() {
		return nil
	}
	return (&Request{params: p.raw, method: p.method}).UnmarshalParams(v)
}
