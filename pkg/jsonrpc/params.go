package jsonrpc

import (
	"encoding/json"
	"errors"
)

var errInvalidParams = errors.New("invalid params")

// Params wraps the raw params value of a request. An absent params field is
// represented by the zero value.
type Params struct {
	raw json.RawMessage
}

func NewParams(raw json.RawMessage) Params {
	return Params{raw: raw}
}

func (p Params) Raw() json.RawMessage {
	return p.raw
}

func (p Params) IsEmpty() bool {
	return len(p.raw) == 0 || string(p.raw) == "null"
}

// Decode unmarshals the whole params value into out.
func (p Params) Decode(out any) error {
	if p.IsEmpty() {
		return errInvalidParams
	}
	if err := json.Unmarshal(p.raw, out); err != nil {
		return errInvalidParams
	}
	return nil
}

// One decodes a single positional parameter into out.
// Accepted shapes: [value] or a bare value.
func (p Params) One(out any) error {
	if p.IsEmpty() {
		return errInvalidParams
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(p.raw, &arr); err == nil {
		if len(arr) != 1 {
			return errInvalidParams
		}
		if err := json.Unmarshal(arr[0], out); err != nil {
			return errInvalidParams
		}
		return nil
	}

	if err := json.Unmarshal(p.raw, out); err != nil {
		return errInvalidParams
	}
	return nil
}
