package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// SubscriptionID is the opaque identifier returned by a subscribe call.
// Providers may hand out numbers or strings; both round-trip through JSON.
type SubscriptionID struct {
	num      uint64
	str      string
	isString bool
}

func NumberID(n uint64) SubscriptionID {
	return SubscriptionID{num: n}
}

func StringID(s string) SubscriptionID {
	return SubscriptionID{str: s, isString: true}
}

// Key returns a canonical representation usable as a map key. Numeric and
// string ids never collide.
func (id SubscriptionID) Key() string {
	if id.isString {
		return "s:" + id.str
	}
	return "n:" + strconv.FormatUint(id.num, 10)
}

func (id SubscriptionID) String() string {
	if id.isString {
		return id.str
	}
	return strconv.FormatUint(id.num, 10)
}

func (id SubscriptionID) MarshalJSON() ([]byte, error) {
	if id.isString {
		return json.Marshal(id.str)
	}
	return json.Marshal(id.num)
}

func (id *SubscriptionID) UnmarshalJSON(data []byte) error {
	var n uint64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = NumberID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = StringID(s)
		return nil
	}
	return fmt.Errorf("subscription id must be a number or a string, got %s", data)
}

// SubscriptionPayload is the params object of a subscription notification.
type SubscriptionPayload struct {
	Subscription SubscriptionID  `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// SubscriptionNotification is the envelope pushed to subscribers. It carries
// no id field and is not a response to a pending call.
type SubscriptionNotification struct {
	JSONRPC string              `json:"jsonrpc"`
	Method  string              `json:"method"`
	Params  SubscriptionPayload `json:"params"`
}

// NewSubscriptionNotification serializes a notification envelope for one
// subscriber.
func NewSubscriptionNotification(method string, id SubscriptionID, result any) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(SubscriptionNotification{
		JSONRPC: Version,
		Method:  method,
		Params:  SubscriptionPayload{Subscription: id, Result: raw},
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Close reason kinds carried by the final notification of a subscription.
const (
	ReasonUnsubscribed    = "unsubscribed"
	ReasonConnectionReset = "connectionReset"
	ReasonServer          = "server"
)

// CloseReason is the structured cause attached to a subscription's final
// notification.
type CloseReason struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

var (
	CloseUnsubscribed    = CloseReason{Reason: ReasonUnsubscribed}
	CloseConnectionReset = CloseReason{Reason: ReasonConnectionReset}
)

// ServerClose builds a server-supplied close reason with a custom message.
func ServerClose(message string) CloseReason {
	return CloseReason{Reason: ReasonServer, Message: message}
}

func (r CloseReason) String() string {
	if r.Reason == ReasonServer {
		return r.Reason + ": " + r.Message
	}
	return r.Reason
}

// DecodeCloseReason reports whether raw is a close-reason value. Unknown
// reason kinds are rejected so ordinary results are not misread as closes.
func DecodeCloseReason(raw json.RawMessage) (CloseReason, bool) {
	var r CloseReason
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return CloseReason{}, false
	}
	switch r.Reason {
	case ReasonUnsubscribed, ReasonConnectionReset, ReasonServer:
		return r, true
	}
	return CloseReason{}, false
}
