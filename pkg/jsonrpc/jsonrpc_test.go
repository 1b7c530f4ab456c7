package jsonrpc

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParamsOne(t *testing.T) {
	t.Run("positional array", func(t *testing.T) {
		var n int
		if err := NewParams(json.RawMessage(`[7]`)).One(&n); err != nil {
			t.Fatalf("One failed: %v", err)
		}
		if n != 7 {
			t.Fatalf("expected 7, got %d", n)
		}
	})

	t.Run("bare value", func(t *testing.T) {
		var s string
		if err := NewParams(json.RawMessage(`"hello"`)).One(&s); err != nil {
			t.Fatalf("One failed: %v", err)
		}
		if s != "hello" {
			t.Fatalf("expected hello, got %q", s)
		}
	})

	t.Run("two positional params rejected", func(t *testing.T) {
		var s string
		if err := NewParams(json.RawMessage(`["a","b"]`)).One(&s); err == nil {
			t.Fatal("expected error for two params")
		}
	})

	t.Run("absent params rejected", func(t *testing.T) {
		var n int
		if err := NewParams(nil).One(&n); err == nil {
			t.Fatal("expected error for absent params")
		}
	})

	t.Run("type mismatch rejected", func(t *testing.T) {
		var n int
		if err := NewParams(json.RawMessage(`["x"]`)).One(&n); err == nil {
			t.Fatal("expected error for type mismatch")
		}
	})
}

func TestParamsDecode(t *testing.T) {
	var payload struct {
		Limit int `json:"limit"`
	}
	if err := NewParams(json.RawMessage(`{"limit":5}`)).Decode(&payload); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if payload.Limit != 5 {
		t.Fatalf("expected 5, got %d", payload.Limit)
	}
}

func TestSubscriptionIDRoundTrip(t *testing.T) {
	t.Run("number", func(t *testing.T) {
		raw, err := json.Marshal(NumberID(42))
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		if string(raw) != "42" {
			t.Fatalf("expected 42, got %s", raw)
		}
		var id SubscriptionID
		if err := json.Unmarshal(raw, &id); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if id.Key() != NumberID(42).Key() {
			t.Fatalf("keys differ after round trip: %q vs %q", id.Key(), NumberID(42).Key())
		}
	})

	t.Run("string", func(t *testing.T) {
		raw, err := json.Marshal(StringID("abc"))
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		if string(raw) != `"abc"` {
			t.Fatalf("expected \"abc\", got %s", raw)
		}
		var id SubscriptionID
		if err := json.Unmarshal(raw, &id); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if id.Key() != StringID("abc").Key() {
			t.Fatalf("keys differ after round trip")
		}
	})

	t.Run("numeric and string ids never collide", func(t *testing.T) {
		if NumberID(7).Key() == StringID("7").Key() {
			t.Fatal("expected distinct keys for 7 and \"7\"")
		}
	})

	t.Run("invalid value rejected", func(t *testing.T) {
		var id SubscriptionID
		if err := json.Unmarshal(json.RawMessage(`{"x":1}`), &id); err == nil {
			t.Fatal("expected error for object id")
		}
	})
}

func TestSubscriptionNotificationShape(t *testing.T) {
	msg, err := NewSubscriptionNotification("hi", NumberID(3), "one answer")
	if err != nil {
		t.Fatalf("NewSubscriptionNotification failed: %v", err)
	}
	expected := `{"jsonrpc":"2.0","method":"hi","params":{"subscription":3,"result":"one answer"}}`
	if msg != expected {
		t.Fatalf("unexpected notification:\n got %s\nwant %s", msg, expected)
	}
	if strings.Contains(msg, `"id"`) {
		t.Fatal("notification must not carry an id field")
	}
}

func TestDecodeCloseReason(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		ok     bool
		reason string
	}{
		{"unsubscribed", `{"reason":"unsubscribed"}`, true, ReasonUnsubscribed},
		{"connection reset", `{"reason":"connectionReset"}`, true, ReasonConnectionReset},
		{"server with message", `{"reason":"server","message":"maintenance"}`, true, ReasonServer},
		{"plain string result", `"one answer"`, false, ""},
		{"unknown reason kind", `{"reason":"other"}`, false, ""},
		{"extra fields", `{"reason":"server","message":"m","x":1}`, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reason, ok := DecodeCloseReason(json.RawMessage(tc.raw))
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if ok && reason.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, reason.Reason)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	msg, err := NewResponse(json.RawMessage("0"), 7)
	if err != nil {
		t.Fatalf("NewResponse failed: %v", err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(msg), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.JSONRPC != Version || string(resp.ID) != "0" || string(resp.Result) != "7" {
		t.Fatalf("unexpected response: %s", msg)
	}
}

func TestNewErrorResponse(t *testing.T) {
	msg := NewErrorResponse(json.RawMessage("0"), CodeMethodNotFound, DefaultMessage(CodeMethodNotFound))
	var resp Response
	if err := json.Unmarshal([]byte(msg), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("unexpected error response: %s", msg)
	}
}
