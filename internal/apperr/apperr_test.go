package apperr

import (
	"errors"
	"testing"
)

func TestJSONRPCCode(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{BadRequest, -32602},
		{ToolNotFound, 4001},
		{ToolDisabled, 4002},
		{ProtocolVersionUnsupported, 4003},
		{SessionExpired, 4004},
		{OriginForbidden, 4005},
		{Upstream, 5001},
		{Storage, 5002},
		{Timeout, 5003},
		{Throttled, -32603},
		{Transient, -32603},
		{NotFound, -32603},
		{Internal, -32603},
	}
	for _, c := range cases {
		if got := c.kind.JSONRPCCode(); got != c.want {
			t.Errorf("%s.JSONRPCCode() = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Transient, cause, "storage call failed")
	if !errors.Is(err, cause) {
		t.Fatalf("expected Wrap to preserve Unwrap chain")
	}
	if KindOf(err) != Transient {
		t.Fatalf("KindOf = %v, want Transient", KindOf(err))
	}
}

func TestKindOfNonAppError(t *testing.T) {
	if KindOf(errors.New("plain")) != Internal {
		t.Fatalf("expected Internal for a non-*Error")
	}
}

func TestIs(t *testing.T) {
	err := New(Conflict, "source has chunks")
	if !Is(err, Conflict) {
		t.Fatalf("expected Is(err, Conflict) to be true")
	}
	if Is(err, NotFound) {
		t.Fatalf("expected Is(err, NotFound) to be false")
	}
}
