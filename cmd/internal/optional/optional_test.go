package optional

import (
	"errors"
	"testing"
)

func TestNone(t *testing.T) {
	value := None[string]()
	if !value.Empty() {
		t.Fatal("expected an empty value")
	}
	if got := value.UnwrapOr("fallback"); got != "fallback" {
		t.Fatal("expected the fallback, got", got)
	}
	defer func() {
		if r := recover(); !errors.Is(r.(error), ErrEmpty) {
			t.Fatal("expected the empty-value panic, got", r)
		}
	}()
	_ = value.Unwrap()
}

func TestSome(t *testing.T) {
	value := Some("antani")
	if value.Empty() {
		t.Fatal("expected a non-empty value")
	}
	if got := value.Unwrap(); got != "antani" {
		t.Fatal("unexpected unwrapped value", got)
	}
	if got := value.UnwrapOr("fallback"); got != "antani" {
		t.Fatal("expected the underlying value, got", got)
	}
}
