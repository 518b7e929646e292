package registry

import (
	"context"
	"errors"
	"testing"
)

func square(_ context.Context, args []any, _ map[string]any) (any, error) {
	n, err := Float(args, 0)
	if err != nil {
		return nil, err
	}
	return n * n, nil
}

// --- Registry Tests ---

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := New()
	r.Register("square", square)

	fn, err := r.Get("square")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := fn(context.Background(), []any{3}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 9.0 {
		t.Errorf("expected 9, got %v", out)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := New()

	_, err := r.Get("missing")
	if !errors.Is(err, ErrHandlerNotFound) {
		t.Errorf("expected ErrHandlerNotFound, got %v", err)
	}
}

func TestRegistry_RegisterFunc_StableName(t *testing.T) {
	r := New()

	name1 := r.RegisterFunc(square)
	name2 := r.RegisterFunc(square)

	if name1 == "" {
		t.Fatal("name should not be empty")
	}
	if name1 != name2 {
		t.Errorf("name should be stable: %s != %s", name1, name2)
	}
	if !r.Has(name1) {
		t.Error("handler should be registered under its name")
	}
	if len(r.Names()) != 1 {
		t.Errorf("expected 1 handler, got %d", len(r.Names()))
	}
}

func TestNameOf_NotAFunc(t *testing.T) {
	if NameOf(42) != "" {
		t.Error("non-func should have empty name")
	}
}

// --- Args Tests ---

func TestFloat(t *testing.T) {
	args := []any{1, 2.5, int64(7), "x"}

	if v, err := Float(args, 0); err != nil || v != 1 {
		t.Errorf("expected 1, got %v (%v)", v, err)
	}
	if v, err := Float(args, 1); err != nil || v != 2.5 {
		t.Errorf("expected 2.5, got %v (%v)", v, err)
	}
	if v, err := Int(args, 2); err != nil || v != 7 {
		t.Errorf("expected 7, got %v (%v)", v, err)
	}
	if _, err := Float(args, 3); !errors.Is(err, ErrBadArgument) {
		t.Errorf("expected ErrBadArgument for string, got %v", err)
	}
	if _, err := Float(args, 10); !errors.Is(err, ErrBadArgument) {
		t.Errorf("expected ErrBadArgument for out of range, got %v", err)
	}
}

func TestString(t *testing.T) {
	s, err := String([]any{"btc"}, 0)
	if err != nil || s != "btc" {
		t.Errorf("expected btc, got %q (%v)", s, err)
	}
	if _, err := String([]any{1}, 0); !errors.Is(err, ErrBadArgument) {
		t.Errorf("expected ErrBadArgument, got %v", err)
	}
}
