package storage

import (
	"context"
	"errors"
	"testing"
)

// TestMemoryStore_PutGetDelete verifies the basic round trip and that a deleted
// key reports ErrNotFound.
func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "countdowns"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on empty store error = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, "countdowns", []byte(`[]`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, err := s.Get(ctx, "countdowns")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `[]` {
		t.Errorf("Get() = %q, want %q", got, `[]`)
	}
	if err := s.Delete(ctx, "countdowns"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "countdowns"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

// TestMemoryStore_ValuesAreCopied verifies that callers cannot mutate stored bytes.
func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	in := []byte("abc")
	_ = s.Put(ctx, "k", in)
	in[0] = 'x'

	got, _ := s.Get(ctx, "k")
	got[1] = 'y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value = %q, want %q", again, "abc")
	}
}

// TestMemoryStore_CanceledContext verifies that a canceled context is reported.
func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	if err := s.Put(ctx, "k", []byte("v")); !errors.Is(err, context.Canceled) {
		t.Errorf("Put() error = %v, want context.Canceled", err)
	}
}

// TestJSONHelpers verifies GetJSON and PutJSON against the memory backend.
func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	type record struct {
		Name string `json:"name"`
	}
	if err := PutJSON(ctx, s, "rec", record{Name: "Bratislava"}); err != nil {
		t.Fatalf("PutJSON() error = %v", err)
	}
	var got record
	if err := GetJSON(ctx, s, "rec", &got); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if got.Name != "Bratislava" {
		t.Errorf("GetJSON() name = %q, want Bratislava", got.Name)
	}

	_ = s.Put(ctx, "broken", []byte("{"))
	if err := GetJSON(ctx, s, "broken", &got); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("GetJSON() on corrupt value error = %v, want decode error", err)
	}
	if err := GetJSON(ctx, s, "missing", &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJSON() on missing key error = %v, want ErrNotFound", err)
	}
}
