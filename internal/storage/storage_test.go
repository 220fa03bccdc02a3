package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_RoundTripAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Load(ctx, KeyCart); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load missing = %v, want ErrNotFound", err)
	}
	payload := []byte(`{"items":[]}`)
	if err := m.Save(ctx, KeyCart, payload); err != nil {
		t.Fatalf("Save: %v", err)
	}
	payload[0] = 'x'

	got, err := m.Load(ctx, KeyCart)
	if err != nil || string(got) != `{"items":[]}` {
		t.Fatalf("Load = %q, %v", got, err)
	}
	if err := m.Delete(ctx, KeyCart); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Load(ctx, KeyCart); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after delete = %v, want ErrNotFound", err)
	}
}

func TestValidKey(t *testing.T) {
	for key, want := range map[string]bool{
		KeyCart:     true,
		KeyWallet:   true,
		"":          false,
		"  ":        false,
		"../escape": false,
		`a\b`:       false,
	} {
		if got := ValidKey(key); got != want {
			t.Errorf("ValidKey(%q) = %v, want %v", key, got, want)
		}
	}
}
