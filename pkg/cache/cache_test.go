package cache

import (
	"testing"
	"time"
)

func TestLocalMapSetGetDelete(t *testing.T) {
	m := NewLocalMap()
	m.Set("alpha", "value", time.Minute)

	if v, ok := m.Get("alpha"); !ok || v != "value" {
		t.Fatalf("expected alpha=value, got %q, %v", v, ok)
	}

	m.Del("alpha")
	if _, ok := m.Get("alpha"); ok {
		t.Fatal("expected alpha to be deleted")
	}
}

func TestLocalMapExpiresLazily(t *testing.T) {
	m := NewLocalMap()
	m.Set("alpha", "value", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := m.Get("alpha"); ok {
		t.Fatal("expected expired entry to be gone")
	}
}

func TestLocalMapMissingKey(t *testing.T) {
	m := NewLocalMap()
	if _, ok := m.Get("missing"); ok {
		t.Fatal("expected miss for unknown key")
	}
}
