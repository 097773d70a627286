package cache

import (
	"bytes"
	"testing"
)

func TestPutGetRoundtrip(t *testing.T) {
	t.Parallel()
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payload := []byte(`[{"id":"1"}]`)
	if err := c.Put(KindUser, "SomeAccount", payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := c.Get(KindUser, "SomeAccount")
	if !ok || !bytes.Equal(got, payload) {
		t.Fatalf("Get = (%q, %v), want stored payload", got, ok)
	}

	// Key lookup is case-insensitive because keys are normalized on write.
	if _, ok := c.Get(KindUser, "someaccount"); !ok {
		t.Fatal("normalized key did not resolve")
	}
	if _, ok := c.Get(KindHashtag, "SomeAccount"); ok {
		t.Fatal("kind partitions must not overlap")
	}
}

func TestGetMiss(t *testing.T) {
	t.Parallel()
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b, ok := c.Get(KindUser, "absent"); ok || b != nil {
		t.Fatalf("Get on empty cache = (%q, %v), want miss", b, ok)
	}
}

func TestInvalidate(t *testing.T) {
	t.Parallel()
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Put(KindUser, "a", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(KindUser, "b", []byte("y")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := c.Invalidate(KindUser, "a"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := c.Get(KindUser, "a"); ok {
		t.Fatal("entry survived Invalidate")
	}
	if _, ok := c.Get(KindUser, "b"); !ok {
		t.Fatal("unrelated entry was dropped")
	}

	// Removing an absent entry is not an error.
	if err := c.Invalidate(KindUser, "never-stored"); err != nil {
		t.Fatalf("Invalidate absent: %v", err)
	}

	if err := c.InvalidateAll(KindUser); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
	if _, ok := c.Get(KindUser, "b"); ok {
		t.Fatal("entry survived InvalidateAll")
	}
	if err := c.InvalidateAll(KindUser); err != nil {
		t.Fatalf("InvalidateAll on empty kind: %v", err)
	}
}

func TestSanitizeKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"Simple", "simple"},
		{"  padded  ", "padded"},
		{"with/slash", "with_slash"},
		{"..", ".."},
		{"ünïcode", "_n_code"},
		{"", "_"},
	}
	for _, tt := range tests {
		if got := sanitizeKey(tt.in); got != tt.want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewRejectsEmptyRoot(t *testing.T) {
	t.Parallel()
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for blank root")
	}
}

func TestPutOverwrites(t *testing.T) {
	t.Parallel()
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Put(KindHashtag, "tag", []byte("old")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.Put(KindHashtag, "tag", []byte("new")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	got, ok := c.Get(KindHashtag, "tag")
	if !ok || string(got) != "new" {
		t.Fatalf("Get = (%q, %v), want latest payload", got, ok)
	}
}
