package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, user, seed, file string
		want                     string
	}{
		{"seeds", "u1", "abc", "notes.pdf", "seeds/u1/abc/notes.pdf"},
		{"seeds", "", "abc", "../../etc/passwd", "seeds/anonymous/abc/passwd"},
		{"seeds", "a b/c", "abc", `C:\docs\scan.png`, "seeds/a_b_c/abc/scan.png"},
		{"", "u1", "abc", "", "u1/abc/upload"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, tt.user, tt.seed, tt.file); got != tt.want {
			t.Fatalf("ObjectKey(%q, %q, %q, %q) = %q, want %q", tt.prefix, tt.user, tt.seed, tt.file, got, tt.want)
		}
	}
}

func TestMemoryStorageLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage()

	key, err := m.Store(ctx, "seeds/u1/a/f.txt", strings.NewReader("hello"), 5, "text/plain")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	rc, err := m.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}
	if err := m.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if m.Has(key) {
		t.Fatal("object still present after delete")
	}
	if err := m.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestMemoryStorageCleanupBefore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	m.now = func() time.Time { return base }
	m.Store(ctx, "seeds/old", strings.NewReader("x"), 1, "")
	m.Store(ctx, "other/old", strings.NewReader("x"), 1, "")
	m.now = func() time.Time { return base.Add(48 * time.Hour) }
	m.Store(ctx, "seeds/new", strings.NewReader("x"), 1, "")

	n, err := m.CleanupBefore(ctx, "seeds/", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("CleanupBefore: %v", err)
	}
	if n != 1 || m.Has("seeds/old") || !m.Has("seeds/new") || !m.Has("other/old") {
		t.Fatalf("cleanup removed %d, remaining %d", n, m.Len())
	}
}
