package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type index struct {
	Timecodes []int64
	Keyframes []int
}

func TestStorePutGetInvalidate(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	want := index{Timecodes: []int64{0, 33, 66}, Keyframes: []int{0}}
	if err := store.Put("clip-index", want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var got index
	ok, err := store.Get("clip-index", &got)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v; want hit", ok, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cached value mismatch (-want +got):\n%s", diff)
	}

	if err := store.Invalidate("clip-index"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	ok, err = store.Get("clip-index", &got)
	if err != nil || ok {
		t.Errorf("Get after Invalidate = %v, %v; want miss", ok, err)
	}
	if err := store.Invalidate("clip-index"); err != nil {
		t.Errorf("second Invalidate failed: %v", err)
	}
}

func TestDisabledStore(t *testing.T) {
	var store *Store
	if err := store.Put("x", 1); err != nil {
		t.Errorf("Put on nil store failed: %v", err)
	}
	var v int
	if ok, err := store.Get("x", &v); ok || err != nil {
		t.Errorf("Get on nil store = %v, %v", ok, err)
	}

	empty, _ := New("")
	if empty.Enabled() {
		t.Errorf("expected store without dir to be disabled")
	}
}

func TestGetCorruptEntry(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	if err := os.WriteFile(filepath.Join(dir, "bad.gob"), []byte("nope"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	var v index
	if _, err := store.Get("bad", &v); err == nil {
		t.Errorf("expected decode error")
	}
}

func TestKey(t *testing.T) {
	a := Key("/media/My Show [01].mkv", 100, "video-band")
	b := Key("/media/My Show [01].mkv", 101, "video-band")
	c := Key("/other/My Show [01].mkv", 100, "video-band")

	if a == b || a == c {
		t.Errorf("expected distinct keys, got %q %q %q", a, b, c)
	}
	if !strings.HasSuffix(a, "-100-video-band") {
		t.Errorf("unexpected key %q", a)
	}
	if strings.ContainsAny(a, " []/") {
		t.Errorf("key %q is not file-name safe", a)
	}
}
