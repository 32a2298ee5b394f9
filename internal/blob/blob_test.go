package blob

import (
	"context"
	"errors"
	"testing"
)

func TestFS_PutGetRoundTrip(t *testing.T) {
	fs := NewFS(t.TempDir())
	ctx := context.Background()

	key, err := fs.Put(ctx, "submissions/1", []byte("def f(): pass"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if key != "submissions/1" {
		t.Errorf("Put returned key %q, want submissions/1", key)
	}

	data, err := fs.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "def f(): pass" {
		t.Errorf("Get = %q", data)
	}
}

func TestFS_Overwrite(t *testing.T) {
	fs := NewFS(t.TempDir())
	ctx := context.Background()

	if _, err := fs.Put(ctx, "k", []byte("old")); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if _, err := fs.Put(ctx, "k", []byte("new")); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	data, err := fs.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "new" {
		t.Errorf("Get after overwrite = %q, want new", data)
	}
}

func TestFS_GetUnknownKey(t *testing.T) {
	fs := NewFS(t.TempDir())

	if _, err := fs.Get(context.Background(), "rag_cache/submission_9.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get of unknown key: got %v, want ErrNotFound", err)
	}
}

func TestFS_RejectsEscapingKeys(t *testing.T) {
	fs := NewFS(t.TempDir())
	ctx := context.Background()

	for _, key := range []string{"../outside", "/etc/passwd", "a/../../b", "."} {
		if _, err := fs.Put(ctx, key, []byte("x")); err == nil {
			t.Errorf("Put(%q) should be rejected", key)
		}
		if _, err := fs.Get(ctx, key); err == nil {
			t.Errorf("Get(%q) should be rejected", key)
		}
	}
}
