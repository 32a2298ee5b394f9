package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/reviewd/internal/index"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

type fakeEmbedder struct {
	calls atomic.Int64
	fail  bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, errors.New("embedder down")
	}
	// Deterministic per-text vector so round-trips are comparable.
	return []float32{float32(len(text)), float32(text[0])}, nil
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name string
		text string
		size int
		want []string
	}{
		{"empty", "", 4, nil},
		{"exact multiple", "abcdefgh", 4, []string{"abcd", "efgh"}},
		{"short tail", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"smaller than size", "ab", 4, []string{"ab"}},
		{"invalid size", "abc", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.text, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("Chunk = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestChunk_Deterministic(t *testing.T) {
	text := strings.Repeat("package main\n", 50)
	a := Chunk(text, 100)
	b := Chunk(text, 100)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestBuild_PersistsEveryBatch(t *testing.T) {
	dir := t.TempDir()
	b := New(&fakeEmbedder{}, dir, 2, 4)

	// 3 documents of 8 chars -> 6 chunks of size 4.
	docs := []string{"aaaabbbb", "ccccdddd", "eeeeffff"}
	appended, err := b.Build(context.Background(), docs, 2, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if appended != 6 {
		t.Errorf("appended = %d, want 6", appended)
	}

	ix, corpus, err := index.Load(dir, 2)
	if err != nil {
		t.Fatalf("Load after build: %v", err)
	}
	if ix.Len() != 6 || corpus.Len() != 6 {
		t.Errorf("snapshot sizes = (%d, %d), want (6, 6)", ix.Len(), corpus.Len())
	}
}

func TestBuild_MaxBatchesStopsCleanly(t *testing.T) {
	dir := t.TempDir()
	b := New(&fakeEmbedder{}, dir, 2, 4)

	docs := []string{"aaaabbbbccccdddd"} // 4 chunks
	appended, err := b.Build(context.Background(), docs, 1, 2)
	if err != nil {
		t.Fatalf("Build with max batches: %v", err)
	}
	if appended != 2 {
		t.Errorf("appended = %d, want 2 (capped at 2 batches of 1)", appended)
	}

	ix, _, err := index.Load(dir, 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ix.Len() != 2 {
		t.Errorf("snapshot has %d vectors after capped run, want 2", ix.Len())
	}
}

func TestBuild_ResumesFromSnapshot(t *testing.T) {
	dir := t.TempDir()
	docs := []string{"aaaabbbbccccdddd"} // 4 chunks

	first := &fakeEmbedder{}
	if _, err := New(first, dir, 2, 4).Build(context.Background(), docs, 1, 2); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := &fakeEmbedder{}
	appended, err := New(second, dir, 2, 4).Build(context.Background(), docs, 1, 0)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if appended != 2 {
		t.Errorf("second run appended %d chunks, want the remaining 2", appended)
	}
	if got := second.calls.Load(); got != 2 {
		t.Errorf("second run embedded %d chunks, want 2 (already-indexed chunks skipped)", got)
	}

	ix, corpus, err := index.Load(dir, 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ix.Len() != 4 || corpus.Len() != 4 {
		t.Errorf("final snapshot sizes = (%d, %d), want (4, 4)", ix.Len(), corpus.Len())
	}
}

func TestBuild_EmbedFailureKeepsPriorBatches(t *testing.T) {
	dir := t.TempDir()
	docs := []string{"aaaabbbbccccdddd"}

	if _, err := New(&fakeEmbedder{}, dir, 2, 4).Build(context.Background(), docs, 2, 1); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	if _, err := New(&fakeEmbedder{fail: true}, dir, 2, 4).Build(context.Background(), docs, 2, 0); err == nil {
		t.Fatal("Build with failing embedder should error")
	}

	// The snapshot from the successful batch must be intact.
	ix, _, err := index.Load(dir, 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ix.Len() != 2 {
		t.Errorf("snapshot has %d vectors, want the 2 from the successful batch", ix.Len())
	}
}

func TestBuild_InvalidBatchSize(t *testing.T) {
	b := New(&fakeEmbedder{}, t.TempDir(), 2, 4)
	if _, err := b.Build(context.Background(), []string{"text"}, 0, 0); err == nil {
		t.Fatal("Build with batch size 0 should error")
	}
}

func TestLoadDocuments_ReadsTextFiles(t *testing.T) {
	dir := t.TempDir()
	for i, content := range []string{"style guide", "bug fix example"} {
		path := fmt.Sprintf("%s/doc%d.txt", dir, i)
		if err := writeFile(path, content); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
	}

	docs, err := LoadDocuments(dir)
	if err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("loaded %d documents, want 2", len(docs))
	}
}
