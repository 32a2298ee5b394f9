package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
)

const (
	indexFile  = "index.bin"
	corpusFile = "corpus.json"
)

// Save persists the index and corpus to dir as a snapshot pair. Each file is
// written to a temp path and renamed into place, so readers never observe a
// half-written file. A crash between the two renames is detectable on Load
// as an entry-count mismatch.
func Save(dir string, ix *Index, c *Corpus) error {
	if ix.Len() != c.Len() {
		return fmt.Errorf("%w: index has %d vectors, corpus has %d texts", ErrInconsistentSnapshot, ix.Len(), c.Len())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, indexFile), encodeIndex(ix)); err != nil {
		return fmt.Errorf("writing index snapshot: %w", err)
	}

	corpusData, err := json.Marshal(c.texts)
	if err != nil {
		return fmt.Errorf("encoding corpus: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, corpusFile), corpusData); err != nil {
		return fmt.Errorf("writing corpus snapshot: %w", err)
	}
	return nil
}

// Load restores a snapshot pair from dir. A missing snapshot yields an empty
// index bound to dimension and an empty corpus, so callers can lazily
// bootstrap. A snapshot where index and corpus disagree on entry count fails
// with ErrInconsistentSnapshot rather than silently truncating.
func Load(dir string, dimension int) (*Index, *Corpus, error) {
	indexData, indexErr := os.ReadFile(filepath.Join(dir, indexFile))
	corpusData, corpusErr := os.ReadFile(filepath.Join(dir, corpusFile))

	indexMissing := errors.Is(indexErr, fs.ErrNotExist)
	corpusMissing := errors.Is(corpusErr, fs.ErrNotExist)

	if indexMissing && corpusMissing {
		ix, err := New(dimension)
		if err != nil {
			return nil, nil, err
		}
		return ix, NewCorpus(), nil
	}
	if indexMissing != corpusMissing {
		return nil, nil, fmt.Errorf("%w: only one of %s and %s exists in %s", ErrInconsistentSnapshot, indexFile, corpusFile, dir)
	}
	if indexErr != nil {
		return nil, nil, fmt.Errorf("reading index snapshot: %w", indexErr)
	}
	if corpusErr != nil {
		return nil, nil, fmt.Errorf("reading corpus snapshot: %w", corpusErr)
	}

	ix, err := decodeIndex(indexData)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding index snapshot: %w", err)
	}

	var texts []string
	if err := json.Unmarshal(corpusData, &texts); err != nil {
		return nil, nil, fmt.Errorf("decoding corpus snapshot: %w", err)
	}

	if ix.Len() != len(texts) {
		return nil, nil, fmt.Errorf("%w: index has %d vectors, corpus has %d texts", ErrInconsistentSnapshot, ix.Len(), len(texts))
	}
	return ix, &Corpus{texts: texts}, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// encodeIndex serializes the index as a little-endian binary blob:
// uint32 dimension, uint32 vector count, then count*dimension float32 values.
func encodeIndex(ix *Index) []byte {
	buf := make([]byte, 8+len(ix.vectors)*ix.dim*4)
	binary.LittleEndian.PutUint32(buf[0:], uint32(ix.dim))
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(ix.vectors)))
	off := 8
	for _, v := range ix.vectors {
		for _, f := range v {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
			off += 4
		}
	}
	return buf
}

func decodeIndex(data []byte) (*Index, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("index blob too short (%d bytes)", len(data))
	}
	dim := int(binary.LittleEndian.Uint32(data[0:]))
	count := int(binary.LittleEndian.Uint32(data[4:]))
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d in index blob", dim)
	}
	want := 8 + count*dim*4
	if len(data) != want {
		return nil, fmt.Errorf("index blob is %d bytes, want %d for %d vectors of dimension %d", len(data), want, count, dim)
	}

	ix := &Index{dim: dim, vectors: make([][]float32, count)}
	off := 8
	for i := range ix.vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		ix.vectors[i] = v
	}
	return ix, nil
}
