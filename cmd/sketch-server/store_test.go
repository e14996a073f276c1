package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"approx.lopezb.com/internal/pds/cms"
	"approx.lopezb.com/internal/pds/hyperloglog"
	"approx.lopezb.com/internal/pds/minhash"
	"approx.lopezb.com/internal/pds/sketch"
	"approx.lopezb.com/internal/pds/tdigest"
)

func newTestCMS(t *testing.T, width, depth uint32) *cms.CMS {
	t.Helper()
	c, err := cms.NewWithDimensions(width, depth)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// populateStore fills a store with one sketch of every kind per index so
// that keys land in many shards.
func populateStore(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := range n {
		d, err := tdigest.New(100, tdigest.WithSeed(uint64(i)))
		if err != nil {
			t.Fatal(err)
		}
		for v := range 50 {
			_ = d.Add(float64(v*i), 1)
		}
		s.Set(fmt.Sprintf("td-%d", i), d)

		c := newTestCMS(t, 64, 3)
		c.IncrBy([]byte("item"), uint64(i+1))
		s.Set(fmt.Sprintf("cms-%d", i), c)

		h, err := hyperloglog.New(0.1)
		if err != nil {
			t.Fatal(err)
		}
		h.Add([]byte(fmt.Sprint(i)))
		s.Set(fmt.Sprintf("hll-%d", i), h)

		m, err := minhash.New(0.5, minhash.WithSeed(uint64(i)))
		if err != nil {
			t.Fatal(err)
		}
		m.AddProperty([]byte("a"), []byte("a"))
		s.Set(fmt.Sprintf("mh-%d", i), m)
	}
}

// TestStoreBinaryFormat verifies SaveSnapshotToWriter and
// LoadSnapshotFromReader against in-memory buffers.
func TestStoreBinaryFormat(t *testing.T) {
	original := NewStore()
	populateStore(t, original, 100)

	var buf bytes.Buffer
	if err := original.SaveSnapshotToWriter(&buf); err != nil {
		t.Fatalf("SaveSnapshotToWriter failed: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte(persistenceMagic)) {
		t.Fatalf("snapshot does not start with %q", persistenceMagic)
	}

	loaded := NewStore()
	reader := bufio.NewReader(&buf)
	if err := loaded.LoadSnapshotFromReader(reader); err != nil {
		t.Fatalf("LoadSnapshotFromReader failed: %v", err)
	}

	if loaded.Len() != original.Len() {
		t.Fatalf("loaded %d keys, want %d", loaded.Len(), original.Len())
	}

	// Every key re-encodes to the same bytes and keeps its kind.
	for _, shard := range original.shards {
		for key, want := range shard.data {
			err := loaded.View(key, func(got sketch.Sketch) error {
				if got == nil {
					return fmt.Errorf("key %s missing", key)
				}
				if sketch.KindOf(got) != sketch.KindOf(want) {
					return fmt.Errorf("key %s: kind %s, want %s", key, sketch.KindOf(got), sketch.KindOf(want))
				}
				gotBytes, _ := got.MarshalBinary()
				wantBytes, _ := want.MarshalBinary()
				if !bytes.Equal(gotBytes, wantBytes) {
					return fmt.Errorf("key %s: encoding mismatch", key)
				}
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}
	}
}

func TestSnapshotEmptyStore(t *testing.T) {
	var buf bytes.Buffer
	if err := NewStore().SaveSnapshotToWriter(&buf); err != nil {
		t.Fatal(err)
	}

	// Header + EOF + checksum.
	if buf.Len() != len(persistenceMagic)+1+8 {
		t.Errorf("empty snapshot is %d bytes, want %d", buf.Len(), len(persistenceMagic)+1+8)
	}

	if err := NewStore().LoadSnapshotFromReader(bufio.NewReader(&buf)); err != nil {
		t.Errorf("loading empty snapshot: %v", err)
	}
}

func TestSnapshotCorruption(t *testing.T) {
	s := NewStore()
	populateStore(t, s, 5)

	var buf bytes.Buffer
	if err := s.SaveSnapshotToWriter(&buf); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()

	t.Run("checksum mismatch", func(t *testing.T) {
		corrupted := bytes.Clone(data)
		corrupted[len(corrupted)-1] ^= 0xFF

		err := NewStore().LoadSnapshotFromReader(bufio.NewReader(bytes.NewReader(corrupted)))
		if !errors.Is(err, ErrChecksumMismatch) {
			t.Errorf("got %v, want %v", err, ErrChecksumMismatch)
		}
	})

	t.Run("bad header", func(t *testing.T) {
		corrupted := bytes.Clone(data)
		copy(corrupted, "PDS1")

		err := NewStore().LoadSnapshotFromReader(bufio.NewReader(bytes.NewReader(corrupted)))
		if !errors.Is(err, ErrInvalidSnapshotHeader) {
			t.Errorf("got %v, want %v", err, ErrInvalidSnapshotHeader)
		}
	})

	t.Run("unexpected opcode", func(t *testing.T) {
		corrupted := bytes.Clone(data)
		corrupted[len(persistenceMagic)] = 0x01

		if err := NewStore().LoadSnapshotFromReader(bufio.NewReader(bytes.NewReader(corrupted))); err == nil {
			t.Error("expected error for unexpected opcode")
		}
	})

	t.Run("truncated", func(t *testing.T) {
		truncated := data[:len(data)/2]
		if err := NewStore().LoadSnapshotFromReader(bufio.NewReader(bytes.NewReader(truncated))); err == nil {
			t.Error("expected error for truncated snapshot")
		}
	})
}

func TestSnapshotUnknownValue(t *testing.T) {
	// A hand-built snapshot holding one value with no sketch magic.
	s := NewStore()
	s.Set("k", newTestCMS(t, 1, 1))

	var buf bytes.Buffer
	if err := s.SaveSnapshotToWriter(&buf); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()

	// Overwrite the CMS magic inside the value.
	i := bytes.Index(data, []byte("CMS2"))
	if i < 0 {
		t.Fatal("value magic not found")
	}
	copy(data[i:], "XXXX")

	err := NewStore().LoadSnapshotFromReader(bufio.NewReader(bytes.NewReader(data)))
	if !errors.Is(err, sketch.ErrUnknownType) {
		t.Errorf("got %v, want %v", err, sketch.ErrUnknownType)
	}
}

func TestStoreMutateAndView(t *testing.T) {
	s := NewStore()

	s.Mutate("k", func(current sketch.Sketch) (sketch.Sketch, bool) {
		if current != nil {
			t.Error("expected nil for missing key")
		}
		h, _ := hyperloglog.New(0.1)
		return h, true
	})

	err := s.View("k", func(current sketch.Sketch) error {
		if _, ok := current.(*hyperloglog.HLL); !ok {
			return fmt.Errorf("got %T, want *hyperloglog.HLL", current)
		}
		return nil
	})
	if err != nil {
		t.Error(err)
	}

	// changed=false never stores.
	s.Mutate("other", func(sketch.Sketch) (sketch.Sketch, bool) {
		return newTestCMS(t, 1, 1), false
	})
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}

	if !s.Delete("k") || s.Delete("k") {
		t.Error("Delete should report true once, then false")
	}
}

// TestConcurrentMutate checks that Mutate serializes writers on one key.
func TestConcurrentMutate(t *testing.T) {
	s := NewStore()
	s.Set("counts", newTestCMS(t, 16, 2))

	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				err := mutateAs(s, "counts", nil, func(c *cms.CMS) error {
					c.IncrBy([]byte("x"), 1)
					return nil
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	_ = viewAs(s, "counts", func(c *cms.CMS) error {
		if c.Count() != workers*perWorker {
			t.Errorf("Count = %d, want %d", c.Count(), workers*perWorker)
		}
		return nil
	})
}

// =============================================================================
// File persistence
// =============================================================================

func TestSnapshotFileRoundTrip(t *testing.T) {
	app := newTestApp(t)
	populateStore(t, app.store, 10)

	if err := app.saveSnapshot(); err != nil {
		t.Fatalf("saveSnapshot: %v", err)
	}

	restored := newTestAppWithConfig(t, app.config)
	if err := restored.loadSnapshot(); err != nil {
		t.Fatalf("loadSnapshot: %v", err)
	}
	if restored.store.Len() != app.store.Len() {
		t.Errorf("restored %d keys, want %d", restored.store.Len(), app.store.Len())
	}
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	app := newTestApp(t)
	if err := app.loadSnapshot(); err != nil {
		t.Errorf("missing snapshot file should not be an error, got %v", err)
	}
}

func TestLoadSnapshotCorruptFile(t *testing.T) {
	app := newTestApp(t)
	if err := os.WriteFile(app.config.SnapshotFile, []byte("SKS1garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := app.loadSnapshot(); err == nil {
		t.Error("expected error for corrupt snapshot file")
	}
}

func TestSaveSnapshotUnwritableDir(t *testing.T) {
	app := newTestApp(t)
	app.config.SnapshotFile = filepath.Join(t.TempDir(), "missing-dir", "x.sks")

	if err := app.saveSnapshot(); err == nil {
		t.Error("expected error writing into a missing directory")
	}
	if app.isSaving.Load() {
		t.Error("isSaving should be released after a failed save")
	}
	if app.metrics.Snapshots.Load() != 0 {
		t.Error("failed save must not count as a snapshot")
	}
}
