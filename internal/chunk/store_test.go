package chunk

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func fixture(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path, data
}

func TestReadAtStitchesAcrossChunks(t *testing.T) {
	path, data := fixture(t, 10*1024)
	s, err := Open(path, 1024, 1<<20)
	if err != nil {
		t.Fatalf("Open = %v", err)
	}
	defer s.Close()

	// Straddles three chunk boundaries.
	got, err := s.ReadAt(1000, 2200)
	if err != nil {
		t.Fatalf("ReadAt = %v", err)
	}
	if !bytes.Equal(got, data[1000:3200]) {
		t.Fatalf("ReadAt returned wrong bytes")
	}

	got, err = s.ReadAt(0, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("empty read = %v, %v", got, err)
	}
}

func TestReadAtRejectsOutOfRange(t *testing.T) {
	path, _ := fixture(t, 100)
	s, err := Open(path, 64, 1<<20)
	if err != nil {
		t.Fatalf("Open = %v", err)
	}
	defer s.Close()

	if _, err := s.ReadAt(90, 20); err == nil {
		t.Fatalf("read past end succeeded")
	}
	if _, err := s.ReadAt(-1, 10); err == nil {
		t.Fatalf("negative offset succeeded")
	}
}

func TestEvictionHonorsBudget(t *testing.T) {
	path, data := fixture(t, 256*1024)
	// Budget holds only a handful of 1KB chunks per shard.
	s, err := Open(path, 1024, 32*1024)
	if err != nil {
		t.Fatalf("Open = %v", err)
	}
	defer s.Close()

	for off := int64(0); off < int64(len(data)); off += 1024 {
		if _, err := s.ReadAt(off, 1024); err != nil {
			t.Fatalf("ReadAt(%d) = %v", off, err)
		}
	}

	var cached int64
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		if sh.bytes > s.shardBudget {
			t.Fatalf("shard %d holds %d bytes, budget %d", i, sh.bytes, s.shardBudget)
		}
		cached += sh.bytes
		sh.mu.Unlock()
	}
	if cached == 0 {
		t.Fatalf("nothing cached at all")
	}

	// Evicted chunks reload transparently.
	got, err := s.ReadAt(0, 1024)
	if err != nil {
		t.Fatalf("re-read after eviction = %v", err)
	}
	if !bytes.Equal(got, data[:1024]) {
		t.Fatalf("re-read returned wrong bytes")
	}
}

func TestTruncationDetectedOnPageMiss(t *testing.T) {
	path, data := fixture(t, 8*1024)
	s, err := Open(path, 1024, 1<<20)
	if err != nil {
		t.Fatalf("Open = %v", err)
	}
	defer s.Close()

	if _, err := s.ReadAt(0, 1024); err != nil {
		t.Fatalf("warm-up read = %v", err)
	}
	if err := os.Truncate(path, 512); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	// The cached chunk still serves: the session's view of those bytes is
	// unchanged.
	got, err := s.ReadAt(100, 100)
	if err != nil {
		t.Fatalf("cached read after truncation = %v", err)
	}
	if !bytes.Equal(got, data[100:200]) {
		t.Fatalf("cached read returned wrong bytes")
	}
	if s.Changed() {
		t.Fatalf("Changed = true before any page miss")
	}

	// A miss has to touch the disk and notices the file shrank.
	if _, err := s.ReadAt(4096, 1024); !errors.Is(err, ErrSourceChanged) {
		t.Fatalf("miss after truncation = %v, want ErrSourceChanged", err)
	}
	if !s.Changed() {
		t.Fatalf("Changed = false after detection")
	}
}

func TestCloseRejectsReads(t *testing.T) {
	path, _ := fixture(t, 1024)
	s, err := Open(path, 256, 1<<20)
	if err != nil {
		t.Fatalf("Open = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
	if _, err := s.ReadAt(0, 10); !errors.Is(err, ErrClosed) {
		t.Fatalf("read after close = %v, want ErrClosed", err)
	}
}
