// Package chunk provides read-only, paged access to a file on disk.
//
// The store hands out fixed-size chunks of file bytes, cached under a
// configurable byte budget with least-recently-used eviction. Chunks are
// immutable: the file is opened read-only and edits live elsewhere, so a
// cached chunk never has to be written back or revalidated unless the file
// itself changes underneath us.
package chunk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/kobzarvs/qbuf/internal/logger"
)

// ErrSourceChanged reports that the file was modified by another process
// while we had it open. Cached chunks may no longer match the bytes on disk.
var ErrSourceChanged = errors.New("source file changed on disk")

// ErrClosed reports a read against a closed store.
var ErrClosed = errors.New("chunk store is closed")

const shardCount = 16

// Store pages a single file. Reads from distinct file regions take distinct
// shard locks, so concurrent background scans do not serialize on one mutex.
type Store struct {
	file      *os.File
	path      string
	size      int64
	chunkSize int64

	shards      [shardCount]shard
	shardBudget int64

	changed atomic.Bool
	closed  atomic.Bool
}

type shard struct {
	mu     sync.Mutex
	chunks map[int64]*entry // keyed by aligned offset
	head   *entry           // most recently used
	tail   *entry
	bytes  int64
}

type entry struct {
	off  int64
	data []byte
	prev *entry
	next *entry
}

// Open opens path read-only and stats it to fix the session's view of its
// size. budget is the total cache budget in bytes; it is independent of the
// file size, so idle memory stays bounded no matter how large the file is.
func Open(path string, chunkSize int, budget int64) (*Store, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	s := &Store{
		file:        f,
		path:        path,
		size:        fi.Size(),
		chunkSize:   int64(chunkSize),
		shardBudget: budget / shardCount,
	}
	if s.shardBudget < s.chunkSize {
		s.shardBudget = s.chunkSize
	}
	for i := range s.shards {
		s.shards[i].chunks = make(map[int64]*entry)
	}
	logger.Debug("chunk store opened", "path", path, "size", fi.Size(), "chunkSize", chunkSize)
	return s, nil
}

// Size returns the file size recorded at open time. Edits never change it;
// the logical document length lives in the piece table.
func (s *Store) Size() int64 {
	return s.size
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Changed reports whether an external modification has been detected.
func (s *Store) Changed() bool {
	return s.changed.Load()
}

// ReadAt returns n bytes starting at off, stitching across cached chunks.
// It fails with ErrSourceChanged if the file was externally modified, and
// with a wrapped IO error on permission or read failures.
func (s *Store) ReadAt(off, n int64) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if n == 0 {
		return nil, nil
	}
	if off < 0 || n < 0 || off+n > s.size {
		return nil, fmt.Errorf("read [%d,%d) beyond file size %d", off, off+n, s.size)
	}

	out := make([]byte, 0, n)
	for int64(len(out)) < n {
		aligned := (off / s.chunkSize) * s.chunkSize
		data, err := s.chunk(aligned)
		if err != nil {
			return nil, err
		}
		from := off - aligned
		take := int64(len(data)) - from
		if remain := n - int64(len(out)); take > remain {
			take = remain
		}
		if take <= 0 {
			// The chunk came back shorter than the offset we need, which
			// means the file shrank underneath us.
			s.changed.Store(true)
			return nil, ErrSourceChanged
		}
		out = append(out, data[from:from+take]...)
		off += take
	}
	return out, nil
}

// chunk returns the cached chunk at the aligned offset, loading it on miss.
func (s *Store) chunk(aligned int64) ([]byte, error) {
	sh := &s.shards[(aligned/s.chunkSize)%shardCount]

	sh.mu.Lock()
	if e, ok := sh.chunks[aligned]; ok {
		sh.moveToFront(e)
		data := e.data
		sh.mu.Unlock()
		return data, nil
	}
	sh.mu.Unlock()

	data, err := s.load(aligned)
	if err != nil {
		return nil, err
	}

	sh.mu.Lock()
	if e, ok := sh.chunks[aligned]; ok {
		// Raced with another reader; keep the first copy.
		sh.moveToFront(e)
		data = e.data
	} else {
		e := &entry{off: aligned, data: data}
		sh.chunks[aligned] = e
		sh.pushFront(e)
		sh.bytes += int64(len(data))
		for sh.bytes > s.shardBudget && sh.tail != nil && sh.tail != sh.head {
			victim := sh.tail
			sh.remove(victim)
			delete(sh.chunks, victim.off)
			sh.bytes -= int64(len(victim.data))
		}
	}
	sh.mu.Unlock()
	return data, nil
}

// load reads one chunk from disk, first checking that the file still looks
// like the one we opened.
func (s *Store) load(aligned int64) ([]byte, error) {
	fi, err := s.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}
	if fi.Size() != s.size {
		s.changed.Store(true)
		logger.Warn("source file size changed", "path", s.path, "was", s.size, "now", fi.Size())
		return nil, ErrSourceChanged
	}

	want := s.chunkSize
	if aligned+want > s.size {
		want = s.size - aligned
	}
	buf := make([]byte, want)
	n, err := s.file.ReadAt(buf, aligned)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %s at %d: %w", s.path, aligned, err)
	}
	if int64(n) < want {
		// Stat said the bytes should be there; a short read means the file
		// shrank between the stat and the read.
		s.changed.Store(true)
		return nil, ErrSourceChanged
	}
	return buf, nil
}

// Close releases the file descriptor and drops all cached chunks.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.chunks = make(map[int64]*entry)
		sh.head, sh.tail, sh.bytes = nil, nil, 0
		sh.mu.Unlock()
	}
	return s.file.Close()
}

// intrusive LRU list; callers hold sh.mu.

func (sh *shard) pushFront(e *entry) {
	e.prev = nil
	e.next = sh.head
	if sh.head != nil {
		sh.head.prev = e
	}
	sh.head = e
	if sh.tail == nil {
		sh.tail = e
	}
}

func (sh *shard) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		sh.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		sh.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (sh *shard) moveToFront(e *entry) {
	if sh.head == e {
		return
	}
	sh.remove(e)
	sh.pushFront(e)
}
