// Package piece implements the logical text buffer as a piece table.
//
// The document is an ordered sequence of pieces, each referencing either a
// range of the original file (served by a chunk store) or a range of the
// in-memory added-text buffer. Edits split pieces at their boundaries and
// never touch unaffected regions, so the cost of an edit scales with the
// number of pieces involved, not with the document size.
package piece

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
)

// ErrOutOfBounds reports a range outside the current document length.
// It indicates a caller bug, not a user-facing condition.
var ErrOutOfBounds = errors.New("range outside document bounds")

// Reader is the read side of the original file. *chunk.Store satisfies it.
type Reader interface {
	ReadAt(off, n int64) ([]byte, error)
	Size() int64
}

type source uint8

const (
	original source = iota
	added
)

// span is one piece: a tagged range into the original file or added buffer.
type span struct {
	src source
	off int64
	n   int64
}

// Table is the piece table. It is not safe for concurrent mutation; the
// owning document serializes writers and hands read-only snapshots of byte
// ranges to background workers.
type Table struct {
	store Reader

	arena []span  // every piece ever created; order holds the live ones
	order []int32 // arena indices in logical document order
	add   []byte  // append-only added-text buffer

	length int64
	gen    uint64

	cums   []int64 // cums[i] = logical start offset of order[i]
	cumsOK bool
}

// New builds a table over the original file. A nil reader or empty file
// yields an empty document.
func New(store Reader) *Table {
	t := &Table{store: store}
	if store != nil && store.Size() > 0 {
		t.length = store.Size()
		t.order = []int32{t.alloc(span{src: original, off: 0, n: t.length})}
	}
	return t
}

func (t *Table) alloc(s span) int32 {
	t.arena = append(t.arena, s)
	return int32(len(t.arena) - 1)
}

// Len returns the current document length in bytes.
func (t *Table) Len() int64 {
	return t.length
}

// Generation returns the edit generation, bumped on every mutation. Caches
// tagged with an older generation must be recomputed before use.
func (t *Table) Generation() uint64 {
	return t.gen
}

// PieceCount returns the number of live pieces.
func (t *Table) PieceCount() int {
	return len(t.order)
}

func (t *Table) buildCums() {
	if t.cumsOK {
		return
	}
	t.cums = t.cums[:0]
	var off int64
	for _, idx := range t.order {
		t.cums = append(t.cums, off)
		off += t.arena[idx].n
	}
	t.cumsOK = true
}

// locate returns the index into order of the piece containing off, and the
// relative offset within it. off == length locates one past the last piece.
func (t *Table) locate(off int64) (int, int64) {
	t.buildCums()
	if len(t.order) == 0 || off >= t.length {
		return len(t.order), 0
	}
	i := sort.Search(len(t.cums), func(i int) bool { return t.cums[i] > off }) - 1
	return i, off - t.cums[i]
}

// ReadRange returns the bytes in [start, end), stitching across pieces and
// chunk reads. ReadRange(o, o) returns empty bytes for any in-bounds o.
func (t *Table) ReadRange(start, end int64) ([]byte, error) {
	if start < 0 || end < start || end > t.length {
		return nil, fmt.Errorf("%w: [%d,%d) of %d", ErrOutOfBounds, start, end, t.length)
	}
	if start == end {
		return []byte{}, nil
	}

	out := make([]byte, 0, end-start)
	i, rel := t.locate(start)
	remain := end - start
	for remain > 0 && i < len(t.order) {
		p := t.arena[t.order[i]]
		take := p.n - rel
		if take > remain {
			take = remain
		}
		switch p.src {
		case added:
			out = append(out, t.add[p.off+rel:p.off+rel+take]...)
		case original:
			data, err := t.store.ReadAt(p.off+rel, take)
			if err != nil {
				return nil, err
			}
			out = append(out, data...)
		}
		remain -= take
		rel = 0
		i++
	}
	return out, nil
}

// Insert places text at off and returns the recorded operation.
func (t *Table) Insert(off int64, text []byte) (EditOp, error) {
	if off < 0 || off > t.length {
		return EditOp{}, fmt.Errorf("%w: insert at %d of %d", ErrOutOfBounds, off, t.length)
	}
	if len(text) == 0 {
		return newOp(OpInsert, off, nil), nil
	}

	addOff := int64(len(t.add))
	t.add = append(t.add, text...)
	t.insertSpan(off, span{src: added, off: addOff, n: int64(len(text))})

	t.length += int64(len(text))
	t.gen++
	t.cumsOK = false
	return newOp(OpInsert, off, bytes.Clone(text)), nil
}

// insertSpan splices s into the piece sequence at logical offset off,
// splitting the containing piece when off falls inside one. Two added
// pieces that are adjacent both logically and in the added buffer merge
// into one, which keeps sequential typing from growing the table.
func (t *Table) insertSpan(off int64, s span) {
	i, rel := t.locate(off)

	if rel == 0 {
		// Boundary insert; try to extend the preceding added piece.
		if i > 0 {
			prev := &t.arena[t.order[i-1]]
			if prev.src == added && s.src == added && prev.off+prev.n == s.off {
				prev.n += s.n
				return
			}
		}
		t.order = append(t.order, 0)
		copy(t.order[i+1:], t.order[i:])
		t.order[i] = t.alloc(s)
		return
	}

	// Split the containing piece around the insertion point.
	p := t.arena[t.order[i]]
	left := span{src: p.src, off: p.off, n: rel}
	right := span{src: p.src, off: p.off + rel, n: p.n - rel}

	t.order = append(t.order, 0, 0)
	copy(t.order[i+3:], t.order[i+1:])
	t.order[i] = t.alloc(left)
	t.order[i+1] = t.alloc(s)
	t.order[i+2] = t.alloc(right)
}

// Delete removes n bytes at off and returns the recorded operation, which
// carries the removed bytes for undo.
func (t *Table) Delete(off, n int64) (EditOp, error) {
	if off < 0 || n < 0 || off+n > t.length {
		return EditOp{}, fmt.Errorf("%w: delete [%d,%d) of %d", ErrOutOfBounds, off, off+n, t.length)
	}
	if n == 0 {
		return newOp(OpDelete, off, nil), nil
	}

	removed, err := t.ReadRange(off, off+n)
	if err != nil {
		return EditOp{}, err
	}

	t.deleteSpan(off, n)
	t.length -= n
	t.gen++
	t.cumsOK = false
	return newOp(OpDelete, off, removed), nil
}

// deleteSpan removes the logical range [off, off+n): boundary pieces are
// truncated, interior pieces dropped. No zero-length piece survives.
func (t *Table) deleteSpan(off, n int64) {
	i0, rel0 := t.locate(off)

	keep := make([]int32, 0, len(t.order))
	keep = append(keep, t.order[:i0]...)

	i := i0
	rel := rel0
	remain := n
	for remain > 0 && i < len(t.order) {
		p := t.arena[t.order[i]]
		if rel > 0 {
			// Left fragment of the first affected piece survives.
			keep = append(keep, t.alloc(span{src: p.src, off: p.off, n: rel}))
		}
		take := p.n - rel
		if take > remain {
			// Right fragment of the last affected piece survives.
			cut := rel + remain
			keep = append(keep, t.alloc(span{src: p.src, off: p.off + cut, n: p.n - cut}))
			take = remain
		}
		remain -= take
		rel = 0
		i++
	}
	keep = append(keep, t.order[i:]...)
	t.order = keep
}

// Apply replays an operation against the table. Redo applies the original
// operation; undo applies op.Inverse().
func (t *Table) Apply(op EditOp) error {
	switch op.Kind {
	case OpInsert:
		_, err := t.Insert(op.Off, op.Text)
		return err
	case OpDelete:
		_, err := t.Delete(op.Off, int64(len(op.Text)))
		return err
	default:
		return fmt.Errorf("unknown edit kind %d", op.Kind)
	}
}

// Rebase repoints the table at a freshly written file: the whole document
// becomes one original piece over store, and the added buffer is released.
// Called by the save pipeline after a successful atomic rename.
func (t *Table) Rebase(store Reader) {
	t.store = store
	t.arena = t.arena[:0]
	t.order = t.order[:0]
	t.add = nil
	t.length = 0
	t.cumsOK = false
	if store != nil && store.Size() > 0 {
		t.length = store.Size()
		t.order = append(t.order, t.alloc(span{src: original, off: 0, n: t.length}))
	}
	t.gen++
}

// checkInvariants verifies that piece lengths sum to the document length and
// that no zero-length piece survived. Used by tests.
func (t *Table) checkInvariants() error {
	var sum int64
	for _, idx := range t.order {
		p := t.arena[idx]
		if p.n <= 0 {
			return fmt.Errorf("zero-length piece at arena index %d", idx)
		}
		sum += p.n
	}
	if sum != t.length {
		return fmt.Errorf("piece lengths sum to %d, document length is %d", sum, t.length)
	}
	return nil
}
