package history

import (
	"testing"
	"time"

	"github.com/kobzarvs/qbuf/internal/piece"
)

func insertOp(off int64, text string, at time.Time) piece.EditOp {
	return piece.EditOp{Kind: piece.OpInsert, Off: off, Text: []byte(text), Time: at}
}

func deleteOp(off int64, text string, at time.Time) piece.EditOp {
	return piece.EditOp{Kind: piece.OpDelete, Off: off, Text: []byte(text), Time: at}
}

func TestUndoRedoOrder(t *testing.T) {
	h := New(10, 0)
	t0 := time.Now()
	h.Record(insertOp(0, "a", t0))
	h.Record(deleteOp(0, "a", t0.Add(time.Hour)))

	op, ok := h.Undo()
	if !ok || op.Kind != piece.OpDelete {
		t.Fatalf("first undo = %+v,%v, want the delete", op, ok)
	}
	op, ok = h.Undo()
	if !ok || op.Kind != piece.OpInsert {
		t.Fatalf("second undo = %+v,%v, want the insert", op, ok)
	}
	if _, ok := h.Undo(); ok {
		t.Fatalf("third undo succeeded on empty stack")
	}

	op, ok = h.Redo()
	if !ok || op.Kind != piece.OpInsert {
		t.Fatalf("first redo = %+v,%v, want the insert", op, ok)
	}
	op, ok = h.Redo()
	if !ok || op.Kind != piece.OpDelete {
		t.Fatalf("second redo = %+v,%v, want the delete", op, ok)
	}
}

func TestRecordClearsFuture(t *testing.T) {
	h := New(10, 0)
	t0 := time.Now()
	h.Record(insertOp(0, "a", t0))
	if _, ok := h.Undo(); !ok {
		t.Fatalf("undo failed")
	}
	h.Record(insertOp(0, "b", t0.Add(time.Hour)))
	if h.CanRedo() {
		t.Fatalf("CanRedo = true after new record, want branching history discarded")
	}
}

func TestCoalesceSequentialTyping(t *testing.T) {
	h := New(10, time.Second)
	t0 := time.Now()
	h.Record(insertOp(0, "h", t0))
	h.Record(insertOp(1, "e", t0.Add(10*time.Millisecond)))
	h.Record(insertOp(2, "y", t0.Add(20*time.Millisecond)))

	if h.Depth() != 1 {
		t.Fatalf("Depth = %d, want 1 coalesced unit", h.Depth())
	}
	op, _ := h.Undo()
	if string(op.Text) != "hey" || op.Off != 0 {
		t.Fatalf("unit = %q at %d, want %q at 0", op.Text, op.Off, "hey")
	}
}

func TestCoalesceBackspaceRun(t *testing.T) {
	h := New(10, time.Second)
	t0 := time.Now()
	// Deleting "xyz" backwards from offset 3.
	h.Record(deleteOp(2, "z", t0))
	h.Record(deleteOp(1, "y", t0.Add(10*time.Millisecond)))
	h.Record(deleteOp(0, "x", t0.Add(20*time.Millisecond)))

	if h.Depth() != 1 {
		t.Fatalf("Depth = %d, want 1", h.Depth())
	}
	op, _ := h.Undo()
	if string(op.Text) != "xyz" || op.Off != 0 {
		t.Fatalf("unit = %q at %d, want %q at 0", op.Text, op.Off, "xyz")
	}
}

func TestNoCoalesceAcrossWindow(t *testing.T) {
	h := New(10, 50*time.Millisecond)
	t0 := time.Now()
	h.Record(insertOp(0, "a", t0))
	h.Record(insertOp(1, "b", t0.Add(time.Second)))
	if h.Depth() != 2 {
		t.Fatalf("Depth = %d, want 2 (window elapsed)", h.Depth())
	}
}

func TestNoCoalesceNonContiguous(t *testing.T) {
	h := New(10, time.Second)
	t0 := time.Now()
	h.Record(insertOp(0, "a", t0))
	h.Record(insertOp(5, "b", t0.Add(time.Millisecond)))
	if h.Depth() != 2 {
		t.Fatalf("Depth = %d, want 2 (offsets not contiguous)", h.Depth())
	}
}

func TestDepthBound(t *testing.T) {
	h := New(3, 0)
	t0 := time.Now()
	for i := 0; i < 5; i++ {
		h.Record(insertOp(int64(i*10), "x", t0.Add(time.Duration(i)*time.Hour)))
	}
	if h.Depth() != 3 {
		t.Fatalf("Depth = %d, want 3", h.Depth())
	}
	// The survivors are the newest three.
	op, _ := h.Undo()
	if op.Off != 40 {
		t.Fatalf("newest unit off = %d, want 40", op.Off)
	}
}

func TestNoopNotRecorded(t *testing.T) {
	h := New(10, 0)
	h.Record(piece.EditOp{Kind: piece.OpInsert, Off: 0, Time: time.Now()})
	if h.CanUndo() {
		t.Fatalf("noop recorded")
	}
}
