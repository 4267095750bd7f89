package piece

import (
	"bytes"
	"errors"
	"testing"
)

// memReader serves a byte slice through the Reader contract.
type memReader []byte

func (m memReader) ReadAt(off, n int64) ([]byte, error) {
	return []byte(m[off : off+n]), nil
}

func (m memReader) Size() int64 {
	return int64(len(m))
}

func mustRead(t *testing.T, tab *Table, start, end int64) string {
	t.Helper()
	data, err := tab.ReadRange(start, end)
	if err != nil {
		t.Fatalf("ReadRange(%d,%d) error: %v", start, end, err)
	}
	return string(data)
}

func content(t *testing.T, tab *Table) string {
	t.Helper()
	return mustRead(t, tab, 0, tab.Len())
}

func TestNewEmpty(t *testing.T) {
	tab := New(nil)
	if tab.Len() != 0 {
		t.Fatalf("Len = %d, want 0", tab.Len())
	}
	if got := mustRead(t, tab, 0, 0); got != "" {
		t.Fatalf("ReadRange(0,0) = %q, want empty", got)
	}
}

func TestInsertIntoOriginal(t *testing.T) {
	tab := New(memReader("abc\ndef\nghi"))
	if _, err := tab.Insert(0, []byte("X")); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if got := content(t, tab); got != "Xabc\ndef\nghi" {
		t.Fatalf("content = %q, want %q", got, "Xabc\ndef\nghi")
	}
	if err := tab.checkInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestInsertSplitsMiddle(t *testing.T) {
	tab := New(memReader("hello world"))
	if _, err := tab.Insert(5, []byte(",")); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if got := content(t, tab); got != "hello, world" {
		t.Fatalf("content = %q, want %q", got, "hello, world")
	}
	if tab.PieceCount() != 3 {
		t.Fatalf("PieceCount = %d, want 3", tab.PieceCount())
	}
}

func TestSequentialInsertsCoalescePieces(t *testing.T) {
	tab := New(nil)
	for i, ch := range []byte("typing") {
		if _, err := tab.Insert(int64(i), []byte{ch}); err != nil {
			t.Fatalf("Insert error: %v", err)
		}
	}
	if got := content(t, tab); got != "typing" {
		t.Fatalf("content = %q, want %q", got, "typing")
	}
	if tab.PieceCount() != 1 {
		t.Fatalf("PieceCount = %d, want 1 (adjacent added pieces must merge)", tab.PieceCount())
	}
}

func TestDeleteInterior(t *testing.T) {
	tab := New(memReader("hello cruel world"))
	op, err := tab.Delete(5, 6)
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if got := content(t, tab); got != "hello world" {
		t.Fatalf("content = %q, want %q", got, "hello world")
	}
	if string(op.Text) != " cruel" {
		t.Fatalf("op.Text = %q, want %q", op.Text, " cruel")
	}
	if err := tab.checkInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestDeleteAcrossPieces(t *testing.T) {
	tab := New(memReader("aaabbb"))
	if _, err := tab.Insert(3, []byte("XYZ")); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	// Document is now aaaXYZbbb across three pieces; delete aXYZb.
	if _, err := tab.Delete(2, 5); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if got := content(t, tab); got != "aabb" {
		t.Fatalf("content = %q, want %q", got, "aabb")
	}
	if err := tab.checkInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestDeleteEverything(t *testing.T) {
	tab := New(memReader("short"))
	if _, err := tab.Delete(0, tab.Len()); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if tab.Len() != 0 {
		t.Fatalf("Len = %d, want 0", tab.Len())
	}
	if tab.PieceCount() != 0 {
		t.Fatalf("PieceCount = %d, want 0", tab.PieceCount())
	}
}

func TestReadRangeEmptyAtAnyOffset(t *testing.T) {
	tab := New(memReader("abc"))
	for o := int64(0); o <= tab.Len(); o++ {
		data, err := tab.ReadRange(o, o)
		if err != nil {
			t.Fatalf("ReadRange(%d,%d) error: %v", o, o, err)
		}
		if len(data) != 0 {
			t.Fatalf("ReadRange(%d,%d) = %q, want empty", o, o, data)
		}
	}
}

func TestOutOfBounds(t *testing.T) {
	tab := New(memReader("abc"))
	if _, err := tab.ReadRange(0, 4); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("ReadRange error = %v, want ErrOutOfBounds", err)
	}
	if _, err := tab.Insert(4, []byte("x")); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("Insert error = %v, want ErrOutOfBounds", err)
	}
	if _, err := tab.Delete(2, 2); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("Delete error = %v, want ErrOutOfBounds", err)
	}
}

func TestLengthTracksDeltas(t *testing.T) {
	tab := New(nil)
	var want int64
	ops := []struct {
		insert bool
		off    int64
		text   string
		n      int64
	}{
		{insert: true, off: 0, text: "hello world"},
		{insert: true, off: 5, text: ", big"},
		{insert: false, off: 0, n: 6},
		{insert: true, off: 0, text: "a"},
		{insert: false, off: 3, n: 4},
	}
	for i, step := range ops {
		if step.insert {
			op, err := tab.Insert(step.off, []byte(step.text))
			if err != nil {
				t.Fatalf("step %d: Insert error: %v", i, err)
			}
			want += op.Delta()
		} else {
			op, err := tab.Delete(step.off, step.n)
			if err != nil {
				t.Fatalf("step %d: Delete error: %v", i, err)
			}
			want += op.Delta()
		}
		if tab.Len() != want {
			t.Fatalf("step %d: Len = %d, want %d", i, tab.Len(), want)
		}
		if err := tab.checkInvariants(); err != nil {
			t.Fatalf("step %d: invariants: %v", i, err)
		}
	}
}

func TestGenerationBumpsOnEveryMutation(t *testing.T) {
	tab := New(memReader("abc"))
	g0 := tab.Generation()
	if _, err := tab.Insert(1, []byte("x")); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if tab.Generation() != g0+1 {
		t.Fatalf("Generation = %d, want %d", tab.Generation(), g0+1)
	}
	if _, err := tab.Delete(1, 1); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if tab.Generation() != g0+2 {
		t.Fatalf("Generation = %d, want %d", tab.Generation(), g0+2)
	}
}

func TestApplyInverseRoundTrip(t *testing.T) {
	tab := New(memReader("abc\ndef\nghi"))
	before := content(t, tab)

	op, err := tab.Insert(4, []byte("zz\n"))
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	after := content(t, tab)

	if err := tab.Apply(op.Inverse()); err != nil {
		t.Fatalf("Apply inverse error: %v", err)
	}
	if got := content(t, tab); got != before {
		t.Fatalf("undo content = %q, want %q", got, before)
	}

	if err := tab.Apply(op); err != nil {
		t.Fatalf("Apply redo error: %v", err)
	}
	if got := content(t, tab); got != after {
		t.Fatalf("redo content = %q, want %q", got, after)
	}
}

func TestRebase(t *testing.T) {
	tab := New(memReader("one two"))
	if _, err := tab.Insert(3, []byte(" and a half")); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	saved := content(t, tab)

	tab.Rebase(memReader(saved))
	if got := content(t, tab); got != saved {
		t.Fatalf("content after rebase = %q, want %q", got, saved)
	}
	if tab.PieceCount() != 1 {
		t.Fatalf("PieceCount after rebase = %d, want 1", tab.PieceCount())
	}
}

func TestEditOpHasNewlines(t *testing.T) {
	tab := New(nil)
	op, err := tab.Insert(0, []byte("plain"))
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if op.HasNewlines() {
		t.Fatalf("HasNewlines = true for %q, want false", op.Text)
	}
	op, err = tab.Insert(0, []byte("two\nlines"))
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if !op.HasNewlines() {
		t.Fatalf("HasNewlines = false for %q, want true", op.Text)
	}
}

func TestReadRangeStitchesSources(t *testing.T) {
	orig := bytes.Repeat([]byte("0123456789"), 10)
	tab := New(memReader(orig))
	if _, err := tab.Insert(50, []byte("INSERTED")); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	want := string(orig[:50]) + "INSERTED" + string(orig[50:])
	if got := content(t, tab); got != want {
		t.Fatalf("content = %q, want %q", got, want)
	}
	// A window straddling the seam.
	if got := mustRead(t, tab, 45, 65); got != want[45:65] {
		t.Fatalf("window = %q, want %q", got, want[45:65])
	}
}
