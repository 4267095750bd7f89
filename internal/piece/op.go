package piece

import (
	"bytes"
	"time"
)

// OpKind distinguishes the two primitive edits.
type OpKind uint8

const (
	OpInsert OpKind = iota
	OpDelete
)

// EditOp records one reversible edit. For inserts Text is the inserted
// payload; for deletes it is the removed bytes, so the inverse can restore
// them. Immutable once created.
type EditOp struct {
	Kind OpKind
	Off  int64
	Text []byte
	Time time.Time
}

func newOp(kind OpKind, off int64, text []byte) EditOp {
	return EditOp{Kind: kind, Off: off, Text: text, Time: time.Now()}
}

// Len returns the payload length.
func (op EditOp) Len() int64 {
	return int64(len(op.Text))
}

// Delta returns the net change in document length.
func (op EditOp) Delta() int64 {
	if op.Kind == OpDelete {
		return -op.Len()
	}
	return op.Len()
}

// HasNewlines reports whether the payload contains line breaks. Edits
// without them shift line offsets uniformly and never change line counts,
// which lets the line index patch instead of rescanning.
func (op EditOp) HasNewlines() bool {
	return bytes.IndexByte(op.Text, '\n') >= 0
}

// Inverse returns the operation that undoes this one.
func (op EditOp) Inverse() EditOp {
	inv := op
	inv.Time = time.Now()
	if op.Kind == OpInsert {
		inv.Kind = OpDelete
	} else {
		inv.Kind = OpInsert
	}
	return inv
}

// IsNoop reports whether the operation changes nothing.
func (op EditOp) IsNoop() bool {
	return len(op.Text) == 0
}
