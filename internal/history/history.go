// Package history records reversible edit operations with coalescing and
// bounded depth. The engine owns ordering only; applying an operation (or
// its inverse) to the buffer is the caller's job, which keeps the
// single-writer discipline in one place.
package history

import (
	"time"

	"github.com/kobzarvs/qbuf/internal/piece"
)

// DefaultDepth bounds the undo stack when the caller passes no limit.
const DefaultDepth = 1000

// Engine keeps the past and future stacks. Not safe for concurrent use.
type Engine struct {
	past   []piece.EditOp
	future []piece.EditOp

	max    int
	window time.Duration
}

// New returns an engine with the given history depth and coalescing window.
func New(depth int, window time.Duration) *Engine {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Engine{max: depth, window: window}
}

// Record adds an operation to the past stack and discards the future stack.
// A contiguous same-kind operation arriving within the coalescing window is
// merged into the previous unit so a typed word undoes as one step.
func (h *Engine) Record(op piece.EditOp) {
	if op.IsNoop() {
		return
	}
	h.future = h.future[:0]

	if len(h.past) > 0 && h.coalesce(&h.past[len(h.past)-1], op) {
		return
	}

	h.past = append(h.past, op)
	if len(h.past) > h.max {
		// Oldest units fall off silently; only undo depth is lost.
		excess := len(h.past) - h.max
		h.past = append(h.past[:0], h.past[excess:]...)
	}
}

// coalesce merges op into last when they form one continuous edit.
func (h *Engine) coalesce(last *piece.EditOp, op piece.EditOp) bool {
	if op.Kind != last.Kind {
		return false
	}
	if op.Time.Sub(last.Time) > h.window {
		return false
	}

	switch op.Kind {
	case piece.OpInsert:
		if op.Off == last.Off+last.Len() {
			last.Text = append(last.Text, op.Text...)
			last.Time = op.Time
			return true
		}
	case piece.OpDelete:
		if op.Off == last.Off {
			// Forward delete at a fixed offset.
			last.Text = append(last.Text, op.Text...)
			last.Time = op.Time
			return true
		}
		if op.Off+op.Len() == last.Off {
			// Backspace walking left.
			merged := make([]byte, 0, op.Len()+last.Len())
			merged = append(merged, op.Text...)
			merged = append(merged, last.Text...)
			last.Off = op.Off
			last.Text = merged
			last.Time = op.Time
			return true
		}
	}
	return false
}

// Undo pops the most recent unit onto the future stack and returns it.
// The caller applies the operation's inverse to the buffer.
func (h *Engine) Undo() (piece.EditOp, bool) {
	if len(h.past) == 0 {
		return piece.EditOp{}, false
	}
	op := h.past[len(h.past)-1]
	h.past = h.past[:len(h.past)-1]
	h.future = append(h.future, op)
	return op, true
}

// Redo moves the most recently undone unit back and returns it. The caller
// reapplies the operation as recorded.
func (h *Engine) Redo() (piece.EditOp, bool) {
	if len(h.future) == 0 {
		return piece.EditOp{}, false
	}
	op := h.future[len(h.future)-1]
	h.future = h.future[:len(h.future)-1]
	h.past = append(h.past, op)
	return op, true
}

// CanUndo reports whether the past stack is non-empty.
func (h *Engine) CanUndo() bool {
	return len(h.past) > 0
}

// CanRedo reports whether the future stack is non-empty.
func (h *Engine) CanRedo() bool {
	return len(h.future) > 0
}

// Depth returns the number of undoable units.
func (h *Engine) Depth() int {
	return len(h.past)
}

// Clear drops both stacks.
func (h *Engine) Clear() {
	h.past = h.past[:0]
	h.future = h.future[:0]
}
