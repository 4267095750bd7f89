// Package lineindex maps line numbers to byte offsets for the regions of
// the document that have actually been scanned.
//
// The index never holds entries for the whole file. It keeps a dense
// per-line window for the lines the viewport needs, plus sparse checkpoints
// dropped along the way during scans so later jumps start near their target
// instead of at offset zero. Anything outside that coverage answers
// ErrNotIndexed, which callers treat as "scan first", not as a failure.
package lineindex

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotIndexed reports a lookup outside the scanned coverage. It is a
// control-flow signal: trigger a scan and retry.
var ErrNotIndexed = errors.New("line region not indexed")

// Entry pairs a line number with the byte offset where the line starts.
type Entry struct {
	Line   int64
	Offset int64
}

// RangeReader supplies document bytes to a scan. *piece.Table satisfies it.
type RangeReader interface {
	ReadRange(start, end int64) ([]byte, error)
	Len() int64
}

// CheckpointStride is the line interval between sparse checkpoints.
const CheckpointStride = 4096

// DefaultScanBatch is how many bytes a scan reads per ReadRange call.
const DefaultScanBatch = 64 * 1024

// Index holds the line/offset mapping. Not safe for concurrent use; the
// owning document serializes access.
type Index struct {
	winStart   int64   // line number of winOffs[0]
	winOffs    []int64 // start offset per line in the window
	winEndOff  int64   // offset one past the last byte scanned for the window
	winEndOpen bool    // end sits at EOF rather than at the next line's start

	checkpoints []Entry // strictly increasing in both line and offset

	totalKnown bool
	totalLines int64

	scanBatch int64
}

// New returns an empty index. Line 0 always starts at offset 0, so that
// checkpoint is present from the start.
func New() *Index {
	return &Index{
		checkpoints: []Entry{{Line: 0, Offset: 0}},
		scanBatch:   DefaultScanBatch,
	}
}

// LineOffset returns the byte offset where line n starts, or ErrNotIndexed
// when n is outside both the window and the checkpoints.
func (x *Index) LineOffset(n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative line %d", ErrNotIndexed, n)
	}
	if n >= x.winStart && n < x.winStart+int64(len(x.winOffs)) {
		return x.winOffs[n-x.winStart], nil
	}
	i := sort.Search(len(x.checkpoints), func(i int) bool { return x.checkpoints[i].Line >= n })
	if i < len(x.checkpoints) && x.checkpoints[i].Line == n {
		return x.checkpoints[i].Offset, nil
	}
	return 0, fmt.Errorf("%w: line %d", ErrNotIndexed, n)
}

// OffsetLine returns the line containing byte offset o, or ErrNotIndexed
// when o falls outside the window.
func (x *Index) OffsetLine(o int64) (int64, error) {
	if len(x.winOffs) == 0 || o < x.winOffs[0] || o >= x.winEndOff {
		return 0, fmt.Errorf("%w: offset %d", ErrNotIndexed, o)
	}
	i := sort.Search(len(x.winOffs), func(i int) bool { return x.winOffs[i] > o }) - 1
	return x.winStart + int64(i), nil
}

// LineSpan returns the byte range [start, end) of line n including its
// trailing newline, if any. Only lines inside the dense window have a
// measurable span.
func (x *Index) LineSpan(n int64) (start, end int64, err error) {
	rel := n - x.winStart
	if rel < 0 || rel >= int64(len(x.winOffs)) {
		return 0, 0, fmt.Errorf("%w: line %d", ErrNotIndexed, n)
	}
	start = x.winOffs[rel]
	if rel+1 < int64(len(x.winOffs)) {
		end = x.winOffs[rel+1]
	} else {
		end = x.winEndOff
	}
	return start, end, nil
}

// Covers reports whether the dense window covers lines [first, last].
func (x *Index) Covers(first, last int64) bool {
	if first > last {
		return true
	}
	return len(x.winOffs) > 0 &&
		first >= x.winStart &&
		last < x.winStart+int64(len(x.winOffs))
}

// Anchor returns the best known entry at or before the target line. The
// zero checkpoint guarantees there is always one.
func (x *Index) Anchor(target int64) Entry {
	best := Entry{}
	i := sort.Search(len(x.checkpoints), func(i int) bool { return x.checkpoints[i].Line > target })
	if i > 0 {
		best = x.checkpoints[i-1]
	}
	if len(x.winOffs) > 0 && x.winStart <= target {
		last := x.winStart + int64(len(x.winOffs)) - 1
		if last > target {
			last = target
		}
		if last >= best.Line {
			best = Entry{Line: last, Offset: x.winOffs[last-x.winStart]}
		}
	}
	return best
}

// TotalLines returns the line count if a scan has reached end of file.
func (x *Index) TotalLines() (int64, bool) {
	return x.totalLines, x.totalKnown
}

// ScanRegion scans forward from anchor (which must be a known line start)
// counting newline bytes, and replaces the dense window with per-line
// entries for [firstLine, lastLine]. The scan stops once lastLine has been
// fully measured or end of file is reached; it never walks past what it
// needs.
func (x *Index) ScanRegion(r RangeReader, anchor Entry, firstLine, lastLine int64) error {
	_, err := x.ScanSlice(r, anchor, firstLine, lastLine, 0)
	return err
}

// ScanSlice is ScanRegion bounded to at most maxBytes scanned bytes
// (0 means no limit). When the budget runs out before the target range is
// fully measured it returns done == false, leaving a checkpoint at the
// resume point so the next slice's Anchor lands there; callers loop slices,
// which keeps any single call's cost bounded no matter how far the target
// is. Checkpoints are recorded along the way at CheckpointStride intervals.
func (x *Index) ScanSlice(r RangeReader, anchor Entry, firstLine, lastLine, maxBytes int64) (done bool, err error) {
	if firstLine < anchor.Line || lastLine < firstLine {
		return false, fmt.Errorf("scan range [%d,%d] behind anchor line %d", firstLine, lastLine, anchor.Line)
	}
	docLen := r.Len()
	limit := docLen
	if maxBytes > 0 && anchor.Offset+maxBytes < docLen {
		limit = anchor.Offset + maxBytes
	}

	line := anchor.Line
	lineStart := anchor.Offset
	pos := anchor.Offset

	var offs []int64
	recStart := int64(-1)
	record := func() {
		if line >= firstLine && line <= lastLine {
			if recStart < 0 {
				recStart = line
			}
			offs = append(offs, lineStart)
		}
		if line%CheckpointStride == 0 {
			x.addCheckpoint(Entry{Line: line, Offset: lineStart})
		}
	}
	record()

	scanEnd := pos
	for pos < docLen && line <= lastLine {
		// The budget may only stop the scan between lines; a slice that made
		// no line progress would resume at its own anchor and never advance,
		// so an over-budget line is scanned to its newline regardless.
		if pos >= limit && line > anchor.Line {
			break
		}
		stop := limit
		if pos >= limit {
			stop = docLen
		}
		batchEnd := pos + x.scanBatch
		if batchEnd > stop {
			batchEnd = stop
		}
		data, rerr := r.ReadRange(pos, batchEnd)
		if rerr != nil {
			return false, fmt.Errorf("line scan read: %w", rerr)
		}
		for i, b := range data {
			if b != '\n' {
				continue
			}
			line++
			lineStart = pos + int64(i) + 1
			record()
			if line > lastLine {
				scanEnd = lineStart
				break
			}
		}
		if line > lastLine {
			break
		}
		pos = batchEnd
		scanEnd = pos
	}

	done = true
	endOpen := false
	switch {
	case line > lastLine:
		// scanEnd is the start of the first line past lastLine.
	case pos >= docLen:
		// Reached end of file before lastLine; the document simply has
		// fewer lines than requested.
		x.totalKnown = true
		x.totalLines = line + 1
		scanEnd = docLen
		endOpen = true
	default:
		// Byte budget exhausted mid-scan. The current line's end is
		// unknown, so it stays out of the window; the checkpoint lets the
		// next slice resume here.
		done = false
		x.addCheckpoint(Entry{Line: line, Offset: lineStart})
		if n := len(offs); n > 0 && offs[n-1] == lineStart {
			offs = offs[:n-1]
		}
		scanEnd = lineStart
	}

	if len(offs) > 0 {
		if len(x.winOffs) > 0 && !x.winEndOpen &&
			recStart == x.winStart+int64(len(x.winOffs)) && offs[0] == x.winEndOff {
			// Contiguous continuation; extend the window instead of
			// replacing it, so sliced scans accumulate coverage.
			x.winOffs = append(x.winOffs, offs...)
		} else {
			x.winStart = recStart
			x.winOffs = offs
		}
		x.winEndOff = scanEnd
		x.winEndOpen = endOpen
	}
	return done, nil
}

func (x *Index) addCheckpoint(e Entry) {
	i := sort.Search(len(x.checkpoints), func(i int) bool { return x.checkpoints[i].Line >= e.Line })
	if i < len(x.checkpoints) && x.checkpoints[i].Line == e.Line {
		x.checkpoints[i] = e
		return
	}
	x.checkpoints = append(x.checkpoints, Entry{})
	copy(x.checkpoints[i+1:], x.checkpoints[i:])
	x.checkpoints[i] = e
}

// ApplyEdit patches the index for an edit of net length delta at off.
// When the edit provably changes no newlines, every entry past the edit
// point shifts by delta. Otherwise the tail from the line containing the
// edit onward is dropped and left for the next scan; serving a possibly
// stale offset or span is never an option.
func (x *Index) ApplyEdit(off, delta int64, newlineSafe bool) {
	if newlineSafe {
		for i := range x.winOffs {
			if x.winOffs[i] > off {
				x.winOffs[i] += delta
			}
		}
		// An edit at the window end belongs to the last window line only
		// when the end sits at EOF. When it sits at the next (unscanned)
		// line's start, the edit is that line's and the window is untouched.
		if x.winEndOff > off || (x.winEndOff == off && x.winEndOpen) {
			x.winEndOff += delta
		}
		for i := range x.checkpoints {
			if x.checkpoints[i].Offset > off {
				x.checkpoints[i].Offset += delta
			}
		}
		return
	}

	// Newline structure may have changed. The line containing the edit has
	// an unknown end now, so it goes too, not just the lines after it.
	inWindow := len(x.winOffs) > 0 && off >= x.winOffs[0] &&
		(off < x.winEndOff || (off == x.winEndOff && x.winEndOpen))
	if len(x.winOffs) > 0 && off < x.winOffs[0] {
		x.winStart = 0
		x.winOffs = nil
		x.winEndOff = 0
		x.winEndOpen = false
	} else if inWindow {
		i := sort.Search(len(x.winOffs), func(i int) bool { return x.winOffs[i] > off })
		keep := i - 1
		if keep <= 0 {
			x.winStart = 0
			x.winOffs = nil
			x.winEndOff = 0
		} else {
			x.winEndOff = x.winOffs[keep]
			x.winOffs = x.winOffs[:keep]
		}
		x.winEndOpen = false
	}

	kept := x.checkpoints[:0]
	for _, cp := range x.checkpoints {
		if cp.Offset < off || cp.Line == 0 {
			kept = append(kept, cp)
		}
	}
	x.checkpoints = kept
	x.totalKnown = false
}

// Invalidate drops everything but the zero checkpoint. Used when the whole
// document is replaced, e.g. after undo of a multi-line edit or a rebase.
func (x *Index) Invalidate() {
	x.winStart = 0
	x.winOffs = nil
	x.winEndOff = 0
	x.winEndOpen = false
	x.checkpoints = x.checkpoints[:1]
	x.totalKnown = false
	x.totalLines = 0
}
