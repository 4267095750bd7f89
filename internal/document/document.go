// Package document composes the engine: chunk store, piece table, line
// index, viewport, highlight cache and undo history behind one handle.
//
// One mutex enforces the single-writer discipline over the piece table,
// line index and history. Background workers materialize line offsets and
// token spans for the viewport; they take the same mutex for the bounded
// read phases and validate the buffer generation before their results are
// accepted, so a user who keeps typing while a scan is in flight can never
// see stale data.
package document

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kobzarvs/qbuf/internal/chunk"
	"github.com/kobzarvs/qbuf/internal/config"
	"github.com/kobzarvs/qbuf/internal/highlight"
	"github.com/kobzarvs/qbuf/internal/history"
	"github.com/kobzarvs/qbuf/internal/lineindex"
	"github.com/kobzarvs/qbuf/internal/logger"
	"github.com/kobzarvs/qbuf/internal/piece"
	"github.com/kobzarvs/qbuf/internal/viewport"
)

// ErrUnconfirmedSave reports that the source file changed on disk since it
// was opened; overwriting it needs an explicit SaveForce.
var ErrUnconfirmedSave = errors.New("source changed on disk; saving requires confirmation")

// Line is one row of visible content. Pending means the engine has not yet
// materialized the line; the caller renders a placeholder and the data
// arrives with a later VisibleText call.
type Line struct {
	Number  int64
	Text    string
	Spans   []highlight.Span
	Pending bool
}

type job struct {
	ticket uint64
	first  int64
	last   int64
}

// Document is one open file. All methods are safe for concurrent use.
type Document struct {
	mu   sync.Mutex
	path string
	lang string
	opts config.EngineOptions

	store *chunk.Store
	table *piece.Table
	lines *lineindex.Index
	view  *viewport.Manager
	cache *highlight.Cache
	hist  *history.Engine
	tok   highlight.Tokenizer

	dirty bool

	jobs    chan job
	quit    chan struct{}
	closeMu sync.Once
	wg      sync.WaitGroup
}

// Open opens path for editing. The file is paged, never loaded whole; a nil
// tokenizer disables highlighting. The caller owns Close.
func Open(path string, cfg config.Config, langs config.Languages, tok highlight.Tokenizer) (*Document, error) {
	opts := cfg.Engine
	store, err := chunk.Open(path, opts.ChunkSize, opts.ChunkCacheBudget)
	if err != nil {
		return nil, err
	}

	lang := ""
	if l := langs.Match(path); l != nil {
		lang = l.Name
	}

	d := &Document{
		path:  path,
		lang:  lang,
		opts:  opts,
		store: store,
		table: piece.New(store),
		lines: lineindex.New(),
		view:  viewport.New(40, opts.ViewportMargin),
		cache: highlight.NewCache(opts.HighlightCacheSize),
		hist:  history.New(opts.UndoDepth, time.Duration(opts.CoalesceWindowMS)*time.Millisecond),
		tok:   tok,
		jobs:  make(chan job, 128),
		quit:  make(chan struct{}),
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	logger.Info("document opened", "path", path, "size", store.Size(), "language", lang)

	d.mu.Lock()
	d.maybeMaterializeLocked()
	d.mu.Unlock()
	return d, nil
}

// Path returns the document's current path (SaveAs retargets it).
func (d *Document) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

// Language returns the language hint derived from the file name.
func (d *Document) Language() string {
	return d.lang
}

// Len returns the current document length in bytes.
func (d *Document) Len() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table.Len()
}

// Dirty reports unsaved edits.
func (d *Document) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

// SourceChanged reports that another process modified the file on disk.
// Editing continues against the in-memory state; Save will demand
// confirmation.
func (d *Document) SourceChanged() bool {
	return d.store.Changed()
}

// TotalLines returns the line count, if a scan has reached end of file yet.
func (d *Document) TotalLines() (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines.TotalLines()
}

// ReadRange returns the bytes in [start, end).
func (d *Document) ReadRange(start, end int64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table.ReadRange(start, end)
}

// LineRange returns the byte range [start, end) of line n, trailing newline
// included. ok is false while the line is not materialized; callers retry
// after the viewport catches up.
func (d *Document) LineRange(n int64) (start, end int64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	start, end, err := d.lines.LineSpan(n)
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}

// Insert places text at byte offset off and records it for undo.
func (d *Document) Insert(off int64, text []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	op, err := d.table.Insert(off, text)
	if err != nil {
		return err
	}
	if op.IsNoop() {
		return nil
	}
	d.hist.Record(op)
	d.applyToCachesLocked(op)
	d.dirty = true
	d.maybeMaterializeLocked()
	return nil
}

// Delete removes n bytes at off and records the removal for undo.
func (d *Document) Delete(off, n int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	op, err := d.table.Delete(off, n)
	if err != nil {
		return err
	}
	if op.IsNoop() {
		return nil
	}
	d.hist.Record(op)
	d.applyToCachesLocked(op)
	d.dirty = true
	d.maybeMaterializeLocked()
	return nil
}

// applyToCachesLocked patches the line index and highlight cache for an
// operation that was just applied to the table. Must run before any further
// mutation: OffsetLine needs the pre-edit offsets.
func (d *Document) applyToCachesLocked(op piece.EditOp) {
	gen := d.table.Generation()
	structural := op.HasNewlines()

	line, lineErr := d.lines.OffsetLine(op.Off)
	d.lines.ApplyEdit(op.Off, op.Delta(), !structural)

	if lineErr != nil {
		// Edit landed outside the indexed window; we cannot name the line,
		// so drop the whole cache rather than risk a stale entry.
		d.cache.Reset(gen)
		return
	}
	d.cache.ApplyEdit(line, structural, gen)
}

// Undo reverses the most recent edit unit. Returns false when there is
// nothing to undo.
func (d *Document) Undo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	op, ok := d.hist.Undo()
	if !ok {
		return false
	}
	inv := op.Inverse()
	if err := d.table.Apply(inv); err != nil {
		logger.Error("undo failed to apply", "error", err)
		return false
	}
	d.applyToCachesLocked(inv)
	d.dirty = true
	d.maybeMaterializeLocked()
	return true
}

// Redo reapplies the most recently undone unit.
func (d *Document) Redo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	op, ok := d.hist.Redo()
	if !ok {
		return false
	}
	if err := d.table.Apply(op); err != nil {
		logger.Error("redo failed to apply", "error", err)
		return false
	}
	d.applyToCachesLocked(op)
	d.dirty = true
	d.maybeMaterializeLocked()
	return true
}

// CanUndo reports whether an undo unit is available.
func (d *Document) CanUndo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hist.CanUndo()
}

// CanRedo reports whether a redo unit is available.
func (d *Document) CanRedo() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hist.CanRedo()
}

// ScrollTo moves the viewport to start at line and schedules whatever
// materialization the new window needs. It never blocks on the result.
func (d *Document) ScrollTo(line int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if total, ok := d.lines.TotalLines(); ok && line > total-1 {
		line = total - 1
	}
	d.view.ScrollTo(line)
	d.maybeMaterializeLocked()
}

// Resize sets the visible line count and prefetch margin.
func (d *Document) Resize(count, margin int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.view.SetGeometry(count, margin)
	d.maybeMaterializeLocked()
}

// FirstVisible returns the viewport's first line.
func (d *Document) FirstVisible() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view.First()
}

// VisibleText returns the visible lines, best effort. Lines not yet
// materialized come back Pending with empty text; the call itself never
// waits for background work.
func (d *Document) VisibleText() []Line {
	d.mu.Lock()
	defer d.mu.Unlock()

	vis := d.view.Visible()
	if total, ok := d.lines.TotalLines(); ok && vis.Last > total-1 {
		vis.Last = total - 1
	}

	out := make([]Line, 0, vis.Len())
	for n := vis.First; n <= vis.Last; n++ {
		text, err := d.lineTextLocked(n)
		if err != nil {
			out = append(out, Line{Number: n, Pending: true})
			continue
		}
		spans, _ := d.cache.Get(n)
		out = append(out, Line{Number: n, Text: text, Spans: spans})
	}
	d.maybeMaterializeLocked()
	return out
}

// lineTextLocked reads one line's text without its trailing newline.
func (d *Document) lineTextLocked(n int64) (string, error) {
	start, end, err := d.lines.LineSpan(n)
	if err != nil {
		return "", err
	}
	data, err := d.table.ReadRange(start, end)
	if err != nil {
		if errors.Is(err, chunk.ErrSourceChanged) {
			logger.Warn("source changed while reading line", "line", n)
		}
		return "", err
	}
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	return string(data), nil
}

// maybeMaterializeLocked dispatches a background job when the required
// window is not fully served by the line index and highlight cache.
func (d *Document) maybeMaterializeLocked() {
	total, known := d.lines.TotalLines()
	req := d.view.Required(total, known)
	if req.Last < req.First {
		return
	}

	if d.lines.Covers(req.First, req.Last) && d.highlightsCoveredLocked(req) {
		return
	}
	if d.view.State() == viewport.Materializing && d.view.Target() == req {
		// A job for this exact window is already in flight; re-dispatching
		// would only abandon it and start over.
		return
	}

	ticket := d.view.Begin(req)
	select {
	case d.jobs <- job{ticket: ticket, first: req.First, last: req.Last}:
	default:
		// Queue full; drop the request, the next scroll or render retries.
		logger.Warn("materialize queue full", "first", req.First, "last", req.Last)
		d.view.Reset()
	}
}

func (d *Document) highlightsCoveredLocked(req viewport.Range) bool {
	for n := req.First; n <= req.Last; n++ {
		if !d.cache.Has(n) {
			return false
		}
	}
	return true
}

// worker consumes materialization jobs until Close.
func (d *Document) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case j := <-d.jobs:
			d.materialize(j)
		}
	}
}

// sliceBytes bounds how many bytes one scan slice walks while holding the
// document mutex. Deep scans release the lock between slices, so edits and
// renders interleave with them instead of waiting out the whole scan.
const sliceBytes = 1 << 20

// materialize runs one job: extend the line index over the target range in
// bounded slices, then tokenize the lines that lack cached spans. Every
// slice re-checks job ownership under the lock, so a job whose target the
// viewport has left installs nothing. The tokenize phase runs outside the
// lock; its results are accepted only if the buffer generation is still the
// one the text was read at.
func (d *Document) materialize(j job) {
	first, last := j.first, j.last

	d.mu.Lock()
	for {
		if !d.view.Owns(j.ticket) {
			// The viewport moved on; a newer job owns materialization now.
			d.mu.Unlock()
			return
		}
		if total, ok := d.lines.TotalLines(); ok && last > total-1 {
			last = total - 1
		}
		if last < first {
			d.view.Complete(j.ticket)
			d.mu.Unlock()
			return
		}
		if d.lines.Covers(first, last) {
			break
		}

		// Resume from the first uncovered line so sliced scans accumulate.
		start := first
		for start <= last && d.lines.Covers(start, start) {
			start++
		}
		done, err := d.lines.ScanSlice(d.table, d.lines.Anchor(start), start, last, sliceBytes)
		if err != nil {
			if errors.Is(err, chunk.ErrSourceChanged) {
				logger.Warn("line scan aborted, source changed", "path", d.path)
			} else {
				logger.Error("line scan failed", "path", d.path, "error", err)
			}
			d.view.Complete(j.ticket)
			d.mu.Unlock()
			return
		}
		if done {
			continue
		}
		d.mu.Unlock()
		d.mu.Lock()
	}

	gen := d.table.Generation()
	type lineText struct {
		line int64
		text string
	}
	var work []lineText
	for n := first; n <= last; n++ {
		if d.cache.Has(n) {
			continue
		}
		text, err := d.lineTextLocked(n)
		if err != nil {
			continue
		}
		work = append(work, lineText{line: n, text: text})
	}
	d.mu.Unlock()

	// Tokenize without the lock; this is the expensive part.
	spans := make([][]highlight.Span, len(work))
	if d.tok != nil && d.lang != "" {
		for i, w := range work {
			s, err := d.tok.Tokenize(w.text, d.lang)
			if err != nil {
				// One malformed line must not take down the rest.
				logger.Debug("tokenizer error", "line", w.line, "error", err)
				s = nil
			}
			spans[i] = s
		}
	}

	d.mu.Lock()
	for i, w := range work {
		// Put rejects results computed against a superseded generation.
		d.cache.Put(w.line, gen, spans[i])
	}
	d.view.Complete(j.ticket)
	d.mu.Unlock()
}

// Close stops the workers and releases the file. Undo history and caches
// die with the document; nothing is persisted.
func (d *Document) Close() error {
	d.closeMu.Do(func() {
		close(d.quit)
	})
	d.wg.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.store.Close()
	logger.Info("document closed", "path", d.path)
	if err != nil {
		return fmt.Errorf("close %s: %w", d.path, err)
	}
	return nil
}
