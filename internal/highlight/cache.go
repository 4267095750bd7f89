// Package highlight caches per-line token spans for the visible window.
//
// Only lines the viewport has shown (plus margin) ever get tokenized; the
// cache is bounded by line count and drops the least-recently-rendered
// entries first. Every entry is tagged with the buffer generation it was
// computed against, so a result from a background worker that raced with an
// edit is rejected instead of displayed.
package highlight

import "container/list"

// Span is one highlighted region within a line, in rune columns.
type Span struct {
	StartCol int
	EndCol   int
	Kind     string
}

// Tokenizer turns a single raw line into token spans. Implementations only
// ever see one line at a time, never the whole document. A nil error with
// nil spans simply means "nothing to highlight".
type Tokenizer interface {
	Tokenize(line string, lang string) ([]Span, error)
}

type entry struct {
	line  int64
	spans []Span
	elem  *list.Element
}

// Cache is the per-document highlight cache. Not safe for concurrent use;
// the owning document serializes access and validates generations.
type Cache struct {
	max     int
	gen     uint64
	entries map[int64]*entry
	lru     *list.List // front = most recently rendered
}

// NewCache returns a cache bounded to max lines.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = 1
	}
	return &Cache{
		max:     max,
		entries: make(map[int64]*entry),
		lru:     list.New(),
	}
}

// Generation returns the buffer generation the cache currently tracks.
func (c *Cache) Generation() uint64 {
	return c.gen
}

// Get returns the cached spans for line and marks it recently rendered.
func (c *Cache) Get(line int64) ([]Span, bool) {
	e, ok := c.entries[line]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	return e.spans, true
}

// Has reports whether line is cached, without touching recency.
func (c *Cache) Has(line int64) bool {
	_, ok := c.entries[line]
	return ok
}

// Put stores spans computed against generation gen. Results computed
// against any other generation raced with an edit and are discarded.
func (c *Cache) Put(line int64, gen uint64, spans []Span) bool {
	if gen != c.gen {
		return false
	}
	if e, ok := c.entries[line]; ok {
		e.spans = spans
		c.lru.MoveToFront(e.elem)
		return true
	}
	e := &entry{line: line, spans: spans}
	e.elem = c.lru.PushFront(e)
	c.entries[line] = e
	for len(c.entries) > c.max {
		back := c.lru.Back()
		victim := back.Value.(*entry)
		c.lru.Remove(back)
		delete(c.entries, victim.line)
	}
	return true
}

// ApplyEdit moves the cache to generation gen and drops the entries the
// edit invalidated: just the edited line when the line structure is intact,
// everything from it onward when line boundaries moved. Surviving entries
// stay valid because their text did not change.
func (c *Cache) ApplyEdit(line int64, structural bool, gen uint64) {
	if structural {
		for l, e := range c.entries {
			if l >= line {
				c.lru.Remove(e.elem)
				delete(c.entries, l)
			}
		}
	} else if e, ok := c.entries[line]; ok {
		c.lru.Remove(e.elem)
		delete(c.entries, line)
	}
	c.gen = gen
}

// Reset drops everything and jumps to generation gen. Used after undo of
// structural edits and after a save rebase.
func (c *Cache) Reset(gen uint64) {
	c.entries = make(map[int64]*entry)
	c.lru.Init()
	c.gen = gen
}

// Len returns the number of cached lines.
func (c *Cache) Len() int {
	return len(c.entries)
}
