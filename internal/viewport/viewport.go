// Package viewport tracks the visible line range and drives background
// materialization of line index and highlight data for it.
//
// The manager is a two-state machine. Idle means the visible range is fully
// served by the caches; Materializing means a scan/highlight job has been
// dispatched for a target range and its completion is awaited. Rendering
// never waits on it: callers show last-known content with pending markers
// for lines whose data has not arrived.
package viewport

// State is the manager's materialization state.
type State uint8

const (
	Idle State = iota
	Materializing
)

func (s State) String() string {
	if s == Materializing {
		return "materializing"
	}
	return "idle"
}

// Range is an inclusive line range.
type Range struct {
	First int64
	Last  int64
}

// Len returns the number of lines in the range.
func (r Range) Len() int64 {
	if r.Last < r.First {
		return 0
	}
	return r.Last - r.First + 1
}

// Contains reports whether line is inside the range.
func (r Range) Contains(line int64) bool {
	return line >= r.First && line <= r.Last
}

// Manager holds the viewport state. Not safe for concurrent use; the owning
// document serializes access. Viewport state is ephemeral and recomputed on
// every scroll or resize, never persisted.
type Manager struct {
	first  int64
	count  int
	margin int

	state  State
	target Range
	ticket uint64
}

// New returns a manager with the given geometry.
func New(count, margin int) *Manager {
	if count < 1 {
		count = 1
	}
	if margin < 0 {
		margin = 0
	}
	return &Manager{count: count, margin: margin}
}

// SetGeometry updates the visible line count and prefetch margin.
func (m *Manager) SetGeometry(count, margin int) {
	if count < 1 {
		count = 1
	}
	if margin < 0 {
		margin = 0
	}
	m.count = count
	m.margin = margin
}

// ScrollTo moves the first visible line. Clamping against the total line
// count is the caller's job because the total is often still unknown.
func (m *Manager) ScrollTo(line int64) {
	if line < 0 {
		line = 0
	}
	m.first = line
}

// First returns the first visible line.
func (m *Manager) First() int64 {
	return m.first
}

// Count returns the visible line count.
func (m *Manager) Count() int {
	return m.count
}

// Visible returns the on-screen line range.
func (m *Manager) Visible() Range {
	return Range{First: m.first, Last: m.first + int64(m.count) - 1}
}

// Required returns the range that must be materialized: the visible lines
// plus the margin on both sides, clamped to [0, totalLines) when the total
// is known. The result is never larger than count + 2*margin lines, no
// matter the document size.
func (m *Manager) Required(totalLines int64, totalKnown bool) Range {
	first := m.first - int64(m.margin)
	if first < 0 {
		first = 0
	}
	last := m.first + int64(m.count) + int64(m.margin) - 1
	if totalKnown {
		if last > totalLines-1 {
			last = totalLines - 1
		}
		if first > last {
			first = last
		}
		if first < 0 {
			first = 0
		}
	}
	return Range{First: first, Last: last}
}

// State returns Idle or Materializing.
func (m *Manager) State() State {
	return m.state
}

// Target returns the range the in-flight job is materializing.
func (m *Manager) Target() Range {
	return m.target
}

// Begin transitions to Materializing for target and returns a job ticket.
// Beginning again while already materializing retargets: the previous job's
// result will be abandoned when it reports in with a stale ticket.
func (m *Manager) Begin(target Range) uint64 {
	m.state = Materializing
	m.target = target
	m.ticket++
	return m.ticket
}

// Ticket returns the current job ticket.
func (m *Manager) Ticket() uint64 {
	return m.ticket
}

// Owns reports whether ticket still identifies the in-flight job. A job
// must check this before installing any partial result: false means the
// viewport moved on and the job's work must be discarded.
func (m *Manager) Owns(ticket uint64) bool {
	return m.state == Materializing && ticket == m.ticket
}

// Complete reports a finished job. Only the ticket of the current job
// transitions back to Idle; stale tickets return false and their results
// must be discarded.
func (m *Manager) Complete(ticket uint64) bool {
	if m.state != Materializing || ticket != m.ticket {
		return false
	}
	m.state = Idle
	return true
}

// Reset forces Idle, dropping any in-flight job's claim.
func (m *Manager) Reset() {
	m.state = Idle
	m.ticket++
}
