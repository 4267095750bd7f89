package app

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"

	"github.com/kobzarvs/qbuf/internal/config"
	"github.com/kobzarvs/qbuf/internal/document"
)

var kindStyles = map[string]tcell.Style{
	"keyword":  tcell.StyleDefault.Foreground(tcell.ColorPurple).Bold(true),
	"string":   tcell.StyleDefault.Foreground(tcell.ColorGreen),
	"number":   tcell.StyleDefault.Foreground(tcell.ColorTeal),
	"constant": tcell.StyleDefault.Foreground(tcell.ColorTeal),
	"comment":  tcell.StyleDefault.Foreground(tcell.ColorGray),
	"function": tcell.StyleDefault.Foreground(tcell.ColorBlue),
	"type":     tcell.StyleDefault.Foreground(tcell.ColorOlive),
	"operator": tcell.StyleDefault.Foreground(tcell.ColorSilver),
}

// view owns the cursor and translates keys into document operations. The
// cursor column is a byte offset within its line.
type view struct {
	doc    *document.Document
	margin int

	width  int
	height int // text rows, status line excluded

	top     int64
	curLine int64
	curCol  int

	status   string
	statusAt time.Time

	confirmSave bool
	confirmQuit bool
}

func newView(doc *document.Document, cfg config.Config) *view {
	return &view{doc: doc, margin: cfg.Engine.ViewportMargin}
}

func (v *view) resize(w, h int) {
	v.width = w
	v.height = h - 1
	if v.height < 1 {
		v.height = 1
	}
	v.doc.Resize(v.height, v.margin)
	v.doc.ScrollTo(v.top)
}

func (v *view) message(format string, args ...interface{}) {
	v.status = fmt.Sprintf(format, args...)
	v.statusAt = time.Now()
}

// handleKey returns true when the app should exit.
func (v *view) handleKey(ev *tcell.EventKey) bool {
	key := ev.Key()

	if v.confirmQuit && key != tcell.KeyCtrlQ && key != tcell.KeyEscape {
		v.confirmQuit = false
	}
	if v.confirmSave && key != tcell.KeyCtrlS {
		v.confirmSave = false
	}

	switch key {
	case tcell.KeyCtrlQ, tcell.KeyEscape:
		if v.doc.Dirty() && !v.confirmQuit {
			v.confirmQuit = true
			v.message("unsaved changes; press again to quit")
			return false
		}
		return true

	case tcell.KeyCtrlS:
		v.save()

	case tcell.KeyCtrlZ:
		if v.doc.Undo() {
			v.clampCursor()
			v.message("undone")
		} else {
			v.message("nothing to undo")
		}

	case tcell.KeyCtrlY:
		if v.doc.Redo() {
			v.clampCursor()
			v.message("redone")
		} else {
			v.message("nothing to redo")
		}

	case tcell.KeyUp:
		v.moveCursor(-1)
	case tcell.KeyDown:
		v.moveCursor(1)
	case tcell.KeyPgUp:
		v.moveCursor(-int64(v.height))
	case tcell.KeyPgDn:
		v.moveCursor(int64(v.height))
	case tcell.KeyHome:
		v.curCol = 0
	case tcell.KeyEnd:
		v.curCol = int(^uint(0) >> 1)
		v.clampCursor()

	case tcell.KeyLeft:
		v.moveLeft()
	case tcell.KeyRight:
		v.moveRight()

	case tcell.KeyEnter:
		if off, ok := v.cursorOffset(); ok {
			if err := v.doc.Insert(off, []byte("\n")); err != nil {
				v.message("insert: %v", err)
			} else {
				v.curLine++
				v.curCol = 0
			}
		}

	case tcell.KeyBackspace, tcell.KeyBackspace2:
		v.backspace()

	case tcell.KeyDelete:
		v.deleteForward()

	case tcell.KeyRune:
		if off, ok := v.cursorOffset(); ok {
			b := []byte(string(ev.Rune()))
			if err := v.doc.Insert(off, b); err != nil {
				v.message("insert: %v", err)
			} else {
				v.curCol += len(b)
			}
		}
	}

	v.followCursor()
	return false
}

func (v *view) save() {
	err := v.doc.Save()
	switch {
	case err == nil:
		v.message("saved %s", v.doc.Path())
	case errors.Is(err, document.ErrUnconfirmedSave):
		if v.confirmSave {
			v.confirmSave = false
			if ferr := v.doc.SaveForce(); ferr != nil {
				v.message("save failed: %v", ferr)
			} else {
				v.message("saved %s (overwrote external changes)", v.doc.Path())
			}
			return
		}
		v.confirmSave = true
		v.message("file changed on disk; press Ctrl+S again to overwrite")
	default:
		v.message("save failed: %v", err)
	}
}

func (v *view) moveCursor(delta int64) {
	v.curLine += delta
	if v.curLine < 0 {
		v.curLine = 0
	}
	if total, ok := v.doc.TotalLines(); ok && v.curLine > total-1 {
		v.curLine = total - 1
	}
	v.clampCursor()
}

func (v *view) moveLeft() {
	text, ok := v.lineText()
	if !ok {
		return
	}
	if v.curCol > 0 {
		_, size := utf8.DecodeLastRuneInString(text[:v.curCol])
		v.curCol -= size
		return
	}
	if v.curLine > 0 {
		v.curLine--
		if prev, ok := v.lineText(); ok {
			v.curCol = len(prev)
		} else {
			v.curCol = 0
		}
	}
}

func (v *view) moveRight() {
	text, ok := v.lineText()
	if !ok {
		return
	}
	if v.curCol < len(text) {
		_, size := utf8.DecodeRuneInString(text[v.curCol:])
		v.curCol += size
		return
	}
	if total, ok := v.doc.TotalLines(); !ok || v.curLine < total-1 {
		v.curLine++
		v.curCol = 0
	}
}

func (v *view) backspace() {
	if v.curCol > 0 {
		text, ok := v.lineText()
		if !ok {
			return
		}
		if v.curCol > len(text) {
			v.curCol = len(text)
		}
		_, size := utf8.DecodeLastRuneInString(text[:v.curCol])
		off, ok := v.cursorOffset()
		if !ok {
			return
		}
		if err := v.doc.Delete(off-int64(size), int64(size)); err != nil {
			v.message("delete: %v", err)
			return
		}
		v.curCol -= size
		return
	}
	if v.curLine == 0 {
		return
	}
	// Join with the previous line by removing its trailing newline.
	prevStart, prevEnd, ok := v.doc.LineRange(v.curLine - 1)
	if !ok || prevEnd == prevStart {
		return
	}
	if err := v.doc.Delete(prevEnd-1, 1); err != nil {
		v.message("delete: %v", err)
		return
	}
	v.curLine--
	v.curCol = int(prevEnd - 1 - prevStart)
}

func (v *view) deleteForward() {
	off, ok := v.cursorOffset()
	if !ok || off >= v.doc.Len() {
		return
	}
	// Past the line text the only thing left to delete is the newline.
	size := int64(1)
	if text, ok := v.lineText(); ok && v.curCol < len(text) {
		_, s := utf8.DecodeRuneInString(text[v.curCol:])
		size = int64(s)
	}
	if err := v.doc.Delete(off, size); err != nil {
		v.message("delete: %v", err)
	}
}

// lineText returns the cursor line's text, newline stripped.
func (v *view) lineText() (string, bool) {
	start, end, ok := v.doc.LineRange(v.curLine)
	if !ok {
		return "", false
	}
	data, err := v.doc.ReadRange(start, end)
	if err != nil {
		return "", false
	}
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	return string(data), true
}

func (v *view) cursorOffset() (int64, bool) {
	start, end, ok := v.doc.LineRange(v.curLine)
	if !ok {
		return 0, false
	}
	lineLen := end - start
	if lineLen > 0 {
		if data, err := v.doc.ReadRange(end-1, end); err == nil && len(data) == 1 && data[0] == '\n' {
			lineLen--
		}
	}
	col := int64(v.curCol)
	if col > lineLen {
		col = lineLen
	}
	return start + col, true
}

func (v *view) clampCursor() {
	if text, ok := v.lineText(); ok && v.curCol > len(text) {
		v.curCol = len(text)
	}
}

// followCursor keeps the cursor inside the visible rows.
func (v *view) followCursor() {
	if v.curLine < v.top {
		v.top = v.curLine
	}
	if v.curLine >= v.top+int64(v.height) {
		v.top = v.curLine - int64(v.height) + 1
	}
	v.doc.ScrollTo(v.top)
}

func (v *view) render(s tcell.Screen) {
	s.Clear()
	lines := v.doc.VisibleText()

	for row := 0; row < v.height; row++ {
		if row >= len(lines) {
			s.SetContent(0, row, '~', nil, tcell.StyleDefault.Foreground(tcell.ColorGray))
			continue
		}
		l := lines[row]
		if l.Pending {
			drawText(s, 0, row, "…", tcell.StyleDefault.Foreground(tcell.ColorGray))
			continue
		}
		v.drawLine(s, row, l)
	}

	v.drawStatus(s, lines)

	if v.curLine >= v.top && v.curLine < v.top+int64(v.height) {
		s.ShowCursor(colToCell(lines, v.curLine, v.curCol), int(v.curLine-v.top))
	} else {
		s.HideCursor()
	}
	s.Show()
}

func (v *view) drawLine(s tcell.Screen, row int, l document.Line) {
	x := 0
	col := 0
	for _, r := range l.Text {
		if x >= v.width {
			break
		}
		style := tcell.StyleDefault
		for _, sp := range l.Spans {
			if col >= sp.StartCol && col < sp.EndCol {
				if ks, ok := kindStyles[sp.Kind]; ok {
					style = ks
				}
				break
			}
		}
		s.SetContent(x, row, r, nil, style)
		x++
		col++
	}
}

func (v *view) drawStatus(s tcell.Screen, lines []document.Line) {
	style := tcell.StyleDefault.Reverse(true)
	dirty := ""
	if v.doc.Dirty() {
		dirty = " [+]"
	}
	changed := ""
	if v.doc.SourceChanged() {
		changed = " [changed on disk]"
	}
	left := fmt.Sprintf(" %s%s%s  %d:%d", v.doc.Path(), dirty, changed, v.curLine+1, v.curCol+1)
	if lang := v.doc.Language(); lang != "" {
		left += "  " + lang
	}
	if v.status != "" && time.Since(v.statusAt) < 4*time.Second {
		left += "  |  " + v.status
	}

	for x := 0; x < v.width; x++ {
		s.SetContent(x, v.height, ' ', nil, style)
	}
	drawText(s, 0, v.height, left, style)
}

func drawText(s tcell.Screen, x, y int, text string, style tcell.Style) {
	for _, r := range text {
		s.SetContent(x, y, r, nil, style)
		x++
	}
}

// colToCell converts the cursor's byte column to a screen cell, counting
// runes in the rendered line.
func colToCell(lines []document.Line, line int64, col int) int {
	for _, l := range lines {
		if l.Number != line || l.Pending {
			continue
		}
		if col > len(l.Text) {
			col = len(l.Text)
		}
		return utf8.RuneCountInString(l.Text[:col])
	}
	return 0
}
