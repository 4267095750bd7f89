// Package app is the terminal shell around the text engine: a tcell event
// loop, a cursor, and a status line. All document state lives in the
// document package; the shell only translates keys into engine calls and
// paints whatever VisibleText returns, pending markers included.
package app

import (
	"errors"
	"runtime"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/kobzarvs/qbuf/internal/config"
	"github.com/kobzarvs/qbuf/internal/document"
	"github.com/kobzarvs/qbuf/internal/logger"
	"github.com/kobzarvs/qbuf/internal/treesitter"
)

// App is the top-level runtime for qbuf.
type App struct {
	args []string
}

func New(args []string) *App {
	return &App{args: args}
}

func (a *App) Run() error {
	runtime.LockOSThread()
	if len(a.args) == 0 {
		return errors.New("usage: qbuf <file>")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	langs, err := config.LoadLanguages()
	if err != nil {
		return err
	}

	doc, err := document.Open(a.args[0], cfg, langs, treesitter.New())
	if err != nil {
		return err
	}
	defer doc.Close()

	s, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	defer s.Fini()

	// Background workers deliver lines and highlights asynchronously; a
	// periodic interrupt wakes the loop so their results get painted even
	// when the user is idle.
	stopRefresh := make(chan struct{})
	defer close(stopRefresh)
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopRefresh:
				return
			case <-ticker.C:
				_ = s.PostEvent(tcell.NewEventInterrupt(nil))
			}
		}
	}()

	v := newView(doc, cfg)
	w, h := s.Size()
	v.resize(w, h)

	logger.Info("ui started", "path", doc.Path())
	for {
		v.render(s)
		switch ev := s.PollEvent().(type) {
		case *tcell.EventKey:
			if v.handleKey(ev) {
				return nil
			}
		case *tcell.EventResize:
			s.Sync()
			w, h := s.Size()
			v.resize(w, h)
		case *tcell.EventInterrupt:
			// Redraw; materialized lines may have arrived.
		}
	}
}
