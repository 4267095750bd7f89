package document

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kobzarvs/qbuf/internal/chunk"
	"github.com/kobzarvs/qbuf/internal/logger"
)

// Save writes the document back to its own path via a temp file and atomic
// rename. If the source changed on disk since open, it refuses with
// ErrUnconfirmedSave; the caller confirms with SaveForce.
func (d *Document) Save() error {
	return d.save("", false)
}

// SaveForce saves to the document's own path even when the source changed
// on disk, overwriting the external modification.
func (d *Document) SaveForce() error {
	return d.save("", true)
}

// SaveAs writes to dest and retargets the document there. Writing to a
// different path never clobbers a changed source, so no confirmation is
// required unless dest is the original path.
func (d *Document) SaveAs(dest string) error {
	return d.save(dest, false)
}

func (d *Document) save(dest string, force bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if dest == "" {
		dest = d.path
	}
	if dest == d.path && !force && d.store.Changed() {
		return ErrUnconfirmedSave
	}

	if err := d.writeTempLocked(dest); err != nil {
		return err
	}

	// Rebase onto the freshly written file: the whole document becomes one
	// original piece, the added buffer is released, and the old store's
	// pages are dropped.
	newStore, err := chunk.Open(dest, d.opts.ChunkSize, d.opts.ChunkCacheBudget)
	if err != nil {
		return fmt.Errorf("reopen after save: %w", err)
	}
	old := d.store
	d.store = newStore
	d.table.Rebase(newStore)
	d.cache.Reset(d.table.Generation())
	d.path = dest
	d.dirty = false
	if err := old.Close(); err != nil {
		logger.Warn("closing pre-save store", "error", err)
	}

	logger.Info("document saved", "path", dest, "size", d.table.Len())
	d.maybeMaterializeLocked()
	return nil
}

// writeTempLocked streams the document into a temp file next to dest and
// renames it into place. Content flows in bounded batches through the piece
// table, so a multi-gigabyte document never lands in memory at once. Any
// failure leaves dest untouched.
func (d *Document) writeTempLocked(dest string) (err error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".qbuf-save-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	// CreateTemp opens with 0600; the rename would silently replace dest's
	// mode with that. Carry the existing permissions over, or the usual
	// default for a new file.
	mode := os.FileMode(0o644)
	if fi, serr := os.Stat(dest); serr == nil {
		mode = fi.Mode().Perm()
	}
	if cerr := tmp.Chmod(mode); cerr != nil {
		err = fmt.Errorf("set temp file mode: %w", cerr)
		return err
	}

	batch := int64(d.opts.SaveBatchSize)
	if batch <= 0 {
		batch = 1 << 20
	}
	total := d.table.Len()
	for pos := int64(0); pos < total; {
		end := pos + batch
		if end > total {
			end = total
		}
		data, rerr := d.table.ReadRange(pos, end)
		if rerr != nil {
			err = fmt.Errorf("read document at %d: %w", pos, rerr)
			return err
		}
		if _, werr := tmp.Write(data); werr != nil {
			err = fmt.Errorf("write temp file: %w", werr)
			return err
		}
		pos = end
	}

	if serr := tmp.Sync(); serr != nil {
		err = fmt.Errorf("sync temp file: %w", serr)
		return err
	}
	if cerr := tmp.Close(); cerr != nil {
		err = fmt.Errorf("close temp file: %w", cerr)
		return err
	}
	if rerr := os.Rename(tmpPath, dest); rerr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", rerr)
	}
	return nil
}
