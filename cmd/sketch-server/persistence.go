// persistence.go moves snapshots between the Store and disk.
//
// The server persists with point-in-time snapshots only. A snapshot is
// loaded once at startup, before the listener opens, and written by the SAVE
// command, by the background saver in main.go and once more at shutdown.
//
// There is no command journal. t-digest insertion and merging draw random
// numbers, so replaying the same commands would not rebuild the same digest;
// the snapshot stores the sketches themselves instead.
//
// Atomic Writes
// =============
//
// saveSnapshot streams into "<file>.tmp", fsyncs it and renames it over the
// live file. A crash at any point leaves either the previous snapshot or the
// new one on disk, never a partial file.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"time"
)

// errSaveInProgress is returned when a save is requested while another one
// is still running.
var errSaveInProgress = errors.New("ERR background save already in progress")

// saveSnapshot writes the store to the configured snapshot file. Only one
// save runs at a time; a concurrent call returns errSaveInProgress.
func (app *application) saveSnapshot() (err error) {
	if !app.isSaving.CompareAndSwap(false, true) {
		return errSaveInProgress
	}
	defer app.isSaving.Store(false)

	defer func() { app.metrics.snapshotTaken(time.Now().Unix(), err) }()

	return writeSnapshotFile(app.store, app.config.SnapshotFile)
}

func writeSnapshotFile(store *Store, filename string) error {
	tmpName := filename + ".tmp"
	f, err := os.Create(tmpName)
	if err != nil {
		return err
	}

	var (
		fileClosed    bool
		renameSuccess bool
	)
	defer func() {
		if !fileClosed {
			_ = f.Close()
		}
		if !renameSuccess {
			_ = os.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := store.SaveSnapshotToWriter(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fileClosed = true

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}
	renameSuccess = true
	return nil
}

// loadSnapshot restores the store from the configured snapshot file. A
// missing file is not an error.
func (app *application) loadSnapshot() error {
	f, err := os.Open(app.config.SnapshotFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := app.store.LoadSnapshotFromReader(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("corrupt snapshot %s: %w", app.config.SnapshotFile, err)
	}
	return nil
}

// runSaver saves the store every interval until done is closed.
func (app *application) runSaver(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			start := time.Now()
			if err := app.saveSnapshot(); err != nil {
				if !errors.Is(err, errSaveInProgress) {
					app.logger.Error("background save failed", "error", err)
				}
				continue
			}
			app.logger.Info("background save completed", "keys", app.store.Len(), "duration", time.Since(start))
		}
	}
}
