// handlers.go implements the server-level commands: PING, INFO, DEL, TYPE,
// MEMORY and SAVE.

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"approx.lopezb.com/internal/pds/sketch"
)

// handlePing handles the PING command.
// Syntax: PING [message]
func (app *application) handlePing(w io.Writer, args []string) {
	switch len(args) {
	case 0:
		_ = app.writeSimpleStringResponse(w, "PONG")
	case 1:
		_ = app.writeBulkStringResponse(w, args[0])
	default:
		app.wrongNumberOfArgsResponse(w, "PING")
	}
}

// handleInfo handles the INFO command.
// Syntax: INFO
//
// The report follows the Redis INFO layout: CRLF-terminated "key:value"
// lines grouped under "# Section" headers.
func (app *application) handleInfo(w io.Writer, args []string) {
	if len(args) > 0 {
		app.wrongNumberOfArgsResponse(w, "INFO")
		return
	}

	var b strings.Builder

	b.WriteString("# Server\r\n")
	fmt.Fprintf(&b, "uptime_in_seconds:%d\r\n", time.Now().Unix()-app.startedUnix)
	fmt.Fprintf(&b, "connections_total:%d\r\n", app.metrics.TotalConnections.Load())
	fmt.Fprintf(&b, "connections_active:%d\r\n", len(app.connLimiter))
	fmt.Fprintf(&b, "commands_processed_total:%d\r\n", app.metrics.TotalCommands.Load())
	fmt.Fprintf(&b, "command_errors_total:%d\r\n", app.metrics.TotalErrors.Load())

	b.WriteString("\r\n# Persistence\r\n")
	fmt.Fprintf(&b, "persistence_enabled:%t\r\n", app.config.Persistence)
	fmt.Fprintf(&b, "save_in_progress:%t\r\n", app.isSaving.Load())
	fmt.Fprintf(&b, "snapshots_total:%d\r\n", app.metrics.Snapshots.Load())
	fmt.Fprintf(&b, "last_save_time:%d\r\n", app.metrics.LastSnapshotUnix.Load())

	b.WriteString("\r\n# Keyspace\r\n")
	fmt.Fprintf(&b, "keys:%d\r\n", app.store.Len())

	_ = app.writeBulkStringResponse(w, b.String())
}

// handleDel handles the DEL command.
// Syntax: DEL key [key ...]
//
// Returns the number of keys that existed and were removed.
func (app *application) handleDel(w io.Writer, args []string) {
	if len(args) == 0 {
		app.wrongNumberOfArgsResponse(w, "DEL")
		return
	}

	var deleted int64
	for _, key := range args {
		if app.store.Delete(key) {
			deleted++
		}
	}

	_ = app.writeIntegerResponse(w, deleted)
}

// handleType handles the TYPE command.
// Syntax: TYPE key
//
// Replies with the sketch kind ("tdigest", "cms", "hyperloglog", "minhash")
// or "none" for a missing key.
func (app *application) handleType(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "TYPE")
		return
	}

	kind := "none"
	_ = app.store.View(args[0], func(current sketch.Sketch) error {
		if current != nil {
			kind = string(sketch.KindOf(current))
		}
		return nil
	})

	_ = app.writeSimpleStringResponse(w, kind)
}

// handleMemory handles the MEMORY command.
// Syntax: MEMORY USAGE <key>
func (app *application) handleMemory(w io.Writer, args []string) {
	if len(args) < 1 {
		app.wrongNumberOfArgsResponse(w, "MEMORY")
		return
	}

	subcommand := strings.ToUpper(args[0])
	switch subcommand {
	case "USAGE":
		app.handleMemoryUsage(w, args[1:])
	default:
		msg := fmt.Sprintf("ERR unknown subcommand '%s'. Try MEMORY USAGE <key>", subcommand)
		_ = app.writeErrorResponse(w, msg)
	}
}

// handleMemoryUsage reports the approximate bytes a key occupies: the key,
// the sketch's serialized size and a fixed per-entry map overhead. Missing
// keys reply nil.
func (app *application) handleMemoryUsage(w io.Writer, args []string) {
	if len(args) != 1 {
		_ = app.writeErrorResponse(w, "ERR wrong number of arguments for 'MEMORY USAGE' command")
		return
	}

	// Key string header, interface value and map bucket share.
	const mapOverhead = 72

	key := args[0]
	size := -1

	err := app.store.View(key, func(current sketch.Sketch) error {
		if current == nil {
			return nil
		}
		data, err := current.MarshalBinary()
		if err != nil {
			return err
		}
		size = len(key) + len(data) + mapOverhead
		return nil
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	if size < 0 {
		_ = app.writeNilResponse(w)
		return
	}
	_ = app.writeIntegerResponse(w, int64(size))
}

// handleSave handles the SAVE command.
// Syntax: SAVE
//
// Writes a snapshot synchronously and replies once it is on disk.
func (app *application) handleSave(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "SAVE")
		return
	}

	if !app.config.Persistence {
		_ = app.writeErrorResponse(w, "ERR persistence is disabled, nothing to save")
		return
	}

	start := time.Now()
	if err := app.saveSnapshot(); err != nil {
		if errors.Is(err, errSaveInProgress) {
			_ = app.writeErrorResponse(w, err.Error())
			return
		}
		app.logger.Error("save failed", "error", err)
		_ = app.writeErrorResponse(w, "ERR save failed: "+err.Error())
		return
	}

	app.logger.Info("save completed", "keys", app.store.Len(), "duration", time.Since(start))
	_ = app.writeSimpleStringResponse(w, "OK")
}
