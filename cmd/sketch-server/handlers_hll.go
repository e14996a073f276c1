// handlers_hll.go implements the HyperLogLog commands.
//
// Concurrency Strategy
// ====================
// - HLL.INIT: createKey, fails on an existing key
// - HLL.ADD: Mutate(), creates a missing key with the default accuracy
// - HLL.COUNT/HLL.INTERVAL: Mutate(), since counting refreshes the cached
//   cardinality held in the sketch
// - HLL.MERGE: clones sources under View(), merges under Mutate()

package main

import (
	"io"
	"strconv"

	"approx.lopezb.com/internal/pds/hyperloglog"
)

// handleHLLInit handles the HLL.INIT command.
// Syntax: HLL.INIT key accuracy
func (app *application) handleHLLInit(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "HLL.INIT")
		return
	}

	accuracy, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		_ = app.writeErrorResponse(w, "ERR invalid accuracy")
		return
	}

	size, err := hyperloglog.SizeFor(accuracy)
	if err == nil {
		err = app.checkSketchSize(uint64(size))
	}
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	h, err := hyperloglog.New(accuracy)
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	if err := createKey(app.store, args[0], h); err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleHLLAdd handles the HLL.ADD command.
// Syntax: HLL.ADD key item [item ...]
//
// Replies 1 if any bucket changed (or the key was created), 0 otherwise.
func (app *application) handleHLLAdd(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "HLL.ADD")
		return
	}

	var changed bool
	create := func() (*hyperloglog.HLL, error) {
		changed = true
		return hyperloglog.New(app.config.HLLAccuracy)
	}

	err := mutateAs(app.store, args[0], create, func(h *hyperloglog.HLL) error {
		for _, item := range args[1:] {
			if h.Add([]byte(item)) {
				changed = true
			}
		}
		return nil
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	if changed {
		_ = app.writeIntegerResponse(w, 1)
		return
	}
	_ = app.writeIntegerResponse(w, 0)
}

// handleHLLCount handles the HLL.COUNT command.
// Syntax: HLL.COUNT key
func (app *application) handleHLLCount(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "HLL.COUNT")
		return
	}

	var count uint64
	err := mutateAs(app.store, args[0], nil, func(h *hyperloglog.HLL) error {
		count = h.Count()
		return nil
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeIntegerResponse(w, saturatingInt64(count))
}

// handleHLLInterval handles the HLL.INTERVAL command.
// Syntax: HLL.INTERVAL key
//
// Replies with [low, high], the estimate widened by the sketch's relative
// standard error.
func (app *application) handleHLLInterval(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "HLL.INTERVAL")
		return
	}

	var low, high uint64
	err := mutateAs(app.store, args[0], nil, func(h *hyperloglog.HLL) error {
		low, high = h.ConfidenceInterval()
		return nil
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeIntegerArrayResponse(w, []int64{saturatingInt64(low), saturatingInt64(high)})
}

// handleHLLMerge handles the HLL.MERGE command.
// Syntax: HLL.MERGE dest src [src ...]
//
// All sketches must have the same precision. A missing dest is created from
// the first source.
func (app *application) handleHLLMerge(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "HLL.MERGE")
		return
	}

	sources, err := cloneSources[*hyperloglog.HLL](app.store, args[1:])
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	for _, src := range sources[1:] {
		if src.Precision() != sources[0].Precision() {
			app.sketchErrorResponse(w, hyperloglog.ErrIncompatible)
			return
		}
	}

	err = mergeInto(app.store, args[0], sources, (*hyperloglog.HLL).Merge)
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}
