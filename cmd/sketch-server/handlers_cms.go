// handlers_cms.go implements the Count-Min Sketch commands.
//
// Keys must be created explicitly with CMS.INIT or CMS.INITBYPROB; the
// other commands reply "ERR no such key" for a missing key.
//
// Concurrency Strategy
// ====================
// - CMS.INIT/CMS.INITBYPROB: createKey, fails on an existing key
// - CMS.INCRBY: Mutate()
// - CMS.QUERY: View()
// - CMS.MERGE: clones sources under View(), merges under Mutate()

package main

import (
	"io"
	"strconv"

	"approx.lopezb.com/internal/pds/cms"
)

// handleCMSInit handles the CMS.INIT command.
// Syntax: CMS.INIT key width depth
func (app *application) handleCMSInit(w io.Writer, args []string) {
	if len(args) != 3 {
		app.wrongNumberOfArgsResponse(w, "CMS.INIT")
		return
	}

	width, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil || width == 0 {
		_ = app.writeErrorResponse(w, "ERR invalid width")
		return
	}

	depth, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil || depth == 0 {
		_ = app.writeErrorResponse(w, "ERR invalid depth")
		return
	}

	size, err := cms.SizeFor(uint32(width), uint32(depth))
	if err == nil {
		err = app.checkSketchSize(size)
	}
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	c, err := cms.NewWithDimensions(uint32(width), uint32(depth))
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	if err := createKey(app.store, args[0], c); err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleCMSInitByProb handles the CMS.INITBYPROB command.
// Syntax: CMS.INITBYPROB key accuracy certainty
//
// width = ceil(e / accuracy), depth = ceil(ln(1 / certainty)).
func (app *application) handleCMSInitByProb(w io.Writer, args []string) {
	if len(args) != 3 {
		app.wrongNumberOfArgsResponse(w, "CMS.INITBYPROB")
		return
	}

	accuracy, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		_ = app.writeErrorResponse(w, "ERR invalid accuracy")
		return
	}

	certainty, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		_ = app.writeErrorResponse(w, "ERR invalid certainty")
		return
	}

	width, depth, err := cms.DimensionsFromProb(accuracy, certainty)
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	size, err := cms.SizeFor(width, depth)
	if err == nil {
		err = app.checkSketchSize(size)
	}
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	c, err := cms.NewWithDimensions(width, depth)
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	if err := createKey(app.store, args[0], c); err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleCMSIncrBy handles the CMS.INCRBY command.
// Syntax: CMS.INCRBY key item increment [item increment ...]
//
// Replies with each item's estimate after its increment.
func (app *application) handleCMSIncrBy(w io.Writer, args []string) {
	if len(args) < 3 || (len(args)-1)%2 != 0 {
		app.wrongNumberOfArgsResponse(w, "CMS.INCRBY")
		return
	}

	pairs := args[1:]
	deltas := make([]uint64, 0, len(pairs)/2)
	for i := 1; i < len(pairs); i += 2 {
		delta, err := strconv.ParseUint(pairs[i], 10, 64)
		if err != nil {
			_ = app.writeErrorResponse(w, "ERR invalid increment")
			return
		}
		deltas = append(deltas, delta)
	}

	results := make([]int64, 0, len(deltas))
	err := mutateAs(app.store, args[0], nil, func(c *cms.CMS) error {
		for i, delta := range deltas {
			est := c.IncrBy([]byte(pairs[2*i]), delta)
			results = append(results, saturatingInt64(est))
		}
		return nil
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeIntegerArrayResponse(w, results)
}

// handleCMSQuery handles the CMS.QUERY command.
// Syntax: CMS.QUERY key item [item ...]
func (app *application) handleCMSQuery(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "CMS.QUERY")
		return
	}

	items := args[1:]
	results := make([]int64, 0, len(items))

	err := viewAs(app.store, args[0], func(c *cms.CMS) error {
		for _, item := range items {
			results = append(results, saturatingInt64(c.ApproximateCount([]byte(item))))
		}
		return nil
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeIntegerArrayResponse(w, results)
}

// handleCMSMerge handles the CMS.MERGE command.
// Syntax: CMS.MERGE dest src [src ...]
//
// All sketches must share dimensions. A missing dest is created from the
// first source. On a dimension mismatch dest is left unchanged.
func (app *application) handleCMSMerge(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "CMS.MERGE")
		return
	}

	sources, err := cloneSources[*cms.CMS](app.store, args[1:])
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	for _, src := range sources[1:] {
		if src.Width() != sources[0].Width() || src.Depth() != sources[0].Depth() {
			app.sketchErrorResponse(w, cms.ErrIncompatible)
			return
		}
	}

	// Sources agree with each other, so only the first Merge into an
	// existing dest can fail, and Merge checks dimensions before writing.
	err = mergeInto(app.store, args[0], sources, (*cms.CMS).Merge)
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}
