// handlers_tdigest.go implements the t-digest commands.
//
// Concurrency Strategy
// ====================
// - TDIGEST.CREATE: createKey, fails on an existing key
// - TDIGEST.ADD/ADDW/COMPRESS: Mutate()
// - TDIGEST.QUANTILE/INFO: View()
// - TDIGEST.MERGE: clones sources under View(), merges under Mutate()
//
// Every argument is parsed before the lock is taken, so a malformed value
// leaves the digest untouched.

package main

import (
	"io"
	"math"
	"strconv"

	"approx.lopezb.com/internal/pds/tdigest"
)

// handleTDigestCreate handles the TDIGEST.CREATE command.
// Syntax: TDIGEST.CREATE key compression
func (app *application) handleTDigestCreate(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "TDIGEST.CREATE")
		return
	}

	compression, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		_ = app.writeErrorResponse(w, "ERR invalid compression")
		return
	}

	d, err := tdigest.New(compression)
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	if err := createKey(app.store, args[0], d); err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}

func (app *application) newDefaultDigest() (*tdigest.TDigest, error) {
	return tdigest.New(app.config.Compression)
}

// handleTDigestAdd handles the TDIGEST.ADD command.
// Syntax: TDIGEST.ADD key value [value ...]
//
// A missing key is created with the server's default compression.
func (app *application) handleTDigestAdd(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "TDIGEST.ADD")
		return
	}

	values, ok := parseFloats(args[1:])
	if !ok {
		_ = app.writeErrorResponse(w, "ERR value is not a valid float")
		return
	}

	err := mutateAs(app.store, args[0], app.newDefaultDigest, func(d *tdigest.TDigest) error {
		if int64(len(values)) > math.MaxInt64-d.Count() {
			return tdigest.ErrWeightOverflow
		}
		for _, v := range values {
			if err := d.Add(v, 1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleTDigestAddWeighted handles the TDIGEST.ADDW command.
// Syntax: TDIGEST.ADDW key value weight [value weight ...]
func (app *application) handleTDigestAddWeighted(w io.Writer, args []string) {
	if len(args) < 3 || (len(args)-1)%2 != 0 {
		app.wrongNumberOfArgsResponse(w, "TDIGEST.ADDW")
		return
	}

	pairs := args[1:]
	values := make([]float64, 0, len(pairs)/2)
	weights := make([]int64, 0, len(pairs)/2)
	var total int64

	for i := 0; i < len(pairs); i += 2 {
		v, ok := parseFloats(pairs[i : i+1])
		if !ok {
			_ = app.writeErrorResponse(w, "ERR value is not a valid float")
			return
		}
		wt, err := strconv.ParseInt(pairs[i+1], 10, 64)
		if err != nil {
			_ = app.writeErrorResponse(w, "ERR weight is not an integer or out of range")
			return
		}
		if wt < 1 {
			app.sketchErrorResponse(w, tdigest.ErrInvalidWeight)
			return
		}
		if wt > math.MaxInt64-total {
			app.sketchErrorResponse(w, tdigest.ErrWeightOverflow)
			return
		}
		total += wt
		values = append(values, v[0])
		weights = append(weights, wt)
	}

	// All or nothing: checked against the digest before any sample lands.
	err := mutateAs(app.store, args[0], app.newDefaultDigest, func(d *tdigest.TDigest) error {
		if total > math.MaxInt64-d.Count() {
			return tdigest.ErrWeightOverflow
		}
		for i, v := range values {
			if err := d.Add(v, weights[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleTDigestQuantile handles the TDIGEST.QUANTILE command.
// Syntax: TDIGEST.QUANTILE key q [q ...]
//
// Replies with one estimate per requested quantile; an empty digest answers
// "nan".
func (app *application) handleTDigestQuantile(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "TDIGEST.QUANTILE")
		return
	}

	qs, ok := parseFloats(args[1:])
	if !ok {
		_ = app.writeErrorResponse(w, "ERR quantile is not a valid float")
		return
	}

	results := make([]float64, 0, len(qs))
	err := viewAs(app.store, args[0], func(d *tdigest.TDigest) error {
		for _, q := range qs {
			v, err := d.Quantile(q)
			if err != nil {
				return err
			}
			results = append(results, v)
		}
		return nil
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeFloatArrayResponse(w, results)
}

// handleTDigestCompress handles the TDIGEST.COMPRESS command.
// Syntax: TDIGEST.COMPRESS key
func (app *application) handleTDigestCompress(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "TDIGEST.COMPRESS")
		return
	}

	err := mutateAs(app.store, args[0], nil, func(d *tdigest.TDigest) error {
		d.Compress()
		return nil
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleTDigestMerge handles the TDIGEST.MERGE command.
// Syntax: TDIGEST.MERGE dest src [src ...]
//
// Sources are left unchanged. A missing dest is created from the first
// source, keeping its compression.
func (app *application) handleTDigestMerge(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "TDIGEST.MERGE")
		return
	}

	sources, err := cloneSources[*tdigest.TDigest](app.store, args[1:])
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	err = mergeInto(app.store, args[0], sources, func(dst, src *tdigest.TDigest) error {
		return dst.Merge(src)
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleTDigestInfo handles the TDIGEST.INFO command.
// Syntax: TDIGEST.INFO key
//
// Replies with a flat name/value array, the way Redis module INFO commands
// do over RESP2.
func (app *application) handleTDigestInfo(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "TDIGEST.INFO")
		return
	}

	var info []string
	err := viewAs(app.store, args[0], func(d *tdigest.TDigest) error {
		info = []string{
			"Compression", formatFloat(d.Compression()),
			"Count", strconv.FormatInt(d.Count(), 10),
			"Centroids", strconv.Itoa(d.Size()),
		}
		return nil
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeBulkArrayResponse(w, info)
}
