// handlers_minhash.go implements the MinHash similarity commands.
//
// A MinHash key tracks a stream of (a, b) property pairs and estimates the
// Jaccard similarity between the set of a values and the set of b values.
// Keys are created explicitly with MINHASH.INIT.

package main

import (
	"io"
	"strconv"

	"approx.lopezb.com/internal/pds/minhash"
)

// handleMinHashInit handles the MINHASH.INIT command.
// Syntax: MINHASH.INIT key accuracy
//
// The signature holds ceil(1 / accuracy^2) hash functions.
func (app *application) handleMinHashInit(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "MINHASH.INIT")
		return
	}

	accuracy, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		_ = app.writeErrorResponse(w, "ERR invalid accuracy")
		return
	}

	size, err := minhash.SizeFor(accuracy)
	if err == nil {
		err = app.checkSketchSize(uint64(size))
	}
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	m, err := minhash.New(accuracy)
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}

	if err := createKey(app.store, args[0], m); err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleMinHashAdd handles the MINHASH.ADD command.
// Syntax: MINHASH.ADD key a b [a b ...]
func (app *application) handleMinHashAdd(w io.Writer, args []string) {
	if len(args) < 3 || (len(args)-1)%2 != 0 {
		app.wrongNumberOfArgsResponse(w, "MINHASH.ADD")
		return
	}

	pairs := args[1:]
	err := mutateAs(app.store, args[0], nil, func(m *minhash.MinHash) error {
		for i := 0; i < len(pairs); i += 2 {
			m.AddProperty([]byte(pairs[i]), []byte(pairs[i+1]))
		}
		return nil
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleMinHashSimilarity handles the MINHASH.SIMILARITY command.
// Syntax: MINHASH.SIMILARITY key
//
// A key with no properties yet answers 0.
func (app *application) handleMinHashSimilarity(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "MINHASH.SIMILARITY")
		return
	}

	var similarity float64
	err := viewAs(app.store, args[0], func(m *minhash.MinHash) error {
		similarity = m.Similarity()
		return nil
	})
	if err != nil {
		app.sketchErrorResponse(w, err)
		return
	}
	_ = app.writeFloatResponse(w, similarity)
}
