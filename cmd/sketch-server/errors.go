package main

import (
	"errors"
	"fmt"
	"io"

	"approx.lopezb.com/internal/pds/cms"
	"approx.lopezb.com/internal/pds/hyperloglog"
	"approx.lopezb.com/internal/pds/minhash"
	"approx.lopezb.com/internal/pds/tdigest"
)

// errWrongType is returned from store callbacks when a key holds another
// kind of sketch.
var errWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// errNoSuchKey is returned from store callbacks when a key is missing.
var errNoSuchKey = errors.New("ERR no such key")

// errSketchTooLarge is returned when a new sketch would exceed MaxSketchBytes.
var errSketchTooLarge = errors.New("ERR sketch exceeds the max-sketch-bytes limit")

// errKeyExists is returned by the INIT/CREATE commands on an existing key.
var errKeyExists = errors.New("ERR key already exists")

// wrongTypeResponse sends a WRONGTYPE error to the client.
func (app *application) wrongTypeResponse(w io.Writer) {
	_ = app.writeErrorResponse(w, errWrongType.Error())
}

// unknownCommandResponse sends an unknown command error to the client.
func (app *application) unknownCommandResponse(w io.Writer, commandName string) {
	msg := fmt.Sprintf("ERR unknown command '%s'", commandName)
	_ = app.writeErrorResponse(w, msg)
}

// wrongNumberOfArgsResponse sends a wrong number of arguments error to the client.
func (app *application) wrongNumberOfArgsResponse(w io.Writer, commandName string) {
	msg := fmt.Sprintf("ERR wrong number of arguments for '%s' command", commandName)
	_ = app.writeErrorResponse(w, msg)
}

// sketchErrorResponse maps an error from a handler or a sketch package onto a
// RESP error reply.
func (app *application) sketchErrorResponse(w io.Writer, err error) {
	switch {
	case errors.Is(err, errWrongType), errors.Is(err, errNoSuchKey), errors.Is(err, errKeyExists),
		errors.Is(err, errSketchTooLarge):
		_ = app.writeErrorResponse(w, err.Error())

	case errors.Is(err, tdigest.ErrInvalidCompression):
		_ = app.writeErrorResponse(w, "ERR invalid compression (must be >= 1)")
	case errors.Is(err, tdigest.ErrInvalidQuantile):
		_ = app.writeErrorResponse(w, "ERR invalid quantile (must be between 0 and 1)")
	case errors.Is(err, tdigest.ErrNaN):
		_ = app.writeErrorResponse(w, "ERR value is not a number")
	case errors.Is(err, tdigest.ErrInvalidWeight):
		_ = app.writeErrorResponse(w, "ERR invalid weight (must be >= 1)")
	case errors.Is(err, tdigest.ErrWeightOverflow):
		_ = app.writeErrorResponse(w, "ERR total weight overflows")

	case errors.Is(err, tdigest.ErrInvalidAccuracy),
		errors.Is(err, cms.ErrInvalidAccuracy),
		errors.Is(err, hyperloglog.ErrInvalidAccuracy),
		errors.Is(err, minhash.ErrInvalidAccuracy):
		_ = app.writeErrorResponse(w, "ERR invalid accuracy (must be in (0, 1])")
	case errors.Is(err, hyperloglog.ErrAccuracyTooSmall), errors.Is(err, minhash.ErrAccuracyTooSmall):
		_ = app.writeErrorResponse(w, "ERR accuracy too small")
	case errors.Is(err, cms.ErrInvalidCertainty):
		_ = app.writeErrorResponse(w, "ERR invalid certainty (must be in (0, 1])")
	case errors.Is(err, cms.ErrTooLarge):
		_ = app.writeErrorResponse(w, "ERR sketch too large")
	case errors.Is(err, cms.ErrIncompatible), errors.Is(err, hyperloglog.ErrIncompatible):
		_ = app.writeErrorResponse(w, "ERR sketches have incompatible dimensions")

	default:
		app.logger.Error("unexpected sketch error", "error", err)
		_ = app.writeErrorResponse(w, "ERR internal sketch error")
	}
}
