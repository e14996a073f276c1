package main

import (
	"math"
	"strconv"

	"approx.lopezb.com/internal/pds/sketch"
)

// viewAs runs fn on the sketch at key while holding the shard's read lock.
// fn must not modify the sketch.
func viewAs[T sketch.Sketch](store *Store, key string, fn func(T) error) error {
	return store.View(key, func(current sketch.Sketch) error {
		if current == nil {
			return errNoSuchKey
		}
		s, ok := current.(T)
		if !ok {
			return errWrongType
		}
		return fn(s)
	})
}

// mutateAs runs fn on the sketch at key while holding the shard's write
// lock. A missing key is created with create first, or reported as
// errNoSuchKey when create is nil. A new sketch is stored only if fn
// succeeds.
func mutateAs[T sketch.Sketch](store *Store, key string, create func() (T, error), fn func(T) error) error {
	var err error
	store.Mutate(key, func(current sketch.Sketch) (sketch.Sketch, bool) {
		if current == nil {
			if create == nil {
				err = errNoSuchKey
				return nil, false
			}
			s, cerr := create()
			if cerr != nil {
				err = cerr
				return nil, false
			}
			if err = fn(s); err != nil {
				return nil, false
			}
			return s, true
		}

		s, ok := current.(T)
		if !ok {
			err = errWrongType
			return current, false
		}
		err = fn(s)
		return current, false
	})
	return err
}

// createKey stores s under key unless the key already exists.
func createKey(store *Store, key string, s sketch.Sketch) error {
	var err error
	store.Mutate(key, func(current sketch.Sketch) (sketch.Sketch, bool) {
		if current != nil {
			err = errKeyExists
			return current, false
		}
		return s, true
	})
	return err
}

// cloneSources returns independent copies of the sketches at keys, each
// taken under its own shard's read lock. Merging from copies means a
// destination can appear among its sources and no two shard locks are ever
// held at once.
func cloneSources[T sketch.Sketch](store *Store, keys []string) ([]T, error) {
	out := make([]T, 0, len(keys))
	for _, key := range keys {
		err := viewAs(store, key, func(s T) error {
			c, err := sketch.Clone(s)
			if err != nil {
				return err
			}
			out = append(out, c.(T))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// mergeInto merges sources into the sketch at dest. A missing dest becomes
// the first source with the rest merged in.
func mergeInto[T sketch.Sketch](store *Store, dest string, sources []T, merge func(dst, src T) error) error {
	var created bool
	return mutateAs(store, dest, func() (T, error) {
		created = true
		return sources[0], nil
	}, func(d T) error {
		rest := sources
		if created {
			rest = sources[1:]
		}
		for _, src := range rest {
			if err := merge(d, src); err != nil {
				return err
			}
		}
		return nil
	})
}

// parseFloats parses every argument as a float64, rejecting NaN.
func parseFloats(args []string) ([]float64, bool) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil || math.IsNaN(v) {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// checkSketchSize rejects a sketch of size bytes when it exceeds the
// configured MaxSketchBytes. Callers check before allocating.
func (app *application) checkSketchSize(size uint64) error {
	if size > uint64(app.config.MaxSketchBytes) {
		return errSketchTooLarge
	}
	return nil
}
