// sketch-check is a diagnostic tool for inspecting and validating sketch
// server snapshot files. It streams through the file, checking its structure
// and CRC64 checksum, and decodes every value with the sketch packages so a
// value the server could not load is reported too.
//
// It answers questions like:
//
//   - Is the snapshot corrupted?
//   - How many keys are stored in each shard?
//   - Which sketch types are present, and what do they hold?
//
// Usage Examples
// ==============
//
// Basic validation (structure, checksum and decodability):
//
//	sketch-check -file sketches.sks
//
// Verbose mode (lists every key with its type and a summary):
//
//	sketch-check -file sketches.sks -v
//
// Dump mode (also prints each value's raw bytes):
//
//	sketch-check -file sketches.sks -dump
//
// Exit Codes
// ==========
//
// 0: The file is valid.
// 1: The file is corrupted or unreadable, or a value does not decode.
// 2: Bad command-line usage.

package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"sort"
	"time"

	"approx.lopezb.com/internal/pds/sketch"
)

const (
	persistenceMagic = "SKS1"
	OpCodeShardData  = 0xFE
	OpCodeEOF        = 0xFF
)

// CountReader wraps an io.Reader to track the cumulative byte offset, so
// errors can name the exact file position.
type CountReader struct {
	r     io.Reader
	count int64
}

// Read implements io.Reader.
func (cr *CountReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.count += int64(n)
	return n, err
}

// checkError is a structural failure at a known offset.
type checkError struct {
	offset int64
	msg    string
	err    error
}

func (e *checkError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("[offset %d] Fatal: %s: %v", e.offset, e.msg, e.err)
	}
	return fmt.Sprintf("[offset %d] Fatal: %s", e.offset, e.msg)
}

func (e *checkError) Unwrap() error { return e.err }

var errChecksumMismatch = errors.New("checksum mismatch")

// options selects how much check prints.
type options struct {
	verbose bool
	dump    bool
}

// report summarizes a checked snapshot.
type report struct {
	keys     int
	invalid  int
	checksum uint64
	stats    map[string]int
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sketch-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	filePath := fs.String("file", "sketches.sks", "Path to the snapshot file")
	verbose := fs.Bool("v", false, "Verbose mode (print keys)")
	dump := fs.Bool("dump", false, "Show values (prints raw bytes as quoted strings)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	f, err := os.Open(*filePath)
	if err != nil {
		fmt.Fprintf(stderr, "[err] Cannot open file: %v\n", err)
		return 1
	}
	defer func() { _ = f.Close() }()

	fmt.Fprintf(stdout, "[offset 0] Checking snapshot file %s\n", *filePath)

	start := time.Now()
	rep, err := check(f, options{verbose: *verbose, dump: *dump}, stdout)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	fmt.Fprintln(stdout, "\nSummary:")
	fmt.Fprintf(stdout, "  Process Time: %v\n", time.Since(start))
	fmt.Fprintf(stdout, "  Total Keys:   %d\n", rep.keys)

	types := make([]string, 0, len(rep.stats))
	for t := range rep.stats {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(stdout, "    %d\t%s\n", rep.stats[t], t)
	}

	if rep.invalid > 0 {
		fmt.Fprintf(stderr, "[err] %d value(s) failed to decode\n", rep.invalid)
		return 1
	}
	return 0
}

// check verifies one snapshot stream, printing progress to out.
func check(r io.Reader, opts options, out io.Writer) (*report, error) {
	hasher := crc64.New(crc64.MakeTable(crc64.ISO))
	counter := &CountReader{r: r}
	reader := bufio.NewReader(counter)

	// The bufio layer reads ahead of what has been consumed.
	pos := func() int64 { return counter.count - int64(reader.Buffered()) }
	read := func(buf []byte, what string) error {
		if _, err := io.ReadFull(reader, buf); err != nil {
			return &checkError{offset: pos(), msg: what, err: err}
		}
		hasher.Write(buf)
		return nil
	}

	header := make([]byte, len(persistenceMagic))
	if err := read(header, "Failed to read header"); err != nil {
		return nil, err
	}
	if string(header) != persistenceMagic {
		return nil, &checkError{offset: pos(), msg: fmt.Sprintf("Invalid Magic Header: expected '%s', got '%s'", persistenceMagic, header)}
	}

	rep := &report{stats: make(map[string]int)}
	lenBuf := make([]byte, 4)
	opcode := make([]byte, 1)

	for {
		if err := read(opcode, "Failed reading Opcode"); err != nil {
			return nil, err
		}
		if opcode[0] == OpCodeEOF {
			break
		}
		if opcode[0] != OpCodeShardData {
			return nil, &checkError{offset: pos(), msg: fmt.Sprintf("Unexpected Opcode: %x", opcode[0])}
		}

		shardID := make([]byte, 1)
		if err := read(shardID, "Failed reading Shard ID"); err != nil {
			return nil, err
		}

		if err := read(lenBuf, "Failed reading key count"); err != nil {
			return nil, err
		}
		count := binary.LittleEndian.Uint32(lenBuf)
		fmt.Fprintf(out, "[offset %d] Processing Shard %d: %d keys\n", pos(), shardID[0], count)

		for range count {
			if err := read(lenBuf, "Truncated key len"); err != nil {
				return nil, err
			}
			keyBuf := make([]byte, binary.LittleEndian.Uint32(lenBuf))
			if err := read(keyBuf, "Truncated key data"); err != nil {
				return nil, err
			}

			if err := read(lenBuf, "Truncated val len"); err != nil {
				return nil, err
			}
			valBuf := make([]byte, binary.LittleEndian.Uint32(lenBuf))
			if err := read(valBuf, "Truncated val data"); err != nil {
				return nil, err
			}

			rep.keys++
			typeName, details, err := identifyType(valBuf)
			rep.stats[typeName]++

			if err != nil {
				rep.invalid++
				fmt.Fprintf(out, "[offset %d] Key '%s' [%s] INVALID: %v\n", pos(), keyBuf, typeName, err)
			} else if opts.verbose || opts.dump {
				fmt.Fprintf(out, "[offset %d] Key '%s' [%s] (%s)\n", pos(), keyBuf, typeName, details)
			}

			if opts.dump {
				fmt.Fprintf(out, "      Value: %q\n", valBuf)
			}
		}
	}

	calculated := hasher.Sum64()

	stored := make([]byte, 8)
	if _, err := io.ReadFull(reader, stored); err != nil {
		return nil, &checkError{offset: pos(), msg: "Failed to read checksum", err: err}
	}
	rep.checksum = binary.LittleEndian.Uint64(stored)

	if rep.checksum != calculated {
		fmt.Fprintf(out, "   File:       %016x\n", rep.checksum)
		fmt.Fprintf(out, "   Calculated: %016x\n", calculated)
		return nil, &checkError{offset: pos(), msg: "Checksum MISMATCH", err: errChecksumMismatch}
	}
	fmt.Fprintf(out, "[offset %d] Checksum OK (%016x)\n", pos(), rep.checksum)

	if _, err := reader.Peek(1); err == nil {
		fmt.Fprintf(out, "[warn] Unexpected data after checksum at offset %d\n", pos())
	}

	return rep, nil
}

// typeNames maps sketch kinds onto the names printed in reports.
var typeNames = map[sketch.Kind]string{
	sketch.KindTDigest:     "TDigest",
	sketch.KindCMS:         "CountMinSketch",
	sketch.KindHyperLogLog: "HyperLogLog",
	sketch.KindMinHash:     "MinHash",
}

// identifyType names the sketch a value holds, from its magic, and decodes
// it for a one-line summary. Values with no known magic are "Raw".
func identifyType(data []byte) (string, string, error) {
	name, ok := typeNames[sketch.Identify(data)]
	if !ok {
		return "Raw", "", sketch.ErrUnknownType
	}

	s, err := sketch.Decode(data)
	if err != nil {
		return name, "", err
	}
	return name, sketch.Describe(s), nil
}
