package main

import (
	"io"
	"math"
	"strconv"
)

// Pre-allocated replies for the most frequent answers.
var (
	respOK   = []byte("+OK\r\n")
	respPong = []byte("+PONG\r\n")
	respZero = []byte(":0\r\n")
	respOne  = []byte(":1\r\n")
	respNil  = []byte("$-1\r\n")
)

func (app *application) writeSimpleStringResponse(w io.Writer, s string) error {
	switch s {
	case "OK":
		_, err := w.Write(respOK)
		return err
	case "PONG":
		_, err := w.Write(respPong)
		return err
	}

	// Format: +string\r\n
	buf := make([]byte, 0, len(s)+3)
	buf = append(buf, '+')
	buf = append(buf, s...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

func (app *application) writeErrorResponse(w io.Writer, errStr string) error {
	// Format: -string\r\n
	buf := make([]byte, 0, len(errStr)+3)
	buf = append(buf, '-')
	buf = append(buf, errStr...)
	buf = append(buf, '\r', '\n')
	_, err := w.Write(buf)
	return err
}

func (app *application) writeBulkStringResponse(w io.Writer, s string) error {
	_, err := w.Write(appendBulk(make([]byte, 0, len(s)+16), s))
	return err
}

func (app *application) writeIntegerResponse(w io.Writer, i int64) error {
	switch i {
	case 0:
		_, err := w.Write(respZero)
		return err
	case 1:
		_, err := w.Write(respOne)
		return err
	}

	_, err := w.Write(appendInteger(make([]byte, 0, 24), i))
	return err
}

func (app *application) writeNilResponse(w io.Writer) error {
	_, err := w.Write(respNil)
	return err
}

// writeFloatResponse writes f as a bulk string, the way Redis modules reply
// with doubles over RESP2.
func (app *application) writeFloatResponse(w io.Writer, f float64) error {
	_, err := w.Write(appendFloat(make([]byte, 0, 32), f))
	return err
}

// writeIntegerArrayResponse writes a RESP array of integers in one Write.
func (app *application) writeIntegerArrayResponse(w io.Writer, values []int64) error {
	buf := appendArrayHeader(make([]byte, 0, 8+len(values)*8), len(values))
	for _, v := range values {
		buf = appendInteger(buf, v)
	}
	_, err := w.Write(buf)
	return err
}

// writeFloatArrayResponse writes a RESP array of bulk float strings in one
// Write.
func (app *application) writeFloatArrayResponse(w io.Writer, values []float64) error {
	buf := appendArrayHeader(make([]byte, 0, 8+len(values)*24), len(values))
	for _, v := range values {
		buf = appendFloat(buf, v)
	}
	_, err := w.Write(buf)
	return err
}

// writeBulkArrayResponse writes a RESP array of bulk strings in one Write.
func (app *application) writeBulkArrayResponse(w io.Writer, values []string) error {
	buf := appendArrayHeader(make([]byte, 0, 64), len(values))
	for _, v := range values {
		buf = appendBulk(buf, v)
	}
	_, err := w.Write(buf)
	return err
}

// Format: *count\r\n
func appendArrayHeader(buf []byte, n int) []byte {
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(n), 10)
	return append(buf, '\r', '\n')
}

// Format: :integer\r\n
func appendInteger(buf []byte, i int64) []byte {
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, i, 10)
	return append(buf, '\r', '\n')
}

// Format: $length\r\nstring\r\n
func appendBulk(buf []byte, s string) []byte {
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, '\r', '\n')
	buf = append(buf, s...)
	return append(buf, '\r', '\n')
}

func appendFloat(buf []byte, f float64) []byte {
	return appendBulk(buf, formatFloat(f))
}

// formatFloat renders f with the shortest exact representation, spelling
// infinities the way Redis does.
func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

// saturatingInt64 clamps a uint64 for RESP integer replies.
func saturatingInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
