// Request Parsing (RESP)
//
// The server speaks the REdis Serialization Protocol, so redis-cli and any
// Redis client library can drive the sketches directly. Sketch commands are
// namespaced the way Redis modules do it (TDIGEST.ADD, CMS.QUERY, ...).
//
// A server only ever receives two request shapes:
//
// RESP Arrays: an Array (*) of Bulk Strings ($), the format every client
// library sends.
// Example: "*3\r\n$11\r\nTDIGEST.ADD\r\n$3\r\nlat\r\n$3\r\n1.5\r\n"
//
// Inline Commands: a space-separated line, for netcat/telnet debugging.
// Example: "TDIGEST.ADD lat 1.5\r\n"
//
// Limits
// ======
//
// Every length a client declares is checked before anything is allocated
// for it: bulk strings against MaxBulkLength, arrays against MaxArrayLen and
// header or inline lines against MaxLineSize.

package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

const (
	// MaxBulkLength limits bulk string size to 512MB, Redis's
	// proto-max-bulk-len default.
	MaxBulkLength = 512 * 1024 * 1024

	// MaxArrayLen limits the number of elements in a request.
	MaxArrayLen = 1 << 20

	// MaxLineSize limits header and inline command line length.
	MaxLineSize = 64 * 1024
)

var (
	ErrInvalidSyntax = errors.New("ERR protocol error: invalid syntax")
	ErrLineTooLong   = errors.New("ERR protocol error: line too long")
	ErrBulkTooLarge  = errors.New("ERR protocol error: bulk string exceeds 512MB limit")
	ErrArrayTooLong  = errors.New("ERR protocol error: array exceeds 1M elements limit")
)

// Parser reads requests from a client stream.
type Parser struct {
	reader *bufio.Reader
}

// NewParser wraps r in a 4KB read buffer.
func NewParser(r io.Reader) *Parser {
	return &Parser{
		reader: bufio.NewReaderSize(r, 4096),
	}
}

// Buffered returns the number of bytes already read from the client but not
// yet parsed. A non-zero value means the client pipelined more requests.
func (p *Parser) Buffered() int {
	return p.reader.Buffered()
}

// Parse reads one request and returns its command name and arguments.
// An empty RESP array yields an empty, non-nil slice.
func (p *Parser) Parse() ([]string, error) {
	line, err := p.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, ErrInvalidSyntax
	}

	if line[0] == '*' {
		return p.parseArray(line)
	}
	return parseInline(line)
}

// readLine returns the next line without its terminator. Lines longer than
// the read buffer are accumulated up to MaxLineSize.
func (p *Parser) readLine() ([]byte, error) {
	line, isPrefix, err := p.reader.ReadLine()
	if err != nil {
		return nil, err
	}
	if !isPrefix {
		return line, nil
	}

	var buf bytes.Buffer
	buf.Write(line)
	for isPrefix {
		line, isPrefix, err = p.reader.ReadLine()
		if err != nil {
			return nil, err
		}
		if buf.Len()+len(line) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

// parseLength parses the decimal length that follows a one-byte type marker.
func parseLength(line []byte) (int, error) {
	n, err := strconv.Atoi(string(bytes.TrimSpace(line[1:])))
	if err != nil {
		return 0, ErrInvalidSyntax
	}
	return n, nil
}

func parseInline(line []byte) ([]string, error) {
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return nil, ErrInvalidSyntax
	}

	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = string(f)
	}
	return parts, nil
}

func (p *Parser) parseArray(header []byte) ([]string, error) {
	count, err := parseLength(header)
	if err != nil {
		return nil, err
	}

	// *-1 (null) and *0 carry no command.
	if count <= 0 {
		return []string{}, nil
	}
	if count > MaxArrayLen {
		return nil, ErrArrayTooLong
	}

	parts := make([]string, 0, count)
	for range count {
		s, err := p.parseBulkString()
		if err != nil {
			return nil, err
		}
		parts = append(parts, s)
	}
	return parts, nil
}

// parseBulkString reads "$<len>\r\n<data>\r\n". A null bulk string ($-1)
// reads as "", since no command distinguishes null from empty.
func (p *Parser) parseBulkString() (string, error) {
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	if len(line) == 0 || line[0] != '$' {
		return "", ErrInvalidSyntax
	}

	length, err := parseLength(line)
	switch {
	case err != nil:
		return "", err
	case length == -1:
		return "", nil
	case length < 0:
		return "", ErrInvalidSyntax
	case length > MaxBulkLength:
		return "", ErrBulkTooLarge
	}

	buf := make([]byte, length+2)
	if _, err := io.ReadFull(p.reader, buf); err != nil {
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	if buf[length] != '\r' || buf[length+1] != '\n' {
		return "", ErrInvalidSyntax
	}
	return string(buf[:length]), nil
}
