package main

import (
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "inline command",
			input: "PING\r\n",
			want:  []string{"PING"},
		},
		{
			name:  "inline with arguments",
			input: "TDIGEST.ADD lat 1.5 2.5\r\n",
			want:  []string{"TDIGEST.ADD", "lat", "1.5", "2.5"},
		},
		{
			name:  "inline with bare newline",
			input: "HLL.COUNT users\n",
			want:  []string{"HLL.COUNT", "users"},
		},
		{
			name:  "resp array",
			input: "*3\r\n$7\r\nHLL.ADD\r\n$5\r\nusers\r\n$5\r\nalice\r\n",
			want:  []string{"HLL.ADD", "users", "alice"},
		},
		{
			name:  "resp array with spaces in argument",
			input: "*2\r\n$4\r\nECHO\r\n$11\r\nhello world\r\n",
			want:  []string{"ECHO", "hello world"},
		},
		{
			name:  "empty and null bulk strings",
			input: "*3\r\n$3\r\nDEL\r\n$0\r\n\r\n$-1\r\n",
			want:  []string{"DEL", "", ""},
		},
		{
			name:  "empty array",
			input: "*0\r\n",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewParser(strings.NewReader(tt.input)).Parse()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty line", "\r\n", ErrInvalidSyntax},
		{"bad array count", "*x\r\n", ErrInvalidSyntax},
		{"array too long", "*2000000\r\n", ErrArrayTooLong},
		{"missing bulk marker", "*1\r\nPING\r\n", ErrInvalidSyntax},
		{"bulk too large", "*1\r\n$999999999999\r\n", ErrBulkTooLarge},
		{"negative bulk length", "*1\r\n$-5\r\n", ErrInvalidSyntax},
		{"bad bulk terminator", "*1\r\n$4\r\nPINGxx", ErrInvalidSyntax},
		{"truncated bulk", "*1\r\n$10\r\nPING", io.ErrUnexpectedEOF},
		{"line too long", strings.Repeat("A", MaxLineSize+10) + "\r\n", ErrLineTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(strings.NewReader(tt.input)).Parse()
			if !errors.Is(err, tt.want) {
				t.Errorf("got error %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParsePipelined(t *testing.T) {
	p := NewParser(strings.NewReader("PING\r\nPING\r\n*1\r\n$4\r\nINFO\r\n"))

	for _, want := range []string{"PING", "PING", "INFO"} {
		got, err := p.Parse()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 || got[0] != want {
			t.Errorf("got %q, want [%s]", got, want)
		}
	}

	if p.Buffered() != 0 {
		t.Errorf("Buffered: got %d, want 0", p.Buffered())
	}
	if _, err := p.Parse(); err != io.EOF {
		t.Errorf("got %v, want io.EOF", err)
	}
}
