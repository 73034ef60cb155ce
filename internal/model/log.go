package model

import (
	"bytes"
	"strings"
)

// LogRecord is one accepted querylog line.
// Key is the verbatim "T" field; Payload is the original line bytes with
// surrounding whitespace removed. Records are never re-encoded.
type LogRecord struct {
	Key     string
	Payload []byte
}

// Compare orders records by (Key, Payload).
// Equal keys fall back to a raw byte comparison of the payload.
func Compare(a, b LogRecord) int {
	if c := strings.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return bytes.Compare(a.Payload, b.Payload)
}

// Less reports whether a sorts before b.
func Less(a, b LogRecord) bool {
	return Compare(a, b) < 0
}
