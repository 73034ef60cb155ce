package engine

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/valyala/fastjson"
	"github.com/xz-dev/AdGuardHome-LogSync/internal/model"
)

// TimestampField is the key every querylog object carries its time under.
const TimestampField = "T"

// NoCutoff disables retention filtering. Timestamps are still validated.
var NoCutoff = time.Time{}

// RetentionCutoff returns now minus seconds, or NoCutoff when seconds is not
// positive. It works in whole seconds so retentions far beyond the range of
// time.Duration still land in the past.
func RetentionCutoff(now time.Time, seconds int64) time.Time {
	if seconds <= 0 {
		return NoCutoff
	}
	sec := now.Unix()
	if sec < math.MinInt64+seconds {
		return NoCutoff
	}
	return time.Unix(sec-seconds, int64(now.Nanosecond())).In(now.Location())
}

var (
	// ErrMissingTimestamp means a decoded line has no string "T" field.
	ErrMissingTimestamp = errors.New("missing timestamp field")
	// ErrInvalidTimestamp means the "T" field is not an ISO-8601 time.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// Verdict is the outcome of parsing one line.
type Verdict uint8

const (
	Accept Verdict = iota
	Skip
	Fatal
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Skip:
		return "skip"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// SkipReason explains why a line was skipped.
type SkipReason uint8

const (
	NotSkipped SkipReason = iota
	SkipBlank
	SkipMalformed
	SkipExpired
)

// Decision is the result of Parser.Parse.
// Record is set for Accept, Reason for Skip and Err for Fatal.
type Decision struct {
	Verdict Verdict
	Record  model.LogRecord
	Reason  SkipReason
	Err     error
}

// asciiSpace matches the whitespace stripped from both ends of a line.
const asciiSpace = " \t\n\r\v\f"

// timeLayouts are tried in order. Layouts without a zone are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15:04Z07",
	"2006-01-02T15:04",
	"2006-01-02T15Z07:00",
	"2006-01-02T15",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04Z07:00",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Parser turns raw querylog lines into decisions.
// It is safe for concurrent use.
type Parser struct {
	pool fastjson.ParserPool
}

// NewParser returns a ready Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse classifies one raw line against the retention cutoff.
// A zero cutoff retains every valid record.
func (p *Parser) Parse(line []byte, cutoff time.Time) Decision {
	line = bytes.Trim(line, asciiSpace)
	if len(line) == 0 {
		return Decision{Verdict: Skip, Reason: SkipBlank}
	}

	fp := p.pool.Get()
	defer p.pool.Put(fp)

	// fastjson tolerates invalid UTF-8 and NaN/Inf literals; neither is JSON.
	v, err := fp.ParseBytes(line)
	if err != nil || !utf8.Valid(line) || !strictNumbers(v) {
		return Decision{Verdict: Skip, Reason: SkipMalformed}
	}

	if v.Type() != fastjson.TypeObject {
		return Decision{Verdict: Fatal, Err: fmt.Errorf("%w: top-level %s", ErrMissingTimestamp, v.Type())}
	}
	tv := v.Get(TimestampField)
	if tv == nil {
		return Decision{Verdict: Fatal, Err: ErrMissingTimestamp}
	}
	raw, err := tv.StringBytes()
	if err != nil {
		return Decision{Verdict: Fatal, Err: fmt.Errorf("%w: %q is %s", ErrMissingTimestamp, TimestampField, tv.Type())}
	}

	// raw points into the parser's buffer, which is recycled on Put.
	key := string(raw)
	ts, err := ParseTimestamp(key)
	if err != nil {
		return Decision{Verdict: Fatal, Err: err}
	}

	if !cutoff.IsZero() && ts.Before(cutoff) {
		return Decision{Verdict: Skip, Reason: SkipExpired}
	}

	payload := make([]byte, len(line))
	copy(payload, line)
	return Decision{
		Verdict: Accept,
		Record:  model.LogRecord{Key: key, Payload: payload},
	}
}

// strictNumbers reports whether every number under v uses RFC 8259 syntax.
func strictNumbers(v *fastjson.Value) bool {
	switch v.Type() {
	case fastjson.TypeNumber:
		return validNumber(v.MarshalTo(nil))
	case fastjson.TypeArray:
		for _, e := range v.GetArray() {
			if !strictNumbers(e) {
				return false
			}
		}
	case fastjson.TypeObject:
		ok := true
		v.GetObject().Visit(func(_ []byte, e *fastjson.Value) {
			ok = ok && strictNumbers(e)
		})
		return ok
	}
	return true
}

// validNumber matches -?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?.
func validNumber(b []byte) bool {
	i := 0
	digits := func() int {
		n := 0
		for i < len(b) && b[i] >= '0' && b[i] <= '9' {
			i++
			n++
		}
		return n
	}

	if i < len(b) && b[i] == '-' {
		i++
	}
	start := i
	n := digits()
	if n == 0 || (n > 1 && b[start] == '0') {
		return false
	}
	if i < len(b) && b[i] == '.' {
		i++
		if digits() == 0 {
			return false
		}
	}
	if i < len(b) && (b[i] == 'e' || b[i] == 'E') {
		i++
		if i < len(b) && (b[i] == '+' || b[i] == '-') {
			i++
		}
		if digits() == 0 {
			return false
		}
	}
	return i == len(b)
}

// ParseTimestamp parses an ISO-8601 querylog timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}
