package queryir

import (
	"fmt"
	"strings"
)

// ParseError is returned by every dialect front end.
//
// Position is a byte offset into the query text; Line and Column are
// 1-based and zero when unknown.
type ParseError struct {
	Dialect  Dialect
	Message  string
	Position *int
	Line     int
	Column   int
}

func (e *ParseError) Error() string {
	var b strings.Builder
	if e.Dialect != "" {
		b.WriteString(string(e.Dialect))
		b.WriteString(": ")
	}
	b.WriteString("parse error")
	switch {
	case e.Line > 0:
		fmt.Fprintf(&b, " at line %d, column %d", e.Line, e.Column)
	case e.Position != nil:
		fmt.Fprintf(&b, " at offset %d", *e.Position)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// NewParseError returns an unpositioned parse error.
func NewParseError(d Dialect, format string, args ...any) *ParseError {
	return &ParseError{Dialect: d, Message: fmt.Sprintf(format, args...)}
}

// ParseErrorAt returns a parse error positioned at byte offset in text.
func ParseErrorAt(d Dialect, text string, offset int, format string, args ...any) *ParseError {
	if offset < 0 {
		offset = 0
	}
	if offset > len(text) {
		offset = len(text)
	}
	line, col := LineColumn(text, offset)
	pos := offset
	return &ParseError{
		Dialect:  d,
		Message:  fmt.Sprintf(format, args...),
		Position: &pos,
		Line:     line,
		Column:   col,
	}
}

// ParseErrorLineCol returns a parse error from a library that reports
// 1-based line and column but no offset.
func ParseErrorLineCol(d Dialect, text string, line, col int, message string) *ParseError {
	e := &ParseError{Dialect: d, Message: message, Line: line, Column: col}
	if off, ok := offsetOf(text, line, col); ok {
		e.Position = &off
	}
	return e
}

// LineColumn converts a byte offset to a 1-based line and column.
func LineColumn(text string, offset int) (line, col int) {
	line, col = 1, 1
	for i := 0; i < offset && i < len(text); i++ {
		if text[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

func offsetOf(text string, line, col int) (int, bool) {
	if line < 1 || col < 1 {
		return 0, false
	}
	cur := 1
	start := 0
	for cur < line {
		i := strings.IndexByte(text[start:], '\n')
		if i < 0 {
			return 0, false
		}
		start += i + 1
		cur++
	}
	off := start + col - 1
	if off > len(text) {
		return 0, false
	}
	return off, true
}

// TranslateError is returned by the back ends.
type TranslateError struct {
	Target      Dialect
	Message     string
	Unsupported string
	Err         error
}

func (e *TranslateError) Error() string {
	var b strings.Builder
	b.WriteString("translate")
	if e.Target != "" {
		b.WriteString(" to ")
		b.WriteString(string(e.Target))
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Unsupported != "" {
		fmt.Fprintf(&b, " (unsupported: %s)", e.Unsupported)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TranslateError) Unwrap() error { return e.Err }

// Unsupported returns a TranslateError naming a feature target cannot express.
func Unsupported(target Dialect, feature, format string, args ...any) *TranslateError {
	return &TranslateError{Target: target, Message: fmt.Sprintf(format, args...), Unsupported: feature}
}
