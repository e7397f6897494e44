package influxql

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// fillClauses records, for each SELECT in source order, whether its
// statement carries an explicit FILL clause. The library's zero FillOption
// is NullFill, so an omitted clause is otherwise indistinguishable, and
// Statement.String never prints fill(null).
//
// Source order of SELECT keywords is the pre-order of the statement tree,
// which is the order selectPlan visits statements in.
type fillClauses struct {
	explicit []bool
	next     int
}

// take returns the flag for the next statement in pre-order.
func (f *fillClauses) take() bool {
	i := f.next
	f.next++
	return i < len(f.explicit) && f.explicit[i]
}

// scanFillClauses finds FILL( clauses and attributes each to the innermost
// enclosing SELECT. String literals, quoted identifiers, regex literals
// and comments are skipped.
func scanFillClauses(text string) *fillClauses {
	f := &fillClauses{}
	owners := []int{-1} // owning SELECT per paren level
	prev := ""          // previous significant token, upper-cased words
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case strings.HasPrefix(text[i:], "--"):
			if j := strings.IndexByte(text[i:], '\n'); j >= 0 {
				i += j + 1
			} else {
				i = len(text)
			}
		case c == '\'' || c == '"':
			i = skipQuoted(text, i, c)
			prev = "value"
		case c == '/' && regexAllowed(prev):
			i = skipQuoted(text, i, '/')
			prev = "value"
		case c == '(':
			owners = append(owners, owners[len(owners)-1])
			i++
			prev = "("
		case c == ')':
			if len(owners) > 1 {
				owners = owners[:len(owners)-1]
			}
			i++
			prev = ")"
		case strings.HasPrefix(text[i:], "=~") || strings.HasPrefix(text[i:], "!~"):
			prev = text[i : i+2]
			i += 2
		case isWordStart(text, i):
			j := i
			for j < len(text) {
				r, w := utf8.DecodeRuneInString(text[j:])
				if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
					break
				}
				j += w
			}
			word := strings.ToUpper(text[i:j])
			switch word {
			case "SELECT":
				owners[len(owners)-1] = len(f.explicit)
				f.explicit = append(f.explicit, false)
			case "FILL":
				if next := strings.TrimLeft(text[j:], " \t\r\n"); strings.HasPrefix(next, "(") {
					if o := owners[len(owners)-1]; o >= 0 {
						f.explicit[o] = true
					}
				}
			}
			i = j
			prev = word
		default:
			i++
			prev = string(c)
		}
	}
	return f
}

// regexAllowed reports whether a '/' after prev starts a regex literal
// rather than a division: division needs an operand on its left.
func regexAllowed(prev string) bool {
	switch prev {
	case "", "=~", "!~", ",", "(", "FROM", "BY", "SELECT":
		return true
	}
	return false
}

func isWordStart(text string, i int) bool {
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// skipQuoted returns the offset just past the literal opened by q at i.
// A backslash escapes the next byte.
func skipQuoted(text string, i int, q byte) int {
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case '\\':
			j++
		case q:
			return j + 1
		}
	}
	return len(text)
}
