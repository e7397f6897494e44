// Package scan is the tokenizer shared by the hand-written dialect front
// ends (Flux, MetricsQL and the SQL extensions).
package scan

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind classifies a token.
type Kind int

const (
	EOF Kind = iota
	Ident
	QuotedIdent
	Number
	Duration
	String
	Op
	Regex
	DateTime
)

var kindNames = [...]string{
	EOF:         "end of input",
	Ident:       "identifier",
	QuotedIdent: "quoted identifier",
	Number:      "number",
	Duration:    "duration",
	String:      "string",
	Op:          "operator",
	Regex:       "regex",
	DateTime:    "date-time",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Token is one lexeme. Text is the raw source slice; Value is the decoded
// content for strings and quoted identifiers and equals Text otherwise.
type Token struct {
	Kind  Kind
	Text  string
	Value string
	Pos   int
	End   int
}

// Is reports whether t is the operator op.
func (t Token) Is(op string) bool { return t.Kind == Op && t.Text == op }

// IsKeyword reports whether t is an unquoted identifier equal to kw,
// ignoring case.
func (t Token) IsKeyword(kw string) bool {
	return t.Kind == Ident && strings.EqualFold(t.Text, kw)
}

// Config selects dialect lexing rules.
type Config struct {
	// Durations lexes "5m", "1h30m" and "1.5h" as a single Duration token.
	Durations bool
	// SQL makes double quotes and backticks delimit identifiers and allows
	// '' as an escaped quote inside single-quoted strings.
	SQL bool
	// IdentExtra lists extra identifier characters beyond letters, digits
	// and '_' (":" for PromQL metric names, "." for dotted SQL names).
	IdentExtra string
	// LineComments lists line-comment introducers ("--", "//", "#").
	LineComments []string
	// Regex lexes /pattern/ after =~ and !~ as a Regex token whose Value
	// is the pattern.
	Regex bool
	// DateTimes lexes RFC 3339 dates and date-times (2021-01-01,
	// 2021-01-01T00:00:00Z) as a single DateTime token.
	DateTimes bool
}

var dateTime = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(?:T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2}))?`)

// Error is a lexing failure at byte offset Pos.
type Error struct {
	Pos int
	Msg string
}

func (e *Error) Error() string { return fmt.Sprintf("offset %d: %s", e.Pos, e.Msg) }

var operators = []string{
	"|>", "=>", "==", "!=", "=~", "!~", "<=", ">=", "<>", "::", "||", "->",
	"(", ")", "[", "]", "{", "}", ",", ".", ";", ":", "+", "-", "*", "/",
	"%", "^", "=", "<", ">", "!", "@", "|", "&", "?", "~",
}

// Tokenize splits text into tokens ending with an EOF token.
func Tokenize(text string, cfg Config) ([]Token, error) {
	l := &lexer{src: text, cfg: cfg}
	var toks []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		l.prev = tok
		if tok.Kind == EOF {
			return toks, nil
		}
	}
}

type lexer struct {
	src  string
	pos  int
	cfg  Config
	prev Token
}

func (l *lexer) next() (Token, error) {
	l.skipSpaceAndComments()
	if l.pos >= len(l.src) {
		return Token{Kind: EOF, Pos: l.pos, End: l.pos}, nil
	}
	start := l.pos
	c := l.src[l.pos]
	switch {
	case c == '\'':
		return l.quoted(start, '\'', String)
	case c == '/' && l.cfg.Regex && (l.prev.Is("=~") || l.prev.Is("!~")):
		return l.regex(start)
	case c == '"':
		if l.cfg.SQL {
			return l.quoted(start, '"', QuotedIdent)
		}
		return l.quoted(start, '"', String)
	case c == '`':
		if l.cfg.SQL {
			return l.quoted(start, '`', QuotedIdent)
		}
		return l.raw(start)
	case l.cfg.DateTimes && isDigit(c) && dateTime.MatchString(l.src[l.pos:]):
		l.pos += len(dateTime.FindString(l.src[l.pos:]))
		return l.tok(DateTime, start), nil
	case isDigit(c) || (c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		return l.number(start), nil
	case l.isIdentStart(start):
		for l.pos < len(l.src) && l.isIdentPart(l.pos) {
			_, w := utf8.DecodeRuneInString(l.src[l.pos:])
			l.pos += w
		}
		return l.tok(Ident, start), nil
	}
	for _, op := range operators {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.pos += len(op)
			return l.tok(Op, start), nil
		}
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	return Token{}, &Error{Pos: start, Msg: fmt.Sprintf("unexpected character %q", r)}
}

func (l *lexer) tok(k Kind, start int) Token {
	text := l.src[start:l.pos]
	return Token{Kind: k, Text: text, Value: text, Pos: start, End: l.pos}
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		r, w := utf8.DecodeRuneInString(l.src[l.pos:])
		if unicode.IsSpace(r) {
			l.pos += w
			continue
		}
		comment := false
		for _, intro := range l.cfg.LineComments {
			if strings.HasPrefix(l.src[l.pos:], intro) {
				comment = true
				break
			}
		}
		if !comment {
			return
		}
		if i := strings.IndexByte(l.src[l.pos:], '\n'); i >= 0 {
			l.pos += i + 1
		} else {
			l.pos = len(l.src)
		}
	}
}

func (l *lexer) quoted(start int, q byte, kind Kind) (Token, error) {
	var b strings.Builder
	l.pos++
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == q:
			if l.cfg.SQL && l.pos+1 < len(l.src) && l.src[l.pos+1] == q {
				b.WriteByte(q)
				l.pos += 2
				continue
			}
			l.pos++
			tok := l.tok(kind, start)
			tok.Value = b.String()
			return tok, nil
		case c == '\\' && l.pos+1 < len(l.src):
			b.WriteByte(unescape(l.src[l.pos+1]))
			l.pos += 2
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return Token{}, &Error{Pos: start, Msg: "unterminated string"}
}

func (l *lexer) raw(start int) (Token, error) {
	end := strings.IndexByte(l.src[start+1:], '`')
	if end < 0 {
		return Token{}, &Error{Pos: start, Msg: "unterminated raw string"}
	}
	l.pos = start + 1 + end + 1
	tok := l.tok(String, start)
	tok.Value = l.src[start+1 : start+1+end]
	return tok, nil
}

func (l *lexer) regex(start int) (Token, error) {
	var b strings.Builder
	for p := start + 1; p < len(l.src); p++ {
		c := l.src[p]
		switch {
		case c == '\\' && p+1 < len(l.src) && l.src[p+1] == '/':
			b.WriteByte('/')
			p++
		case c == '/':
			l.pos = p + 1
			tok := l.tok(Regex, start)
			tok.Value = b.String()
			return tok, nil
		default:
			b.WriteByte(c)
		}
	}
	return Token{}, &Error{Pos: start, Msg: "unterminated regex"}
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return c
	}
}

func (l *lexer) number(start int) Token {
	if strings.HasPrefix(l.src[l.pos:], "0x") || strings.HasPrefix(l.src[l.pos:], "0X") {
		l.pos += 2
		for l.pos < len(l.src) && isHex(l.src[l.pos]) {
			l.pos++
		}
		return l.tok(Number, start)
	}
	l.digits()
	if l.cfg.Durations && l.pos < len(l.src) && isLetter(l.src[l.pos]) && !l.exponentAhead() {
		if end, ok := durationEnd(l.src, start); ok {
			l.pos = end
			return l.tok(Duration, start)
		}
	}
	if l.exponentAhead() {
		l.pos++
		if l.src[l.pos] == '+' || l.src[l.pos] == '-' {
			l.pos++
		}
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	return l.tok(Number, start)
}

func (l *lexer) digits() {
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1]) {
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
}

// exponentAhead reports an exponent marker such as "e5" or "E-3".
func (l *lexer) exponentAhead() bool {
	p := l.pos
	if p >= len(l.src) || (l.src[p] != 'e' && l.src[p] != 'E') {
		return false
	}
	p++
	if p < len(l.src) && (l.src[p] == '+' || l.src[p] == '-') {
		p++
	}
	return p < len(l.src) && isDigit(l.src[p])
}

// durationEnd returns the end of a duration literal starting at start:
// one or more <number><unit> groups with units made of letters.
func durationEnd(src string, start int) (int, bool) {
	p := start
	groups := 0
	for p < len(src) && (isDigit(src[p]) || src[p] == '.') {
		q := p
		for q < len(src) && (isDigit(src[q]) || src[q] == '.') {
			q++
		}
		u := q
		for u < len(src) && isLetter(src[u]) {
			u++
		}
		if u == q {
			break
		}
		p = u
		groups++
	}
	if groups == 0 {
		return 0, false
	}
	if p < len(src) && (isDigit(src[p]) || src[p] == '_') {
		return 0, false
	}
	return p, true
}

func (l *lexer) isIdentStart(p int) bool {
	r, _ := utf8.DecodeRuneInString(l.src[p:])
	return r == '_' || unicode.IsLetter(r) || (r < utf8.RuneSelf && strings.IndexByte(l.cfg.IdentExtra, byte(r)) >= 0 && r != '.')
}

func (l *lexer) isIdentPart(p int) bool {
	r, _ := utf8.DecodeRuneInString(l.src[p:])
	if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	if r >= utf8.RuneSelf || strings.IndexByte(l.cfg.IdentExtra, byte(r)) < 0 {
		return false
	}
	// A trailing '.' is punctuation, not part of the name.
	return r != '.' || (p+1 < len(l.src) && (isLetter(l.src[p+1]) || l.src[p+1] == '_' || isDigit(l.src[p+1])))
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
