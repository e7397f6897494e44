package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(toks []Token) []Kind {
	out := make([]Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestTokenize_FluxPipe(t *testing.T) {
	toks, err := Tokenize(`from(bucket: "b") |> range(start: -1h30m)`, Config{Durations: true})
	require.NoError(t, err)

	assert.Equal(t, []Kind{Ident, Op, Ident, Op, String, Op, Op, Ident, Op, Ident, Op, Op, Duration, Op, EOF}, kinds(toks))
	assert.Equal(t, "b", toks[4].Value)
	assert.True(t, toks[6].Is("|>"))
	assert.Equal(t, "1h30m", toks[12].Text)
}

func TestTokenize_SQLQuoting(t *testing.T) {
	toks, err := Tokenize(`SELECT "my col", 'it''s' FROM t -- trailing`, Config{SQL: true, LineComments: []string{"--"}})
	require.NoError(t, err)

	require.Len(t, toks, 7)
	assert.Equal(t, QuotedIdent, toks[1].Kind)
	assert.Equal(t, "my col", toks[1].Value)
	assert.Equal(t, String, toks[3].Kind)
	assert.Equal(t, "it's", toks[3].Value)
	assert.True(t, toks[4].IsKeyword("from"))
}

func TestTokenize_Numbers(t *testing.T) {
	toks, err := Tokenize(`1.5 2e3 0x1F 5m`, Config{})
	require.NoError(t, err)
	assert.Equal(t, []Kind{Number, Number, Number, Number, Ident, EOF}, kinds(toks))

	toks, err = Tokenize(`2e3 5m 10s`, Config{Durations: true})
	require.NoError(t, err)
	assert.Equal(t, []Kind{Number, Duration, Duration, EOF}, kinds(toks))
}

func TestTokenize_RegexMatchOperators(t *testing.T) {
	toks, err := Tokenize(`a ~ 'x' b !~ 'y' c =~ 'z' d ~* 'w'`, Config{SQL: true})
	require.NoError(t, err)

	var ops []string
	for _, tok := range toks {
		if tok.Kind == Op {
			ops = append(ops, tok.Text)
		}
	}
	assert.Equal(t, []string{"~", "!~", "=~", "~", "*"}, ops)
}

func TestTokenize_DateTimes(t *testing.T) {
	toks, err := Tokenize(`2021-01-01T00:00:00Z 2021-01-02 2021-01-01T12:00:00.5+02:00 1h 2021-1`, Config{DateTimes: true, Durations: true})
	require.NoError(t, err)
	assert.Equal(t, []Kind{DateTime, DateTime, DateTime, Duration, Number, Op, Number, EOF}, kinds(toks))
	assert.Equal(t, "2021-01-01T12:00:00.5+02:00", toks[2].Text)

	toks, err = Tokenize(`2021-01-01`, Config{})
	require.NoError(t, err)
	assert.Equal(t, []Kind{Number, Op, Number, Op, Number, EOF}, kinds(toks))
}

func TestTokenize_DottedIdent(t *testing.T) {
	toks, err := Tokenize(`db.rp.cpu.`, Config{IdentExtra: "."})
	require.NoError(t, err)
	assert.Equal(t, "db.rp.cpu", toks[0].Text)
	assert.True(t, toks[1].Is("."))
}

func TestTokenize_Errors(t *testing.T) {
	_, err := Tokenize(`"unterminated`, Config{})
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Pos)

	_, err = Tokenize("a $ b", Config{})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 2, se.Pos)
}

func TestStream(t *testing.T) {
	toks, err := Tokenize(`GROUP BY x`, Config{})
	require.NoError(t, err)
	s := NewStream(toks)

	assert.False(t, s.AcceptKeywords("group", "order"))
	assert.True(t, s.AcceptKeywords("group", "by"))
	m := s.Mark()
	assert.Equal(t, "x", s.Next().Text)
	assert.True(t, s.Done())
	s.Next()
	assert.True(t, s.Done())
	s.Reset(m)
	assert.False(t, s.Done())
}

func TestTokenize_Regex(t *testing.T) {
	toks, err := Tokenize(`r.host =~ /web\/[0-9]+/ and x / 2`, Config{Regex: true, IdentExtra: "."})
	require.NoError(t, err)
	assert.Equal(t, Regex, toks[2].Kind)
	assert.Equal(t, `web/[0-9]+`, toks[2].Value)
	assert.True(t, toks[5].Is("/"))
}
