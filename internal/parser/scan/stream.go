package scan

// Stream is a cursor over a token slice. The slice must end with EOF.
type Stream struct {
	toks []Token
	i    int
}

// NewStream returns a cursor over toks.
func NewStream(toks []Token) *Stream {
	if len(toks) == 0 || toks[len(toks)-1].Kind != EOF {
		end := 0
		if len(toks) > 0 {
			end = toks[len(toks)-1].End
		}
		toks = append(toks, Token{Kind: EOF, Pos: end, End: end})
	}
	return &Stream{toks: toks}
}

// Peek returns the current token without consuming it.
func (s *Stream) Peek() Token { return s.toks[s.i] }

// PeekN returns the token n positions ahead (0 is Peek).
func (s *Stream) PeekN(n int) Token {
	if s.i+n >= len(s.toks) {
		return s.toks[len(s.toks)-1]
	}
	return s.toks[s.i+n]
}

// Next consumes and returns the current token. EOF is sticky.
func (s *Stream) Next() Token {
	t := s.toks[s.i]
	if s.i < len(s.toks)-1 {
		s.i++
	}
	return t
}

// Done reports whether the cursor is at EOF.
func (s *Stream) Done() bool { return s.toks[s.i].Kind == EOF }

// Mark returns a position for Reset.
func (s *Stream) Mark() int { return s.i }

// Reset rewinds to a Mark.
func (s *Stream) Reset(mark int) { s.i = mark }

// Accept consumes the operator op if it is next.
func (s *Stream) Accept(op string) bool {
	if s.Peek().Is(op) {
		s.Next()
		return true
	}
	return false
}

// AcceptKeyword consumes the identifier kw (any case) if it is next.
func (s *Stream) AcceptKeyword(kw string) bool {
	if s.Peek().IsKeyword(kw) {
		s.Next()
		return true
	}
	return false
}

// AcceptKeywords consumes the keyword sequence only if all of it is next.
func (s *Stream) AcceptKeywords(kws ...string) bool {
	for n, kw := range kws {
		if !s.PeekN(n).IsKeyword(kw) {
			return false
		}
	}
	for range kws {
		s.Next()
	}
	return true
}

// Tokens returns the underlying slice.
func (s *Stream) Tokens() []Token { return s.toks }
