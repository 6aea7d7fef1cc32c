// Package sqltoken provides a lightweight SQL tokenizer. It is not a parser:
// it only separates identifiers, keywords, literals and punctuation, skipping
// comments, so that callers inspecting or rewriting a statement all agree on
// the same token boundaries.
package sqltoken

import (
	"strings"
	"unicode"
)

type Kind int

const (
	KindWord        Kind = iota // bare identifier or keyword
	KindQuotedIdent             // "identifier"
	KindString                  // 'literal'
	KindNumber
	KindSymbol
)

// Token is a single lexical element. Start and End are byte offsets into the
// original input, including any surrounding quotes.
type Token struct {
	Kind  Kind
	Text  string // unquoted content for strings and quoted identifiers
	Start int
	End   int
}

// Word returns the lower-cased text of a bare word token, or "" for any
// other kind. Quoted identifiers deliberately do not match: a column named
// "update" must not look like the UPDATE keyword.
func (t Token) Word() string {
	if t.Kind != KindWord {
		return ""
	}
	return strings.ToLower(t.Text)
}

// Name returns the identifier value a token contributes when it appears in
// an identifier position: bare words case-folded, quoted identifiers as
// written.
func (t Token) Name() string {
	switch t.Kind {
	case KindWord:
		return strings.ToLower(t.Text)
	case KindQuotedIdent:
		return t.Text
	default:
		return ""
	}
}

type scanner struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

// Scan tokenizes the whole input. Whitespace, line comments (-- ...) and
// block comments (/* ... */) produce no tokens. Unterminated strings or
// comments terminate at end of input rather than erroring; the execution
// engine reports proper syntax errors for those.
func Scan(input string) []Token {
	s := &scanner{input: input}
	s.readChar()

	tokens := make([]Token, 0, 16)
	for {
		tok, ok := s.next()
		if !ok {
			return tokens
		}
		tokens = append(tokens, tok)
	}
}

func (s *scanner) readChar() {
	if s.readPos >= len(s.input) {
		s.ch = 0
	} else {
		s.ch = s.input[s.readPos]
	}
	s.pos = s.readPos
	s.readPos++
}

func (s *scanner) peekChar() byte {
	if s.readPos >= len(s.input) {
		return 0
	}
	return s.input[s.readPos]
}

func (s *scanner) next() (Token, bool) {
	s.skipWhitespaceAndComments()

	start := s.pos
	switch {
	case s.ch == 0:
		return Token{}, false
	case s.ch == '\'':
		text := s.readEnclosed('\'')
		return Token{Kind: KindString, Text: text, Start: start, End: s.pos}, true
	case s.ch == '"':
		text := s.readEnclosed('"')
		return Token{Kind: KindQuotedIdent, Text: text, Start: start, End: s.pos}, true
	case isWordStart(s.ch):
		text := s.readWord()
		return Token{Kind: KindWord, Text: text, Start: start, End: s.pos}, true
	case isDigit(s.ch):
		text := s.readNumber()
		return Token{Kind: KindNumber, Text: text, Start: start, End: s.pos}, true
	default:
		ch := s.ch
		s.readChar()
		return Token{Kind: KindSymbol, Text: string(ch), Start: start, End: s.pos}, true
	}
}

func (s *scanner) skipWhitespaceAndComments() {
	for {
		for s.ch == ' ' || s.ch == '\t' || s.ch == '\n' || s.ch == '\r' {
			s.readChar()
		}
		if s.ch == '-' && s.peekChar() == '-' {
			for s.ch != '\n' && s.ch != 0 {
				s.readChar()
			}
			continue
		}
		if s.ch == '/' && s.peekChar() == '*' {
			s.readChar()
			s.readChar()
			for s.ch != 0 {
				if s.ch == '*' && s.peekChar() == '/' {
					s.readChar()
					s.readChar()
					break
				}
				s.readChar()
			}
			continue
		}
		break
	}
}

// readEnclosed reads a quoted region, handling doubled-quote escapes ('' or
// "") and returning the unescaped content.
func (s *scanner) readEnclosed(quote byte) string {
	s.readChar() // opening quote
	var result strings.Builder
	for s.ch != 0 {
		if s.ch == quote {
			if s.peekChar() == quote {
				result.WriteByte(quote)
				s.readChar()
				s.readChar()
				continue
			}
			s.readChar() // closing quote
			break
		}
		result.WriteByte(s.ch)
		s.readChar()
	}
	return result.String()
}

func (s *scanner) readWord() string {
	start := s.pos
	for isWordStart(s.ch) || isDigit(s.ch) {
		s.readChar()
	}
	return s.input[start:s.pos]
}

func (s *scanner) readNumber() string {
	start := s.pos
	for isDigit(s.ch) {
		s.readChar()
	}
	if s.ch == '.' && isDigit(s.peekChar()) {
		s.readChar()
		for isDigit(s.ch) {
			s.readChar()
		}
	}
	if s.ch == 'e' || s.ch == 'E' {
		s.readChar()
		if s.ch == '+' || s.ch == '-' {
			s.readChar()
		}
		for isDigit(s.ch) {
			s.readChar()
		}
	}
	return s.input[start:s.pos]
}

func isWordStart(ch byte) bool {
	return ch == '_' || unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
