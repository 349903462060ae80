package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenKeyword                  // other keywords (obj, endobj, stream, >>, ], R, ...)
)

// Token is one lexical element. Which value field is meaningful depends on Type:
// Str for names and keywords, Bytes for strings, Int/Float for numbers.
type Token struct {
	Type  TokenType
	Str   string
	Bytes []byte
	Hex   bool
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Pos   int64
}

// Scanner tokenizes PDF syntax.
type Scanner interface {
	Next() (Token, error)
	Position() int64
	SeekTo(offset int64) error
	// ReadStream consumes a stream payload right after the "stream" keyword.
	// A negative length makes the scanner search for "endstream".
	ReadStream(length int64) ([]byte, error)
}

// Config bounds the scanner.
type Config struct {
	MaxStringLength int64
}

var (
	ErrUnterminatedString = errors.New("unterminated string")
	ErrStringTooLong      = errors.New("string too long")
	ErrMissingEndstream   = errors.New("missing endstream")
)

type pdfScanner struct {
	data []byte
	pos  int64
	cfg  Config
}

// New returns a scanner over data.
func New(data []byte, cfg Config) Scanner {
	return &pdfScanner{data: data, cfg: cfg}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) SeekTo(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return fmt.Errorf("seek %d out of range", offset)
	}
	s.pos = offset
	return nil
}

func (s *pdfScanner) Next() (Token, error) {
	s.skipWSAndComments()
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDict, Str: "<<", Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return Token{Type: TokenKeyword, Str: ">>", Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArray, Str: "[", Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenKeyword, Str: "]", Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isDigitStart(c) {
		return s.scanNumber()
	}
	return s.scanKeyword()
}

func (s *pdfScanner) ReadStream(length int64) ([]byte, error) {
	// The stream keyword is followed by CRLF or LF.
	if s.peek(0) == '\r' {
		s.pos++
	}
	if s.peek(0) == '\n' {
		s.pos++
	}
	start := s.pos
	if length >= 0 && start+length <= int64(len(s.data)) {
		end := start + length
		probe := end
		for probe < int64(len(s.data)) && isWhitespace(s.data[probe]) {
			probe++
		}
		if bytes.HasPrefix(s.data[probe:], []byte("endstream")) {
			s.pos = probe + int64(len("endstream"))
			return s.data[start:end], nil
		}
	}
	idx := bytes.Index(s.data[start:], []byte("endstream"))
	if idx < 0 {
		return nil, ErrMissingEndstream
	}
	end := start + int64(idx)
	s.pos = end + int64(len("endstream"))
	// Drop the EOL that precedes endstream.
	if end > start && s.data[end-1] == '\n' {
		end--
	}
	if end > start && s.data[end-1] == '\r' {
		end--
	}
	return s.data[start:end], nil
}

func (s *pdfScanner) peek(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *pdfScanner) skipWSAndComments() {
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) && isHex(s.data[s.pos+1]) && isHex(s.data[s.pos+2]) {
			out.WriteByte(fromHex(s.data[s.pos+1])<<4 | fromHex(s.data[s.pos+2]))
			s.pos += 3
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= int64(len(s.data)) {
				return Token{}, ErrUnterminatedString
			}
			esc := s.data[s.pos]
			s.pos++
			switch {
			case esc == '\r':
				if s.peek(0) == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				for k := 0; k < 2; k++ {
					d := s.peek(0)
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
			}
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
			}
		}
		buf.WriteByte(c)
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, ErrStringTooLong
		}
	}
	return Token{}, ErrUnterminatedString
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var nibbles []byte
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			if len(nibbles)%2 == 1 {
				nibbles = append(nibbles, '0')
			}
			out := make([]byte, 0, len(nibbles)/2)
			for i := 0; i < len(nibbles); i += 2 {
				out = append(out, fromHex(nibbles[i])<<4|fromHex(nibbles[i+1]))
			}
			if s.cfg.MaxStringLength > 0 && int64(len(out)) > s.cfg.MaxStringLength {
				return Token{}, ErrStringTooLong
			}
			return Token{Type: TokenString, Bytes: out, Hex: true, Pos: start}, nil
		}
		if isWhitespace(c) {
			continue
		}
		nibbles = append(nibbles, c)
	}
	return Token{}, ErrUnterminatedString
}

func (s *pdfScanner) scanNumber() (Token, error) {
	start := s.pos
	s.pos++
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			s.pos++
			continue
		}
		break
	}
	lit := string(s.data[start:s.pos])
	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, Float: float64(i), IsInt: true, Pos: start}, nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		// Lone signs or dots are tolerated as zero, as most readers do.
		return Token{Type: TokenNumber, IsInt: false, Pos: start}, nil
	}
	return Token{Type: TokenNumber, Float: f, Pos: start}, nil
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) || isDelimiter(c) {
			break
		}
		s.pos++
	}
	if s.pos == start {
		// Stray delimiter such as '{' or ')'.
		s.pos++
	}
	word := string(s.data[start:s.pos])
	switch word {
	case "true":
		return Token{Type: TokenBoolean, Bool: true, Str: word, Pos: start}, nil
	case "false":
		return Token{Type: TokenBoolean, Bool: false, Str: word, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: word, Pos: start}, nil
	}
	return Token{Type: TokenKeyword, Str: word, Pos: start}, nil
}

func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
