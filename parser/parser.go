package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/wudi/slipkit/ir/raw"
	"github.com/wudi/slipkit/scanner"
)

// Config controls PDF parsing.
type Config struct {
	Scanner scanner.Config
	// MaxDepth bounds array/dictionary nesting.
	MaxDepth int
}

// DocumentParser reads a PDF by scanning every "n g obj ... endobj" block in
// file order. It does not depend on the cross-reference table, so files with
// stale or missing xref sections still load. Later definitions of the same
// object replace earlier ones, which matches incremental update semantics.
type DocumentParser struct {
	cfg Config
}

var (
	ErrNoTrailer = errors.New("no trailer found")
	ErrTooDeep   = errors.New("object nesting too deep")
)

var headerVersion = regexp.MustCompile(`%PDF-(\d\.\d)`)

func NewDocumentParser(cfg Config) *DocumentParser {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 64
	}
	return &DocumentParser{cfg: cfg}
}

// Parse reads all of r and returns the raw document.
func (p *DocumentParser) Parse(ctx context.Context, r io.Reader) (*raw.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	return p.ParseBytes(ctx, data)
}

// ParseBytes parses an in-memory PDF.
func (p *DocumentParser) ParseBytes(ctx context.Context, data []byte) (*raw.Document, error) {
	doc := &raw.Document{
		Objects: make(map[raw.ObjectRef]raw.Object),
		Version: detectHeaderVersion(data),
	}
	tr := &tokenReader{s: scanner.New(data, p.cfg.Scanner), maxDepth: p.cfg.MaxDepth}

	for n := 0; ; n++ {
		if n%256 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
		tok, err := tr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch {
		case tok.Type == scanner.TokenKeyword && tok.Str == "trailer":
			obj, err := tr.parseObject(0)
			if err != nil {
				return nil, fmt.Errorf("parse trailer: %w", err)
			}
			if dict, ok := obj.(*raw.DictObj); ok {
				doc.Trailer = mergeTrailer(doc.Trailer, dict)
			}
		case tok.Type == scanner.TokenNumber && tok.IsInt:
			ref, ok, err := tr.objectHeader(tok)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			obj, err := tr.parseIndirect()
			if err != nil {
				return nil, fmt.Errorf("parse object %d %d: %w", ref.Num, ref.Gen, err)
			}
			doc.Objects[ref] = obj
			if stm, ok := obj.(*raw.StreamObj); ok {
				if typ, _ := stm.Dict.Name("Type"); typ == "XRef" {
					doc.Trailer = mergeTrailer(doc.Trailer, stm.Dict)
				}
			}
		}
	}

	if doc.Trailer == nil {
		return nil, ErrNoTrailer
	}
	_, doc.Encrypted = doc.Trailer.Get(raw.NameLiteral("Encrypt"))
	return doc, nil
}

// mergeTrailer lets keys from a later trailer override an earlier one.
func mergeTrailer(prev, next *raw.DictObj) *raw.DictObj {
	if prev == nil {
		return next.Clone()
	}
	out := prev.Clone()
	for k, v := range next.KV {
		out.KV[k] = v
	}
	return out
}

func detectHeaderVersion(data []byte) string {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if m := headerVersion.FindSubmatch(head); m != nil {
		return string(m[1])
	}
	return ""
}

type tokenReader struct {
	s        scanner.Scanner
	buf      []scanner.Token
	maxDepth int
}

func (r *tokenReader) next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *tokenReader) unread(tok scanner.Token) {
	r.buf = append(r.buf, tok)
}

// objectHeader checks whether first starts an "n g obj" header.
func (r *tokenReader) objectHeader(first scanner.Token) (raw.ObjectRef, bool, error) {
	genTok, err := r.next()
	if errors.Is(err, io.EOF) {
		return raw.ObjectRef{}, false, nil
	}
	if err != nil {
		return raw.ObjectRef{}, false, err
	}
	if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
		r.unread(genTok)
		return raw.ObjectRef{}, false, nil
	}
	kwTok, err := r.next()
	if errors.Is(err, io.EOF) {
		return raw.ObjectRef{}, false, nil
	}
	if err != nil {
		return raw.ObjectRef{}, false, err
	}
	if kwTok.Type != scanner.TokenKeyword || kwTok.Str != "obj" {
		// genTok may itself start the next header ("1 2 0 obj").
		r.unread(kwTok)
		r.unread(genTok)
		return raw.ObjectRef{}, false, nil
	}
	return raw.ObjectRef{Num: int(first.Int), Gen: int(genTok.Int)}, true, nil
}

// parseIndirect parses the body of an indirect object, including an optional
// stream payload and the closing endobj.
func (r *tokenReader) parseIndirect() (raw.Object, error) {
	obj, err := r.parseObject(0)
	if err != nil {
		return nil, err
	}
	if dict, ok := obj.(*raw.DictObj); ok {
		tok, err := r.next()
		if err == nil {
			if tok.Type == scanner.TokenKeyword && tok.Str == "stream" {
				length := int64(-1)
				if n, ok := dict.Int("Length"); ok {
					length = n
				}
				data, err := r.s.ReadStream(length)
				if err != nil {
					return nil, err
				}
				obj = raw.NewStream(dict, bytes.Clone(data))
			} else {
				r.unread(tok)
			}
		}
	}
	if tok, err := r.next(); err == nil {
		if tok.Type != scanner.TokenKeyword || tok.Str != "endobj" {
			r.unread(tok)
		}
	}
	return obj, nil
}

func (r *tokenReader) parseObject(depth int) (raw.Object, error) {
	if depth > r.maxDepth {
		return nil, ErrTooDeep
	}
	tok, err := r.next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case scanner.TokenNumber:
		if !tok.IsInt {
			return raw.NumberFloat(tok.Float), nil
		}
		return r.maybeRef(tok)
	case scanner.TokenBoolean:
		return raw.Bool(tok.Bool), nil
	case scanner.TokenNull:
		return raw.NullObj{}, nil
	case scanner.TokenString:
		return raw.StringObj{Bytes: bytes.Clone(tok.Bytes), Hex: tok.Hex}, nil
	case scanner.TokenArray:
		return r.parseArray(depth)
	case scanner.TokenDict:
		return r.parseDict(depth)
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", tok.Str, tok.Pos)
}

// maybeRef turns "n g R" into a reference and leaves plain integers alone.
func (r *tokenReader) maybeRef(num scanner.Token) (raw.Object, error) {
	genTok, err := r.next()
	if err != nil {
		return raw.NumberInt(num.Int), nil
	}
	if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
		r.unread(genTok)
		return raw.NumberInt(num.Int), nil
	}
	rTok, err := r.next()
	if err != nil {
		r.unread(genTok)
		return raw.NumberInt(num.Int), nil
	}
	if rTok.Type == scanner.TokenKeyword && rTok.Str == "R" {
		return raw.Ref(int(num.Int), int(genTok.Int)), nil
	}
	r.unread(rTok)
	r.unread(genTok)
	return raw.NumberInt(num.Int), nil
}

func (r *tokenReader) parseArray(depth int) (raw.Object, error) {
	arr := raw.NewArray()
	for {
		tok, err := r.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == "]" {
			return arr, nil
		}
		r.unread(tok)
		item, err := r.parseObject(depth + 1)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func (r *tokenReader) parseDict(depth int) (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := r.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Str == ">>" {
			return d, nil
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("expected name in dict at offset %d", tok.Pos)
		}
		val, err := r.parseObject(depth + 1)
		if err != nil {
			return nil, err
		}
		d.Set(raw.NameLiteral(tok.Str), val)
	}
}
