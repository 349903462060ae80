package builder

import (
	"errors"
	"fmt"

	"github.com/wudi/slipkit/fonts"
	"github.com/wudi/slipkit/ir/semantic"
)

// PDFBuilder provides a fluent API for PDF construction.
type PDFBuilder interface {
	NewPage(width, height float64) PageBuilder
	SetInfo(info *semantic.DocumentInfo) PDFBuilder
	SetLanguage(lang string) PDFBuilder
	RegisterFace(name string, face *fonts.Face) PDFBuilder
	Build() (*semantic.Document, error)
}

// PageBuilder provides a fluent API for page construction.
type PageBuilder interface {
	DrawText(text string, x, y float64, opts TextOptions) PageBuilder
	DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder
	DrawLine(x1, y1, x2, y2 float64, opts LineOptions) PageBuilder
	SetMediaBox(box semantic.Rectangle) PageBuilder
	Finish() PDFBuilder
}

// TextOptions configures text drawing.
type TextOptions struct {
	Font     string
	FontSize float64
	Color    Color
}

// PathOptions configures path drawing.
type PathOptions struct {
	StrokeColor Color
	FillColor   Color
	LineWidth   float64
	DashPattern []float64
	DashPhase   float64
	Fill        bool
	Stroke      bool
}

// RectOptions configures rectangle drawing (defaults to stroke if neither fill nor stroke is set).
type RectOptions = PathOptions

// LineOptions configures line drawing.
type LineOptions struct {
	StrokeColor Color
	LineWidth   float64
	DashPattern []float64
	DashPhase   float64
}

// Color represents an RGB color. The zero value leaves the current color
// (black by default) untouched.
type Color struct {
	R, G, B float64
	A       float64
}

// ErrNoFace is returned by Build when text was drawn with a font name that
// was never registered.
var ErrNoFace = errors.New("font not registered")

// fontResource is the per-document view of a registered face. The font is
// a copy of the face template whose ToUnicode map only covers the glyphs
// this document drew.
type fontResource struct {
	face *fonts.Face
	font *semantic.Font
}

type builderImpl struct {
	pages       []*semantic.Page
	info        *semantic.DocumentInfo
	lang        string
	fonts       map[string]*fontResource
	defaultFont string
	fontErr     error
}

type pageBuilderImpl struct {
	parent *builderImpl
	page   *semantic.Page
}

// NewBuilder constructs a PDFBuilder.
func NewBuilder() PDFBuilder { return &builderImpl{fonts: make(map[string]*fontResource)} }

func (b *builderImpl) NewPage(w, h float64) PageBuilder {
	p := &semantic.Page{MediaBox: semantic.Rectangle{LLX: 0, LLY: 0, URX: w, URY: h}}
	b.pages = append(b.pages, p)
	return &pageBuilderImpl{parent: b, page: p}
}

func (b *builderImpl) SetInfo(info *semantic.DocumentInfo) PDFBuilder {
	b.info = info
	return b
}

func (b *builderImpl) SetLanguage(lang string) PDFBuilder {
	b.lang = lang
	return b
}

// RegisterFace makes face available under name. The first registered face
// becomes the default for TextOptions without a font name.
func (b *builderImpl) RegisterFace(name string, face *fonts.Face) PDFBuilder {
	if face == nil || face.Font == nil {
		b.fontErr = fmt.Errorf("register font %q: nil face", name)
		return b
	}
	font := *face.Font
	font.ToUnicode = make(map[int][]rune)
	b.fonts[name] = &fontResource{face: face, font: &font}
	if b.defaultFont == "" {
		b.defaultFont = name
	}
	return b
}

func (b *builderImpl) Build() (*semantic.Document, error) {
	if b.fontErr != nil {
		return nil, b.fontErr
	}
	for i, p := range b.pages {
		p.Index = i
	}
	return &semantic.Document{
		Pages: b.pages,
		Info:  b.info,
		Lang:  b.lang,
	}, nil
}

func (b *builderImpl) fontForName(name string) (*fontResource, string) {
	if name == "" {
		name = b.defaultFont
	}
	res, ok := b.fonts[name]
	if !ok {
		if b.fontErr == nil {
			b.fontErr = fmt.Errorf("%w: %q", ErrNoFace, name)
		}
		return nil, name
	}
	return res, name
}

// encode turns text into two-byte glyph ids and records each glyph's source
// rune for the ToUnicode map.
func (r *fontResource) encode(text string) []byte {
	gids := r.face.GlyphIDs(text)
	buf := make([]byte, 0, len(gids)*2)
	i := 0
	for _, ch := range text {
		gid := gids[i]
		i++
		buf = append(buf, byte(gid>>8), byte(gid))
		if gid == 0 {
			continue
		}
		if _, seen := r.font.ToUnicode[int(gid)]; !seen {
			r.font.ToUnicode[int(gid)] = []rune{ch}
		}
	}
	return buf
}

func (p *pageBuilderImpl) DrawText(text string, x, y float64, opts TextOptions) PageBuilder {
	res, fontName := p.parent.fontForName(opts.Font)
	if res == nil {
		return p
	}
	fontsRes := p.ensureResources()
	fontsRes.Fonts[fontName] = res.font

	size := opts.FontSize
	if size <= 0 {
		size = 12
	}
	ops := p.ensureContentOps()
	*ops = append(*ops, semantic.Operation{Operator: "BT"})
	*ops = append(*ops, semantic.Operation{
		Operator: "Tf",
		Operands: []semantic.Operand{semantic.NameOperand{Value: fontName}, semantic.NumberOperand{Value: size}},
	})
	*ops = append(*ops, semantic.Operation{
		Operator: "Tm",
		Operands: []semantic.Operand{
			semantic.NumberOperand{Value: 1},
			semantic.NumberOperand{Value: 0},
			semantic.NumberOperand{Value: 0},
			semantic.NumberOperand{Value: 1},
			semantic.NumberOperand{Value: x},
			semantic.NumberOperand{Value: y},
		},
	})
	p.appendColorOp(ops, opts.Color, false)
	*ops = append(*ops, semantic.Operation{
		Operator: "Tj",
		Operands: []semantic.Operand{semantic.StringOperand{Value: res.encode(text), Hex: true}},
	})
	*ops = append(*ops, semantic.Operation{Operator: "ET"})
	return p
}

func (p *pageBuilderImpl) DrawRectangle(x, y, width, height float64, opts RectOptions) PageBuilder {
	po := opts
	if !po.Stroke && !po.Fill {
		po.Stroke = true
	}
	ops := p.ensureContentOps()
	*ops = append(*ops, semantic.Operation{Operator: "q"})
	p.applyPathState(ops, po)
	*ops = append(*ops, semantic.Operation{
		Operator: "re",
		Operands: []semantic.Operand{
			semantic.NumberOperand{Value: x},
			semantic.NumberOperand{Value: y},
			semantic.NumberOperand{Value: width},
			semantic.NumberOperand{Value: height},
		},
	})
	*ops = append(*ops, semantic.Operation{Operator: paintOperator(po.Fill, po.Stroke)})
	*ops = append(*ops, semantic.Operation{Operator: "Q"})
	return p
}

func (p *pageBuilderImpl) DrawLine(x1, y1, x2, y2 float64, opts LineOptions) PageBuilder {
	ops := p.ensureContentOps()
	*ops = append(*ops, semantic.Operation{Operator: "q"})
	p.applyPathState(ops, PathOptions{
		StrokeColor: opts.StrokeColor,
		LineWidth:   opts.LineWidth,
		DashPattern: opts.DashPattern,
		DashPhase:   opts.DashPhase,
		Stroke:      true,
	})
	*ops = append(*ops, semantic.Operation{
		Operator: "m",
		Operands: []semantic.Operand{semantic.NumberOperand{Value: x1}, semantic.NumberOperand{Value: y1}},
	})
	*ops = append(*ops, semantic.Operation{
		Operator: "l",
		Operands: []semantic.Operand{semantic.NumberOperand{Value: x2}, semantic.NumberOperand{Value: y2}},
	})
	*ops = append(*ops, semantic.Operation{Operator: "S"})
	*ops = append(*ops, semantic.Operation{Operator: "Q"})
	return p
}

func (p *pageBuilderImpl) SetMediaBox(box semantic.Rectangle) PageBuilder {
	p.page.MediaBox = box
	return p
}

func (p *pageBuilderImpl) Finish() PDFBuilder { return p.parent }

func (p *pageBuilderImpl) ensureResources() *semantic.Resources {
	if p.page.Resources == nil {
		p.page.Resources = &semantic.Resources{}
	}
	if p.page.Resources.Fonts == nil {
		p.page.Resources.Fonts = make(map[string]*semantic.Font)
	}
	return p.page.Resources
}

func (p *pageBuilderImpl) ensureContentOps() *[]semantic.Operation {
	if len(p.page.Contents) == 0 {
		p.page.Contents = append(p.page.Contents, semantic.ContentStream{})
	}
	return &p.page.Contents[0].Operations
}

func (p *pageBuilderImpl) appendColorOp(ops *[]semantic.Operation, c Color, stroking bool) {
	if isZeroColor(c) {
		return
	}
	op := "rg"
	if stroking {
		op = "RG"
	}
	*ops = append(*ops, semantic.Operation{Operator: op, Operands: colorOperands(c)})
}

func (p *pageBuilderImpl) applyPathState(ops *[]semantic.Operation, opts PathOptions) {
	if opts.Fill {
		p.appendColorOp(ops, opts.FillColor, false)
	}
	if !opts.Stroke {
		return
	}
	p.appendColorOp(ops, opts.StrokeColor, true)
	if opts.LineWidth > 0 {
		*ops = append(*ops, semantic.Operation{Operator: "w", Operands: []semantic.Operand{semantic.NumberOperand{Value: opts.LineWidth}}})
	}
	if len(opts.DashPattern) > 0 {
		vals := make([]semantic.Operand, 0, len(opts.DashPattern))
		for _, v := range opts.DashPattern {
			vals = append(vals, semantic.NumberOperand{Value: v})
		}
		*ops = append(*ops, semantic.Operation{
			Operator: "d",
			Operands: []semantic.Operand{
				semantic.ArrayOperand{Values: vals},
				semantic.NumberOperand{Value: opts.DashPhase},
			},
		})
	}
}

func isZeroColor(c Color) bool {
	return c.R == 0 && c.G == 0 && c.B == 0 && c.A == 0
}

func colorOperands(c Color) []semantic.Operand {
	return []semantic.Operand{
		semantic.NumberOperand{Value: c.R},
		semantic.NumberOperand{Value: c.G},
		semantic.NumberOperand{Value: c.B},
	}
}

func paintOperator(fill, stroke bool) string {
	switch {
	case fill && stroke:
		return "B"
	case fill:
		return "f"
	default:
		return "S"
	}
}
