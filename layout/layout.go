// Package layout computes the absolute positions of everything drawn on a
// delivery slip. Coordinates are PDF user space with the origin at the
// bottom-left corner of an A4 portrait page.
package layout

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/wudi/slipkit/artifact"
	"github.com/wudi/slipkit/order"
)

const (
	PageWidth  = 595.2756
	PageHeight = 841.8898

	Title            = "納品書"
	IntroLine1       = "この度はお買い上げいただき、ありがとうございます。"
	DefaultIntroLine = "下記の通り納品いたします。"
	HonorificSuffix  = "様"
)

// HeaderLabels are the item table column titles, left to right.
var HeaderLabels = [3]string{"SKU", "商品名", "商品数量"}

// ColumnOffsets are the left edges of the table columns relative to the table
// origin. The second and third offsets are also where the separators go.
var ColumnOffsets = [3]float64{0, 100, 300}

// Measurer reports the advance width of text set at size points.
type Measurer interface {
	Measure(text string, size float64) float64
}

// TextBox is one string placed at a baseline origin.
type TextBox struct {
	Text string
	X, Y float64
	Size float64
}

// Table is the geometry of the item grid. YStart is the header's bottom
// edge; the header occupies YStart..YStart+HeaderHeight and rows grow
// downwards from YStart.
type Table struct {
	X, YStart     float64
	Width         float64
	HeaderHeight  float64
	RowHeight     float64
	Height        float64 // RowHeight * Rows, never negative
	Rows          int
	InsetX        float64
	InsetY        float64
	FontSize      float64
	HeaderFill    float64 // grey level of the header band
	ColumnOffsets [3]float64
}

// Bottom is the lowest y the table reaches.
func (t Table) Bottom() float64 { return t.YStart - t.Height }

// RowBaseline is the text baseline of item row i (0-based).
func (t Table) RowBaseline(i int) float64 {
	return t.YStart - t.RowHeight*float64(i+1) + t.InsetY
}

type PageLayout struct {
	Seq           artifact.Seq
	Width, Height float64

	Title          TextBox
	Intro          []TextBox
	Recipient      TextBox
	RecipientLines []TextBox
	Sender         TextBox
	SenderLines    []TextBox
	Table          Table
	PageNumber     TextBox
}

var (
	ErrNilRecord   = errors.New("layout: nil record")
	ErrNilMeasurer = errors.New("layout: nil measurer")
)

// Engine holds the fixed slip geometry. The zero value is not usable; build
// one with NewEngine.
type Engine struct {
	introLine     string
	nameBaseSize  float64
	nameMaxWidth  float64
	textSize      float64
	introSize     float64
	tableFontSize float64
}

type Option func(*Engine)

// WithIntroLine replaces the second greeting line.
func WithIntroLine(text string) Option {
	return func(e *Engine) {
		e.introLine = text
	}
}

// WithNameFit overrides the recipient name fitting parameters.
func WithNameFit(base, maxWidth float64) Option {
	return func(e *Engine) {
		if base > 0 {
			e.nameBaseSize = base
		}
		if maxWidth > 0 {
			e.nameMaxWidth = maxWidth
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		introLine:     DefaultIntroLine,
		nameBaseSize:  10,
		nameMaxWidth:  200,
		textSize:      10,
		introSize:     12,
		tableFontSize: 8,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine()

// Compute lays out rec on the default engine.
func Compute(rec *order.Record, seq artifact.Seq, m Measurer) (*PageLayout, error) {
	return defaultEngine.Compute(rec, seq, m)
}

func (e *Engine) Compute(rec *order.Record, seq artifact.Seq, m Measurer) (*PageLayout, error) {
	if rec == nil {
		return nil, ErrNilRecord
	}
	if m == nil {
		return nil, ErrNilMeasurer
	}
	if seq < 1 {
		return nil, fmt.Errorf("layout: invalid seq %d", seq)
	}
	w, h := PageWidth, PageHeight
	l := &PageLayout{Seq: seq, Width: w, Height: h}

	l.Title = TextBox{Text: Title, X: 30, Y: h - 60, Size: e.textSize}
	l.Intro = []TextBox{
		{Text: IntroLine1, X: 30, Y: h - 80, Size: e.introSize},
		{Text: e.introLine, X: 30, Y: h - 100, Size: e.introSize},
	}

	name := rec.Recipient.Name + HonorificSuffix
	l.Recipient = TextBox{Text: name, X: 30, Y: h - 140, Size: FitFontSize(name, e.nameBaseSize, e.nameMaxWidth, m)}
	l.RecipientLines = stack(rec.Recipient.Lines, 3, 30, h-170, e.textSize)

	l.Sender = TextBox{Text: rec.Sender.Name, X: 350, Y: h - 140, Size: e.textSize}
	l.SenderLines = stack(rec.Sender.Lines, 2, 350, h-170, e.textSize)

	n := len(rec.Items)
	l.Table = Table{
		X:             30,
		YStart:        h - 250,
		Width:         540,
		HeaderHeight:  20,
		RowHeight:     20,
		Height:        20 * float64(n),
		Rows:          n,
		InsetX:        10,
		InsetY:        5,
		FontSize:      e.tableFontSize,
		HeaderFill:    0.827,
		ColumnOffsets: ColumnOffsets,
	}

	l.PageNumber = TextBox{Text: strconv.Itoa(int(seq)), X: w - 100, Y: 15, Size: e.textSize}
	return l, nil
}

// stack places up to max lines 15pt apart starting at y. Missing lines are
// kept as empty boxes so positions stay fixed.
func stack(lines []string, max int, x, y, size float64) []TextBox {
	out := make([]TextBox, max)
	for i := range out {
		out[i] = TextBox{X: x, Y: y - 15*float64(i), Size: size}
		if i < len(lines) {
			out[i].Text = lines[i]
		}
	}
	return out
}

// FitFontSize shrinks base proportionally when text set at base would be
// wider than maxWidth. It is a single proportional step.
func FitFontSize(text string, base, maxWidth float64, m Measurer) float64 {
	measured := m.Measure(text, base)
	if measured > maxWidth && measured > 0 {
		return base * (maxWidth / measured)
	}
	return base
}
