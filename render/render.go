// Package render turns a computed slip layout into an ordered list of drawing
// operations and replays them onto a page builder.
package render

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wudi/slipkit/builder"
	"github.com/wudi/slipkit/layout"
	"github.com/wudi/slipkit/order"
)

// Op is one drawing primitive.
type Op interface {
	Apply(pb builder.PageBuilder)
}

type OpText struct {
	Text string
	X, Y float64
	Size float64
}

func (o OpText) Apply(pb builder.PageBuilder) {
	pb.DrawText(o.Text, o.X, o.Y, builder.TextOptions{FontSize: o.Size})
}

type OpLine struct {
	X1, Y1, X2, Y2 float64
}

func (o OpLine) Apply(pb builder.PageBuilder) {
	pb.DrawLine(o.X1, o.Y1, o.X2, o.Y2, builder.LineOptions{})
}

// OpFillRect paints a rectangle with a grey level and no border.
type OpFillRect struct {
	X, Y, W, H float64
	Gray       float64
}

func (o OpFillRect) Apply(pb builder.PageBuilder) {
	pb.DrawRectangle(o.X, o.Y, o.W, o.H, builder.RectOptions{
		Fill:      true,
		FillColor: builder.Color{R: o.Gray, G: o.Gray, B: o.Gray, A: 1},
	})
}

type OpStrokeRect struct {
	X, Y, W, H float64
}

func (o OpStrokeRect) Apply(pb builder.PageBuilder) {
	pb.DrawRectangle(o.X, o.Y, o.W, o.H, builder.RectOptions{Stroke: true})
}

// Page is a rendered slip ready to be written.
type Page struct {
	Width, Height float64
	Ops           []Op
}

func (p *Page) Size() (float64, float64) { return p.Width, p.Height }

// Apply replays the operations in order.
func (p *Page) Apply(pb builder.PageBuilder) {
	for _, op := range p.Ops {
		op.Apply(pb)
	}
}

var ErrNilLayout = errors.New("render: nil layout")

// Render emits the slip's operations. Empty strings are not drawn.
func Render(l *layout.PageLayout, rec *order.Record) (*Page, error) {
	if l == nil {
		return nil, ErrNilLayout
	}
	if rec == nil {
		return nil, layout.ErrNilRecord
	}
	if len(rec.Items) != l.Table.Rows {
		return nil, fmt.Errorf("render: layout has %d rows, record has %d items", l.Table.Rows, len(rec.Items))
	}
	p := &Page{Width: l.Width, Height: l.Height}

	p.text(l.Title)
	for _, b := range l.Intro {
		p.text(b)
	}
	p.text(l.Recipient)
	for _, b := range l.RecipientLines {
		p.text(b)
	}
	p.text(l.Sender)
	for _, b := range l.SenderLines {
		p.text(b)
	}
	p.table(l.Table, rec.Items)
	p.text(l.PageNumber)
	return p, nil
}

func (p *Page) text(b layout.TextBox) {
	if b.Text == "" {
		return
	}
	p.Ops = append(p.Ops, OpText{Text: b.Text, X: b.X, Y: b.Y, Size: b.Size})
}

func (p *Page) table(t layout.Table, items []order.LineItem) {
	p.Ops = append(p.Ops, OpFillRect{X: t.X, Y: t.YStart, W: t.Width, H: t.HeaderHeight, Gray: t.HeaderFill})
	for i, label := range layout.HeaderLabels {
		p.Ops = append(p.Ops, OpText{Text: label, X: t.X + t.ColumnOffsets[i] + t.InsetX, Y: t.YStart + t.InsetY, Size: t.FontSize})
	}

	p.Ops = append(p.Ops, OpStrokeRect{X: t.X, Y: t.Bottom(), W: t.Width, H: t.Height + t.HeaderHeight})
	for i := 0; i <= t.Rows; i++ {
		y := t.YStart - t.RowHeight*float64(i)
		p.Ops = append(p.Ops, OpLine{X1: t.X, Y1: y, X2: t.X + t.Width, Y2: y})
	}
	for _, off := range t.ColumnOffsets[1:] {
		p.Ops = append(p.Ops, OpLine{X1: t.X + off, Y1: t.YStart, X2: t.X + off, Y2: t.Bottom()})
	}

	for i, item := range items {
		y := t.RowBaseline(i)
		cells := [3]string{item.Code, SanitizeName(item.Name), strconv.Itoa(item.Quantity)}
		for c, text := range cells {
			if text == "" {
				continue
			}
			p.Ops = append(p.Ops, OpText{Text: text, X: t.X + t.ColumnOffsets[c] + t.InsetX, Y: y, Size: t.FontSize})
		}
	}
}

var nameReplacer = strings.NewReplacer("\r", "", "\n", "", "\u3000", " ")

// SanitizeName drops line breaks, turns ideographic spaces into ASCII spaces
// and trims the result.
func SanitizeName(s string) string {
	return strings.TrimSpace(nameReplacer.Replace(s))
}
