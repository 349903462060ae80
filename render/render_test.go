package render

import (
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/image/font/gofont/gomono"

	"github.com/wudi/slipkit/builder"
	"github.com/wudi/slipkit/fonts"
	"github.com/wudi/slipkit/layout"
	"github.com/wudi/slipkit/order"
)

type emMeasurer struct{}

func (emMeasurer) Measure(text string, size float64) float64 {
	return float64(utf8.RuneCountInString(text)) * size
}

func computeLayout(t *testing.T, rec *order.Record) *layout.PageLayout {
	t.Helper()
	l, err := layout.Compute(rec, 1, emMeasurer{})
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	return l
}

// tableOps returns the operations from the header fill onwards, without the
// trailing page number.
func tableOps(t *testing.T, p *Page) []Op {
	t.Helper()
	for i, op := range p.Ops {
		if _, ok := op.(OpFillRect); ok {
			return p.Ops[i : len(p.Ops)-1]
		}
	}
	t.Fatalf("no header fill in %v", p.Ops)
	return nil
}

func TestRender_TableOrder(t *testing.T) {
	rec := &order.Record{
		Recipient: order.AddressBlock{Name: "山田", Lines: []string{"", "", ""}},
		Items: []order.LineItem{
			{Code: "A1", Name: " ノート\r\n　大 ", Quantity: 7},
			{Code: "B2", Name: "ペン", Quantity: 3},
		},
	}
	l := computeLayout(t, rec)
	p, err := Render(l, rec)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	ys := layout.PageHeight - 250
	want := []Op{
		OpFillRect{X: 30, Y: ys, W: 540, H: 20, Gray: 0.827},
		OpText{Text: "SKU", X: 40, Y: ys + 5, Size: 8},
		OpText{Text: "商品名", X: 140, Y: ys + 5, Size: 8},
		OpText{Text: "商品数量", X: 340, Y: ys + 5, Size: 8},
		OpStrokeRect{X: 30, Y: ys - 40, W: 540, H: 60},
		OpLine{X1: 30, Y1: ys, X2: 570, Y2: ys},
		OpLine{X1: 30, Y1: ys - 20, X2: 570, Y2: ys - 20},
		OpLine{X1: 30, Y1: ys - 40, X2: 570, Y2: ys - 40},
		OpLine{X1: 130, Y1: ys, X2: 130, Y2: ys - 40},
		OpLine{X1: 330, Y1: ys, X2: 330, Y2: ys - 40},
		OpText{Text: "A1", X: 40, Y: ys - 20 + 5, Size: 8},
		OpText{Text: "ノート 大", X: 140, Y: ys - 20 + 5, Size: 8},
		OpText{Text: "7", X: 340, Y: ys - 20 + 5, Size: 8},
		OpText{Text: "B2", X: 40, Y: ys - 40 + 5, Size: 8},
		OpText{Text: "ペン", X: 140, Y: ys - 40 + 5, Size: 8},
		OpText{Text: "3", X: 340, Y: ys - 40 + 5, Size: 8},
	}
	if diff := cmp.Diff(want, tableOps(t, p)); diff != "" {
		t.Fatalf("table ops (-want +got):\n%s", diff)
	}
	last := p.Ops[len(p.Ops)-1]
	if last != (OpText{Text: "1", X: layout.PageWidth - 100, Y: 15, Size: 10}) {
		t.Fatalf("page number should be drawn last, got %#v", last)
	}
}

func TestRender_ZeroItems(t *testing.T) {
	rec := &order.Record{Recipient: order.AddressBlock{Name: "佐藤"}}
	p, err := Render(computeLayout(t, rec), rec)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	ops := tableOps(t, p)
	ys := layout.PageHeight - 250
	if got := ops[4]; got != (OpStrokeRect{X: 30, Y: ys, W: 540, H: 20}) {
		t.Fatalf("outer border should cover only the header, got %#v", got)
	}
	lines := 0
	for _, op := range ops {
		if _, ok := op.(OpLine); ok {
			lines++
		}
	}
	if lines != 3 {
		t.Fatalf("expected 1 horizontal and 2 vertical lines, got %d", lines)
	}
}

func TestRender_LeadingTexts(t *testing.T) {
	rec := &order.Record{
		Recipient: order.AddressBlock{Name: "山田", PostalCode: "100-0001", Lines: []string{"東京都", "", ""}},
		Sender:    order.AddressBlock{Name: "発送元", Lines: []string{"大阪府", ""}},
	}
	p, err := Render(computeLayout(t, rec), rec)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	var texts []string
	for _, op := range p.Ops {
		if ot, ok := op.(OpText); ok {
			texts = append(texts, ot.Text)
		}
	}
	want := []string{
		layout.Title, layout.IntroLine1, layout.DefaultIntroLine,
		"山田様", "東京都", "発送元", "大阪府",
		"SKU", "商品名", "商品数量", "1",
	}
	if diff := cmp.Diff(want, texts); diff != "" {
		t.Fatalf("texts (-want +got):\n%s", diff)
	}
}

func TestRender_Mismatch(t *testing.T) {
	rec := &order.Record{Items: []order.LineItem{{Code: "A"}}}
	l := computeLayout(t, &order.Record{})
	if _, err := Render(l, rec); err == nil {
		t.Fatalf("expected error when layout and record disagree")
	}
	if _, err := Render(nil, rec); err != ErrNilLayout {
		t.Fatalf("expected ErrNilLayout, got %v", err)
	}
}

func TestPage_ApplyDrawsOntoBuilder(t *testing.T) {
	face, err := fonts.NewFace("GoMono", gomono.TTF)
	if err != nil {
		t.Fatalf("face: %v", err)
	}
	rec := &order.Record{Items: []order.LineItem{{Code: "A1", Name: "pen", Quantity: 2}}}
	p, err := Render(computeLayout(t, rec), rec)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	b := builder.NewBuilder().RegisterFace("F1", face)
	pb := b.NewPage(p.Size())
	p.Apply(pb)
	pb.Finish()
	doc, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	counts := map[string]int{}
	for _, op := range doc.Pages[0].Contents[0].Operations {
		counts[op.Operator]++
	}
	texts := 0
	for _, op := range p.Ops {
		if _, ok := op.(OpText); ok {
			texts++
		}
	}
	if counts["Tj"] != texts {
		t.Fatalf("expected %d Tj, got %d", texts, counts["Tj"])
	}
	if counts["re"] != 2 || counts["f"] != 1 || counts["S"] < 1 {
		t.Fatalf("unexpected path operators %v", counts)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"a\r\nb":   "ab",
		"　全角　":     "全角",
		"x　y":      "x y",
		"  plain ": "plain",
	}
	for in, want := range tests {
		if got := SanitizeName(in); got != want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
