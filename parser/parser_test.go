package parser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wudi/slipkit/ir/raw"
)

const samplePDF = `%PDF-1.7
1 0 obj
<< /Type /Catalog /Pages 2 0 R >>
endobj
2 0 obj
<< /Type /Pages /Kids [3 0 R] /Count 1 >>
endobj
3 0 obj
<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595.5 842] /Contents 4 0 R >>
endobj
4 0 obj
<< /Length 10 >>
stream
0 0 m 1 l
endstream
endobj
xref
0 5
0000000000 65535 f
0000000009 00000 n
trailer
<< /Size 5 /Root 1 0 R >>
startxref
300
%%EOF
`

func TestParse_ObjectsAndTrailer(t *testing.T) {
	doc, err := NewDocumentParser(Config{}).Parse(context.Background(), strings.NewReader(samplePDF))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Version != "1.7" {
		t.Fatalf("unexpected version %q", doc.Version)
	}
	if len(doc.Objects) != 4 {
		t.Fatalf("expected 4 objects, got %d", len(doc.Objects))
	}
	if doc.Encrypted {
		t.Fatalf("document should not be encrypted")
	}
	root, err := doc.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if typ, _ := root.Name("Type"); typ != "Catalog" {
		t.Fatalf("unexpected catalog type %q", typ)
	}
	page, ok := doc.Objects[raw.ObjectRef{Num: 3}].(*raw.DictObj)
	if !ok {
		t.Fatalf("page object missing")
	}
	box, ok := page.KV["MediaBox"].(*raw.ArrayObj)
	if !ok || box.Len() != 4 {
		t.Fatalf("media box not parsed: %#v", page.KV["MediaBox"])
	}
	if n := box.Items[2].(raw.NumberObj); n.IsInteger() || n.Float() != 595.5 {
		t.Fatalf("unexpected width %+v", n)
	}
	if ref, ok := page.KV["Parent"].(raw.RefObj); !ok || ref.R.Num != 2 {
		t.Fatalf("parent reference not parsed: %#v", page.KV["Parent"])
	}
	stm, ok := doc.Objects[raw.ObjectRef{Num: 4}].(*raw.StreamObj)
	if !ok {
		t.Fatalf("stream object missing")
	}
	if string(stm.Data) != "0 0 m 1 l\n" {
		t.Fatalf("unexpected stream data %q", stm.Data)
	}
}

func TestParse_EncryptedTrailer(t *testing.T) {
	pdf := strings.Replace(samplePDF, "/Root 1 0 R", "/Root 1 0 R /Encrypt 9 0 R", 1)
	doc, err := NewDocumentParser(Config{}).Parse(context.Background(), strings.NewReader(pdf))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !doc.Encrypted {
		t.Fatalf("expected encrypted document")
	}
}

func TestParse_IncrementalUpdateOverrides(t *testing.T) {
	pdf := samplePDF + "5 0 obj\n<< /Type /Catalog /Pages 2 0 R /Lang (ja) >>\nendobj\ntrailer\n<< /Size 6 /Root 5 0 R /Prev 300 >>\n"
	doc, err := NewDocumentParser(Config{}).Parse(context.Background(), strings.NewReader(pdf))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	root, err := doc.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if _, ok := root.KV["Lang"]; !ok {
		t.Fatalf("later trailer should select the updated catalog")
	}
	if size, _ := doc.Trailer.Int("Size"); size != 6 {
		t.Fatalf("unexpected size %d", size)
	}
}

func TestParse_XRefStreamTrailer(t *testing.T) {
	pdf := "%PDF-1.5\n1 0 obj\n<< /Type /Catalog >>\nendobj\n2 0 obj\n<< /Type /XRef /Root 1 0 R /Size 3 /Length 0 >>\nstream\n\nendstream\nendobj\n"
	doc, err := NewDocumentParser(Config{}).Parse(context.Background(), strings.NewReader(pdf))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := doc.Root(); err != nil {
		t.Fatalf("root from xref stream: %v", err)
	}
}

func TestParse_NoTrailer(t *testing.T) {
	_, err := NewDocumentParser(Config{}).Parse(context.Background(), strings.NewReader("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n"))
	if !errors.Is(err, ErrNoTrailer) {
		t.Fatalf("expected ErrNoTrailer, got %v", err)
	}
}

func TestParse_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDocumentParser(Config{}).Parse(ctx, strings.NewReader(samplePDF)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParse_DepthLimit(t *testing.T) {
	pdf := "1 0 obj\n" + strings.Repeat("[", 10) + strings.Repeat("]", 10) + "\nendobj\ntrailer\n<<>>\n"
	_, err := NewDocumentParser(Config{MaxDepth: 4}).Parse(context.Background(), strings.NewReader(pdf))
	if !errors.Is(err, ErrTooDeep) {
		t.Fatalf("expected ErrTooDeep, got %v", err)
	}
}
