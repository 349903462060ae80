package writer

import (
	"context"
	"io"

	"github.com/wudi/slipkit/ir/raw"
	"github.com/wudi/slipkit/ir/semantic"
)

type PDFVersion string

const (
	PDF14 PDFVersion = "1.4"
	PDF17 PDFVersion = "1.7"
)

// Config controls serialization.
type Config struct {
	Version PDFVersion
	// Compression is the zlib level for content and font streams; 0 stores
	// streams uncompressed.
	Compression int
	// SubsetFonts embeds only the glyphs a document draws.
	SubsetFonts bool
	// Deterministic derives /ID from the document bytes instead of random
	// data, so identical input yields identical files.
	Deterministic bool
}

type Writer interface {
	Write(ctx context.Context, doc *semantic.Document, w io.Writer, cfg Config) error
	SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error)
}

type WriterBuilder struct{}

func (b *WriterBuilder) Build() Writer { return &impl{} }
