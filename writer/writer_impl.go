package writer

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/wudi/slipkit/ir/raw"
	"github.com/wudi/slipkit/ir/semantic"
)

type impl struct{}

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	return SerializeObject(ref, obj), nil
}

func (w *impl) Write(ctx context.Context, doc *semantic.Document, out io.Writer, cfg Config) error {
	if doc == nil {
		return fmt.Errorf("nil document")
	}
	if len(doc.Pages) == 0 {
		return fmt.Errorf("document has no pages")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b := newObjectBuilder(doc, cfg)
	objects, catalogRef, infoRef, err := b.Build()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	trailer := raw.Dict()
	trailer.Set(raw.NameLiteral("Root"), raw.Ref(catalogRef.Num, catalogRef.Gen))
	if infoRef != nil {
		trailer.Set(raw.NameLiteral("Info"), raw.Ref(infoRef.Num, infoRef.Gen))
	}
	if !cfg.Deterministic {
		id := make([]byte, 16)
		if _, err := rand.Read(id); err == nil {
			trailer.Set(raw.NameLiteral("ID"), raw.NewArray(raw.HexStr(id), raw.HexStr(id)))
		}
	}
	return WriteObjects(out, pdfVersion(cfg), objects, trailer)
}
