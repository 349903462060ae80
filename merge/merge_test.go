package merge

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/image/font/gofont/gomono"

	"github.com/wudi/slipkit/artifact"
	"github.com/wudi/slipkit/builder"
	"github.com/wudi/slipkit/fonts"
	"github.com/wudi/slipkit/ir/raw"
	"github.com/wudi/slipkit/parser"
	"github.com/wudi/slipkit/security"
	"github.com/wudi/slipkit/writer"
)

// widthPage encodes its seq in the page width so merged order is observable.
type widthPage struct{ seq artifact.Seq }

func (p widthPage) Size() (float64, float64) { return 500 + float64(p.seq), 800 }

func (p widthPage) Apply(pb builder.PageBuilder) {
	pb.DrawText("slip", 30, 700, builder.TextOptions{FontSize: 10})
	pb.DrawLine(30, 600, 300, 600, builder.LineOptions{})
}

func writeArtifacts(t *testing.T, n int) []artifact.PageArtifact {
	t.Helper()
	face, err := fonts.NewFace("GoMono", gomono.TTF)
	if err != nil {
		t.Fatalf("face: %v", err)
	}
	store := artifact.NewStore(filepath.Join(t.TempDir(), "out"), face, writer.Config{Compression: 6, SubsetFonts: true, Deterministic: true})
	if err := store.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	var arts []artifact.PageArtifact
	for i := 1; i <= n; i++ {
		a, err := store.Write(context.Background(), widthPage{seq: artifact.Seq(i)}, artifact.Seq(i))
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		arts = append(arts, a)
	}
	return arts
}

// encrypt rewrites the file at path with an /Encrypt entry in its trailer.
func encrypt(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := parser.NewDocumentParser(parser.Config{}).ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	maxNum := 0
	for ref := range doc.Objects {
		if ref.Num > maxNum {
			maxNum = ref.Num
		}
	}
	enc := raw.Dict()
	enc.Set(raw.NameLiteral("Filter"), raw.NameLiteral("Standard"))
	enc.Set(raw.NameLiteral("V"), raw.NumberInt(1))
	enc.Set(raw.NameLiteral("R"), raw.NumberInt(2))
	encRef := raw.ObjectRef{Num: maxNum + 1}
	doc.Objects[encRef] = enc
	trailer := doc.Trailer.Clone()
	trailer.Set(raw.NameLiteral("Encrypt"), raw.Ref(encRef.Num, encRef.Gen))

	var buf bytes.Buffer
	if err := writer.WriteObjects(&buf, doc.Version, doc.Objects, trailer); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func pageWidths(t *testing.T, data []byte) []float64 {
	t.Helper()
	doc, err := parser.NewDocumentParser(parser.Config{}).ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("parse merged: %v", err)
	}
	root, err := doc.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	pages := doc.Resolve(root.KV["Pages"]).(*raw.DictObj)
	var widths []float64
	for _, kid := range pages.KV["Kids"].(*raw.ArrayObj).Items {
		page := doc.Resolve(kid).(*raw.DictObj)
		if parent, ok := page.KV["Parent"].(raw.RefObj); !ok || doc.Resolve(parent) != raw.Object(pages) {
			t.Fatalf("page parent does not point at the merged tree")
		}
		box := doc.Resolve(page.KV["MediaBox"]).(*raw.ArrayObj)
		widths = append(widths, box.Items[2].(raw.NumberObj).Float())
	}
	return widths
}

func TestMerge_SkipsEncrypted(t *testing.T) {
	arts := writeArtifacts(t, 5)
	encrypt(t, arts[2].Path)

	// Input order must not matter.
	shuffled := []artifact.PageArtifact{arts[4], arts[0], arts[2], arts[3], arts[1]}
	doc, err := NewEngine().Merge(context.Background(), shuffled)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if diff := cmp.Diff([]artifact.Seq{1, 2, 4, 5}, doc.Included); diff != "" {
		t.Fatalf("included (-want +got):\n%s", diff)
	}
	if doc.Pages != 4 || len(doc.Skipped) != 1 || doc.Skipped[0].Seq != 3 {
		t.Fatalf("unexpected result pages=%d skipped=%+v", doc.Pages, doc.Skipped)
	}
	if !errors.Is(doc.Skipped[0].Err, security.ErrRestricted) {
		t.Fatalf("skip reason should be a restriction: %v", doc.Skipped[0].Err)
	}
	if diff := cmp.Diff([]float64{501, 502, 504, 505}, pageWidths(t, doc.Data)); diff != "" {
		t.Fatalf("page order (-want +got):\n%s", diff)
	}
}

func TestMerge_DedupsSharedFonts(t *testing.T) {
	arts := writeArtifacts(t, 3)
	doc, err := NewEngine().Merge(context.Background(), arts)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if doc.Deduped == 0 {
		t.Fatalf("expected shared objects to be deduplicated")
	}
	merged, err := parser.NewDocumentParser(parser.Config{}).ParseBytes(context.Background(), doc.Data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fontFiles := 0
	for _, obj := range merged.Objects {
		if d, ok := obj.(*raw.DictObj); ok {
			if _, ok := d.KV["FontFile2"]; ok {
				fontFiles++
			}
		}
	}
	if fontFiles != 1 {
		t.Fatalf("expected one font descriptor after dedup, got %d", fontFiles)
	}
}

func TestMerge_Deterministic(t *testing.T) {
	arts := writeArtifacts(t, 4)
	a, err := NewEngine().Merge(context.Background(), arts)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	b, err := NewEngine().Merge(context.Background(), arts)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Fatalf("merging the same artifacts twice produced different bytes")
	}
}

func TestMerge_AllRestricted(t *testing.T) {
	arts := writeArtifacts(t, 2)
	for _, a := range arts {
		encrypt(t, a.Path)
	}
	_, err := NewEngine().Merge(context.Background(), arts)
	var mergeErr *MergeError
	if !errors.As(err, &mergeErr) {
		t.Fatalf("expected MergeError, got %v", err)
	}
	if !errors.Is(err, ErrNoEligiblePages) || mergeErr.Skipped != 2 {
		t.Fatalf("unexpected merge error %+v", mergeErr)
	}
}

func TestMerge_Empty(t *testing.T) {
	if _, err := NewEngine().Merge(context.Background(), nil); !errors.Is(err, ErrNoEligiblePages) {
		t.Fatalf("expected ErrNoEligiblePages, got %v", err)
	}
}

func TestMerge_UnparseableIsFatal(t *testing.T) {
	arts := writeArtifacts(t, 2)
	if err := os.WriteFile(arts[1].Path, []byte("not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewEngine().Merge(context.Background(), arts)
	if err == nil {
		t.Fatalf("expected parse failure")
	}
	var mergeErr *MergeError
	if errors.As(err, &mergeErr) {
		t.Fatalf("parse failure must not look like an empty merge: %v", err)
	}

	missing := []artifact.PageArtifact{{Seq: 1, Path: filepath.Join(t.TempDir(), "gone.pdf")}}
	var ioErr *artifact.IOError
	if _, err := NewEngine().Merge(context.Background(), missing); !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError for a missing artifact, got %v", err)
	}
}

func TestMerge_SizeLimit(t *testing.T) {
	arts := writeArtifacts(t, 1)
	limits := security.DefaultLimits()
	limits.MaxArtifactSize = 16
	if _, err := NewEngine(WithLimits(limits)).Merge(context.Background(), arts); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestCollectPages_Inheritance(t *testing.T) {
	doc := &raw.Document{Objects: map[raw.ObjectRef]raw.Object{}}
	box := raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(100), raw.NumberInt(100))
	own := raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(50), raw.NumberInt(50))

	leafA := raw.Dict()
	leafA.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
	leafB := raw.Dict()
	leafB.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
	leafB.Set(raw.NameLiteral("MediaBox"), own)
	doc.Objects[raw.ObjectRef{Num: 3}] = leafA
	doc.Objects[raw.ObjectRef{Num: 4}] = leafB

	root := raw.Dict()
	root.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	root.Set(raw.NameLiteral("MediaBox"), box)
	root.Set(raw.NameLiteral("Kids"), raw.NewArray(raw.Ref(3, 0), raw.Ref(4, 0), raw.Ref(3, 0)))
	doc.Objects[raw.ObjectRef{Num: 2}] = root

	var leaves []leafPage
	err := collectPages(doc, raw.Ref(2, 0), nil, map[raw.ObjectRef]bool{}, &leaves)
	if err == nil {
		t.Fatalf("a page listed twice should be reported")
	}

	root.Set(raw.NameLiteral("Kids"), raw.NewArray(raw.Ref(3, 0), raw.Ref(4, 0)))
	leaves = nil
	if err := collectPages(doc, raw.Ref(2, 0), nil, map[raw.ObjectRef]bool{}, &leaves); err != nil {
		t.Fatalf("collectPages: %v", err)
	}
	if len(leaves) != 2 {
		t.Fatalf("expected 2 leaves, got %d", len(leaves))
	}
	if leaves[0].inherited["MediaBox"] != raw.Object(box) {
		t.Fatalf("first page should inherit the tree MediaBox")
	}
	if _, ok := leaves[1].inherited["MediaBox"]; ok {
		t.Fatalf("own MediaBox must win over the inherited one")
	}
}
