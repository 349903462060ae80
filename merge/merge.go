// Package merge concatenates per-row artifacts into a single document.
package merge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/slipkit/artifact"
	"github.com/wudi/slipkit/ir/raw"
	"github.com/wudi/slipkit/parser"
	"github.com/wudi/slipkit/scanner"
	"github.com/wudi/slipkit/security"
	"github.com/wudi/slipkit/writer"
)

// ErrNoEligiblePages is wrapped by MergeError when nothing could be merged.
var ErrNoEligiblePages = errors.New("no eligible pages")

// ErrTooLarge reports an artifact above the configured size limit.
var ErrTooLarge = errors.New("artifact too large")

type MergeError struct {
	Artifacts int
	Skipped   int
	Err       error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge: %v (%d artifacts, %d skipped)", e.Err, e.Artifacts, e.Skipped)
}

func (e *MergeError) Unwrap() error { return e.Err }

// Skip records an artifact left out of the merged document.
type Skip struct {
	Seq  artifact.Seq
	Path string
	Err  error
}

type Document struct {
	Data     []byte
	Pages    int
	Included []artifact.Seq
	Skipped  []Skip
	// Deduped counts source objects that resolved to an object already
	// written for an earlier artifact.
	Deduped int
}

type Engine struct {
	parser  *parser.DocumentParser
	limits  security.Limits
	version string
}

type Option func(*Engine)

// WithLimits bounds what the engine is willing to read back.
func WithLimits(l security.Limits) Option {
	return func(e *Engine) { e.limits = l }
}

// WithVersion sets the header version of the merged file.
func WithVersion(v writer.PDFVersion) Option {
	return func(e *Engine) { e.version = string(v) }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		limits:  security.DefaultLimits(),
		version: string(writer.PDF17),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.parser = parser.NewDocumentParser(parser.Config{
		Scanner:  scanner.Config{MaxStringLength: e.limits.MaxStringLength},
		MaxDepth: e.limits.MaxDepth,
	})
	return e
}

// Merge appends the pages of every eligible artifact in Seq order. Restricted
// artifacts are skipped and reported; unreadable or unparseable ones fail the
// merge.
func (e *Engine) Merge(ctx context.Context, arts []artifact.PageArtifact) (*Document, error) {
	sorted := append([]artifact.PageArtifact(nil), arts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	out := newOutput()
	res := &Document{}
	for _, a := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := e.read(a.Path)
		if err != nil {
			return nil, err
		}
		doc, err := e.parser.ParseBytes(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("merge: parse %s: %w", a.Path, err)
		}
		if err := security.Check(doc); err != nil {
			var restricted *security.RestrictedError
			if errors.As(err, &restricted) {
				res.Skipped = append(res.Skipped, Skip{Seq: a.Seq, Path: a.Path, Err: err})
				continue
			}
			return nil, err
		}
		n, err := out.appendPages(doc)
		if err != nil {
			return nil, fmt.Errorf("merge: %s: %w", a.Path, err)
		}
		if n == 0 {
			continue
		}
		res.Included = append(res.Included, a.Seq)
	}

	if len(out.kids) == 0 {
		return nil, &MergeError{Artifacts: len(sorted), Skipped: len(res.Skipped), Err: ErrNoEligiblePages}
	}

	var buf bytes.Buffer
	if err := writer.WriteObjects(&buf, e.version, out.finish(), out.trailer()); err != nil {
		return nil, fmt.Errorf("merge: write: %w", err)
	}
	res.Data = buf.Bytes()
	res.Pages = len(out.kids)
	res.Deduped = out.deduped
	return res, nil
}

func (e *Engine) read(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &artifact.IOError{Op: "read", Path: path, Err: err}
	}
	if max := e.limits.MaxArtifactSize; max > 0 && info.Size() > max {
		return nil, fmt.Errorf("merge: %s: %w (%d > %d bytes)", path, ErrTooLarge, info.Size(), max)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &artifact.IOError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

var (
	catalogRef = raw.ObjectRef{Num: 1}
	pagesRef   = raw.ObjectRef{Num: 2}
)

// output accumulates the merged object graph. Objects 1 and 2 are the new
// catalog and page tree root.
type output struct {
	objects map[raw.ObjectRef]raw.Object
	next    int
	byHash  map[[32]byte]raw.ObjectRef
	kids    []raw.Object
	deduped int
}

func newOutput() *output {
	return &output{
		objects: make(map[raw.ObjectRef]raw.Object),
		next:    3,
		byHash:  make(map[[32]byte]raw.ObjectRef),
	}
}

func (o *output) alloc() raw.ObjectRef {
	ref := raw.ObjectRef{Num: o.next}
	o.next++
	return ref
}

func (o *output) finish() map[raw.ObjectRef]raw.Object {
	pages := raw.Dict()
	pages.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	pages.Set(raw.NameLiteral("Kids"), raw.NewArray(o.kids...))
	pages.Set(raw.NameLiteral("Count"), raw.NumberInt(int64(len(o.kids))))
	o.objects[pagesRef] = pages

	catalog := raw.Dict()
	catalog.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	catalog.Set(raw.NameLiteral("Pages"), raw.Ref(pagesRef.Num, pagesRef.Gen))
	o.objects[catalogRef] = catalog
	return o.objects
}

func (o *output) trailer() *raw.DictObj {
	t := raw.Dict()
	t.Set(raw.NameLiteral("Root"), raw.Ref(catalogRef.Num, catalogRef.Gen))
	return t
}

// appendPages copies every leaf page of doc and returns how many it added.
func (o *output) appendPages(doc *raw.Document) (int, error) {
	root, err := doc.Root()
	if err != nil {
		return 0, err
	}
	var leaves []leafPage
	if err := collectPages(doc, root.KV["Pages"], nil, make(map[raw.ObjectRef]bool), &leaves); err != nil {
		return 0, err
	}
	c := &copier{src: doc, dst: o, mapped: make(map[raw.ObjectRef]raw.ObjectRef), pending: make(map[raw.ObjectRef]*raw.ObjectRef)}
	for _, leaf := range leaves {
		page := raw.Dict()
		for _, k := range inheritable {
			if v, ok := leaf.inherited[k]; ok {
				page.KV[k] = c.value(v)
			}
		}
		for _, k := range leaf.dict.SortedKeys() {
			if k == "Parent" {
				continue
			}
			page.KV[k] = c.value(leaf.dict.KV[k])
		}
		page.Set(raw.NameLiteral("Parent"), raw.Ref(pagesRef.Num, pagesRef.Gen))
		ref := o.alloc()
		o.objects[ref] = page
		o.kids = append(o.kids, raw.Ref(ref.Num, ref.Gen))
	}
	return len(leaves), nil
}

// Keys a page may inherit from its ancestors in the page tree.
var inheritable = []string{"Resources", "MediaBox", "CropBox", "Rotate"}

type leafPage struct {
	dict      *raw.DictObj
	inherited map[string]raw.Object
}

func collectPages(doc *raw.Document, node raw.Object, inherited map[string]raw.Object, visited map[raw.ObjectRef]bool, out *[]leafPage) error {
	if ref, ok := node.(raw.RefObj); ok {
		if visited[ref.R] {
			return fmt.Errorf("page tree cycle at %s", ref.R)
		}
		visited[ref.R] = true
	}
	dict, ok := doc.Resolve(node).(*raw.DictObj)
	if !ok {
		return fmt.Errorf("page tree node is not a dictionary")
	}

	// Attributes set on this node win over the ones it would inherit.
	local := make(map[string]raw.Object, len(inherited))
	for k, v := range inherited {
		if _, own := dict.KV[k]; !own {
			local[k] = v
		}
	}

	typ, _ := dict.Name("Type")
	kids, hasKids := doc.Resolve(dict.KV["Kids"]).(*raw.ArrayObj)
	if typ == "Page" || (!hasKids && typ != "Pages") {
		*out = append(*out, leafPage{dict: dict, inherited: local})
		return nil
	}
	next := make(map[string]raw.Object, len(inheritable))
	for k, v := range local {
		next[k] = v
	}
	for _, k := range inheritable {
		if v, ok := dict.KV[k]; ok {
			next[k] = v
		}
	}
	if !hasKids {
		return nil
	}
	for _, kid := range kids.Items {
		if err := collectPages(doc, kid, next, visited, out); err != nil {
			return err
		}
	}
	return nil
}

// copier moves objects reachable from one source document into the output,
// renumbering references. Acyclic objects are content addressed so identical
// subgraphs from different artifacts share one output object.
type copier struct {
	src    *raw.Document
	dst    *output
	mapped map[raw.ObjectRef]raw.ObjectRef
	// pending holds refs being copied; a non-nil entry means a cycle needed
	// the number before the object was complete.
	pending map[raw.ObjectRef]*raw.ObjectRef
}

func (c *copier) value(obj raw.Object) raw.Object {
	switch v := obj.(type) {
	case raw.RefObj:
		return c.ref(v.R)
	case *raw.DictObj:
		return c.dict(v)
	case *raw.ArrayObj:
		items := make([]raw.Object, len(v.Items))
		for i, item := range v.Items {
			items[i] = c.value(item)
		}
		return raw.NewArray(items...)
	case *raw.StreamObj:
		return raw.NewStream(c.dict(v.Dict), v.Data)
	}
	return obj
}

func (c *copier) dict(d *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	if d == nil {
		return out
	}
	// Sorted so object numbers come out the same on every run.
	for _, k := range d.SortedKeys() {
		out.KV[k] = c.value(d.KV[k])
	}
	return out
}

func (c *copier) ref(src raw.ObjectRef) raw.Object {
	if dst, ok := c.mapped[src]; ok {
		return raw.Ref(dst.Num, dst.Gen)
	}
	if reserved, inProgress := c.pending[src]; inProgress {
		if reserved == nil {
			r := c.dst.alloc()
			reserved = &r
			c.pending[src] = reserved
		}
		return raw.Ref(reserved.Num, reserved.Gen)
	}
	target, ok := c.src.Objects[src]
	if !ok {
		return raw.NullObj{}
	}

	c.pending[src] = nil
	copied := c.value(target)
	reserved := c.pending[src]
	delete(c.pending, src)

	var dst raw.ObjectRef
	switch {
	case reserved != nil:
		dst = *reserved
		c.dst.objects[dst] = copied
	default:
		sum := blake2b.Sum256(writer.SerializeObject(raw.ObjectRef{}, copied))
		if existing, ok := c.dst.byHash[sum]; ok {
			dst = existing
			c.dst.deduped++
		} else {
			dst = c.dst.alloc()
			c.dst.objects[dst] = copied
			c.dst.byHash[sum] = dst
		}
	}
	c.mapped[src] = dst
	return raw.Ref(dst.Num, dst.Gen)
}
