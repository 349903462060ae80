// Package artifact persists one single-page PDF per order row and lists the
// files a run produced.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/wudi/slipkit/builder"
	"github.com/wudi/slipkit/fonts"
	"github.com/wudi/slipkit/ir/semantic"
	"github.com/wudi/slipkit/writer"
)

// Seq is the 1-based position of a row in the input.
type Seq int

const (
	namePrefix = "output_"
	nameSuffix = ".pdf"
	// Pattern matches every artifact name and nothing else a run writes.
	Pattern = namePrefix + "*" + nameSuffix

	tempPrefix = ".tmp-"
)

// Name returns the artifact file name, zero padded so lexical order equals
// numeric order up to 9999 rows.
func (s Seq) Name() string { return fmt.Sprintf("%s%04d%s", namePrefix, int(s), nameSuffix) }

// ParseSeq is the inverse of Seq.Name.
func ParseSeq(name string) (Seq, bool) {
	if !strings.HasPrefix(name, namePrefix) || !strings.HasSuffix(name, nameSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), nameSuffix)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, false
	}
	return Seq(n), true
}

type PageArtifact struct {
	Seq  Seq
	Path string
	Size int64
}

// IOError reports a failed filesystem step. It aborts the run.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// Drawable is a laid-out page that can replay itself onto a page builder.
type Drawable interface {
	Size() (width, height float64)
	Apply(pb builder.PageBuilder)
}

// FontResource is the resource name pages use for the run's face.
const FontResource = "F1"

// Store writes artifacts into Dir. A Store is safe for concurrent Write calls
// once Reset has returned.
type Store struct {
	Dir    string
	Face   *fonts.Face
	Writer writer.Writer
	Config writer.Config
	Title  string
	// Merged names the merged document Reset clears alongside artifacts.
	Merged string
}

func NewStore(dir string, face *fonts.Face, cfg writer.Config) *Store {
	return &Store{
		Dir:    dir,
		Face:   face,
		Writer: (&writer.WriterBuilder{}).Build(),
		Config: cfg,
		Title:  "納品書",
	}
}

// Reset creates the output directory and removes every file a previous run
// left in it: artifacts, the merged document and abandoned temp files. Other
// entries are never touched.
func (s *Store) Reset() error {
	if s.Dir == "" {
		return &IOError{Op: "reset", Path: s.Dir, Err: os.ErrInvalid}
	}
	dir := filepath.Clean(s.Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "reset", Path: dir, Err: err}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &IOError{Op: "reset", Path: dir, Err: err}
	}
	for _, e := range entries {
		if e.IsDir() || !s.owns(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &IOError{Op: "reset", Path: path, Err: err}
		}
	}
	return nil
}

func (s *Store) owns(name string) bool {
	if ok, _ := filepath.Match(Pattern, name); ok {
		return true
	}
	if s.Merged != "" && name == s.Merged {
		return true
	}
	return strings.HasPrefix(name, tempPrefix)
}

// Write renders page into a standalone PDF named after seq.
func (s *Store) Write(ctx context.Context, page Drawable, seq Seq) (PageArtifact, error) {
	if err := ctx.Err(); err != nil {
		return PageArtifact{}, err
	}
	if seq < 1 {
		return PageArtifact{}, fmt.Errorf("artifact: invalid seq %d", seq)
	}
	data, err := s.encode(ctx, page)
	if err != nil {
		return PageArtifact{}, fmt.Errorf("encode %s: %w", seq.Name(), err)
	}
	dest := filepath.Join(s.Dir, seq.Name())
	if err := writeAtomic(dest, data); err != nil {
		return PageArtifact{}, err
	}
	return PageArtifact{Seq: seq, Path: dest, Size: int64(len(data))}, nil
}

func (s *Store) encode(ctx context.Context, page Drawable) ([]byte, error) {
	b := builder.NewBuilder().
		RegisterFace(FontResource, s.Face).
		SetInfo(&semantic.DocumentInfo{Title: s.Title, Producer: "slipkit"}).
		SetLanguage("ja-JP")
	pb := b.NewPage(page.Size())
	page.Apply(pb)
	pb.Finish()
	doc, err := b.Build()
	if err != nil {
		return nil, err
	}
	w := s.Writer
	if w == nil {
		w = (&writer.WriterBuilder{}).Build()
	}
	var buf bytes.Buffer
	if err := w.Write(ctx, doc, &buf, s.Config); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// List returns the artifacts present in Dir sorted by file name.
func (s *Store) List() ([]PageArtifact, error) {
	matches, err := filepath.Glob(filepath.Join(s.Dir, Pattern))
	if err != nil {
		return nil, &IOError{Op: "list", Path: s.Dir, Err: err}
	}
	sort.Strings(matches)
	out := make([]PageArtifact, 0, len(matches))
	for _, path := range matches {
		seq, ok := ParseSeq(filepath.Base(path))
		if !ok {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, &IOError{Op: "stat", Path: path, Err: err}
		}
		out = append(out, PageArtifact{Seq: seq, Path: path, Size: info.Size()})
	}
	return out, nil
}

// WriteFile stores data under name in Dir. The merged document goes through
// here; its name must not match Pattern.
func (s *Store) WriteFile(name string, data []byte) (string, error) {
	if _, ok := ParseSeq(name); ok {
		return "", &IOError{Op: "write", Path: name, Err: errors.New("name collides with artifact pattern")}
	}
	if name == "" || filepath.Base(name) != name {
		return "", &IOError{Op: "write", Path: name, Err: os.ErrInvalid}
	}
	dest := filepath.Join(s.Dir, name)
	if err := writeAtomic(dest, data); err != nil {
		return "", err
	}
	return dest, nil
}

// writeAtomic writes to a temp file in the same directory and renames it over
// dest, so readers never observe a partial PDF.
func writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return &IOError{Op: "create", Path: dest, Err: err}
	}
	tmpPath := tmp.Name()
	fail := func(op string, err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return &IOError{Op: op, Path: dest, Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail("chmod", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return &IOError{Op: "close", Path: dest, Err: err}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return &IOError{Op: "rename", Path: dest, Err: err}
	}
	return nil
}
