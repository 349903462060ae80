package fonts

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	gofont "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/shaping"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/slipkit/ir/semantic"
)

// GlyphLoadError reports that the embedded glyph set could not be loaded.
// Nothing can be rendered without it.
type GlyphLoadError struct {
	Path string
	Err  error
}

func (e *GlyphLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("load glyph set: %v", e.Err)
	}
	return fmt.Sprintf("load glyph set %s: %v", e.Path, e.Err)
}

func (e *GlyphLoadError) Unwrap() error { return e.Err }

// LoadTrueType parses a TrueType/OpenType font, extracts basic metrics, and
// returns a semantic.Font configured for Type0 Identity-H usage with a
// FontFile2 stream. Glyph ids double as CIDs.
func LoadTrueType(name string, data []byte) (*semantic.Font, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("truetype font data is empty")
	}
	font, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse truetype: %w", err)
	}
	return fontFromSFNT(name, font, data)
}

func fontFromSFNT(name string, font *sfnt.Font, data []byte) (*semantic.Font, error) {
	unitsPerEm := font.UnitsPerEm()
	if unitsPerEm == 0 {
		return nil, fmt.Errorf("invalid unitsPerEm")
	}
	buf := &sfnt.Buffer{}
	ppem := fixed.Int26_6(unitsPerEm << 6)

	baseName := strings.TrimSpace(name)
	if ps, _ := font.Name(buf, sfnt.NameIDPostScript); len(ps) > 0 {
		baseName = ps
	}
	if baseName == "" {
		baseName = "CustomTT"
	}
	baseName = strings.ReplaceAll(baseName, " ", "")

	widths := glyphWidths(font, buf, unitsPerEm, ppem)
	defaultWidth := widths[0]
	if defaultWidth == 0 {
		defaultWidth = 1000
	}

	flags := 4 // symbolic
	if post := font.PostTable(); post != nil && post.IsFixedPitch {
		flags |= 1
	}
	metrics, _ := font.Metrics(buf, ppem, xfont.HintingNone)
	bounds, _ := font.Bounds(buf, ppem, xfont.HintingNone)
	descriptor := &semantic.FontDescriptor{
		FontName:    baseName,
		Flags:       flags,
		ItalicAngle: italicAngle(font),
		Ascent:      scaleFixed(metrics.Ascent, unitsPerEm),
		Descent:     -scaleFixed(metrics.Descent, unitsPerEm),
		CapHeight:   scaleFixed(metrics.CapHeight, unitsPerEm),
		StemV:       80,
		FontBBox: [4]float64{
			scaleFixed(bounds.Min.X, unitsPerEm),
			-scaleFixed(bounds.Max.Y, unitsPerEm),
			scaleFixed(bounds.Max.X, unitsPerEm),
			-scaleFixed(bounds.Min.Y, unitsPerEm),
		},
		FontFile:     data,
		FontFileType: "FontFile2",
	}
	if descriptor.CapHeight == 0 {
		descriptor.CapHeight = descriptor.Ascent
	}

	cidInfo := semantic.CIDSystemInfo{Registry: "Adobe", Ordering: "Identity", Supplement: 0}
	descendant := &semantic.CIDFont{
		Subtype:       "CIDFontType2",
		BaseFont:      baseName,
		CIDSystemInfo: cidInfo,
		DW:            defaultWidth,
		W:             widths,
		Descriptor:    descriptor,
	}
	return &semantic.Font{
		Subtype:        "Type0",
		BaseFont:       baseName,
		Encoding:       "Identity-H",
		Widths:         widths,
		CIDSystemInfo:  &cidInfo,
		DescendantFont: descendant,
		Descriptor:     descriptor,
	}, nil
}

// Face is a loaded glyph set: the PDF font template plus what is needed to
// map text to glyph ids and to measure it. A Face is loaded once per run and
// is safe for concurrent use.
type Face struct {
	Name string
	Font *semantic.Font

	mu        sync.Mutex
	sf        *sfnt.Font
	buf       sfnt.Buffer
	gids      map[rune]uint16
	shapeFace *gofont.Face
	shaper    shaping.HarfbuzzShaper
}

// NewFace parses data and prepares it for measurement and encoding.
func NewFace(name string, data []byte) (*Face, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("truetype font data is empty")
	}
	sf, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse truetype: %w", err)
	}
	font, err := fontFromSFNT(name, sf, data)
	if err != nil {
		return nil, err
	}
	face := &Face{Name: name, Font: font, sf: sf, gids: make(map[rune]uint16)}
	// Shaping is optional; metrics fall back to the hmtx advances.
	if shapeFace, err := gofont.ParseTTF(bytes.NewReader(data)); err == nil {
		face.shapeFace = shapeFace
	}
	return face, nil
}

// LoadFile reads and parses a font file. Any failure is a *GlyphLoadError.
func LoadFile(name, path string) (*Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &GlyphLoadError{Path: path, Err: err}
	}
	face, err := NewFace(name, data)
	if err != nil {
		return nil, &GlyphLoadError{Path: path, Err: err}
	}
	return face, nil
}

// GlyphIDs maps every rune of text to its glyph id through the font cmap.
// Runes the font lacks map to glyph 0 (.notdef).
func (f *Face) GlyphIDs(text string) []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint16, 0, len(text))
	for _, r := range text {
		out = append(out, f.glyphLocked(r))
	}
	return out
}

func (f *Face) glyphLocked(r rune) uint16 {
	if gid, ok := f.gids[r]; ok {
		return gid
	}
	idx, err := f.sf.GlyphIndex(&f.buf, r)
	if err != nil {
		idx = 0
	}
	f.gids[r] = uint16(idx)
	return uint16(idx)
}

// NumGlyphs reports the glyph count of the underlying font.
func (f *Face) NumGlyphs() int { return f.sf.NumGlyphs() }

func glyphWidths(font *sfnt.Font, buf *sfnt.Buffer, unitsPerEm sfnt.Units, ppem fixed.Int26_6) map[int]int {
	glyphs := font.NumGlyphs()
	widths := make(map[int]int, glyphs)
	for i := 0; i < glyphs; i++ {
		adv, err := font.GlyphAdvance(buf, sfnt.GlyphIndex(i), ppem, xfont.HintingNone)
		if err != nil {
			continue
		}
		widths[i] = int(math.Round(scaleFixed(adv, unitsPerEm)))
	}
	return widths
}

func italicAngle(font *sfnt.Font) float64 {
	post := font.PostTable()
	if post == nil {
		return 0
	}
	return post.ItalicAngle
}

func scaleFixed(val fixed.Int26_6, unitsPerEm sfnt.Units) float64 {
	return float64(val) * 1000.0 / (64.0 * float64(unitsPerEm))
}
