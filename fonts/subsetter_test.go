package fonts

import (
	"encoding/binary"
	"testing"

	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

func usedSet(face *Face, text string) map[int]bool {
	used := make(map[int]bool)
	for _, gid := range face.GlyphIDs(text) {
		used[int(gid)] = true
	}
	return used
}

func TestSubsetTrueType_KeepsUsedGlyphs(t *testing.T) {
	face := loadMono(t)
	used := usedSet(face, "AB")

	out, err := SubsetTrueType(gomono.TTF, used)
	if err != nil {
		t.Fatalf("subset: %v", err)
	}
	if len(out) >= len(gomono.TTF) {
		t.Fatalf("subset should be smaller: %d >= %d", len(out), len(gomono.TTF))
	}

	sub, err := sfnt.Parse(out)
	if err != nil {
		t.Fatalf("subset does not parse: %v", err)
	}
	maxGID := 0
	for gid := range used {
		if gid > maxGID {
			maxGID = gid
		}
	}
	if sub.NumGlyphs() != maxGID+1 {
		t.Fatalf("expected %d glyphs, got %d", maxGID+1, sub.NumGlyphs())
	}

	var buf sfnt.Buffer
	ppem := fixed.I(12)
	for _, r := range "AB" {
		gid, err := sub.GlyphIndex(&buf, r)
		if err != nil {
			t.Fatalf("glyph index: %v", err)
		}
		segs, err := sub.LoadGlyph(&buf, gid, ppem, nil)
		if err != nil || len(segs) == 0 {
			t.Fatalf("glyph %q lost its outline (err=%v)", r, err)
		}
	}

	p := &ttParser{data: out}
	if err := p.parseDirectory(); err != nil {
		t.Fatalf("directory: %v", err)
	}
	head, err := p.table("head")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if format := binary.BigEndian.Uint16(head[50:52]); format != 1 {
		t.Fatalf("expected long loca format, got %d", format)
	}
}

func TestSubsetTrueType_CompositeComponents(t *testing.T) {
	face := loadMono(t)
	out, err := SubsetTrueType(gomono.TTF, usedSet(face, "Á"))
	if err != nil {
		t.Fatalf("subset: %v", err)
	}
	sub, err := sfnt.Parse(out)
	if err != nil {
		t.Fatalf("subset does not parse: %v", err)
	}
	var buf sfnt.Buffer
	gid, _ := sub.GlyphIndex(&buf, 'Á')
	segs, err := sub.LoadGlyph(&buf, gid, fixed.I(12), nil)
	if err != nil || len(segs) == 0 {
		t.Fatalf("composite glyph lost components (err=%v)", err)
	}
}

func TestSubsetTrueType_NonTrueTypeUnchanged(t *testing.T) {
	data := make([]byte, 12)
	out, err := SubsetTrueType(data, map[int]bool{1: true})
	if err != nil {
		t.Fatalf("subset: %v", err)
	}
	if len(out) != len(data) {
		t.Fatalf("font without glyf should pass through")
	}
}

func TestSubsetTag(t *testing.T) {
	a := SubsetTag(map[int]bool{1: true, 5: true})
	if len(a) != 6 {
		t.Fatalf("expected 6 letters, got %q", a)
	}
	for _, c := range a {
		if c < 'A' || c > 'Z' {
			t.Fatalf("tag must be uppercase letters: %q", a)
		}
	}
	if b := SubsetTag(map[int]bool{5: true, 1: true}); a != b {
		t.Fatalf("tag should not depend on map order: %q vs %q", a, b)
	}
	if c := SubsetTag(map[int]bool{1: true, 6: true}); a == c {
		t.Fatalf("different glyph sets should give different tags")
	}
}
