package fonts

import (
	"unicode"

	"github.com/go-text/typesetting/di"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/math/fixed"
)

// shapeSize shapes at 1000 units per em so advances come back in PDF text
// space units (1/1000 em) once the 26.6 fraction is removed.
const shapeSize = fixed.Int26_6(1000 * 64)

// Measure returns the rendered width of text at the given point size.
// Shaped advances are preferred; fonts go-text cannot read fall back to the
// plain hmtx advances of the cmap glyphs.
func (f *Face) Measure(text string, size float64) float64 {
	runes := []rune(text)
	if len(runes) == 0 || size <= 0 {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shapeFace != nil {
		script := detectScript(runes)
		out := f.shaper.Shape(shaping.Input{
			Text:      runes,
			RunStart:  0,
			RunEnd:    len(runes),
			Direction: di.DirectionLTR,
			Face:      f.shapeFace,
			Size:      shapeSize,
			Script:    script,
			Language:  language.DefaultLanguage(),
		})
		if len(out.Glyphs) > 0 {
			var adv float64
			for _, g := range out.Glyphs {
				adv += float64(g.XAdvance) / 64.0
			}
			return adv / 1000 * size
		}
	}

	var units int
	for _, r := range runes {
		gid := f.glyphLocked(r)
		if w, ok := f.Font.Widths[int(gid)]; ok {
			units += w
		} else {
			units += f.Font.DescendantFont.DW
		}
	}
	return float64(units) / 1000 * size
}

// detectScript picks the dominant script of a run. Delivery slips mix
// Japanese with Latin codes, so only those scripts are distinguished.
func detectScript(runes []rune) language.Script {
	counts := make(map[language.Script]int)
	maxCount := 0
	best := language.Latin
	for _, r := range runes {
		script := scriptFromRune(r)
		if script == language.Unknown {
			continue
		}
		counts[script]++
		if counts[script] > maxCount {
			maxCount = counts[script]
			best = script
		}
	}
	return best
}

func scriptFromRune(r rune) language.Script {
	switch {
	case unicode.Is(unicode.Latin, r):
		return language.Latin
	case unicode.Is(unicode.Han, r):
		return language.Han
	case unicode.Is(unicode.Hiragana, r):
		return language.Hiragana
	case unicode.Is(unicode.Katakana, r):
		return language.Katakana
	case unicode.Is(unicode.Hangul, r):
		return language.Hangul
	case unicode.Is(unicode.Cyrillic, r):
		return language.Cyrillic
	case unicode.Is(unicode.Greek, r):
		return language.Greek
	}
	return language.Unknown
}
