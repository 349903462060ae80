package writer

import (
	"fmt"
	"sort"

	"github.com/wudi/slipkit/fonts"
	"github.com/wudi/slipkit/ir/raw"
	"github.com/wudi/slipkit/ir/semantic"
)

// objectBuilder lowers a semantic document into numbered raw objects.
// Numbering follows page order and sorted resource names, so the same
// document always yields the same object graph.
type objectBuilder struct {
	doc      *semantic.Document
	cfg      Config
	objects  map[raw.ObjectRef]raw.Object
	objNum   int
	fontRefs map[*semantic.Font]raw.ObjectRef
}

func newObjectBuilder(doc *semantic.Document, cfg Config) *objectBuilder {
	return &objectBuilder{
		doc:      doc,
		cfg:      cfg,
		objects:  make(map[raw.ObjectRef]raw.Object),
		fontRefs: make(map[*semantic.Font]raw.ObjectRef),
	}
}

func (b *objectBuilder) nextRef() raw.ObjectRef {
	b.objNum++
	return raw.ObjectRef{Num: b.objNum, Gen: 0}
}

func (b *objectBuilder) Build() (map[raw.ObjectRef]raw.Object, raw.ObjectRef, *raw.ObjectRef, error) {
	catalogRef := b.nextRef()
	pagesRef := b.nextRef()

	kids := raw.NewArray()
	for _, p := range b.doc.Pages {
		pageRef, err := b.addPage(p, pagesRef)
		if err != nil {
			return nil, raw.ObjectRef{}, nil, fmt.Errorf("page %d: %w", p.Index, err)
		}
		kids.Append(raw.Ref(pageRef.Num, pageRef.Gen))
	}

	pages := raw.Dict()
	pages.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	pages.Set(raw.NameLiteral("Kids"), kids)
	pages.Set(raw.NameLiteral("Count"), raw.NumberInt(int64(kids.Len())))
	b.objects[pagesRef] = pages

	catalog := raw.Dict()
	catalog.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	catalog.Set(raw.NameLiteral("Pages"), raw.Ref(pagesRef.Num, pagesRef.Gen))
	if b.doc.Lang != "" {
		catalog.Set(raw.NameLiteral("Lang"), textString(b.doc.Lang))
	}
	b.objects[catalogRef] = catalog

	var infoRef *raw.ObjectRef
	if info := b.doc.Info; info != nil {
		d := raw.Dict()
		for _, kv := range []struct{ key, val string }{
			{"Title", info.Title},
			{"Author", info.Author},
			{"Subject", info.Subject},
			{"Creator", info.Creator},
			{"Producer", info.Producer},
		} {
			if kv.val != "" {
				d.Set(raw.NameLiteral(kv.key), textString(kv.val))
			}
		}
		if d.Len() > 0 {
			ref := b.nextRef()
			b.objects[ref] = d
			infoRef = &ref
		}
	}
	return b.objects, catalogRef, infoRef, nil
}

func (b *objectBuilder) addPage(p *semantic.Page, parent raw.ObjectRef) (raw.ObjectRef, error) {
	ref := b.nextRef()
	page := raw.Dict()
	page.Set(raw.NameLiteral("Type"), raw.NameLiteral("Page"))
	page.Set(raw.NameLiteral("Parent"), raw.Ref(parent.Num, parent.Gen))
	page.Set(raw.NameLiteral("MediaBox"), rectArray(p.MediaBox))

	resources := raw.Dict()
	if p.Resources != nil && len(p.Resources.Fonts) > 0 {
		names := make([]string, 0, len(p.Resources.Fonts))
		for name := range p.Resources.Fonts {
			names = append(names, name)
		}
		sort.Strings(names)
		fontDict := raw.Dict()
		for _, name := range names {
			fontRef, err := b.ensureFont(p.Resources.Fonts[name])
			if err != nil {
				return raw.ObjectRef{}, fmt.Errorf("font %s: %w", name, err)
			}
			fontDict.Set(raw.NameLiteral(name), raw.Ref(fontRef.Num, fontRef.Gen))
		}
		resources.Set(raw.NameLiteral("Font"), fontDict)
	}
	page.Set(raw.NameLiteral("Resources"), resources)

	var content []byte
	for _, cs := range p.Contents {
		content = append(content, serializeContentStream(cs)...)
	}
	contentRef, err := b.addStream(raw.Dict(), content)
	if err != nil {
		return raw.ObjectRef{}, err
	}
	page.Set(raw.NameLiteral("Contents"), raw.Ref(contentRef.Num, contentRef.Gen))
	b.objects[ref] = page
	return ref, nil
}

// addStream stores data as a stream object, compressing it when configured.
func (b *objectBuilder) addStream(dict *raw.DictObj, data []byte) (raw.ObjectRef, error) {
	if b.cfg.Compression > 0 && len(data) > 0 {
		enc, err := zlibEncode(data, b.cfg.Compression)
		if err != nil {
			return raw.ObjectRef{}, fmt.Errorf("compress stream: %w", err)
		}
		dict.Set(raw.NameLiteral("Filter"), raw.NameLiteral("FlateDecode"))
		data = enc
	}
	dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(data))))
	ref := b.nextRef()
	b.objects[ref] = raw.NewStream(dict, data)
	return ref, nil
}

// usedGlyphs returns the glyph ids a font drew, always including .notdef.
func usedGlyphs(font *semantic.Font) map[int]bool {
	used := map[int]bool{0: true}
	for gid := range font.ToUnicode {
		used[gid] = true
	}
	return used
}

func (b *objectBuilder) ensureFont(font *semantic.Font) (raw.ObjectRef, error) {
	if font == nil {
		return raw.ObjectRef{}, fmt.Errorf("nil font")
	}
	if ref, ok := b.fontRefs[font]; ok {
		return ref, nil
	}
	if font.Subtype != "Type0" || font.DescendantFont == nil {
		return raw.ObjectRef{}, fmt.Errorf("unsupported font subtype %q", font.Subtype)
	}
	desc := font.DescendantFont
	used := usedGlyphs(font)

	base := orDefault(font.BaseFont, "CustomTT")
	fontFile := []byte(nil)
	if fd := fontDescriptor(desc, font); fd != nil {
		fontFile = fd.FontFile
	}
	if b.cfg.SubsetFonts && len(fontFile) > 0 {
		sub, err := fonts.SubsetTrueType(fontFile, used)
		if err != nil {
			return raw.ObjectRef{}, fmt.Errorf("subset: %w", err)
		}
		fontFile = sub
		base = fonts.SubsetTag(used) + "+" + base
	}

	ref := b.nextRef()
	fontDict := raw.Dict()
	fontDict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
	fontDict.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("Type0"))
	fontDict.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral(base))
	encoding := font.Encoding
	if encoding == "" {
		encoding = "Identity-H"
	}
	fontDict.Set(raw.NameLiteral("Encoding"), raw.NameLiteral(encoding))

	descRef := b.nextRef()
	descDict := raw.Dict()
	descDict.Set(raw.NameLiteral("Type"), raw.NameLiteral("Font"))
	descDict.Set(raw.NameLiteral("Subtype"), raw.NameLiteral("CIDFontType2"))
	descDict.Set(raw.NameLiteral("BaseFont"), raw.NameLiteral(base))
	csi := desc.CIDSystemInfo
	if font.CIDSystemInfo != nil {
		csi = *font.CIDSystemInfo
	}
	cs := raw.Dict()
	cs.Set(raw.NameLiteral("Registry"), raw.Str([]byte(orDefault(csi.Registry, "Adobe"))))
	cs.Set(raw.NameLiteral("Ordering"), raw.Str([]byte(orDefault(csi.Ordering, "Identity"))))
	cs.Set(raw.NameLiteral("Supplement"), raw.NumberInt(int64(csi.Supplement)))
	descDict.Set(raw.NameLiteral("CIDSystemInfo"), cs)
	descDict.Set(raw.NameLiteral("CIDToGIDMap"), raw.NameLiteral("Identity"))
	dw := desc.DW
	if dw <= 0 {
		dw = 1000
	}
	descDict.Set(raw.NameLiteral("DW"), raw.NumberInt(int64(dw)))

	widths := desc.W
	if len(widths) == 0 {
		widths = font.Widths
	}
	usedWidths := make(map[int]int, len(used))
	for gid := range used {
		if w, ok := widths[gid]; ok {
			usedWidths[gid] = w
		}
	}
	if len(usedWidths) > 0 {
		descDict.Set(raw.NameLiteral("W"), encodeCIDWidths(usedWidths))
	}
	if fd := fontDescriptor(desc, font); fd != nil {
		fdRef, err := b.addFontDescriptor(fd, base, fontFile)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		descDict.Set(raw.NameLiteral("FontDescriptor"), raw.Ref(fdRef.Num, fdRef.Gen))
	}
	b.objects[descRef] = descDict
	fontDict.Set(raw.NameLiteral("DescendantFonts"), raw.NewArray(raw.Ref(descRef.Num, descRef.Gen)))

	if cmap := buildToUnicodeCMap(font); len(cmap) > 0 {
		uref, err := b.addStream(raw.Dict(), cmap)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		fontDict.Set(raw.NameLiteral("ToUnicode"), raw.Ref(uref.Num, uref.Gen))
	}
	b.objects[ref] = fontDict
	b.fontRefs[font] = ref
	return ref, nil
}

func (b *objectBuilder) addFontDescriptor(fd *semantic.FontDescriptor, name string, fontFile []byte) (raw.ObjectRef, error) {
	ref := b.nextRef()
	d := raw.Dict()
	d.Set(raw.NameLiteral("Type"), raw.NameLiteral("FontDescriptor"))
	d.Set(raw.NameLiteral("FontName"), raw.NameLiteral(name))
	flags := fd.Flags
	if flags == 0 {
		flags = 4
	}
	d.Set(raw.NameLiteral("Flags"), raw.NumberInt(int64(flags)))
	d.Set(raw.NameLiteral("ItalicAngle"), raw.NumberFloat(fd.ItalicAngle))
	d.Set(raw.NameLiteral("Ascent"), raw.NumberFloat(fd.Ascent))
	d.Set(raw.NameLiteral("Descent"), raw.NumberFloat(fd.Descent))
	d.Set(raw.NameLiteral("CapHeight"), raw.NumberFloat(fd.CapHeight))
	stem := fd.StemV
	if stem == 0 {
		stem = 80
	}
	d.Set(raw.NameLiteral("StemV"), raw.NumberInt(int64(stem)))
	d.Set(raw.NameLiteral("FontBBox"), raw.NewArray(
		raw.NumberFloat(fd.FontBBox[0]),
		raw.NumberFloat(fd.FontBBox[1]),
		raw.NumberFloat(fd.FontBBox[2]),
		raw.NumberFloat(fd.FontBBox[3]),
	))
	if len(fontFile) > 0 {
		streamDict := raw.Dict()
		streamDict.Set(raw.NameLiteral("Length1"), raw.NumberInt(int64(len(fontFile))))
		streamRef, err := b.addStream(streamDict, fontFile)
		if err != nil {
			return raw.ObjectRef{}, err
		}
		key := orDefault(fd.FontFileType, "FontFile2")
		d.Set(raw.NameLiteral(key), raw.Ref(streamRef.Num, streamRef.Gen))
	}
	b.objects[ref] = d
	return ref, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
