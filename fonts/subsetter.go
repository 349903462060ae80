package fonts

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// SubsetTrueType keeps only the glyph outlines of used (plus .notdef and
// composite components). Glyph ids are preserved so Identity-H content keeps
// working; unused slots become empty glyphs and trailing ones are dropped.
// Fonts without glyf outlines are returned unchanged.
func SubsetTrueType(data []byte, used map[int]bool) ([]byte, error) {
	p := &ttParser{data: data}
	if err := p.parseDirectory(); err != nil {
		return nil, err
	}
	for _, tag := range []string{"glyf", "loca", "head", "maxp", "hmtx", "hhea"} {
		if !p.has(tag) {
			return data, nil
		}
	}

	head, err := p.table("head")
	if err != nil {
		return nil, err
	}
	if len(head) < 54 {
		return nil, fmt.Errorf("head table truncated")
	}
	locFormat := int16(binary.BigEndian.Uint16(head[50:52]))

	maxp, err := p.table("maxp")
	if err != nil {
		return nil, err
	}
	if len(maxp) < 6 {
		return nil, fmt.Errorf("maxp table truncated")
	}
	numGlyphs := int(binary.BigEndian.Uint16(maxp[4:6]))

	closure := map[int]bool{0: true}
	for gid := range used {
		if gid >= 0 && gid < numGlyphs {
			closure[gid] = true
		}
	}
	if err := p.closeComposites(closure, numGlyphs, locFormat); err != nil {
		return nil, fmt.Errorf("compute closure: %w", err)
	}

	keep := 0
	for gid := range closure {
		if gid+1 > keep {
			keep = gid + 1
		}
	}

	glyf, loca, err := p.rebuildGlyfLoca(closure, keep, locFormat)
	if err != nil {
		return nil, err
	}
	hmtx, err := p.rebuildHmtx(keep)
	if err != nil {
		return nil, err
	}

	w := &ttWriter{}
	w.add("glyf", glyf)
	w.add("loca", loca)
	w.add("hmtx", hmtx)

	newMaxp := bytes.Clone(maxp)
	binary.BigEndian.PutUint16(newMaxp[4:], uint16(keep))
	w.add("maxp", newMaxp)

	// loca is always written in the long format.
	newHead := bytes.Clone(head)
	binary.BigEndian.PutUint16(newHead[50:], 1)
	w.add("head", newHead)

	for _, tag := range []string{"hhea", "cmap", "OS/2", "post", "name", "cvt ", "fpgm", "prep", "gasp"} {
		if !p.has(tag) {
			continue
		}
		tbl, err := p.table(tag)
		if err != nil {
			return nil, err
		}
		switch tag {
		case "hhea":
			if len(tbl) >= 36 {
				tbl = bytes.Clone(tbl)
				binary.BigEndian.PutUint16(tbl[34:], uint16(keep))
			}
		case "post":
			// Version 2 glyph names are indexed by the old glyph count.
			if len(tbl) >= 32 {
				tbl = bytes.Clone(tbl[:32])
				binary.BigEndian.PutUint32(tbl[0:], 0x00030000)
			}
		}
		w.add(tag, tbl)
	}
	return w.bytes(), nil
}

// SubsetTag derives the six uppercase letters prefixed to a subset font name.
// It depends only on the glyph set, so identical inputs give identical names.
func SubsetTag(used map[int]bool) string {
	gids := make([]int, 0, len(used))
	for gid := range used {
		gids = append(gids, gid)
	}
	sort.Ints(gids)
	buf := make([]byte, 0, len(gids)*2)
	for _, gid := range gids {
		buf = binary.BigEndian.AppendUint16(buf, uint16(gid))
	}
	sum := blake2b.Sum256(buf)
	tag := make([]byte, 6)
	for i := range tag {
		tag[i] = 'A' + sum[i]%26
	}
	return string(tag)
}

type ttParser struct {
	data   []byte
	tables map[string]tableEntry
}

type tableEntry struct {
	offset uint32
	length uint32
}

func (p *ttParser) parseDirectory() error {
	if len(p.data) < 12 {
		return fmt.Errorf("invalid font header")
	}
	numTables := int(binary.BigEndian.Uint16(p.data[4:6]))
	p.tables = make(map[string]tableEntry, numTables)
	offset := 12
	for i := 0; i < numTables; i++ {
		if offset+16 > len(p.data) {
			return fmt.Errorf("table directory truncated")
		}
		tag := string(p.data[offset : offset+4])
		p.tables[tag] = tableEntry{
			offset: binary.BigEndian.Uint32(p.data[offset+8 : offset+12]),
			length: binary.BigEndian.Uint32(p.data[offset+12 : offset+16]),
		}
		offset += 16
	}
	return nil
}

func (p *ttParser) has(tag string) bool {
	_, ok := p.tables[tag]
	return ok
}

func (p *ttParser) table(tag string) ([]byte, error) {
	e, ok := p.tables[tag]
	if !ok {
		return nil, fmt.Errorf("table %s not found", tag)
	}
	end := uint64(e.offset) + uint64(e.length)
	if end > uint64(len(p.data)) {
		return nil, fmt.Errorf("table %s out of bounds", tag)
	}
	return p.data[e.offset:end], nil
}

func (p *ttParser) locator(locFormat int16) (func(gid int) uint32, []byte, error) {
	loca, err := p.table("loca")
	if err != nil {
		return nil, nil, err
	}
	glyf, err := p.table("glyf")
	if err != nil {
		return nil, nil, err
	}
	loc := func(gid int) uint32 {
		if locFormat == 0 {
			if gid*2+2 > len(loca) {
				return 0
			}
			return uint32(binary.BigEndian.Uint16(loca[gid*2:])) * 2
		}
		if gid*4+4 > len(loca) {
			return 0
		}
		return binary.BigEndian.Uint32(loca[gid*4:])
	}
	return loc, glyf, nil
}

// closeComposites adds the components of every composite glyph in closure.
func (p *ttParser) closeComposites(closure map[int]bool, numGlyphs int, locFormat int16) error {
	loc, glyf, err := p.locator(locFormat)
	if err != nil {
		return err
	}
	queue := make([]int, 0, len(closure))
	for gid := range closure {
		queue = append(queue, gid)
	}
	for len(queue) > 0 {
		gid := queue[0]
		queue = queue[1:]
		if gid >= numGlyphs {
			continue
		}
		start, end := loc(gid), loc(gid+1)
		if start >= end || start+10 > uint32(len(glyf)) {
			continue
		}
		if int16(binary.BigEndian.Uint16(glyf[start:start+2])) >= 0 {
			continue // simple glyph
		}
		offset := start + 10
		for offset+4 <= uint32(len(glyf)) {
			flags := binary.BigEndian.Uint16(glyf[offset : offset+2])
			sub := int(binary.BigEndian.Uint16(glyf[offset+2 : offset+4]))
			if sub < numGlyphs && !closure[sub] {
				closure[sub] = true
				queue = append(queue, sub)
			}
			offset += 4
			if flags&0x0001 != 0 { // ARG_1_AND_2_ARE_WORDS
				offset += 4
			} else {
				offset += 2
			}
			switch {
			case flags&0x0008 != 0: // WE_HAVE_A_SCALE
				offset += 2
			case flags&0x0040 != 0: // WE_HAVE_AN_X_AND_Y_SCALE
				offset += 4
			case flags&0x0080 != 0: // WE_HAVE_A_TWO_BY_TWO
				offset += 8
			}
			if flags&0x0020 == 0 { // MORE_COMPONENTS
				break
			}
		}
	}
	return nil
}

func (p *ttParser) rebuildGlyfLoca(closure map[int]bool, numGlyphs int, locFormat int16) ([]byte, []byte, error) {
	loc, oldGlyf, err := p.locator(locFormat)
	if err != nil {
		return nil, nil, err
	}
	var glyf, loca bytes.Buffer
	offset := uint32(0)
	for gid := 0; gid < numGlyphs; gid++ {
		_ = binary.Write(&loca, binary.BigEndian, offset)
		if !closure[gid] {
			continue
		}
		start, end := loc(gid), loc(gid+1)
		if start < end && end <= uint32(len(oldGlyf)) {
			glyf.Write(oldGlyf[start:end])
			offset += end - start
			// Keep glyph records 4-byte aligned.
			for offset%4 != 0 {
				glyf.WriteByte(0)
				offset++
			}
		}
	}
	_ = binary.Write(&loca, binary.BigEndian, offset)
	return glyf.Bytes(), loca.Bytes(), nil
}

// rebuildHmtx writes explicit metrics for every kept glyph, so hhea's
// numberOfHMetrics becomes the new glyph count.
func (p *ttParser) rebuildHmtx(numGlyphs int) ([]byte, error) {
	hhea, err := p.table("hhea")
	if err != nil {
		return nil, err
	}
	if len(hhea) < 36 {
		return nil, fmt.Errorf("hhea table truncated")
	}
	numMetrics := int(binary.BigEndian.Uint16(hhea[34:36]))
	hmtx, err := p.table("hmtx")
	if err != nil {
		return nil, err
	}
	if numMetrics == 0 || len(hmtx) < numMetrics*4 {
		return nil, fmt.Errorf("hmtx table truncated")
	}
	var out bytes.Buffer
	for gid := 0; gid < numGlyphs; gid++ {
		var adv, lsb uint16
		if gid < numMetrics {
			adv = binary.BigEndian.Uint16(hmtx[gid*4:])
			lsb = binary.BigEndian.Uint16(hmtx[gid*4+2:])
		} else {
			adv = binary.BigEndian.Uint16(hmtx[(numMetrics-1)*4:])
			if off := numMetrics*4 + (gid-numMetrics)*2; off+2 <= len(hmtx) {
				lsb = binary.BigEndian.Uint16(hmtx[off:])
			}
		}
		_ = binary.Write(&out, binary.BigEndian, adv)
		_ = binary.Write(&out, binary.BigEndian, lsb)
	}
	return out.Bytes(), nil
}

type ttWriter struct {
	tables []tableData
}

type tableData struct {
	tag  string
	data []byte
}

func (w *ttWriter) add(tag string, data []byte) {
	w.tables = append(w.tables, tableData{tag, data})
}

func (w *ttWriter) bytes() []byte {
	sort.Slice(w.tables, func(i, j int) bool { return w.tables[i].tag < w.tables[j].tag })
	numTables := len(w.tables)

	entrySelector := 0
	for (1 << (entrySelector + 1)) <= numTables {
		entrySelector++
	}
	searchRange := (1 << entrySelector) * 16

	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x01, 0x00, 0x00})
	_ = binary.Write(&buf, binary.BigEndian, uint16(numTables))
	_ = binary.Write(&buf, binary.BigEndian, uint16(searchRange))
	_ = binary.Write(&buf, binary.BigEndian, uint16(entrySelector))
	_ = binary.Write(&buf, binary.BigEndian, uint16(numTables*16-searchRange))

	offset := 12 + 16*numTables
	headIndex, headOffset := -1, 0
	for i, t := range w.tables {
		if t.tag == "head" {
			headIndex, headOffset = i, offset
			// checksumAdjustment must be zero while summing.
			t.data = bytes.Clone(t.data)
			binary.BigEndian.PutUint32(t.data[8:], 0)
			w.tables[i] = t
		}
		buf.WriteString(t.tag)
		_ = binary.Write(&buf, binary.BigEndian, calcChecksum(t.data))
		_ = binary.Write(&buf, binary.BigEndian, uint32(offset))
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(t.data)))
		offset += len(t.data) + padLen(len(t.data))
	}
	for _, t := range w.tables {
		buf.Write(t.data)
		buf.Write(make([]byte, padLen(len(t.data))))
	}

	out := buf.Bytes()
	if headIndex >= 0 {
		adjustment := 0xB1B0AFBA - calcChecksum(out)
		binary.BigEndian.PutUint32(out[headOffset+8:], adjustment)
	}
	return out
}

func padLen(n int) int { return (4 - n%4) % 4 }

func calcChecksum(data []byte) uint32 {
	var sum uint32
	for i := 0; i < len(data); i += 4 {
		var word [4]byte
		copy(word[:], data[i:])
		sum += binary.BigEndian.Uint32(word[:])
	}
	return sum
}
