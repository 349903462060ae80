package writer

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/wudi/slipkit/ir/raw"
)

// binaryMarker follows the header so transports treat the file as binary.
const binaryMarker = "%\xE2\xE3\xCF\xD3\n"

// SerializeObject renders one indirect object including its obj/endobj frame.
func SerializeObject(ref raw.ObjectRef, obj raw.Object) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	buf.Write(serializePrimitive(obj))
	buf.WriteString("\nendobj\n")
	return buf.Bytes()
}

// WriteObjects serializes a complete object graph as a classic PDF file:
// header, objects in ascending number order, xref table and trailer.
// /Size is always recomputed; when the trailer carries no /ID one is derived
// from the serialized objects, so equal graphs produce equal files.
func WriteObjects(out io.Writer, version string, objects map[raw.ObjectRef]raw.Object, trailer *raw.DictObj) error {
	if len(objects) == 0 {
		return fmt.Errorf("no objects to write")
	}
	if trailer == nil {
		trailer = raw.Dict()
	} else {
		trailer = trailer.Clone()
	}
	if version == "" {
		version = string(PDF17)
	}

	ordered := make([]raw.ObjectRef, 0, len(objects))
	for ref := range objects {
		ordered = append(ordered, ref)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Num < ordered[j].Num })

	var buf bytes.Buffer
	buf.WriteString("%PDF-" + version + "\n" + binaryMarker)
	bodyStart := buf.Len()
	offsets := make(map[int]int64, len(ordered))
	for _, ref := range ordered {
		offsets[ref.Num] = int64(buf.Len())
		buf.Write(SerializeObject(ref, objects[ref]))
	}
	if _, ok := trailer.Get(raw.NameLiteral("ID")); !ok {
		sum := md5.Sum(buf.Bytes()[bodyStart:])
		trailer.Set(raw.NameLiteral("ID"), raw.NewArray(raw.HexStr(sum[:]), raw.HexStr(sum[:])))
	}

	maxObjNum := ordered[len(ordered)-1].Num
	trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(maxObjNum+1)))

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxObjNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= maxObjNum; i++ {
		if off, ok := offsets[i]; ok {
			fmt.Fprintf(&buf, "%010d 00000 n \n", off)
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}
	buf.WriteString("trailer\n")
	buf.Write(serializePrimitive(trailer))
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err := out.Write(buf.Bytes())
	return err
}

func serializePrimitive(o raw.Object) []byte {
	switch v := o.(type) {
	case raw.NameObj:
		return []byte("/" + pdfNameLiteral(v.Val))
	case raw.NumberObj:
		if v.IsInteger() {
			return []byte(strconv.FormatInt(v.Int(), 10))
		}
		return []byte(formatNumber(v.Float()))
	case raw.BoolObj:
		if v.Value() {
			return []byte("true")
		}
		return []byte("false")
	case raw.NullObj:
		return []byte("null")
	case raw.StringObj:
		if v.IsHex() {
			return hexString(v.Value())
		}
		return escapeLiteralString(v.Value())
	case *raw.ArrayObj:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.Write(serializePrimitive(it))
		}
		b.WriteByte(']')
		return b.Bytes()
	case *raw.DictObj:
		var b bytes.Buffer
		b.WriteString("<<")
		for _, k := range v.SortedKeys() {
			b.WriteString("/" + pdfNameLiteral(k) + " ")
			b.Write(serializePrimitive(v.KV[k]))
		}
		b.WriteString(">>")
		return b.Bytes()
	case *raw.StreamObj:
		dict := raw.Dict()
		if v.Dict != nil {
			dict = v.Dict.Clone()
		}
		dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(v.Data))))
		var b bytes.Buffer
		b.Write(serializePrimitive(dict))
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
		return b.Bytes()
	case raw.RefObj:
		return []byte(fmt.Sprintf("%d %d R", v.R.Num, v.R.Gen))
	default:
		return []byte("null")
	}
}

// formatNumber prints at most four decimals and never an exponent.
func formatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	r := math.Round(f*10000) / 10000
	if r == 0 {
		return "0"
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

func hexString(data []byte) []byte {
	dst := make([]byte, hex.EncodedLen(len(data))+2)
	dst[0] = '<'
	hex.Encode(dst[1:], data)
	dst[len(dst)-1] = '>'
	return bytes.ToUpper(dst)
}

// pdfNameLiteral escapes every byte outside the regular name characters.
func pdfNameLiteral(value string) string {
	var b bytes.Buffer
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_' || ch == '.' || ch == '+' {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "#%02X", ch)
	}
	return b.String()
}
