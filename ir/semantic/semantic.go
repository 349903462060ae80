package semantic

// Document is the high-level representation handed to the writer.
type Document struct {
	Pages []*Page
	Info  *DocumentInfo
	Lang  string
}

// DocumentInfo populates the /Info dictionary. Dates are deliberately absent
// so that identical input produces identical bytes.
type DocumentInfo struct {
	Title    string
	Author   string
	Subject  string
	Creator  string
	Producer string
}

// Page is a single page with its own resources and content.
type Page struct {
	Index     int
	MediaBox  Rectangle
	Resources *Resources
	Contents  []ContentStream
}

// Rectangle is a PDF rectangle in user space.
type Rectangle struct {
	LLX, LLY, URX, URY float64
}

// Width returns the horizontal extent of the rectangle.
func (r Rectangle) Width() float64 { return r.URX - r.LLX }

// Height returns the vertical extent of the rectangle.
func (r Rectangle) Height() float64 { return r.URY - r.LLY }

// ContentStream holds the operations of one page content stream.
type ContentStream struct {
	Operations []Operation
	RawBytes   []byte
}

// Operation is a single content stream operator with its operands.
type Operation struct {
	Operator string
	Operands []Operand
}

// Operand is a content stream operand.
type Operand interface {
	operand()
	Type() string
}

type NumberOperand struct{ Value float64 }

func (NumberOperand) operand()     {}
func (NumberOperand) Type() string { return "number" }

type NameOperand struct{ Value string }

func (NameOperand) operand()     {}
func (NameOperand) Type() string { return "name" }

// StringOperand carries already-encoded string bytes. Hex selects <..> output,
// which is used for two-byte glyph strings.
type StringOperand struct {
	Value []byte
	Hex   bool
}

func (StringOperand) operand()     {}
func (StringOperand) Type() string { return "string" }

type ArrayOperand struct{ Values []Operand }

func (ArrayOperand) operand()     {}
func (ArrayOperand) Type() string { return "array" }

// Resources lists the named resources a page references.
type Resources struct {
	Fonts map[string]*Font
}

// Font describes a font resource. Only composite TrueType fonts
// (Type0 / CIDFontType2, Identity-H) are produced by this module.
type Font struct {
	Subtype        string // Type0
	BaseFont       string
	Encoding       string // Identity-H
	Widths         map[int]int // glyph id -> width in 1/1000 em
	ToUnicode      map[int][]rune
	CIDSystemInfo  *CIDSystemInfo
	DescendantFont *CIDFont
	Descriptor     *FontDescriptor
}

// CIDFont is the descendant of a Type0 font.
type CIDFont struct {
	Subtype       string // CIDFontType2
	BaseFont      string
	CIDSystemInfo CIDSystemInfo
	DW            int
	W             map[int]int
	Descriptor    *FontDescriptor
}

// CIDSystemInfo identifies the character collection of a CID font.
type CIDSystemInfo struct {
	Registry   string
	Ordering   string
	Supplement int
}

// FontDescriptor carries font metrics and the embedded font program.
type FontDescriptor struct {
	FontName     string
	Flags        int
	ItalicAngle  float64
	Ascent       float64
	Descent      float64
	CapHeight    float64
	StemV        int
	FontBBox     [4]float64
	FontFile     []byte
	FontFileType string // FontFile2
}
