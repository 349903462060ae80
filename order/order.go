// Package order turns raw order rows into normalized delivery-slip records.
package order

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// Row is one input record keyed by column name.
type Row map[string]string

// Identity columns.
const (
	ColCustomerID      = "顧客ID"
	ColRecipientName   = "お届け先名称1"
	ColRecipientName2  = "お届け先名称2"
	ColRecipientPostal = "お届け先郵便番号"
	ColRecipientAddr1  = "お届け先住所1"
	ColRecipientAddr2  = "お届け先住所2"
	ColRecipientAddr3  = "お届け先住所3"
	ColSenderName      = "ご依頼主名称1"
	ColSenderAddr1     = "ご依頼主住所1"
	ColSenderAddr2     = "ご依頼主住所2"
)

// DefaultMaxGroups is the number of repeated item column groups read per row.
const DefaultMaxGroups = 30

// ItemColumns returns the SKU, name and quantity column names of group i (1-based).
func ItemColumns(i int) (code, name, qty string) {
	n := strconv.Itoa(i)
	return "SKU" + n, "商品名" + n, "商品数量" + n
}

type AddressBlock struct {
	Name       string
	Name2      string
	PostalCode string
	Lines      []string
}

type LineItem struct {
	Code     string
	Name     string
	Quantity int
}

// Record is the normalized form of one row. It is not mutated after Normalize.
type Record struct {
	CustomerID string
	Recipient  AddressBlock
	Sender     AddressBlock
	Items      []LineItem
}

// MalformedRowError reports a mandatory column that was blank. Row is filled
// in by callers that know the input position; Normalize leaves it at -1.
type MalformedRowError struct {
	Row   int
	Field string
}

func (e *MalformedRowError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("malformed row: missing %s", e.Field)
	}
	return fmt.Sprintf("malformed row %d: missing %s", e.Row, e.Field)
}

type Normalizer struct {
	MaxGroups int
	Mandatory []string
}

func NewNormalizer() *Normalizer {
	return &Normalizer{MaxGroups: DefaultMaxGroups}
}

func (n *Normalizer) Normalize(row Row) (*Record, error) {
	for _, col := range n.Mandatory {
		if strings.TrimSpace(row[col]) == "" {
			return nil, &MalformedRowError{Row: -1, Field: col}
		}
	}

	rec := &Record{
		CustomerID: row[ColCustomerID],
		Recipient: AddressBlock{
			Name:       row[ColRecipientName],
			Name2:      row[ColRecipientName2],
			PostalCode: row[ColRecipientPostal],
			Lines:      []string{row[ColRecipientAddr1], row[ColRecipientAddr2], row[ColRecipientAddr3]},
		},
		Sender: AddressBlock{
			Name:  row[ColSenderName],
			Lines: []string{row[ColSenderAddr1], row[ColSenderAddr2]},
		},
	}
	rec.Items = n.items(row)
	return rec, nil
}

func (n *Normalizer) items(row Row) []LineItem {
	groups := n.MaxGroups
	if groups <= 0 {
		groups = DefaultMaxGroups
	}
	index := make(map[string]int)
	var items []LineItem
	for i := 1; i <= groups; i++ {
		codeCol, nameCol, qtyCol := ItemColumns(i)
		code := row[codeCol]
		if strings.TrimSpace(code) == "" {
			continue
		}
		qty := ParseQuantity(row[qtyCol])
		if at, ok := index[code]; ok {
			items[at].Quantity += qty
			continue
		}
		index[code] = len(items)
		items = append(items, LineItem{Code: code, Name: row[nameCol], Quantity: qty})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Code < items[j].Code })
	return items
}

// ParseQuantity reads a decimal quantity and truncates it toward zero.
// Full-width digits are accepted. Blank, non-numeric, non-finite and negative
// values become 0.
func ParseQuantity(s string) int {
	s = strings.TrimSpace(width.Narrow.String(s))
	if !isDecimal(s) {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

// isDecimal accepts [sign] digits [. digits] [e [sign] digits]. It rejects
// what ParseFloat would otherwise take: hex, underscores, Inf and NaN.
func isDecimal(s string) bool {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		exp := 0
		for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
			exp++
		}
		if exp == 0 {
			return false
		}
	}
	return i == len(s)
}
