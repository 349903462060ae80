package pipeline

import (
	"context"
	"errors"
	"os"

	"github.com/wudi/slipkit/artifact"
	"github.com/wudi/slipkit/fonts"
	"github.com/wudi/slipkit/ingest"
	"github.com/wudi/slipkit/merge"
	"github.com/wudi/slipkit/order"
)

// Code is a coarse error category for logs and process exit status.
type Code string

const (
	CodeUnknown Code = "unknown"
	CodeGlyph   Code = "glyph"
	CodeIO      Code = "io"
	CodeRow     Code = "row"
	CodeMerge   Code = "merge"
	CodeCancel  Code = "cancel"
)

// Classify maps err to a Code using error types and sentinels only.
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	var glyphErr *fonts.GlyphLoadError
	if errors.As(err, &glyphErr) {
		return CodeGlyph
	}
	var rowErr *RowError
	var malformed *order.MalformedRowError
	var decodeErr *ingest.DecodeError
	if errors.As(err, &rowErr) || errors.As(err, &malformed) || errors.As(err, &decodeErr) || errors.Is(err, ingest.ErrNoHeader) {
		return CodeRow
	}
	var mergeErr *merge.MergeError
	if errors.As(err, &mergeErr) {
		return CodeMerge
	}
	var ioErr *artifact.IOError
	var pathErr *os.PathError
	if errors.As(err, &ioErr) || errors.As(err, &pathErr) {
		return CodeIO
	}
	return CodeUnknown
}
