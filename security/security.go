package security

import (
	"errors"
	"fmt"

	"github.com/wudi/slipkit/ir/raw"
)

// ErrRestricted is matched by every RestrictedError.
var ErrRestricted = errors.New("restricted document")

// RestrictedError reports a document that must not be merged as-is, such as
// one protected by a security handler.
type RestrictedError struct {
	Filter string // /Filter of the encryption dictionary, when known
	Reason string
}

func (e *RestrictedError) Error() string {
	if e.Filter != "" {
		return fmt.Sprintf("restricted document: %s (filter %s)", e.Reason, e.Filter)
	}
	return "restricted document: " + e.Reason
}

func (e *RestrictedError) Is(target error) bool { return target == ErrRestricted }

// Check returns a *RestrictedError when doc declares an encryption dictionary.
// Content from such a document cannot be copied without decrypting it first.
func Check(doc *raw.Document) error {
	if doc == nil || doc.Trailer == nil {
		return nil
	}
	encObj, ok := doc.Trailer.Get(raw.NameLiteral("Encrypt"))
	if !ok && !doc.Encrypted {
		return nil
	}
	restricted := &RestrictedError{Reason: "encrypted"}
	if enc, ok := doc.Resolve(encObj).(*raw.DictObj); ok {
		restricted.Filter, _ = enc.Name("Filter")
	}
	return restricted
}
