// Package herr defines the error kinds shared across the hactool-go
// packages (spec section 7).
package herr

import "fmt"

// Kind classifies a failure the way the component design enumerates them.
type Kind int

const (
	KindUnknown Kind = iota
	KindIO
	KindMagicMismatch
	KindKeyMissing
	KindHashInvalid
	KindSignatureInvalid
	KindLayoutInvalid
	KindUsage
	KindCorruptSection
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IoError"
	case KindMagicMismatch:
		return "MagicMismatch"
	case KindKeyMissing:
		return "KeyMissing"
	case KindHashInvalid:
		return "HashInvalid"
	case KindSignatureInvalid:
		return "SignatureInvalid"
	case KindLayoutInvalid:
		return "LayoutInvalid"
	case KindUsage:
		return "UsageError"
	case KindCorruptSection:
		return "CorruptSection"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with the operation that produced it
// and the spec's error-kind taxonomy.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op/kind, wrapping err (which may be nil).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is lets errors.Is(err, herr.Sentinel(herr.KindX)) work: any *Error
// target matches when its Kind equals e's; Op and cause are ignored.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel wraps a kind with no cause, useful with errors.Is.
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }
