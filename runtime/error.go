package runtime

import (
	"fmt"

	"golang.org/x/xerrors"

	"github.com/myelnet/meshrpc/wire"
)

// Error is the runtime-facing view of a §7 wire error: the same Kind and
// Message the peer raised, plus the local call-site frame where the
// failure was observed (stack frames never cross the wire themselves,
// §7 "Propagation" — this frame is added back in locally for operators
// reading logs).
type Error struct {
	Cause *wire.Error
	frame xerrors.Frame
}

// Wrap annotates a wire-level error with the local call-site frame. It
// never changes Kind or Message (§7 "re-raised ... preserving kind and
// message").
func Wrap(err *wire.Error) *Error {
	return &Error{Cause: err, frame: xerrors.Caller(1)}
}

func (e *Error) Error() string { return e.Cause.Error() }

// Unwrap exposes the underlying wire.Error for errors.As/errors.Is.
func (e *Error) Unwrap() error { return e.Cause }

// Format implements fmt.Formatter so %+v prints the call-site frame
// alongside the message; %s and %v print just the message.
func (e *Error) Format(f fmt.State, c rune) { xerrors.FormatError(e, f, c) }

func (e *Error) FormatError(p xerrors.Printer) error {
	p.Print(e.Cause.Error())
	e.frame.Format(p)
	return nil
}

// HasKind reports whether the wrapped error carries the given wire.Kind.
func (e *Error) HasKind(kind wire.Kind) bool {
	return e.Cause.Kind == kind
}
