package wire

import (
	"bufio"
	"fmt"
	"io"
)

// Kind is the §7 error taxonomy as carried on the wire inside a Response.
type Kind string

const (
	KindUntrustedPeer    Kind = "UntrustedPeer"
	KindAmbiguousPeer    Kind = "AmbiguousPeer"
	KindBadHandshake     Kind = "BadHandshake"
	KindBadProcedure     Kind = "BadProcedure"
	KindNoRoute          Kind = "NoRoute"
	KindPeerDisconnected Kind = "PeerDisconnected"
	KindTimeout          Kind = "Timeout"
	KindShutdown         Kind = "Shutdown"
	KindApplication      Kind = "Application"
)

// Error is the structured, transport-safe error carried in a Response
// frame. It never carries a stack trace across the wire (§7).
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a wire Error of the given kind.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func encodeError(w io.Writer, e *Error) error {
	if e == nil {
		return writeNil(w)
	}
	if err := writeArrayHeader(w, 2); err != nil {
		return err
	}
	if err := writeString(w, string(e.Kind)); err != nil {
		return err
	}
	return writeString(w, e.Message)
}

func decodeError(br *bufio.Reader) (*Error, error) {
	nilv, err := isNil(br)
	if err != nil {
		return nil, err
	}
	if nilv {
		return nil, nil
	}
	if err := readArrayHeader(br, 2); err != nil {
		return nil, err
	}
	kind, err := readString(br)
	if err != nil {
		return nil, err
	}
	msg, err := readString(br)
	if err != nil {
		return nil, err
	}
	return &Error{Kind: Kind(kind), Message: msg}, nil
}
