package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrPeerClosed is surfaced when a zero-length frame is read, which the
// framing layer (§4.1, §6.1) defines as a clean disconnect rather than a
// transport error.
var ErrPeerClosed = errors.New("wire: peer closed the connection")

// RoleReversalSignal is the single plaintext byte that, once decrypted,
// tells the receiving side of a Channel that the sender wants to become
// request-capable (§4.3, §6.1). It can never be produced by the cipher
// stage because every legitimate payload is framed only after encryption;
// a one-byte 0x00 body is reserved before that stage is ever reached.
var RoleReversalSignal = []byte{0x00}

// ReadFrame reads one `length:uint32 LE | body:bytes[length]` frame (§6.1).
// A zero-length frame yields ErrPeerClosed.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, ErrPeerClosed
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFrame writes one length-prefixed frame. Passing a nil/empty body is
// the disconnect marker and should only be used intentionally.
func WriteFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

// IsRoleReversal reports whether a decrypted frame body is the
// role-reversal sentinel.
func IsRoleReversal(body []byte) bool {
	return len(body) == 1 && body[0] == 0x00
}
