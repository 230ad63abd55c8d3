package wire

import (
	"bufio"
	"io"

	"github.com/google/uuid"
)

// transactionTag distinguishes the two variants of the Transaction union
// (§3, §6.4).
type transactionTag uint64

const (
	tagRequest  transactionTag = 0
	tagResponse transactionTag = 1
)

// Request is the client → peer half of a Transaction: "invoke procedure
// with serialized_args, optionally inside scope_id".
type Request struct {
	ID        uuid.UUID
	ScopeID   *uuid.UUID
	Procedure string
	Args      []byte
}

// Response is the peer → client half of a Transaction: either a Result or
// an Err, never both.
type Response struct {
	ID     uuid.UUID
	Result []byte
	Err    *Error
}

// Transaction is the tagged union written to the wire after the handshake
// and catalogue exchange: tag 0 carries a Request, tag 1 a Response.
type Transaction struct {
	Request  *Request
	Response *Response
}

// MarshalCBOR implements the same narrow interface go-cbor-util's
// WriteCborRPC expects of any outbound message (mirroring
// exchange/replication.go's Request.MarshalCBOR usage in the teacher).
func (t *Transaction) MarshalCBOR(w io.Writer) error {
	switch {
	case t.Request != nil:
		if err := writeUint(w, uint64(tagRequest)); err != nil {
			return err
		}
		return t.Request.marshal(w)
	case t.Response != nil:
		if err := writeUint(w, uint64(tagResponse)); err != nil {
			return err
		}
		return t.Response.marshal(w)
	default:
		return ErrMalformedCBOR
	}
}

// UnmarshalCBOR implements go-cbor-util's ReadCborRPC counterpart.
func (t *Transaction) UnmarshalCBOR(r io.Reader) error {
	br := bufio.NewReader(r)
	tag, err := readUint(br)
	if err != nil {
		return err
	}
	switch transactionTag(tag) {
	case tagRequest:
		req := &Request{}
		if err := req.unmarshal(br); err != nil {
			return err
		}
		t.Request = req
		return nil
	case tagResponse:
		resp := &Response{}
		if err := resp.unmarshal(br); err != nil {
			return err
		}
		t.Response = resp
		return nil
	default:
		return ErrMalformedCBOR
	}
}

// fields: id, scope_id (nullable), procedure, args
func (req *Request) marshal(w io.Writer) error {
	if err := writeArrayHeader(w, 4); err != nil {
		return err
	}
	if err := writeBytes(w, req.ID[:]); err != nil {
		return err
	}
	if req.ScopeID == nil {
		if err := writeNil(w); err != nil {
			return err
		}
	} else {
		if err := writeBytes(w, req.ScopeID[:]); err != nil {
			return err
		}
	}
	if err := writeString(w, req.Procedure); err != nil {
		return err
	}
	return writeBytes(w, req.Args)
}

func (req *Request) unmarshal(br *bufio.Reader) error {
	if err := readArrayHeader(br, 4); err != nil {
		return err
	}
	idb, err := readBytes(br)
	if err != nil {
		return err
	}
	id, err := uuid.FromBytes(idb)
	if err != nil {
		return err
	}
	req.ID = id

	nilScope, err := isNil(br)
	if err != nil {
		return err
	}
	if nilScope {
		req.ScopeID = nil
	} else {
		sb, err := readBytes(br)
		if err != nil {
			return err
		}
		sid, err := uuid.FromBytes(sb)
		if err != nil {
			return err
		}
		req.ScopeID = &sid
	}

	proc, err := readString(br)
	if err != nil {
		return err
	}
	req.Procedure = proc

	args, err := readBytes(br)
	if err != nil {
		return err
	}
	req.Args = args
	return nil
}

// fields: id, result (nullable), err (nullable)
func (resp *Response) marshal(w io.Writer) error {
	if err := writeArrayHeader(w, 3); err != nil {
		return err
	}
	if err := writeBytes(w, resp.ID[:]); err != nil {
		return err
	}
	if resp.Result == nil {
		if err := writeNil(w); err != nil {
			return err
		}
	} else {
		if err := writeBytes(w, resp.Result); err != nil {
			return err
		}
	}
	return encodeError(w, resp.Err)
}

func (resp *Response) unmarshal(br *bufio.Reader) error {
	if err := readArrayHeader(br, 3); err != nil {
		return err
	}
	idb, err := readBytes(br)
	if err != nil {
		return err
	}
	id, err := uuid.FromBytes(idb)
	if err != nil {
		return err
	}
	resp.ID = id

	nilResult, err := isNil(br)
	if err != nil {
		return err
	}
	if nilResult {
		resp.Result = nil
	} else {
		res, err := readBytes(br)
		if err != nil {
			return err
		}
		resp.Result = res
	}

	wireErr, err := decodeError(br)
	if err != nil {
		return err
	}
	resp.Err = wireErr
	return nil
}

// Catalogue is the array-of-names payload exchanged once per direction
// right after the handshake (§4.10, §6.3).
type Catalogue struct {
	Services []string
}

func (c *Catalogue) MarshalCBOR(w io.Writer) error {
	if err := writeArrayHeader(w, len(c.Services)); err != nil {
		return err
	}
	for _, s := range c.Services {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalogue) UnmarshalCBOR(r io.Reader) error {
	br := bufio.NewReader(r)
	major, n, err := readHeader(br)
	if err != nil {
		return err
	}
	if major != majorArray {
		return ErrMalformedCBOR
	}
	names := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		s, err := readString(br)
		if err != nil {
			return err
		}
		names = append(names, s)
	}
	c.Services = names
	return nil
}
