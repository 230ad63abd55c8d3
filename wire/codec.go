package wire

import (
	"bufio"
	"bytes"

	cborutil "github.com/filecoin-project/go-cbor-util"
)

// EncodeTransaction serializes a Transaction the same way
// exchange/replication.go's RequestStream.WriteRequest hands a message to
// cborutil.WriteCborRPC before it goes on the wire.
func EncodeTransaction(t *Transaction) ([]byte, error) {
	var buf bytes.Buffer
	if err := cborutil.WriteCborRPC(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTransaction parses a Transaction from a decrypted frame body,
// mirroring RequestStream.ReadRequest's direct call to UnmarshalCBOR on the
// buffered reader.
func DecodeTransaction(body []byte) (*Transaction, error) {
	t := &Transaction{}
	br := bufio.NewReader(bytes.NewReader(body))
	if err := t.UnmarshalCBOR(br); err != nil {
		return nil, err
	}
	return t, nil
}

// EncodeCatalogue serializes the one-shot post-handshake service list.
func EncodeCatalogue(c *Catalogue) ([]byte, error) {
	var buf bytes.Buffer
	if err := cborutil.WriteCborRPC(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCatalogue parses the peer's advertised service list.
func DecodeCatalogue(body []byte) (*Catalogue, error) {
	c := &Catalogue{}
	br := bufio.NewReader(bytes.NewReader(body))
	if err := c.UnmarshalCBOR(br); err != nil {
		return nil, err
	}
	return c, nil
}
