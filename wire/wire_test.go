package wire

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	body, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), body)
}

func TestReadFrameZeroLengthIsPeerClosed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))
	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, ErrPeerClosed)
}

func TestIsRoleReversal(t *testing.T) {
	require.True(t, IsRoleReversal(RoleReversalSignal))
	require.False(t, IsRoleReversal([]byte{0x01}))
	require.False(t, IsRoleReversal([]byte{0x00, 0x00}))
}

func TestTransactionRequestRoundTrip(t *testing.T) {
	scope := uuid.New()
	tx := &Transaction{Request: &Request{
		ID:        uuid.New(),
		ScopeID:   &scope,
		Procedure: "Greeter.Greet",
		Args:      []byte(`["alice"]`),
	}}
	body, err := EncodeTransaction(tx)
	require.NoError(t, err)

	decoded, err := DecodeTransaction(body)
	require.NoError(t, err)
	require.NotNil(t, decoded.Request)
	require.Nil(t, decoded.Response)
	require.Equal(t, tx.Request.ID, decoded.Request.ID)
	require.Equal(t, *tx.Request.ScopeID, *decoded.Request.ScopeID)
	require.Equal(t, tx.Request.Procedure, decoded.Request.Procedure)
	require.Equal(t, tx.Request.Args, decoded.Request.Args)
}

func TestTransactionRequestWithoutScopeRoundTrip(t *testing.T) {
	tx := &Transaction{Request: &Request{
		ID:        uuid.New(),
		Procedure: "Greeter.Greet",
		Args:      []byte(`["bob"]`),
	}}
	body, err := EncodeTransaction(tx)
	require.NoError(t, err)

	decoded, err := DecodeTransaction(body)
	require.NoError(t, err)
	require.Nil(t, decoded.Request.ScopeID)
}

func TestTransactionResponseWithResultRoundTrip(t *testing.T) {
	tx := &Transaction{Response: &Response{
		ID:     uuid.New(),
		Result: []byte(`"hello bob"`),
	}}
	body, err := EncodeTransaction(tx)
	require.NoError(t, err)

	decoded, err := DecodeTransaction(body)
	require.NoError(t, err)
	require.NotNil(t, decoded.Response)
	require.Equal(t, tx.Response.Result, decoded.Response.Result)
	require.Nil(t, decoded.Response.Err)
}

func TestTransactionResponseWithErrorRoundTrip(t *testing.T) {
	tx := &Transaction{Response: &Response{
		ID:  uuid.New(),
		Err: NewError(KindNoRoute, "no peer hosts %q", "Greeter"),
	}}
	body, err := EncodeTransaction(tx)
	require.NoError(t, err)

	decoded, err := DecodeTransaction(body)
	require.NoError(t, err)
	require.Nil(t, decoded.Response.Result)
	require.Equal(t, KindNoRoute, decoded.Response.Err.Kind)
	require.Equal(t, `no peer hosts "Greeter"`, decoded.Response.Err.Message)
}

func TestCatalogueRoundTrip(t *testing.T) {
	cat := &Catalogue{Services: []string{"Greeter", "Adder"}}
	body, err := EncodeCatalogue(cat)
	require.NoError(t, err)

	decoded, err := DecodeCatalogue(body)
	require.NoError(t, err)
	require.Equal(t, cat.Services, decoded.Services)
}

func TestCatalogueEmptyRoundTrip(t *testing.T) {
	cat := &Catalogue{}
	body, err := EncodeCatalogue(cat)
	require.NoError(t, err)

	decoded, err := DecodeCatalogue(body)
	require.NoError(t, err)
	require.Empty(t, decoded.Services)
}

func TestErrorError(t *testing.T) {
	e := NewError(KindTimeout, "waited %dms", 500)
	require.Equal(t, "Timeout: waited 500ms", e.Error())
}
