package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/myelnet/meshrpc/wire"
)

// SeedSize is the minimum shared-seed length required by §4.2.
const SeedSize = 32

// Outcome carries what a successful handshake establishes: the shared seed
// that seeds the Channel's key-rolling generator (§4.3) and, on the
// acceptor side, the friendly name resolved from the trusted key store.
type Outcome struct {
	Seed     []byte
	PeerName string
}

var (
	// ErrUntrustedPeer: the presented public key is not in the trusted key
	// store (§4.2, §7).
	ErrUntrustedPeer = errors.New("security: untrusted peer")
	// ErrAmbiguousHandshakePeer: the presented public key matches more
	// than one trusted name.
	ErrAmbiguousHandshakePeer = errors.New("security: ambiguous peer")
	// ErrBadHandshake: decryption or signature verification failed.
	ErrBadHandshake = errors.New("security: bad handshake")
)

// token is the plaintext content of the initiator's handshake message
// (§6.2). It is JSON-encoded and then hybrid-encrypted to the responder's
// public key — the handshake body is defined in §6.2 by its concrete
// fields, not by the §6.3/6.4 compact wire format used for RPC payloads.
type token struct {
	Seed      []byte    `json:"seed"`
	PublicKey PublicKey `json:"public_key"`
	Signature []byte    `json:"signature"`
}

// Handshaker performs the RSA-based mutual key exchange (§4.2) for one
// Runtime: it holds the local key pair and the trusted key store used to
// resolve an incoming public key to a friendly name.
type Handshaker struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  PublicKey
	Keys       *KeyStore
}

// NewHandshaker builds a Handshaker from a generated or loaded key pair.
func NewHandshaker(priv *rsa.PrivateKey, keys *KeyStore) *Handshaker {
	return &Handshaker{
		PrivateKey: priv,
		PublicKey:  EncodePublicKey(&priv.PublicKey),
		Keys:       keys,
	}
}

// Initiate runs the connecting side of the handshake (§4.2, §4.10 "Connect
// path"): generate a seed, prove our identity to the acceptor, and wait for
// its acknowledgement.
func (h *Handshaker) Initiate(rw io.ReadWriter, acceptorKey PublicKey) (*Outcome, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("security: generate seed: %w", err)
	}

	sig, err := signSeed(h.PrivateKey, seed)
	if err != nil {
		return nil, fmt.Errorf("security: sign seed: %w", err)
	}

	tok := token{Seed: seed, PublicKey: h.PublicKey, Signature: sig}
	plain, err := json.Marshal(tok)
	if err != nil {
		return nil, err
	}

	acceptorPub, err := ParsePublicKey(acceptorKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	envelope, err := hybridEncrypt(plain, acceptorPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	if err := wire.WriteFrame(rw, envelope); err != nil {
		return nil, err
	}

	ackEnvelope, err := wire.ReadFrame(rw)
	if err != nil {
		return nil, err
	}
	ack, err := hybridDecrypt(ackEnvelope, h.PrivateKey)
	if err != nil || string(ack) != ackOK {
		return nil, ErrBadHandshake
	}

	return &Outcome{Seed: seed}, nil
}

// Accept runs the accepting side (§4.2, §4.10 "Accept path"): decrypt the
// initiator's token, verify the signature, and resolve the presented key
// to exactly one trusted friendly name.
func (h *Handshaker) Accept(rw io.ReadWriter) (*Outcome, error) {
	envelope, err := wire.ReadFrame(rw)
	if err != nil {
		return nil, err
	}
	plain, err := hybridDecrypt(envelope, h.PrivateKey)
	if err != nil {
		return nil, ErrBadHandshake
	}

	var tok token
	if err := json.Unmarshal(plain, &tok); err != nil {
		return nil, ErrBadHandshake
	}
	if len(tok.Seed) < SeedSize {
		return nil, ErrBadHandshake
	}

	peerPub, err := ParsePublicKey(tok.PublicKey)
	if err != nil {
		return nil, ErrBadHandshake
	}
	if !verifySeed(peerPub, tok.Seed, tok.Signature) {
		return nil, ErrBadHandshake
	}

	name, found, ambiguous := h.Keys.Lookup(tok.PublicKey)
	if ambiguous {
		return nil, ErrAmbiguousHandshakePeer
	}
	if !found {
		return nil, ErrUntrustedPeer
	}

	ackEnvelope, err := hybridEncrypt([]byte(ackOK), peerPub)
	if err != nil {
		return nil, err
	}
	if err := wire.WriteFrame(rw, ackEnvelope); err != nil {
		return nil, err
	}

	return &Outcome{Seed: tok.Seed, PeerName: name}, nil
}

const ackOK = "OK"

func signSeed(priv *rsa.PrivateKey, seed []byte) ([]byte, error) {
	h := sha256.Sum256(seed)
	return rsa.SignPKCS1v15(rand.Reader, priv, 0, h[:])
}

func verifySeed(pub *rsa.PublicKey, seed, sig []byte) bool {
	h := sha256.Sum256(seed)
	return rsa.VerifyPKCS1v15(pub, 0, h[:], sig) == nil
}

// hybridEncrypt wraps plaintext too large for a single RSA-OAEP operation
// (8192-bit keys carrying a token that embeds a full PKCS#1 public key and
// signature) the conventional way: an ephemeral AEAD key encrypts the
// payload, and only that 32-byte key is sealed with RSA-OAEP(SHA-256) to
// the recipient's public key. The AEAD cipher is chacha20poly1305, the
// same primitive the Channel uses for frame encryption (§4.3), so the
// handshake and the steady-state transport share one cipher dependency.
func hybridEncrypt(plain []byte, pub *rsa.PublicKey) ([]byte, error) {
	ephemeral := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(ephemeral); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(ephemeral)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, ephemeral, nil)
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plain, nil)

	out := make([]byte, 0, 2+len(sealedKey)+len(nonce)+len(ciphertext))
	out = appendUint16(out, uint16(len(sealedKey)))
	out = append(out, sealedKey...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func hybridDecrypt(envelope []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if len(envelope) < 2 {
		return nil, ErrBadHandshake
	}
	keyLen := int(envelope[0])<<8 | int(envelope[1])
	envelope = envelope[2:]
	if len(envelope) < keyLen {
		return nil, ErrBadHandshake
	}
	sealedKey := envelope[:keyLen]
	rest := envelope[keyLen:]

	ephemeral, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, sealedKey, nil)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(ephemeral)
	if err != nil {
		return nil, err
	}
	if len(rest) < aead.NonceSize() {
		return nil, ErrBadHandshake
	}
	nonce := rest[:aead.NonceSize()]
	ciphertext := rest[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}
