// Package security implements peer identity: the RSA handshake that
// establishes a shared seed between two mesh peers, and the trusted key
// store that maps friendly names to public keys.
package security

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"sync"
)

// PublicKey is a PKCS#1-encoded RSA public key, the wire representation
// used throughout the handshake and the trusted key store (§3).
type PublicKey []byte

// ErrAmbiguousPeer is returned when a public key is registered under more
// than one friendly name; the trusted key store treats this as a fault.
var ErrAmbiguousPeer = fmt.Errorf("security: public key registered more than once")

// KeyStore is the process-wide trusted key store: friendly name → public
// key, global to a Runtime (one instance per Runtime, per the Design Notes
// recommendation against process-singleton globals).
type KeyStore struct {
	mu   sync.RWMutex
	byName map[string]PublicKey
}

// NewKeyStore returns an empty trusted key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{byName: make(map[string]PublicKey)}
}

// Add registers a public key under a friendly name. It fails with
// ErrAmbiguousPeer if the same key bytes are already registered under a
// different name (§9 Open Question: key-identity check first).
func (ks *KeyStore) Add(name string, key PublicKey) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	for other, existing := range ks.byName {
		if other != name && bytes.Equal(existing, key) {
			return ErrAmbiguousPeer
		}
	}
	ks.byName[name] = key
	return nil
}

// Remove drops the trusted key entry for a friendly name (called on peer
// disconnect, §3 "Lifecycles").
func (ks *KeyStore) Remove(name string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.byName, name)
}

// Get returns the public key registered for a friendly name.
func (ks *KeyStore) Get(name string) (PublicKey, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	k, ok := ks.byName[name]
	return k, ok
}

// Lookup resolves a presented public key back to a friendly name. It
// succeeds only if the key is present exactly once; zero or more than one
// match is reported to the caller, which maps it to UntrustedPeer or
// AmbiguousPeer (§4.2).
func (ks *KeyStore) Lookup(key PublicKey) (name string, found bool, ambiguous bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	for n, k := range ks.byName {
		if bytes.Equal(k, key) {
			if found {
				return "", true, true
			}
			name, found = n, true
		}
	}
	return name, found, false
}

// Names returns a snapshot of every friendly name currently trusted.
func (ks *KeyStore) Names() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	names := make([]string, 0, len(ks.byName))
	for n := range ks.byName {
		names = append(names, n)
	}
	return names
}

// ParsePublicKey decodes a PKCS#1-encoded public key.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	return x509.ParsePKCS1PublicKey(der)
}

// EncodePublicKey encodes an RSA public key as PKCS#1.
func EncodePublicKey(pub *rsa.PublicKey) PublicKey {
	return x509.MarshalPKCS1PublicKey(pub)
}
