package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultKeyBits is the RSA modulus size the configuration surface
// generates when no key pair exists on disk yet (§6.6).
const DefaultKeyBits = 8192

// LoadOrGenerateKeyPair reads a PKCS#8 private key from path, generating
// and persisting a fresh DefaultKeyBits RSA key pair if the file is
// absent, matching the "generated to disk if absent" behavior of §6.6.
func LoadOrGenerateKeyPair(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return decodePrivateKey(raw)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("security: read key file: %w", err)
	}

	priv, err := rsa.GenerateKey(rand.Reader, DefaultKeyBits)
	if err != nil {
		return nil, fmt.Errorf("security: generate key pair: %w", err)
	}
	if err := persistPrivateKey(path, priv); err != nil {
		return nil, err
	}
	return priv, nil
}

func decodePrivateKey(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("security: no PEM block in key file")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("security: parse PKCS#8 key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("security: key file does not hold an RSA key")
	}
	return rsaKey, nil
}

func persistPrivateKey(path string, priv *rsa.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("security: marshal PKCS#8 key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("security: create key directory: %w", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("security: create key file: %w", err)
	}
	defer f.Close()
	return pem.Encode(f, block)
}
