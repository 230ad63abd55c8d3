package cli

import (
	"encoding/pem"
	"fmt"
	"os"
)

// readDER loads a PKCS#1 RSA public key file, accepting either raw DER or
// PEM-wrapped DER (whichever a human operator is more likely to have
// sitting on disk).
func readDER(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if block, _ := pem.Decode(raw); block != nil {
		return block.Bytes, nil
	}
	return raw, nil
}
