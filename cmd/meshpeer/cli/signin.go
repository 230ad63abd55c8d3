package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// signIn runs the caller side of the §6.5 sign-in HTTP exchange: a
// PATCH to url with the collaborator-defined headers and the caller's
// PKCS#1 public key as the body, returning the "host:port" pair to dial
// for the RPC backchannel. The core never implements the server side of
// this contract; meshpeer only consumes it, to spare operators from
// manually copying addresses around during "peers add".
func signIn(ctx context.Context, url, token, friendlyName string, routes, baseHost, baseScheme string, basePort int, publicKeyDER []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(publicKeyDER))
	if err != nil {
		return "", fmt.Errorf("cli: build sign-in request: %w", err)
	}
	req.Header.Set("Token", token)
	req.Header.Set("Friendly-Name", friendlyName)
	if routes != "" {
		req.Header.Set("Routes", routes)
	}
	if baseHost != "" {
		req.Header.Set("BaseHost", baseHost)
	}
	if basePort != 0 {
		req.Header.Set("BasePort", fmt.Sprintf("%d", basePort))
	}
	if baseScheme != "" {
		req.Header.Set("BaseScheme", baseScheme)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cli: sign-in request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("cli: read sign-in response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusAccepted, 208: // 208 = already connected
		return string(body), nil
	case http.StatusUnauthorized:
		return "", fmt.Errorf("cli: sign-in rejected: bad token")
	case http.StatusConflict:
		return "", fmt.Errorf("cli: sign-in rejected: key already trusted under another name")
	case http.StatusBadRequest:
		return "", fmt.Errorf("cli: sign-in rejected: malformed routes or base")
	default:
		return "", fmt.Errorf("cli: sign-in returned unexpected status %d", resp.StatusCode)
	}
}
