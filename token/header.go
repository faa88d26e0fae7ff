// Package tokenkit reads the unverified parts of a compact JWT. Nothing in
// this package makes a trust decision: the header tells us which key and
// algorithm the token claims to use, and the orchestrator decides whether to
// believe it.
package tokenkit

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Header is the decoded, unverified JOSE header of a token.
type Header struct {
	Typ string `json:"typ"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// DecodeHeader splits the three-segment compact form and decodes the header
// segment. The signature is not checked here.
func DecodeHeader(token string) (Header, error) {
	var hdr Header
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return hdr, fmt.Errorf("token: expected 3 segments, got %d", len(parts))
	}
	raw, err := DecodeSegment(parts[0])
	if err != nil {
		return hdr, fmt.Errorf("token: header segment: %w", err)
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return hdr, fmt.Errorf("token: header json: %w", err)
	}
	if hdr.Alg == "" {
		return hdr, fmt.Errorf("token: header missing alg")
	}
	if hdr.Kid == "" {
		return hdr, fmt.Errorf("token: header missing kid")
	}
	return hdr, nil
}

// DecodeSegment decodes one base64url token segment, tolerating both padded
// and unpadded encodings.
func DecodeSegment(seg string) ([]byte, error) {
	if l := len(seg) % 4; l > 0 {
		seg += strings.Repeat("=", 4-l)
	}
	return base64.URLEncoding.DecodeString(seg)
}
