package keykit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// AzureDiscoveryURL is the well-known OpenID configuration document for the
// Azure AD common tenant. Tenant-specific validators should override it.
const AzureDiscoveryURL = "https://login.microsoftonline.com/common/.well-known/openid-configuration"

type discoveryDoc struct {
	JWKSURI string `json:"jwks_uri"`
}

// ResolveKeysEndpoint fetches the discovery document once and returns the
// key-set endpoint it advertises. There is no caching and no retry; callers
// needing a fresh answer call it again.
func ResolveKeysEndpoint(ctx context.Context, client *http.Client, discoveryURL string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", fmt.Errorf("keys: discovery request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("keys: discovery fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("keys: discovery failed: %s", resp.Status)
	}
	var doc discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("keys: discovery document parse: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", errors.New("keys: discovery document missing jwks_uri")
	}
	return doc.JWKSURI, nil
}
