// Package testing provides a mock identity provider for testing
// applications that validate tokens with azidkit. It serves a discovery
// document and a key-set endpoint in the provider's x5t/x5c wire format,
// and mints tokens that validate against those keys — no real tenant
// required.
//
// Example usage:
//
//	provider := testing.NewTestProvider("my-client-id")
//	defer provider.Close()
//
//	v, _ := azurekit.New(ctx, provider.Audience(),
//		azurekit.WithDiscoveryURL(provider.DiscoveryURL()))
//	claims, err := v.Validate(ctx, provider.Token("user-1"))
package testing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	jwtkit "github.com/PaulFidika/azidkit/jwt"
	keykit "github.com/PaulFidika/azidkit/keys"
)

// TestProvider is an httptest-backed identity provider. It serves
// /.well-known/openid-configuration and /discovery/v2.0/keys, and signs
// tokens whose kid matches the published key record.
type TestProvider struct {
	server   *httptest.Server
	audience string
	tenant   string

	mu     sync.Mutex
	signer *jwtkit.RSASigner
	record keykit.KeyRecord

	keyFetches atomic.Int64
}

// NewTestProvider creates a provider minting tokens for the given audience.
// Call Close when done.
func NewTestProvider(audience string) *TestProvider {
	tp := &TestProvider{
		audience: audience,
		tenant:   uuid.NewString(),
	}
	tp.rotate()

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", tp.handleDiscovery)
	mux.HandleFunc("/discovery/v2.0/keys", tp.handleKeys)
	tp.server = httptest.NewServer(mux)
	return tp
}

// URL returns the provider's base URL.
func (tp *TestProvider) URL() string { return tp.server.URL }

// DiscoveryURL returns the discovery document URL to hand to the validator.
func (tp *TestProvider) DiscoveryURL() string {
	return tp.server.URL + "/.well-known/openid-configuration"
}

// KeysURL returns the key-set endpoint URL, for validators constructed with
// WithKeysEndpoint.
func (tp *TestProvider) KeysURL() string { return tp.server.URL + "/discovery/v2.0/keys" }

// Audience returns the audience tokens are minted for.
func (tp *TestProvider) Audience() string { return tp.audience }

// KeyFetches reports how many times the key-set endpoint has been hit.
// Useful for asserting the cache's refresh and retry bounds.
func (tp *TestProvider) KeyFetches() int64 { return tp.keyFetches.Load() }

// Record returns the currently published key record, for building offline
// key sets.
func (tp *TestProvider) Record() keykit.KeyRecord {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.record
}

// Rotate replaces the signing key, simulating provider key rotation: tokens
// minted afterwards reference a kid the validator has not cached yet.
func (tp *TestProvider) Rotate() {
	tp.rotate()
}

func (tp *TestProvider) rotate() {
	kid := uuid.NewString()
	signer, err := jwtkit.NewRSASigner(2048, kid)
	if err != nil {
		panic("testing: generate RSA signer: " + err.Error())
	}
	record, err := jwtkit.SelfSignedKeyRecord(signer)
	if err != nil {
		panic("testing: self-signed key record: " + err.Error())
	}
	tp.mu.Lock()
	tp.signer = signer
	tp.record = record
	tp.mu.Unlock()
}

// Close shuts down the test server.
func (tp *TestProvider) Close() {
	if tp.server != nil {
		tp.server.Close()
	}
}

func (tp *TestProvider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"issuer":   tp.issuer(),
		"jwks_uri": tp.KeysURL(),
	})
}

func (tp *TestProvider) handleKeys(w http.ResponseWriter, r *http.Request) {
	tp.keyFetches.Add(1)
	doc := keykit.KeysDocument{Keys: []keykit.KeyRecord{tp.Record()}}

	// Marshal first so we can serve a stable ETag like a real endpoint.
	b, _ := json.Marshal(doc)
	sum := sha256.Sum256(b)
	etag := "\"" + hex.EncodeToString(sum[:]) + "\""
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	_, _ = w.Write(b)
}

func (tp *TestProvider) issuer() string {
	return tp.server.URL + "/" + tp.tenant + "/v2.0"
}

// Token mints a currently valid token for the given subject with the
// provider's standard claim set.
func (tp *TestProvider) Token(sub string) string {
	return tp.TokenWithClaims(sub, nil)
}

// TokenWithClaims mints a token and merges extra claims over the defaults,
// so individual claims (aud, exp, …) can be overridden per test. A nil value
// removes the claim entirely.
func (tp *TestProvider) TokenWithClaims(sub string, extra jwt.MapClaims) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"aud":                tp.audience,
		"iss":                tp.issuer(),
		"iat":                now.Add(-time.Minute).Unix(),
		"nbf":                now.Add(-time.Minute).Unix(),
		"exp":                now.Add(time.Hour).Unix(),
		"sub":                sub,
		"oid":                uuid.NewString(),
		"tid":                tp.tenant,
		"uti":                uuid.NewString(),
		"preferred_username": sub + "@example.com",
		"ver":                "2.0",
	}
	for k, v := range extra {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}

	tp.mu.Lock()
	signer := tp.signer
	tp.mu.Unlock()
	token, err := signer.Sign(context.Background(), claims)
	if err != nil {
		panic("testing: sign token: " + err.Error())
	}
	return token
}

// ExpiredToken mints a token whose exp is well in the past.
func (tp *TestProvider) ExpiredToken(sub string) string {
	past := time.Now().Add(-2 * time.Hour)
	return tp.TokenWithClaims(sub, jwt.MapClaims{
		"iat": past.Unix(),
		"nbf": past.Unix(),
		"exp": past.Add(time.Minute).Unix(),
	})
}

// TokenForAudience mints an otherwise valid token issued to a different
// audience.
func (tp *TestProvider) TokenForAudience(sub, audience string) string {
	return tp.TokenWithClaims(sub, jwt.MapClaims{"aud": audience})
}

// HMACToken mints a token signed with HS256 but carrying the published kid,
// the classic algorithm-confusion shape a validator must reject before any
// key lookup.
func (tp *TestProvider) HMACToken(sub string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"aud": tp.audience,
		"iss": tp.issuer(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"sub": sub,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = tp.Record().Thumbprint
	signed, err := token.SignedString([]byte("not-a-real-secret"))
	if err != nil {
		panic("testing: sign hmac token: " + err.Error())
	}
	return signed
}

// TamperSignature flips one character of the signature segment, producing a
// token that parses but is no longer authentic.
func TamperSignature(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[2] == "" {
		return token
	}
	// Flip the first signature character: it always encodes six data bits,
	// whereas the final character's low bits are base64 padding that a
	// non-strict decoder ignores, which would leave the signature intact.
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	parts[2] = string(sig)
	return strings.Join(parts, ".")
}
