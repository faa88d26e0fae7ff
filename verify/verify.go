// Package verifykit is the cryptographic verification capability the
// orchestrator delegates to. It checks the signature against a matched key
// record and validates the standard time and audience claims atomically with
// it. Algorithm pinning and key matching happen before this package is ever
// invoked; the verifier only receives the algorithm the policy pinned.
package verifykit

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	keykit "github.com/PaulFidika/azidkit/keys"
)

// DefaultLeeway absorbs clock skew between the issuer and this process.
const DefaultLeeway = 60 * time.Second

// Verification failure classes. Callers distinguish a bad signature from
// bad claims with errors.Is; both are terminal for the call.
var (
	// ErrSignature means the token is not authentic: its signature does
	// not verify against the matched key.
	ErrSignature = errors.New("verify: signature did not verify")
	// ErrClaims means the signature may be fine but a claim check failed
	// (expired, not yet valid, issued in the future, wrong audience).
	ErrClaims = errors.New("verify: claims rejected")
	// ErrMalformed means the token could not be parsed at all.
	ErrMalformed = errors.New("verify: malformed token")
)

// Policy is the claims-validation policy applied alongside the signature
// check. A zero Leeway means DefaultLeeway and a negative Leeway means no
// tolerance at all; a nil Clock means time.Now. An empty Audience disables
// the audience check (custom policies that validate audience themselves).
type Policy struct {
	Audience string
	Leeway   time.Duration
	Clock    func() time.Time
}

func (p Policy) leeway() time.Duration {
	switch {
	case p.Leeway > 0:
		return p.Leeway
	case p.Leeway < 0:
		return 0
	default:
		return DefaultLeeway
	}
}

// Verifier checks a token's signature against a key record and validates
// claims into dest. dest follows the golang-jwt convention: a pointer to a
// struct embedding jwt.RegisteredClaims (or any jwt.Claims implementation).
type Verifier interface {
	Verify(ctx context.Context, token string, key keykit.KeyRecord, alg string, policy Policy, dest jwt.Claims) error
}

// CertVerifier verifies against the RSA public key carried in the record's
// leaf certificate using golang-jwt. It is the default verifier.
type CertVerifier struct{}

func (CertVerifier) Verify(_ context.Context, token string, key keykit.KeyRecord, alg string, policy Policy, dest jwt.Claims) error {
	pub, err := key.RSAPublicKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithLeeway(policy.leeway()),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if policy.Audience != "" {
		opts = append(opts, jwt.WithAudience(policy.Audience))
	}
	if policy.Clock != nil {
		opts = append(opts, jwt.WithTimeFunc(policy.Clock))
	}

	_, err = jwt.ParseWithClaims(token, dest, func(*jwt.Token) (any, error) {
		return pub, nil
	}, opts...)
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify maps golang-jwt's error taxonomy onto the two failure classes the
// orchestrator reports.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return fmt.Errorf("%w: %v", ErrClaims, err)
	default:
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
}
