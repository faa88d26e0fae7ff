package verifykit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"

	keykit "github.com/PaulFidika/azidkit/keys"
	tokenkit "github.com/PaulFidika/azidkit/token"
)

// JWXVerifier is an alternate Verifier built on lestrrat-go/jwx. Useful when
// the surrounding application already standardizes on jwx for its JOSE
// handling.
//
// jwx validates exp and nbf (with the policy leeway) and the audience; the
// issued-at future check and the golang-jwt custom-validation hook are
// applied here after parsing so both verifiers enforce the same policy.
type JWXVerifier struct{}

func (JWXVerifier) Verify(ctx context.Context, token string, key keykit.KeyRecord, alg string, policy Policy, dest gojwt.Claims) error {
	pub, err := key.RSAPublicKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	jwxKey, err := jwk.FromRaw(pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}

	opts := []jwxjwt.ParseOption{
		jwxjwt.WithContext(ctx),
		jwxjwt.WithKey(jwa.SignatureAlgorithm(alg), jwxKey),
		jwxjwt.WithValidate(true),
		jwxjwt.WithAcceptableSkew(policy.leeway()),
		jwxjwt.WithRequiredClaim("exp"),
	}
	if policy.Audience != "" {
		opts = append(opts, jwxjwt.WithAudience(policy.Audience))
	}
	if policy.Clock != nil {
		opts = append(opts, jwxjwt.WithClock(jwxjwt.ClockFunc(policy.Clock)))
	}

	parsed, err := jwxjwt.ParseString(token, opts...)
	if err != nil {
		if jwxjwt.IsValidationError(err) {
			return fmt.Errorf("%w: %v", ErrClaims, err)
		}
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}

	now := time.Now
	if policy.Clock != nil {
		now = policy.Clock
	}
	if !parsed.IssuedAt().IsZero() && parsed.IssuedAt().After(now().Add(policy.leeway())) {
		return fmt.Errorf("%w: token issued in the future", ErrClaims)
	}

	if dest != nil {
		if err := decodePayload(token, dest); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		// Claim types with a Validate hook (golang-jwt's ClaimsValidator)
		// get it from ParseWithClaims on the cert path; run it here too.
		if cv, ok := dest.(gojwt.ClaimsValidator); ok {
			if err := cv.Validate(); err != nil {
				return fmt.Errorf("%w: %v", ErrClaims, err)
			}
		}
	}
	return nil
}

// decodePayload fills the caller's claims struct from the (now verified)
// payload segment.
func decodePayload(token string, dest gojwt.Claims) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("expected 3 segments, got %d", len(parts))
	}
	raw, err := tokenkit.DecodeSegment(parts[1])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
