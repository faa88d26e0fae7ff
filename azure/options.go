package azurekit

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	keykit "github.com/PaulFidika/azidkit/keys"
	verifykit "github.com/PaulFidika/azidkit/verify"
)

// Option configures a Validator at construction time.
type Option func(*Validator)

// WithHTTPClient sets the client used for discovery and key-set fetches.
// Timeouts and transport policy belong to this client, not the validator.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Validator) {
		if c != nil {
			v.httpClient = c
		}
	}
}

// WithDiscoveryURL overrides the discovery document URL, e.g. to pin a
// specific tenant instead of the common endpoint.
func WithDiscoveryURL(u string) Option {
	return func(v *Validator) {
		if u != "" {
			v.discoveryURL = u
		}
	}
}

// WithKeysEndpoint sets the key-set endpoint directly, skipping discovery
// entirely. Construction then performs no network request.
func WithKeysEndpoint(u string) Option {
	return func(v *Validator) {
		v.keysEndpoint = u
	}
}

// WithVerifier swaps the verification capability. The default is
// verifykit.CertVerifier; verifykit.JWXVerifier is the jwx-backed
// alternative, and tests inject fakes.
func WithVerifier(vf verifykit.Verifier) Option {
	return func(v *Validator) {
		if vf != nil {
			v.verifier = vf
		}
	}
}

// WithClock injects the clock used for freshness and claim windows.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithRetryBudget replaces the in-process once-per-hour retry budget, e.g.
// with the Redis-backed one so replicas share a single allowance.
func WithRetryBudget(b keykit.RetryBudget) Option {
	return func(v *Validator) {
		if b != nil {
			v.budget = b
		}
	}
}

// WithLogger enables event logging (refresh outcomes, failure kinds). The
// validator never logs tokens or key material.
func WithLogger(l logrus.FieldLogger) Option {
	return func(v *Validator) {
		v.log = l
	}
}

// WithLeeway overrides the 60s tolerance applied to time-based claims.
// Negative means no tolerance.
func WithLeeway(d time.Duration) Option {
	return func(v *Validator) {
		if d != 0 {
			v.leeway = d
		}
	}
}
