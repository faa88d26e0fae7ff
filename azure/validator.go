// Package azurekit validates Azure AD identity tokens against a cached set
// of the provider's public signing keys. The validator decides when cached
// keys are trustworthy, how to recover from a key-lookup miss, and in what
// order the authenticity, algorithm and claims checks run so that a forged
// or stale token is never accepted.
package azurekit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	keykit "github.com/PaulFidika/azidkit/keys"
	memorylimiter "github.com/PaulFidika/azidkit/ratelimit/memory"
	tokenkit "github.com/PaulFidika/azidkit/token"
	verifykit "github.com/PaulFidika/azidkit/verify"
)

// PinnedAlgorithm is the only signing algorithm accepted. The token header's
// declared algorithm is compared against it and never used to select the
// verification algorithm, which defeats algorithm-confusion downgrades.
const PinnedAlgorithm = "RS256"

// retryWindow bounds automatic refresh-and-retry on a key-lookup miss to
// once per rolling window. A miss usually means either genuine key rotation
// (worth one refresh) or a fabricated kid (must not loop).
const retryWindow = time.Hour

// Validator validates tokens for one audience. Construction is expensive
// (it resolves the key-set endpoint, and the first validation fetches keys);
// keep the instance alive rather than building one per request. All methods
// are safe for concurrent use; refreshes are serialized internally.
type Validator struct {
	audience     string
	verifier     verifykit.Verifier
	cache        *keykit.Cache
	leeway       time.Duration
	now          func() time.Time
	log          logrus.FieldLogger
	httpClient   *http.Client
	discoveryURL string
	keysEndpoint string
	budget       keykit.RetryBudget
}

// New builds a validator for the given audience (the application/client id
// tokens must be issued to). Unless WithKeysEndpoint is given, it fetches
// the discovery document once to resolve the key-set endpoint; that fetch
// failing is fatal and reported as ErrDiscoveryFetchFailed.
func New(ctx context.Context, audience string, opts ...Option) (*Validator, error) {
	v := newValidator(audience, opts)
	if v.keysEndpoint == "" {
		endpoint, err := keykit.ResolveKeysEndpoint(ctx, v.httpClient, v.discoveryURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDiscoveryFetchFailed, err)
		}
		v.keysEndpoint = endpoint
	}
	v.cache = v.newCache(false)
	return v, nil
}

// NewOffline builds a validator that never initiates a network refresh: the
// caller owns the key lifecycle through SetKeys. Discovery is skipped, since
// an endpoint would never be fetched.
func NewOffline(audience string, set *keykit.KeySet, opts ...Option) *Validator {
	v := newValidator(audience, opts)
	v.cache = v.newCache(true)
	if set != nil {
		v.cache.SetKeys(set)
	}
	return v
}

func newValidator(audience string, opts []Option) *Validator {
	v := &Validator{
		audience:     audience,
		verifier:     verifykit.CertVerifier{},
		leeway:       verifykit.DefaultLeeway,
		now:          time.Now,
		discoveryURL: keykit.AzureDiscoveryURL,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.budget == nil {
		v.budget = memorylimiter.NewWithClock(1, retryWindow, v.now)
	}
	return v
}

func (v *Validator) newCache(offline bool) *keykit.Cache {
	return keykit.NewCache(keykit.CacheConfig{
		Client:       v.httpClient,
		KeysEndpoint: v.keysEndpoint,
		Offline:      offline,
		Budget:       v.budget,
		Clock:        v.now,
		Logger:       v.log,
	})
}

// SetExpiration changes how long fetched keys are considered fresh. The
// provider rotates on roughly a 24h schedule, which is the default.
func (v *Validator) SetExpiration(d time.Duration) { v.cache.SetWindow(d) }

// DisableRetry turns off the refresh-and-retry-once behavior on key-lookup
// misses.
func (v *Validator) DisableRetry() { v.cache.SetRetryEnabled(false) }

// SetKeys replaces the cached keys manually. In offline mode this is the
// only way keys ever change.
func (v *Validator) SetKeys(set *keykit.KeySet) { v.cache.SetKeys(set) }

// Keys returns the current key snapshot, nil before the first refresh.
func (v *Validator) Keys() *keykit.KeySet { return v.cache.Current() }

// Validate checks the token's authenticity and standard claims under the
// default policy: pinned RS256, configured audience, 60s leeway on exp, nbf
// and iat. On success it returns the decoded claims; on failure it returns
// one of the sentinel error kinds and no claims.
func (v *Validator) Validate(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	if err := v.validate(ctx, token, v.defaultPolicy(), claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateCustom validates into a caller-supplied claims shape under a
// caller-supplied policy. The key-cache, algorithm-pinning and key-matching
// steps are enforced unconditionally; the policy only governs the claim
// checks. dest follows the golang-jwt convention (a pointer to a struct
// embedding jwt.RegisteredClaims).
func (v *Validator) ValidateCustom(ctx context.Context, token string, policy verifykit.Policy, dest jwt.Claims) error {
	if policy.Clock == nil {
		policy.Clock = v.now
	}
	return v.validate(ctx, token, policy, dest)
}

func (v *Validator) defaultPolicy() verifykit.Policy {
	return verifykit.Policy{
		Audience: v.audience,
		Leeway:   v.leeway,
		Clock:    v.now,
	}
}

// validate runs the per-call sequence: ensure fresh keys, decode the
// unverified header, pin the algorithm, match the key (retrying once within
// budget on a miss), then delegate signature and claim verification.
func (v *Validator) validate(ctx context.Context, token string, policy verifykit.Policy, dest jwt.Claims) error {
	if err := v.cache.EnsureFresh(ctx); err != nil {
		return v.fail(fmt.Errorf("%w: %v", ErrKeySetFetchFailed, err))
	}

	hdr, err := tokenkit.DecodeHeader(token)
	if err != nil {
		return v.fail(fmt.Errorf("%w: %v", ErrMalformedToken, err))
	}

	if hdr.Alg != PinnedAlgorithm {
		return v.fail(fmt.Errorf("%w: header declares %q", ErrAlgorithmMismatch, hdr.Alg))
	}

	set := v.cache.Current()
	if set == nil {
		// EnsureFresh succeeded (or we are offline) yet there are no
		// keys; the cache policy should make this unreachable.
		return v.fail(fmt.Errorf("%w: no public keys available", ErrInternalInvariant))
	}

	key, ok := set.Find(hdr.Kid)
	if !ok {
		refreshed, retried, rerr := v.cache.RetryRefresh(ctx)
		if retried {
			if rerr != nil {
				return v.fail(fmt.Errorf("%w: %v", ErrKeySetFetchFailed, rerr))
			}
			key, ok = refreshed.Find(hdr.Kid)
		}
		if !ok {
			return v.fail(fmt.Errorf("%w: kid %q", ErrKeyNotFound, hdr.Kid))
		}
	}

	if err := v.verifier.Verify(ctx, token, *key, PinnedAlgorithm, policy, dest); err != nil {
		return v.fail(mapVerifyError(err))
	}
	return nil
}

func mapVerifyError(err error) error {
	switch {
	case errors.Is(err, verifykit.ErrMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, verifykit.ErrClaims):
		return fmt.Errorf("%w: %v", ErrClaimsInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrAuthenticityFailed, err)
	}
}

func (v *Validator) fail(err error) error {
	if v.log != nil {
		v.log.WithField("reason", FailureKind(err)).Debug("token rejected")
	}
	return err
}
