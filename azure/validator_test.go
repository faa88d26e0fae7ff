package azurekit_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	azurekit "github.com/PaulFidika/azidkit/azure"
	keykit "github.com/PaulFidika/azidkit/keys"
	azidtesting "github.com/PaulFidika/azidkit/testing"
	verifykit "github.com/PaulFidika/azidkit/verify"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestValidateViaDiscovery(t *testing.T) {
	provider := azidtesting.NewTestProvider("my-client-id")
	defer provider.Close()

	v, err := azurekit.New(context.Background(), provider.Audience(),
		azurekit.WithDiscoveryURL(provider.DiscoveryURL()))
	require.NoError(t, err)

	claims, err := v.Validate(context.Background(), provider.Token("user-1"))
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Contains(t, claims.Audience, "my-client-id")
	require.NotEmpty(t, claims.Oid)
	require.NotEmpty(t, claims.Tid)
	require.Equal(t, "2.0", claims.Ver)
	require.Equal(t, "user-1@example.com", claims.PreferredUsername)
}

func TestValidateRejections(t *testing.T) {
	provider := azidtesting.NewTestProvider("my-client-id")
	defer provider.Close()

	v, err := azurekit.New(context.Background(), provider.Audience(),
		azurekit.WithKeysEndpoint(provider.KeysURL()))
	require.NoError(t, err)

	cases := map[string]struct {
		token string
		kind  error
	}{
		"malformed":          {"not-a-token", azurekit.ErrMalformedToken},
		"two segments":       {"a.b", azurekit.ErrMalformedToken},
		"hmac downgrade":     {provider.HMACToken("user-1"), azurekit.ErrAlgorithmMismatch},
		"tampered signature": {azidtesting.TamperSignature(provider.Token("user-1")), azurekit.ErrAuthenticityFailed},
		"expired":            {provider.ExpiredToken("user-1"), azurekit.ErrClaimsInvalid},
		"wrong audience":     {provider.TokenForAudience("user-1", "someone-else"), azurekit.ErrClaimsInvalid},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tc.token)
			require.ErrorIs(t, err, tc.kind)
		})
	}
}

func TestAlgorithmCheckedBeforeKeyLookup(t *testing.T) {
	provider := azidtesting.NewTestProvider("my-client-id")
	defer provider.Close()

	v, err := azurekit.New(context.Background(), provider.Audience(),
		azurekit.WithKeysEndpoint(provider.KeysURL()))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), provider.Token("u"))
	require.NoError(t, err)
	fetchesBefore := provider.KeyFetches()

	// A downgraded token with an unknown kid must fail on the algorithm,
	// not trigger a retry refresh for its fabricated key id.
	provider.Rotate()
	_, err = v.Validate(context.Background(), provider.HMACToken("u"))
	require.ErrorIs(t, err, azurekit.ErrAlgorithmMismatch)
	require.Equal(t, fetchesBefore, provider.KeyFetches())
}

func TestRetryOnMissOncePerHour(t *testing.T) {
	provider := azidtesting.NewTestProvider("my-client-id")
	defer provider.Close()
	clock := newFakeClock()

	v, err := azurekit.New(context.Background(), provider.Audience(),
		azurekit.WithKeysEndpoint(provider.KeysURL()),
		azurekit.WithClock(clock.Now))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), provider.Token("u"))
	require.NoError(t, err)
	require.EqualValues(t, 1, provider.KeyFetches())

	// Rotation: the new token's kid misses the cache, one retry refresh
	// recovers it.
	provider.Rotate()
	_, err = v.Validate(context.Background(), provider.Token("u"))
	require.NoError(t, err)
	require.EqualValues(t, 2, provider.KeyFetches())

	// Second rotation inside the hour: the budget is spent, no refresh.
	provider.Rotate()
	missed := provider.Token("u")
	_, err = v.Validate(context.Background(), missed)
	require.ErrorIs(t, err, azurekit.ErrKeyNotFound)
	require.EqualValues(t, 2, provider.KeyFetches())

	// And it stays spent no matter how many misses arrive.
	_, err = v.Validate(context.Background(), missed)
	require.ErrorIs(t, err, azurekit.ErrKeyNotFound)
	require.EqualValues(t, 2, provider.KeyFetches())

	// Once the hour rolls over the single retry is available again. The
	// long-lived token keeps the claim checks clear of the moved clock.
	clock.Advance(61 * time.Minute)
	longLived := provider.TokenWithClaims("u", jwt.MapClaims{
		"exp": time.Now().Add(6 * time.Hour).Unix(),
	})
	_, err = v.Validate(context.Background(), longLived)
	require.NoError(t, err)
	require.EqualValues(t, 3, provider.KeyFetches())
}

func TestDisableRetry(t *testing.T) {
	provider := azidtesting.NewTestProvider("my-client-id")
	defer provider.Close()

	v, err := azurekit.New(context.Background(), provider.Audience(),
		azurekit.WithKeysEndpoint(provider.KeysURL()))
	require.NoError(t, err)
	v.DisableRetry()

	_, err = v.Validate(context.Background(), provider.Token("u"))
	require.NoError(t, err)

	provider.Rotate()
	_, err = v.Validate(context.Background(), provider.Token("u"))
	require.ErrorIs(t, err, azurekit.ErrKeyNotFound)
	require.EqualValues(t, 1, provider.KeyFetches())
}

func TestOfflineNeverRefreshes(t *testing.T) {
	provider := azidtesting.NewTestProvider("my-client-id")
	defer provider.Close()
	clock := newFakeClock()

	set, err := keykit.NewKeySet([]keykit.KeyRecord{provider.Record()}, clock.Now())
	require.NoError(t, err)

	v := azurekit.NewOffline(provider.Audience(), set, azurekit.WithClock(clock.Now))

	_, err = v.Validate(context.Background(), provider.Token("u"))
	require.NoError(t, err)

	// Way past the expiration window: still no automatic refresh.
	clock.Advance(48 * time.Hour)
	provider.Rotate()
	long := provider.TokenWithClaims("u", jwt.MapClaims{
		"exp": time.Now().Add(72 * time.Hour).Unix(),
	})
	_, err = v.Validate(context.Background(), long)
	require.ErrorIs(t, err, azurekit.ErrKeyNotFound)
	require.EqualValues(t, 0, provider.KeyFetches())

	// The caller owns the key lifecycle: SetKeys recovers.
	rotated, err := keykit.NewKeySet([]keykit.KeyRecord{provider.Record()}, clock.Now())
	require.NoError(t, err)
	v.SetKeys(rotated)
	_, err = v.Validate(context.Background(), long)
	require.NoError(t, err)
	require.EqualValues(t, 0, provider.KeyFetches())
}

func TestOfflineWithoutKeys(t *testing.T) {
	provider := azidtesting.NewTestProvider("my-client-id")
	defer provider.Close()

	// A well-formed RS256 token against an empty offline cache reaches the
	// key-matching step with nothing to match.
	v := azurekit.NewOffline(provider.Audience(), nil)
	_, err := v.Validate(context.Background(), provider.Token("u"))
	require.ErrorIs(t, err, azurekit.ErrInternalInvariant)
}

func TestDiscoveryFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := azurekit.New(context.Background(), "aud", azurekit.WithDiscoveryURL(srv.URL))
	require.ErrorIs(t, err, azurekit.ErrDiscoveryFetchFailed)
}

func TestKeySetFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	v, err := azurekit.New(context.Background(), "aud", azurekit.WithKeysEndpoint(srv.URL))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), "a.b.c")
	require.ErrorIs(t, err, azurekit.ErrKeySetFetchFailed)
}

type projectClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
	Scp   string   `json:"scp"`
}

func TestValidateCustom(t *testing.T) {
	provider := azidtesting.NewTestProvider("my-client-id")
	defer provider.Close()

	v, err := azurekit.New(context.Background(), provider.Audience(),
		azurekit.WithKeysEndpoint(provider.KeysURL()))
	require.NoError(t, err)

	token := provider.TokenWithClaims("user-1", jwt.MapClaims{
		"roles": []string{"admin", "reader"},
		"scp":   "access_as_user",
	})

	var claims projectClaims
	err = v.ValidateCustom(context.Background(), token, verifykit.Policy{
		Audience: provider.Audience(),
		Leeway:   2 * time.Minute,
	}, &claims)
	require.NoError(t, err)
	require.Equal(t, []string{"admin", "reader"}, claims.Roles)
	require.Equal(t, "access_as_user", claims.Scp)
}

func TestValidateCustomStillPinsAlgorithm(t *testing.T) {
	provider := azidtesting.NewTestProvider("my-client-id")
	defer provider.Close()

	v, err := azurekit.New(context.Background(), provider.Audience(),
		azurekit.WithKeysEndpoint(provider.KeysURL()))
	require.NoError(t, err)

	var claims projectClaims
	err = v.ValidateCustom(context.Background(), provider.HMACToken("u"),
		verifykit.Policy{}, &claims)
	require.ErrorIs(t, err, azurekit.ErrAlgorithmMismatch)
}

func TestValidateCustomRetriesOnMiss(t *testing.T) {
	provider := azidtesting.NewTestProvider("my-client-id")
	defer provider.Close()

	v, err := azurekit.New(context.Background(), provider.Audience(),
		azurekit.WithKeysEndpoint(provider.KeysURL()))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), provider.Token("u"))
	require.NoError(t, err)

	// The custom entry point shares the same bounded retry as Validate.
	provider.Rotate()
	var claims projectClaims
	err = v.ValidateCustom(context.Background(), provider.Token("u"),
		verifykit.Policy{Audience: provider.Audience()}, &claims)
	require.NoError(t, err)
	require.EqualValues(t, 2, provider.KeyFetches())
}

func TestValidateWithJWXVerifier(t *testing.T) {
	provider := azidtesting.NewTestProvider("my-client-id")
	defer provider.Close()

	v, err := azurekit.New(context.Background(), provider.Audience(),
		azurekit.WithKeysEndpoint(provider.KeysURL()),
		azurekit.WithVerifier(verifykit.JWXVerifier{}))
	require.NoError(t, err)

	claims, err := v.Validate(context.Background(), provider.Token("user-1"))
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)

	_, err = v.Validate(context.Background(), azidtesting.TamperSignature(provider.Token("user-1")))
	require.ErrorIs(t, err, azurekit.ErrAuthenticityFailed)
}

func TestJWXVerifierEnforcesRequiredClaims(t *testing.T) {
	provider := azidtesting.NewTestProvider("my-client-id")
	defer provider.Close()

	v, err := azurekit.New(context.Background(), provider.Audience(),
		azurekit.WithKeysEndpoint(provider.KeysURL()),
		azurekit.WithVerifier(verifykit.JWXVerifier{}))
	require.NoError(t, err)

	// Well signed and not expired, but stripped of the claims the provider
	// always emits. Both verifiers must reject it the same way.
	token := provider.TokenWithClaims("u", jwt.MapClaims{"iat": nil, "nbf": nil})
	_, err = v.Validate(context.Background(), token)
	require.ErrorIs(t, err, azurekit.ErrClaimsInvalid)

	token = provider.TokenWithClaims("u", jwt.MapClaims{"iss": nil})
	_, err = v.Validate(context.Background(), token)
	require.ErrorIs(t, err, azurekit.ErrClaimsInvalid)
}

func TestSetExpirationTriggersRefresh(t *testing.T) {
	provider := azidtesting.NewTestProvider("my-client-id")
	defer provider.Close()
	clock := newFakeClock()

	v, err := azurekit.New(context.Background(), provider.Audience(),
		azurekit.WithKeysEndpoint(provider.KeysURL()),
		azurekit.WithClock(clock.Now))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), provider.Token("u"))
	require.NoError(t, err)
	require.EqualValues(t, 1, provider.KeyFetches())

	// With a 30 minute window, a 40 minute old key set is stale and the
	// next validation refreshes before matching.
	v.SetExpiration(30 * time.Minute)
	clock.Advance(40 * time.Minute)
	_, err = v.Validate(context.Background(), provider.TokenWithClaims("u", jwt.MapClaims{
		"exp": time.Now().Add(6 * time.Hour).Unix(),
	}))
	require.NoError(t, err)
	require.EqualValues(t, 2, provider.KeyFetches())
}

func TestFailureKindLabels(t *testing.T) {
	cases := map[error]string{
		azurekit.ErrDiscoveryFetchFailed: "discovery_fetch_failed",
		azurekit.ErrKeySetFetchFailed:    "key_set_fetch_failed",
		azurekit.ErrMalformedToken:       "malformed_token",
		azurekit.ErrAlgorithmMismatch:    "algorithm_mismatch",
		azurekit.ErrKeyNotFound:          "key_not_found",
		azurekit.ErrAuthenticityFailed:   "authenticity_failed",
		azurekit.ErrClaimsInvalid:        "claims_invalid",
		azurekit.ErrInternalInvariant:    "internal_invariant",
		errors.New("something else"):     "error",
	}
	for err, want := range cases {
		require.Equal(t, want, azurekit.FailureKind(err))
	}
}
