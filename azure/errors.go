package azurekit

import "errors"

// Every validation failure is terminal for that call and maps onto exactly
// one of these kinds, so callers can log or audit which check rejected the
// token without seeing key material. Match with errors.Is.
var (
	// ErrDiscoveryFetchFailed: the provider's discovery document could not
	// be fetched or parsed. Fatal to validator construction.
	ErrDiscoveryFetchFailed = errors.New("azure: discovery document fetch failed")

	// ErrKeySetFetchFailed: a key-set refresh failed; the previously cached
	// keys, if any, are untouched.
	ErrKeySetFetchFailed = errors.New("azure: key set fetch failed")

	// ErrMalformedToken: the token could not be parsed as a three-segment
	// JWT with an alg and kid header.
	ErrMalformedToken = errors.New("azure: malformed token")

	// ErrAlgorithmMismatch: the header declares an algorithm other than the
	// pinned one. Rejected before any key lookup.
	ErrAlgorithmMismatch = errors.New("azure: token algorithm does not match pinned algorithm")

	// ErrKeyNotFound: no cached key matches the token's kid, including
	// after the one refresh the retry budget allows.
	ErrKeyNotFound = errors.New("azure: no signing key matches token kid")

	// ErrAuthenticityFailed: the signature did not verify against the
	// matched key.
	ErrAuthenticityFailed = errors.New("azure: token authenticity check failed")

	// ErrClaimsInvalid: expired, not yet valid, issued in the future, or
	// wrong audience.
	ErrClaimsInvalid = errors.New("azure: token claims invalid")

	// ErrInternalInvariant: a state the cache policy should make
	// unreachable, e.g. a fresh cache holding no keys. Surfaced rather
	// than silently defaulting.
	ErrInternalInvariant = errors.New("azure: internal invariant violated")
)

// FailureKind returns a short stable label for the error kind, for logging
// and audit trails. Unknown errors report "error".
func FailureKind(err error) string {
	switch {
	case errors.Is(err, ErrDiscoveryFetchFailed):
		return "discovery_fetch_failed"
	case errors.Is(err, ErrKeySetFetchFailed):
		return "key_set_fetch_failed"
	case errors.Is(err, ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, ErrAlgorithmMismatch):
		return "algorithm_mismatch"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrAuthenticityFailed):
		return "authenticity_failed"
	case errors.Is(err, ErrClaimsInvalid):
		return "claims_invalid"
	case errors.Is(err, ErrInternalInvariant):
		return "internal_invariant"
	default:
		return "error"
	}
}
