package azurekit

import (
	"errors"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of an Azure AD v2.0 token. The registered claims
// (aud, iss, iat, nbf, exp, sub) are embedded; the rest are the
// provider-specific fields Azure emits. Claims are a per-call result value,
// never shared state.
type Claims struct {
	jwt.RegisteredClaims

	// Oid is the immutable object id of the account across applications.
	Oid string `json:"oid,omitempty"`
	// Tid is the tenant the account was authenticated in.
	Tid string `json:"tid,omitempty"`

	// Azp is the application id of the client presenting the token.
	Azp string `json:"azp,omitempty"`
	// Azpacr reports how that client authenticated (public, secret, cert).
	Azpacr string `json:"azpacr,omitempty"`
	// Idp names the identity provider when it differs from the issuer
	// (guest accounts).
	Idp string `json:"idp,omitempty"`

	PreferredUsername string   `json:"preferred_username,omitempty"`
	Name              string   `json:"name,omitempty"`
	UniqueName        string   `json:"unique_name,omitempty"`
	Nonce             string   `json:"nonce,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	Scp               string   `json:"scp,omitempty"`
	Ver               string   `json:"ver,omitempty"`

	// CHash and AtHash tie the token to the authorization code and access
	// token it was issued alongside.
	CHash  string `json:"c_hash,omitempty"`
	AtHash string `json:"at_hash,omitempty"`
}

// Validate enforces the claims the provider always emits. golang-jwt calls
// it during parsing, after the registered time checks; exp presence and
// audience equality are handled by parser options.
func (c *Claims) Validate() error {
	if c.Issuer == "" {
		return errors.New("missing iss claim")
	}
	if c.IssuedAt == nil {
		return errors.New("missing iat claim")
	}
	if c.NotBefore == nil {
		return errors.New("missing nbf claim")
	}
	return nil
}
