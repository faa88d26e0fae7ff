// Package keykit holds the public signing keys published by the identity
// provider and the policy for keeping them current: freshness based on a
// configurable expiration window, wholesale replacement on refresh, and a
// bounded retry when a token references a key we do not hold.
package keykit

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// KeyRecord is a single public signing key as published on the provider's
// key-set endpoint. Thumbprint is the x5t value tokens reference through
// their kid header; CertChain holds base64 DER certificates with the leaf
// first.
type KeyRecord struct {
	Thumbprint string   `json:"x5t"`
	CertChain  []string `json:"x5c"`
}

// Certificate parses the leaf certificate of the chain.
func (k KeyRecord) Certificate() (*x509.Certificate, error) {
	if len(k.CertChain) == 0 {
		return nil, fmt.Errorf("keys: record %q has empty x5c chain", k.Thumbprint)
	}
	der, err := base64.StdEncoding.DecodeString(k.CertChain[0])
	if err != nil {
		return nil, fmt.Errorf("keys: record %q x5c is not base64 DER: %w", k.Thumbprint, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("keys: record %q certificate parse failed: %w", k.Thumbprint, err)
	}
	return cert, nil
}

// RSAPublicKey extracts the RSA public key from the leaf certificate.
func (k KeyRecord) RSAPublicKey() (*rsa.PublicKey, error) {
	cert, err := k.Certificate()
	if err != nil {
		return nil, err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keys: record %q certificate does not carry an RSA key", k.Thumbprint)
	}
	return pub, nil
}

// KeySet is an immutable snapshot of the provider's published keys. The
// cache replaces snapshots wholesale; records are never mutated in place.
type KeySet struct {
	Records   []KeyRecord
	FetchedAt time.Time
}

// NewKeySet builds a snapshot stamped with fetchedAt. Thumbprints must be
// pairwise distinct; the provider never publishes duplicates, so a duplicate
// means a broken or hostile document.
func NewKeySet(records []KeyRecord, fetchedAt time.Time) (*KeySet, error) {
	if len(records) == 0 {
		return nil, errors.New("keys: key set document contains no keys")
	}
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.Thumbprint == "" {
			return nil, errors.New("keys: key record missing x5t thumbprint")
		}
		if _, dup := seen[r.Thumbprint]; dup {
			return nil, fmt.Errorf("keys: duplicate thumbprint %q in key set", r.Thumbprint)
		}
		seen[r.Thumbprint] = struct{}{}
	}
	out := make([]KeyRecord, len(records))
	copy(out, records)
	return &KeySet{Records: out, FetchedAt: fetchedAt}, nil
}

// Find returns the record whose thumbprint equals kid.
func (s *KeySet) Find(kid string) (*KeyRecord, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Records {
		if s.Records[i].Thumbprint == kid {
			return &s.Records[i], true
		}
	}
	return nil, false
}

// KeysDocument is the wire shape of the provider's key-set endpoint.
type KeysDocument struct {
	Keys []KeyRecord `json:"keys"`
}
