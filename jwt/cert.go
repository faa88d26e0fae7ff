package jwtkit

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	keykit "github.com/PaulFidika/azidkit/keys"
)

// SelfSignedKeyRecord wraps the signer's public key in a self-signed
// certificate and returns it in the provider's x5t/x5c wire shape, thumbprint
// set to the signer's kid. Tokens minted by the signer then match the record
// exactly the way provider-issued tokens match published keys.
func SelfSignedKeyRecord(s *RSASigner) (keykit.KeyRecord, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return keykit.KeyRecord{}, fmt.Errorf("jwtkit: serial: %w", err)
	}
	now := time.Now()
	tpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: s.KID()},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour * 365),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, s.PublicKey(), s.PrivateKey())
	if err != nil {
		return keykit.KeyRecord{}, fmt.Errorf("jwtkit: create certificate: %w", err)
	}
	return keykit.KeyRecord{
		Thumbprint: s.KID(),
		CertChain:  []string{base64.StdEncoding.EncodeToString(der)},
	}, nil
}
