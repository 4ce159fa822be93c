package apksign

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// Identity is a signing key and its self-signed certificate.
type Identity struct {
	Key         *rsa.PrivateKey
	Certificate *x509.Certificate
}

const (
	keyBits = 2048

	// Android refuses to install packages whose certificate expires
	// before the platform's horizon, so release certificates get a
	// multi-decade window.
	validity = 30 * 365 * 24 * time.Hour
)

// NewIdentity generates a fresh RSA key and a self-signed certificate
// for it under the given common name.
func NewIdentity(commonName string) (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"renpack"},
		},
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(validity),
		KeyUsage:  x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	certificate, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	return &Identity{
		Key:         key,
		Certificate: certificate,
	}, nil
}
