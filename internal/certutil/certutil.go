// Package certutil generates the self-signed certificate each session
// presents during the DTLS handshake, grounded on the teacher's
// certificate.go (same curve, same subject, same fingerprint format).
package certutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/xerrors"
)

// Certificate is a self-signed DTLS identity: DER bytes, the private key
// that signed them, and the ASCII fingerprint carried in SDP.
type Certificate struct {
	DER         []byte
	PrivateKey  *ecdsa.PrivateKey
	Fingerprint string
}

// Generate creates a new ECDSA P-256 self-signed certificate, valid for
// 30 days, the same parameters the teacher used for its WebRTC identity.
func Generate() (*Certificate, error) {
	notBefore := time.Now()
	notAfter := notBefore.Add(30 * 24 * time.Hour)

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, xerrors.Errorf("generate serial number: %w", err)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, xerrors.Errorf("generate key: %w", err)
	}

	template := x509.Certificate{
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		SerialNumber:       serial,
		Subject:            pkix.Name{CommonName: "roomrtc"},
		NotBefore:          notBefore,
		NotAfter:           notAfter,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, xerrors.Errorf("create certificate: %w", err)
	}

	return &Certificate{
		DER:         der,
		PrivateKey:  priv,
		Fingerprint: Fingerprint(der),
	}, nil
}

// Fingerprint computes the ASCII "sha-256 XX:XX:..." encoding of a DER
// certificate, as carried in SDP's a=fingerprint line.
func Fingerprint(der []byte) string {
	h := sha256.Sum256(der)
	b := make([]byte, 0, 8+len(h)*3)
	b = append(b, "sha-256 "...)
	for i, v := range h {
		if i > 0 {
			b = append(b, ':')
		}
		b = append(b, fmt.Sprintf("%02X", v)...)
	}
	return string(b)
}
