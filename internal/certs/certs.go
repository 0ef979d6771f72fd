// Package certs generates short-lived self-signed ECDSA P-256 certificates
// for the QUIC transport and builds TLS configurations that pin them by
// SHA-256 fingerprint.
package certs

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// DefaultValidity is used when Generate is given a non-positive duration.
const DefaultValidity = 14 * 24 * time.Hour

var ErrFingerprint = errors.New("certs: peer certificate fingerprint mismatch")

// CertInfo holds a TLS certificate and its SHA-256 fingerprint.
type CertInfo struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// FingerprintBase64 returns the SHA-256 fingerprint as base64.
func (c *CertInfo) FingerprintBase64() string {
	return base64.StdEncoding.EncodeToString(c.Fingerprint[:])
}

// ServerConfig returns a TLS configuration serving the certificate for the
// given ALPN protocol.
func (c *CertInfo) ServerConfig(alpn string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLSCert},
		NextProtos:   []string{alpn},
		MinVersion:   tls.VersionTLS13,
	}
}

// ParseFingerprint decodes a base64 fingerprint as printed by
// FingerprintBase64.
func ParseFingerprint(s string) ([32]byte, error) {
	var fp [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fp, fmt.Errorf("certs: decode fingerprint: %w", err)
	}
	if len(raw) != len(fp) {
		return fp, fmt.Errorf("certs: fingerprint is %d bytes, want %d", len(raw), len(fp))
	}
	copy(fp[:], raw)
	return fp, nil
}

// PinnedClientConfig returns a TLS configuration that accepts exactly the
// leaf certificate with the given fingerprint, whatever its chain.
func PinnedClientConfig(fingerprint [32]byte, alpn string) *tls.Config {
	return &tls.Config{
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: true, // replaced by the fingerprint check below
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return ErrFingerprint
			}
			got := sha256.Sum256(rawCerts[0])
			if !bytes.Equal(got[:], fingerprint[:]) {
				return ErrFingerprint
			}
			return nil
		},
	}
}

// Generate creates a self-signed certificate for commonName valid for the
// given duration, covering localhost and any extra hosts (names or IPs).
func Generate(commonName string, validity time.Duration, hosts ...string) (*CertInfo, error) {
	if validity <= 0 {
		validity = DefaultValidity
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-1 * time.Minute) // clock skew
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return &CertInfo{
		TLSCert: tls.Certificate{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		},
		Fingerprint: sha256.Sum256(certDER),
		NotAfter:    template.NotAfter,
	}, nil
}
