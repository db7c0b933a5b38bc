package chassis

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// CertIdentity describes the subject of a generated self-signed certificate.
// The zero value is not usable; use DefaultCertIdentity as a starting point.
type CertIdentity struct {
	Organization string
	CommonName   string
	DNSNames     []string
	IPAddresses  []net.IP
	Validity     time.Duration
}

// DefaultCertIdentity is the identity used when a caller doesn't need
// anything beyond a working localhost certificate for development.
func DefaultCertIdentity() CertIdentity {
	return CertIdentity{
		Organization: "Archive Orchestrator Development",
		CommonName:   "localhost",
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
		Validity:     365 * 24 * time.Hour,
	}
}

// GenerateSelfSignedCert generates a self-signed TLS certificate for
// development use. Do not use in production - the certificate is not
// validated by any CA.
func GenerateSelfSignedCert(identity CertIdentity) (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{identity.Organization},
			CommonName:   identity.CommonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(identity.Validity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              identity.DNSNames,
		IPAddresses:           identity.IPAddresses,
	}

	cert, err := signAndEncode(&template, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return cert, nil
}

func signAndEncode(template *x509.Certificate, priv *ecdsa.PrivateKey) (tls.Certificate, error) {
	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})

	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to marshal private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load certificate: %w", err)
	}
	return cert, nil
}

// NewDevelopmentTLSConfig builds a tls.Config backed by a freshly generated
// self-signed certificate for identity, with ALPN covering both HTTP/3 and
// HTTP/1.1+2 so the same certificate serves both chassis listeners.
func NewDevelopmentTLSConfig(identity CertIdentity) (*tls.Config, error) {
	cert, err := GenerateSelfSignedCert(identity)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h3", "http/1.1"},
	}, nil
}
