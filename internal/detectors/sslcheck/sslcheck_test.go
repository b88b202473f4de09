package sslcheck

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-scanner/nexus/pkg/types"
)

type certSpec struct {
	commonName string
	org        []string
	dnsNames   []string
	notAfter   time.Time
	keyBits    int
}

func makeCert(t *testing.T, spec certSpec) (*x509.Certificate, tls.Certificate) {
	t.Helper()

	if spec.keyBits == 0 {
		spec.keyBits = 2048
	}
	if spec.notAfter.IsZero() {
		spec.notAfter = time.Now().Add(365 * 24 * time.Hour)
	}

	key, err := rsa.GenerateKey(rand.Reader, spec.keyBits)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: spec.commonName, Organization: spec.org},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     spec.notAfter,
		DNSNames:     spec.dnsNames,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return cert, tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func runCertChecks(cert *x509.Certificate, host string) []types.Finding {
	d := New()
	var findings []types.Finding
	d.checkCertificate(cert, host, func(severity types.Severity, title, desc, evidence string) {
		findings = append(findings, types.Finding{Severity: severity, Title: title, Description: desc, Evidence: evidence})
	})
	return findings
}

func titles(findings []types.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Title)
	}
	return out
}

func TestApplies(t *testing.T) {
	d := New()
	assert.True(t, d.Applies(types.Resource{Depth: 0, URL: "https://example.com/"}))
	assert.False(t, d.Applies(types.Resource{Depth: 1, URL: "https://example.com/a"}))
	assert.False(t, d.Applies(types.Resource{Depth: 0, URL: "http://example.com/"}))
}

func TestCheckCertificateHealthy(t *testing.T) {
	cert, _ := makeCert(t, certSpec{
		commonName: "example.com",
		org:        []string{"Example Org"},
		dnsNames:   []string{"example.com"},
	})
	assert.Empty(t, runCertChecks(cert, "example.com"))
}

func TestCheckCertificateExpired(t *testing.T) {
	cert, _ := makeCert(t, certSpec{
		commonName: "example.com",
		org:        []string{"Example Org"},
		dnsNames:   []string{"example.com"},
		notAfter:   time.Now().Add(-24 * time.Hour),
	})

	findings := runCertChecks(cert, "example.com")
	require.Contains(t, titles(findings), "Certificate has expired")
	for _, f := range findings {
		if f.Title == "Certificate has expired" {
			assert.Equal(t, types.SeverityCritical, f.Severity)
		}
	}
}

func TestCheckCertificateExpiresSoon(t *testing.T) {
	cert, _ := makeCert(t, certSpec{
		commonName: "example.com",
		org:        []string{"Example Org"},
		dnsNames:   []string{"example.com"},
		notAfter:   time.Now().Add(10 * 24 * time.Hour),
	})

	findings := runCertChecks(cert, "example.com")
	got := titles(findings)
	assert.Contains(t, got, "Certificate expires soon")
	assert.NotContains(t, got, "Certificate has expired")
}

func TestCheckCertificateHostnameMismatch(t *testing.T) {
	cert, _ := makeCert(t, certSpec{
		commonName: "other.com",
		org:        []string{"Example Org"},
		dnsNames:   []string{"other.com"},
	})
	assert.Contains(t, titles(runCertChecks(cert, "example.com")), "Certificate does not match hostname")
}

func TestCheckCertificateSelfSigned(t *testing.T) {
	cert, _ := makeCert(t, certSpec{
		commonName: "example.com",
		dnsNames:   []string{"example.com"},
	})
	assert.Contains(t, titles(runCertChecks(cert, "example.com")), "Self-signed certificate")
}

func TestCheckCertificateWeakRSAKey(t *testing.T) {
	cert, _ := makeCert(t, certSpec{
		commonName: "example.com",
		org:        []string{"Example Org"},
		dnsNames:   []string{"example.com"},
		keyBits:    1024,
	})

	findings := runCertChecks(cert, "example.com")
	require.Contains(t, titles(findings), "Weak RSA key")
	for _, f := range findings {
		if f.Title == "Weak RSA key" {
			assert.Contains(t, f.Evidence, "1024 bits")
		}
	}
}

// pipeDialer handshakes against an in-memory TLS server so protocol probes
// need no listener.
func pipeDialer(serverCfg *tls.Config) func(ctx context.Context, addr string, cfg *tls.Config) (*tls.Conn, error) {
	return func(ctx context.Context, addr string, cfg *tls.Config) (*tls.Conn, error) {
		clientSide, serverSide := net.Pipe()
		server := tls.Server(serverSide, serverCfg)
		go func() {
			_ = server.HandshakeContext(context.Background())
			_ = server.Close()
		}()

		client := tls.Client(clientSide, cfg)
		if err := client.HandshakeContext(ctx); err != nil {
			clientSide.Close()
			return nil, err
		}
		return client, nil
	}
}

func TestEvaluateOutdatedProtocols(t *testing.T) {
	_, tlsCert := makeCert(t, certSpec{
		commonName: "example.com",
		org:        []string{"Example Org"},
		dnsNames:   []string{"example.com"},
	})

	d := New()
	d.dial = pipeDialer(&tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		MinVersion:   tls.VersionTLS10,
		MaxVersion:   tls.VersionTLS13,
	})

	target := types.Target{Scheme: "https", Host: "example.com"}
	findings, err := d.Evaluate(context.Background(), target, types.Resource{URL: "https://example.com/"})
	require.NoError(t, err)

	got := titles(findings)
	assert.Contains(t, got, "Outdated protocol TLS 1.0 supported")
	assert.Contains(t, got, "Outdated protocol TLS 1.1 supported")
	assert.NotContains(t, got, "TLS 1.3 not supported")
}

func TestEvaluateMissingTLS13(t *testing.T) {
	_, tlsCert := makeCert(t, certSpec{
		commonName: "example.com",
		org:        []string{"Example Org"},
		dnsNames:   []string{"example.com"},
	})

	d := New()
	d.dial = pipeDialer(&tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
	})

	target := types.Target{Scheme: "https", Host: "example.com"}
	findings, err := d.Evaluate(context.Background(), target, types.Resource{URL: "https://example.com/"})
	require.NoError(t, err)

	got := titles(findings)
	assert.Contains(t, got, "TLS 1.3 not supported")
	assert.NotContains(t, got, "Outdated protocol TLS 1.0 supported")
}

func TestEvaluateHandshakeFailure(t *testing.T) {
	d := New()
	d.dial = func(context.Context, string, *tls.Config) (*tls.Conn, error) {
		return nil, net.ErrClosed
	}

	target := types.Target{Scheme: "https", Host: "example.com"}
	_, err := d.Evaluate(context.Background(), target, types.Resource{URL: "https://example.com/"})
	assert.ErrorContains(t, err, "tls handshake")
}
