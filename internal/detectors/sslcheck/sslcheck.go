// Package sslcheck grades the TLS configuration of the target: supported
// protocol versions, certificate validity and key strength.
package sslcheck

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/nexus-scanner/nexus/pkg/types"
)

const certExpiryWarning = 30 * 24 * time.Hour

type Detector struct {
	timeout time.Duration
	dial    func(ctx context.Context, addr string, cfg *tls.Config) (*tls.Conn, error)
}

func New() *Detector {
	d := &Detector{timeout: 10 * time.Second}
	d.dial = d.dialTLS
	return d
}

func (d *Detector) Name() string    { return "ssl-check" }
func (d *Detector) Version() string { return "1.2.0" }

// Applies once per scan: TLS posture belongs to the endpoint, so only the
// https seed resource is checked.
func (d *Detector) Applies(resource types.Resource) bool {
	return resource.Depth == 0 && strings.HasPrefix(resource.URL, "https://")
}

func (d *Detector) Evaluate(ctx context.Context, target types.Target, resource types.Resource) ([]types.Finding, error) {
	addr := target.Host + ":443"
	if target.Port != "" {
		addr = target.Host + ":" + target.Port
	}

	conn, err := d.dial(ctx, addr, &tls.Config{
		ServerName:         target.Host,
		InsecureSkipVerify: true, // posture assessment needs the cert even when invalid
	})
	if err != nil {
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	state := conn.ConnectionState()
	conn.Close()

	var findings []types.Finding
	add := func(severity types.Severity, title, desc, evidence string) {
		findings = append(findings, types.Finding{
			Detector:        d.Name(),
			DetectorVersion: d.Version(),
			Resource:        resource.URL,
			Severity:        severity,
			Title:           title,
			Description:     desc,
			Evidence:        evidence,
		})
	}

	if len(state.PeerCertificates) > 0 {
		d.checkCertificate(state.PeerCertificates[0], target.Host, add)
	}

	for _, version := range []uint16{tls.VersionTLS10, tls.VersionTLS11} {
		if d.supportsVersion(ctx, addr, target.Host, version) {
			add(types.SeverityMedium,
				fmt.Sprintf("Outdated protocol %s supported", tls.VersionName(version)),
				"TLS 1.0 and 1.1 are deprecated and lack modern cipher support; clients should be forced onto TLS 1.2 or newer.",
				fmt.Sprintf("handshake with %s succeeded using %s", addr, tls.VersionName(version)))
		}
	}

	if !d.supportsVersion(ctx, addr, target.Host, tls.VersionTLS13) {
		add(types.SeverityLow,
			"TLS 1.3 not supported",
			"TLS 1.3 removes legacy cipher constructions and halves handshake latency; supporting it is current best practice.",
			fmt.Sprintf("handshake with %s failed when restricted to TLS 1.3", addr))
	}

	return findings, nil
}

func (d *Detector) checkCertificate(cert *x509.Certificate, host string, add func(types.Severity, string, string, string)) {
	now := time.Now()

	if now.After(cert.NotAfter) {
		add(types.SeverityCritical,
			"Certificate has expired",
			"Browsers refuse expired certificates; clients that proceed anyway are open to interception.",
			fmt.Sprintf("certificate for %s expired %s", host, cert.NotAfter.Format(time.RFC3339)))
	} else if cert.NotAfter.Sub(now) < certExpiryWarning {
		add(types.SeverityMedium,
			"Certificate expires soon",
			"Certificates within 30 days of expiry risk an outage if renewal slips.",
			fmt.Sprintf("certificate for %s expires %s", host, cert.NotAfter.Format(time.RFC3339)))
	}

	if err := cert.VerifyHostname(host); err != nil {
		add(types.SeverityHigh,
			"Certificate does not match hostname",
			"A name mismatch breaks the trust chain for every client connecting by this hostname.",
			err.Error())
	}

	if len(cert.Issuer.Organization) == 0 && cert.Issuer.CommonName == cert.Subject.CommonName {
		add(types.SeverityHigh,
			"Self-signed certificate",
			"Self-signed certificates cannot be validated against a trust root and train users to bypass warnings.",
			fmt.Sprintf("issuer %q equals subject", cert.Issuer.CommonName))
	}

	switch key := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		if key.N.BitLen() < 2048 {
			add(types.SeverityHigh,
				"Weak RSA key",
				"RSA keys below 2048 bits are within reach of well-funded factoring efforts.",
				fmt.Sprintf("RSA key is %d bits", key.N.BitLen()))
		}
	case *ecdsa.PublicKey:
		if key.Curve.Params().BitSize < 256 {
			add(types.SeverityHigh,
				"Weak ECC key",
				"ECC keys below 256 bits do not meet current strength guidance.",
				fmt.Sprintf("ECC key is %d bits", key.Curve.Params().BitSize))
		}
	}
}

// supportsVersion attempts a handshake pinned to one protocol version.
func (d *Detector) supportsVersion(ctx context.Context, addr, host string, version uint16) bool {
	conn, err := d.dial(ctx, addr, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: true,
		MinVersion:         version,
		MaxVersion:         version,
	})
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (d *Detector) dialTLS(ctx context.Context, addr string, cfg *tls.Config) (*tls.Conn, error) {
	dialer := &net.Dialer{Timeout: d.timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	conn := tls.Client(raw, cfg)
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(d.timeout))
	}

	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return conn, nil
}
