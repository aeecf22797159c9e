package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"net"
	"slices"
	"testing"
	"time"
)

func parse(t *testing.T, c *CertInfo) *x509.Certificate {
	t.Helper()
	if len(c.TLSCert.Certificate) == 0 {
		t.Fatal("no certificate data")
	}
	x, err := x509.ParseCertificate(c.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return x
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	cert, err := Generate(24*time.Hour, "preview.local", "10.0.0.7")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	x := parse(t, cert)

	if got := x.NotAfter.Sub(x.NotBefore); got != 24*time.Hour {
		t.Errorf("validity = %v, want 24h", got)
	}
	if x.NotAfter.Before(time.Now()) {
		t.Error("certificate already expired")
	}
	if cert.Fingerprint != sha256.Sum256(cert.TLSCert.Certificate[0]) {
		t.Error("fingerprint mismatch")
	}
	if cert.FingerprintBase64() == "" {
		t.Error("empty base64 fingerprint")
	}
	for _, name := range []string{"localhost", "preview.local"} {
		if !slices.Contains(x.DNSNames, name) {
			t.Errorf("DNS names %v missing %s", x.DNSNames, name)
		}
	}
	if !slices.ContainsFunc(x.IPAddresses, func(ip net.IP) bool { return ip.Equal(net.ParseIP("10.0.0.7")) }) {
		t.Errorf("IP addresses %v missing 10.0.0.7", x.IPAddresses)
	}
}

func TestGenerateClampsValidity(t *testing.T) {
	t.Parallel()
	for _, v := range []time.Duration{30 * 24 * time.Hour, 0, -time.Hour} {
		cert, err := Generate(v)
		if err != nil {
			t.Fatalf("Generate(%v): %v", v, err)
		}
		x := parse(t, cert)
		if got := x.NotAfter.Sub(x.NotBefore); got != maxValidity {
			t.Errorf("Generate(%v) validity = %v, want %v", v, got, maxValidity)
		}
	}
}
