package certs

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// File names inside a certificate directory.
const (
	certFile = "preview.crt"
	keyFile  = "preview.key"
)

// renewBefore is how long before expiry a stored certificate is replaced.
const renewBefore = 24 * time.Hour

// LoadOrGenerate returns the certificate stored in dir when it is still
// valid for a day and covers hosts, and otherwise generates and stores a
// new one.
func LoadOrGenerate(dir string, validity time.Duration, hosts ...string) (*CertInfo, error) {
	c, err := Load(dir)
	switch {
	case err == nil && time.Until(c.NotAfter) > renewBefore && covers(c, hosts):
		return c, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	c, err = Generate(validity, hosts...)
	if err != nil {
		return nil, err
	}
	if err := Save(dir, c); err != nil {
		return nil, err
	}
	return c, nil
}

func covers(c *CertInfo, hosts []string) bool {
	for _, h := range hosts {
		if h != "" && c.TLSCert.Leaf.VerifyHostname(h) != nil {
			return false
		}
	}
	return true
}

// Save writes the certificate and its key as PEM into dir.
func Save(dir string, c *CertInfo) error {
	key, ok := c.TLSCert.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return fmt.Errorf("unsupported private key %T", c.TLSCert.PrivateKey)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.TLSCert.Certificate[0]})
	if err := os.WriteFile(filepath.Join(dir, certFile), certPEM, 0o644); err != nil {
		return err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return os.WriteFile(filepath.Join(dir, keyFile), keyPEM, 0o600)
}

// Load reads a certificate stored by Save. A missing file yields an error
// matching fs.ErrNotExist.
func Load(dir string) (*CertInfo, error) {
	certDER, err := readPEM(filepath.Join(dir, certFile), "CERTIFICATE")
	if err != nil {
		return nil, err
	}
	keyDER, err := readPEM(filepath.Join(dir, keyFile), "EC PRIVATE KEY")
	if err != nil {
		return nil, err
	}
	key, err := x509.ParseECPrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	c, err := newCertInfo(certDER, key)
	if err != nil {
		return nil, err
	}
	if !key.PublicKey.Equal(c.TLSCert.Leaf.PublicKey) {
		return nil, errors.New("stored key does not match certificate")
	}
	return c, nil
}

func readPEM(path, typ string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	for len(data) > 0 {
		var b *pem.Block
		if b, data = pem.Decode(data); b == nil {
			break
		}
		if b.Type == typ {
			return b.Bytes, nil
		}
	}
	return nil, fmt.Errorf("%s: no %s block", path, typ)
}

// Hosts returns the names and addresses a certificate is valid for.
func (c *CertInfo) Hosts() []string {
	x := c.TLSCert.Leaf
	if x == nil {
		return nil
	}
	hosts := slices.Clone(x.DNSNames)
	for _, ip := range x.IPAddresses {
		hosts = append(hosts, ip.String())
	}
	return hosts
}
