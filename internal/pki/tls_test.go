// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSelfSignedPair generates a throwaway self-signed cert/key pair and
// writes both the cert and its own PEM (reused as the CA) to dir.
func writeSelfSignedPair(t *testing.T, dir, prefix string) (certPath, keyPath, caPath string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sink-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("marshaling key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	certPath = filepath.Join(dir, prefix+"-cert.pem")
	keyPath = filepath.Join(dir, prefix+"-key.pem")
	if err := os.WriteFile(certPath, certPEM, 0600); err != nil {
		t.Fatalf("writing cert: %v", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		t.Fatalf("writing key: %v", err)
	}

	return certPath, keyPath, certPath
}

func TestNewClientTLSConfig(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath, caPath := writeSelfSignedPair(t, dir, "client")

	cfg, err := NewClientTLSConfig(caPath, certPath, keyPath)
	if err != nil {
		t.Fatalf("NewClientTLSConfig failed: %v", err)
	}
	if cfg.MinVersion != 0x0304 { // tls.VersionTLS13
		t.Errorf("expected TLS 1.3 minimum version, got %x", cfg.MinVersion)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected exactly one client certificate, got %d", len(cfg.Certificates))
	}
	if cfg.RootCAs == nil {
		t.Error("expected non-nil RootCAs pool")
	}
}

func TestNewClientTLSConfig_MissingCert(t *testing.T) {
	dir := t.TempDir()
	_, _, caPath := writeSelfSignedPair(t, dir, "ca")

	if _, err := NewClientTLSConfig(caPath, filepath.Join(dir, "nope-cert.pem"), filepath.Join(dir, "nope-key.pem")); err == nil {
		t.Fatal("expected error for missing client certificate")
	}
}

func TestNewClientTLSConfig_InvalidCA(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath, _ := writeSelfSignedPair(t, dir, "client")

	badCA := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(badCA, []byte("not a certificate"), 0600); err != nil {
		t.Fatalf("writing bad CA: %v", err)
	}

	if _, err := NewClientTLSConfig(badCA, certPath, keyPath); err == nil {
		t.Fatal("expected error for malformed CA certificate")
	}
}
