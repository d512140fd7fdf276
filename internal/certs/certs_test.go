package certs

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, cert tls.Certificate) *x509.Certificate {
	t.Helper()
	require.Len(t, cert.Certificate, 1)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf
}

func TestStore_CreatesCertificate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	store := NewStore(dir)

	exists, err := store.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	cert, err := store.Certificate()
	require.NoError(t, err)

	leaf := parse(t, cert)
	assert.NoError(t, leaf.VerifyHostname("localhost"))
	assert.NoError(t, leaf.VerifyHostname("127.0.0.1"))
	assert.Equal(t, []string{"spice-rules"}, leaf.Subject.Organization)
	assert.True(t, leaf.NotAfter.After(time.Now().Add(Validity-time.Hour)))

	info, err := os.Stat(filepath.Join(dir, "spice-rules-api.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStore_ReusesValidCertificate(t *testing.T) {
	store := NewStore(t.TempDir())

	first, err := store.Certificate()
	require.NoError(t, err)
	second, err := store.Certificate()
	require.NoError(t, err)

	assert.Equal(t, parse(t, first).SerialNumber, parse(t, second).SerialNumber)
}

func TestStore_RegeneratesInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, os.WriteFile(store.certFile, []byte("not a cert"), 0o600))
	require.NoError(t, os.WriteFile(store.keyFile, []byte("not a key"), 0o600))

	cert, err := store.Certificate()
	require.NoError(t, err)
	assert.NoError(t, parse(t, cert).VerifyHostname("localhost"))
}

func TestStore_RenewsExpiringCertificate(t *testing.T) {
	store := NewStore(t.TempDir())
	first, err := store.Certificate()
	require.NoError(t, err)

	store.now = func() time.Time { return time.Now().Add(Validity - 24*time.Hour) }
	second, err := store.Certificate()
	require.NoError(t, err)

	assert.NotEqual(t, parse(t, first).SerialNumber, parse(t, second).SerialNumber)
}

func TestStore_TLSConfig(t *testing.T) {
	cfg, err := NewStore(t.TempDir()).TLSConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}
