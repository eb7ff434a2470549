package quantumbank

import (
	"crypto/tls"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DefaultTestConfig returns a config suitable for tests: sqlite in a
// temp dir, a self-signed cert, and placeholder discord credentials.
func DefaultTestConfig(t testing.TB) *Config {
	t.Helper()

	tmpdir := t.TempDir()
	certFile := filepath.Join(tmpdir, "cert.pem")
	keyFile := filepath.Join(tmpdir, "key.pem")
	_, err := generateSelfSignedCert(certFile, keyFile)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Database = filepath.Join(tmpdir, "quantumbank.sqlite3")
	cfg.DatabaseType = dbTypeSQLite
	cfg.Discord.Token = "token"
	cfg.Discord.ApplicationID = "app-123"
	cfg.API.Listen = "127.0.0.1:0"
	cfg.API.Secret = "yhkB4FWUeDbuild3Ik6zVJBdvTCevDzz"
	cfg.API.SSL.Cert = certFile
	cfg.API.SSL.Key = keyFile
	cfg.API.Development = true
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultDatabaseType, cfg.DatabaseType)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
	assert.Equal(t, 90*time.Second, cfg.Bank.TransferConfirmTimeout)
	assert.Equal(t, 120*time.Second, cfg.Bank.PairingWaitTimeout)
	assert.Equal(t, DefaultLeaderboardLimit, cfg.Bank.LeaderboardLimit)
	assert.Equal(t, DefaultPassbookLimit, cfg.Bank.PassbookLimit)
	assert.Equal(t, DefaultAnimeBaseURL, cfg.Anime.BaseURL)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel.Level())

	// discord credentials are required, so the defaults alone
	// shouldn't validate
	require.Error(t, ValidateConfig(cfg))

	cfg.Discord.Token = "token"
	cfg.Discord.ApplicationID = "app-123"
	require.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfig(t *testing.T) {
	cfg := DefaultTestConfig(t)
	require.NoError(t, ValidateConfig(cfg))

	cfg.DatabaseType = "mongodb"
	require.Error(t, ValidateConfig(cfg))
	cfg.DatabaseType = dbTypeSQLite

	cfg.API.ListenNetwork = "udp"
	require.Error(t, ValidateConfig(cfg))
	cfg.API.ListenNetwork = "tcp"

	cfg.API.SessionMaxAge = time.Minute
	require.Error(t, ValidateConfig(cfg))
	cfg.API.SessionMaxAge = DefaultAPISessionMaxAge

	cfg.Bank.LeaderboardLimit = 0
	require.Error(t, ValidateConfig(cfg))
}

func TestTLSConfig(t *testing.T) {
	tmpdir := t.TempDir()
	certFile := filepath.Join(tmpdir, "cert.pem")
	keyFile := filepath.Join(tmpdir, "key.pem")
	_, err := generateSelfSignedCert(certFile, keyFile)
	require.NoError(t, err)

	tlsCfg, err := tlsConfig(certFile, keyFile, tls.VersionTLS13)
	require.NoError(t, err)
	require.NotNil(t, tlsCfg)
	assert.Equal(t, uint16(tls.VersionTLS13), tlsCfg.MinVersion)
	assert.Len(t, tlsCfg.Certificates, 1)

	_, err = tlsConfig(
		filepath.Join(tmpdir, "missing.pem"),
		keyFile,
		tls.VersionTLS12,
	)
	require.Error(t, err)
}

func TestCORSConfigGINConfig(t *testing.T) {
	corsCfg := DefaultCORSConfig()
	corsCfg.AllowOrigins = []string{"https://bank.example.com"}

	ginCfg := corsCfg.GINConfig()
	assert.Equal(t, corsCfg.AllowOrigins, ginCfg.AllowOrigins)
	assert.Equal(t, corsCfg.AllowMethods, ginCfg.AllowMethods)
	assert.Equal(t, corsCfg.AllowHeaders, ginCfg.AllowHeaders)
	assert.Equal(t, corsCfg.ExposeHeaders, ginCfg.ExposeHeaders)
	assert.Equal(t, corsCfg.MaxAge, ginCfg.MaxAge)
	assert.Equal(t, corsCfg.AllowCredentials, ginCfg.AllowCredentials)
}

func TestConfigLogValueRedactsSecrets(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Discord.Token = "Njg4NTgwMTIzNDU2Nzg5.secret.value"

	logged := structToSlogValue(*cfg.Discord).String()
	assert.NotContains(t, logged, cfg.Discord.Token)
	assert.Contains(t, logged, "[redacted]")
}
