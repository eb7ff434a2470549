package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/D9292S/Quantum-Bank/quantumbank"
	"github.com/bwmarrin/discordgo"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

QB_DATABASE=/home/foo/quantumbank.sqlite3
QB_DATABASE_TYPE=sqlite
QB_DATABASE_LOG_LEVEL=INFO
QB_DATABASE_SLOW_THRESHOLD=200ms
QB_LOG_LEVEL=INFO
QB_STARTUP_TIMEOUT=30s
QB_SHUTDOWN_TIMEOUT=60s
QB_RUNTIME_CONFIG_TTL=5m
QB_ACCOUNT_CACHE_TTL=10m

# Banking config

QB_BANK_TRANSFER_CONFIRM_TIMEOUT=90s
QB_BANK_TRANSFER_SWEEP_INTERVAL=30s
QB_BANK_PAIRING_WAIT_TIMEOUT=2m
QB_BANK_KYC_REPLY_TIMEOUT=2m
QB_BANK_KYC_PROCESSING_DELAY=3s
QB_BANK_KYC_MAX_RETRIES=2
QB_BANK_FAILED_KYC_RETENTION=720h
QB_BANK_LEADERBOARD_LIMIT=10
QB_BANK_PASSBOOK_LIMIT=10

# Anime API client

QB_ANIME_BASE_URL=https://kitsu.io/api/edge
QB_ANIME_REQUESTS_PER_SECOND=2
QB_ANIME_LOG_LEVEL=INFO

# Discord bot config

QB_DISCORD_TOKEN=your-discord-bot-token
QB_DISCORD_APPLICATION_ID=your-discord-bot-app-id
QB_DISCORD_GUILD_ID=
QB_DISCORD_LOG_LEVEL=WARN
QB_DISCORD_DISCORDGO_LOG_LEVEL=WARN
QB_DISCORD_STARTUP_MESSAGE="Quantum Bank is open!"
QB_DISCORD_GATEWAY_INTENTS=3243773

# API server

QB_API_LISTEN=127.0.0.1:5000
QB_API_SSL_CERT=/etc/ssl/cert.pem
QB_API_SSL_KEY=/etc/ssl/key.pem
QB_API_SSL_TLS_MIN_VERSION=771
QB_API_SECRET=your-api-secret
QB_API_LOG_LEVEL=DEBUG
QB_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
QB_API_CORS_ALLOW_METHODS=GET POST PUT PATCH DELETE OPTIONS HEAD
QB_API_CORS_ALLOW_HEADERS=Origin Content-Length Content-Type Accept Authorization X-Requested-With Cache-Control X-CSRF-Token X-Request-ID
QB_API_CORS_EXPOSE_HEADERS=Content-Type Content-Length Accept-Encoding X-Request-ID Location ETag Authorization Last-Modified
QB_API_CORS_ALLOW_CREDENTIALS=true
QB_API_CORS_MAX_AGE=12h
QB_API_READ_TIMEOUT=5s
QB_API_READ_HEADER_TIMEOUT=5s
QB_API_WRITE_TIMEOUT=10s
QB_API_IDLE_TIMEOUT=30s
QB_API_SESSION_MAX_AGE=6h
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/quantumbank.sqlite3", cfg.Database)
	assert.Equal(t, "/home/foo/quantumbank.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))

	assertLogLevel(t, slog.LevelInfo, viper.Get("database_log_level"))

	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))
	assert.Equal(t, 5*time.Minute, viper.GetDuration("runtime_config_ttl"))
	assert.Equal(t, 10*time.Minute, viper.GetDuration("account_cache_ttl"))

	assert.Equal(t, 90*time.Second, viper.GetDuration("bank.transfer_confirm_timeout"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("bank.transfer_sweep_interval"))
	assert.Equal(t, 2*time.Minute, viper.GetDuration("bank.pairing_wait_timeout"))
	assert.Equal(t, 2*time.Minute, viper.GetDuration("bank.kyc_reply_timeout"))
	assert.Equal(t, 3*time.Second, viper.GetDuration("bank.kyc_processing_delay"))
	assert.Equal(t, 2, viper.GetInt("bank.kyc_max_retries"))
	assert.Equal(t, 720*time.Hour, viper.GetDuration("bank.failed_kyc_retention"))
	assert.Equal(t, 10, viper.GetInt("bank.leaderboard_limit"))
	assert.Equal(t, 10, viper.GetInt("bank.passbook_limit"))

	assert.Equal(t, "https://kitsu.io/api/edge", viper.GetString("anime.base_url"))
	assert.Equal(t, 2, viper.GetInt("anime.requests_per_second"))
	assertLogLevel(t, slog.LevelInfo, viper.Get("anime.log_level"))

	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(t, "your-discord-bot-app-id", viper.GetString("discord.application_id"))
	assert.Equal(t, "", viper.GetString("discord.guild_id"))

	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))

	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.discordgo_log_level"))
	assert.Equal(t, "Quantum Bank is open!", viper.GetString("discord.startup_message"))
	assert.Equal(t, 3243773, viper.GetInt("discord.gateway_intents"))

	assert.Equal(t, "127.0.0.1:5000", viper.GetString("api.listen"))
	assert.Equal(t, "/etc/ssl/cert.pem", viper.GetString("api.ssl.cert"))
	assert.Equal(t, "/etc/ssl/key.pem", viper.GetString("api.ssl.key"))
	assert.Equal(t, 771, viper.GetInt("api.ssl.tls_min_version"))
	assert.Equal(t, "your-api-secret", viper.GetString("api.secret"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("api.log_level"))
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		cfg.API.CORS.AllowMethods,
	)
	assert.Equal(
		t,
		[]string{
			"Origin",
			"Content-Length",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Requested-With",
			"Cache-Control",
			"X-CSRF-Token",
			"X-Request-ID",
		},
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	assert.Equal(
		t,
		[]string{
			"Content-Type",
			"Content-Length",
			"Accept-Encoding",
			"X-Request-ID",
			"Location",
			"ETag",
			"Authorization",
			"Last-Modified",
		},
		viper.GetStringSlice("api.cors.expose_headers"),
	)
	assert.True(t, viper.GetBool("api.cors.allow_credentials"))
	assert.Equal(t, 12*time.Hour, viper.GetDuration("api.cors.max_age"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_timeout"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("api.read_header_timeout"))
	assert.Equal(t, 10*time.Second, viper.GetDuration("api.write_timeout"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("api.idle_timeout"))
	assert.Equal(t, 6*time.Hour, viper.GetDuration("api.session_max_age"))

	// Unmarshal the configuration into a quantumbank.Config struct
	var config quantumbank.Config
	err = viper.Unmarshal(
		&config, viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
	assert.NoError(t, err)

	// Verify some key fields in the Config struct
	assert.Equal(t, "/home/foo/quantumbank.sqlite3", config.Database)
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, slog.LevelInfo, config.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, config.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelInfo, config.LogLevel.Level())
	assert.Equal(t, 30*time.Second, config.StartupTimeout)
	assert.Equal(t, 60*time.Second, config.ShutdownTimeout)

	assert.Equal(t, 90*time.Second, config.Bank.TransferConfirmTimeout)
	assert.Equal(t, 30*time.Second, config.Bank.TransferSweepInterval)
	assert.Equal(t, 2*time.Minute, config.Bank.PairingWaitTimeout)
	assert.Equal(t, 2*time.Minute, config.Bank.KYCReplyTimeout)
	assert.Equal(t, 3*time.Second, config.Bank.KYCProcessingDelay)
	assert.Equal(t, 2, config.Bank.KYCMaxRetries)
	assert.Equal(t, 720*time.Hour, config.Bank.FailedKYCRetention)
	assert.Equal(t, 10, config.Bank.LeaderboardLimit)
	assert.Equal(t, 10, config.Bank.PassbookLimit)

	assert.Equal(t, "https://kitsu.io/api/edge", config.Anime.BaseURL)
	assert.Equal(t, 2, config.Anime.RequestsPerSecond)
	assert.Equal(t, slog.LevelInfo, config.Anime.LogLevel.Level())

	assert.Equal(t, "your-discord-bot-token", config.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", config.Discord.ApplicationID)
	assert.Equal(t, "", config.Discord.GuildID)
	assert.Equal(t, slog.LevelWarn, config.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, config.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, "Quantum Bank is open!", config.Discord.StartupMessage)
	assert.Equal(t, discordgo.Intent(3243773), config.Discord.GatewayIntents)

	assert.Equal(t, "127.0.0.1:5000", config.API.Listen)
	assert.Equal(t, "/etc/ssl/cert.pem", config.API.SSL.Cert)
	assert.Equal(t, "/etc/ssl/key.pem", config.API.SSL.Key)
	assert.Equal(t, uint16(771), config.API.SSL.TLSMinVersion)
	assert.Equal(t, "your-api-secret", config.API.Secret)
	assert.Equal(t, slog.LevelDebug, config.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		config.API.CORS.AllowOrigins,
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		config.API.CORS.AllowMethods,
	)
	assert.Equal(
		t,
		[]string{
			"Origin",
			"Content-Length",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Requested-With",
			"Cache-Control",
			"X-CSRF-Token",
			"X-Request-ID",
		},
		config.API.CORS.AllowHeaders,
	)
}

func TestGetLogLevel(t *testing.T) {
	for _, expected := range []slog.Level{
		slog.LevelDebug,
		slog.LevelInfo,
		slog.LevelWarn,
		slog.LevelError,
	} {
		level, err := getLogLevel(expected.String())
		require.NoError(t, err)
		assert.Equal(t, expected, level)
	}

	_, err := getLogLevel("TRACE")
	require.Error(t, err)
}

func TestLevelStringToLevelVar(t *testing.T) {
	level, err := levelStringToLevelVar("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level.Level())

	_, err = levelStringToLevelVar("LOUD")
	require.Error(t, err)
}
