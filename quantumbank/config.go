//nolint:lll // struct tags can't be split
package quantumbank

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	EnvvarSetEnvPrefix     = "QUANTUMBANK_ENV_PREFIX"
	DefaultEnvPrefix       = "QB"
	DefaultDatabaseType    = "sqlite"
	DefaultDatabase        = "quantumbank.sqlite3"
	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	// DefaultTransferConfirmTimeout bounds how long an initiated
	// transfer waits for the payer to press Confirm.
	DefaultTransferConfirmTimeout = 90 * time.Second

	// DefaultPairingWaitTimeout bounds how long /random_chat waits for
	// a partner.
	DefaultPairingWaitTimeout = 120 * time.Second

	// DefaultKYCReplyTimeout bounds each DM prompt of the
	// account-opening flow.
	DefaultKYCReplyTimeout = 120 * time.Second

	// DefaultKYCProcessingDelay is the pause between accepting the
	// verification details and announcing the opened account.
	DefaultKYCProcessingDelay = 3 * time.Second

	DefaultKYCMaxRetries = 2

	DefaultLeaderboardLimit = 10
	DefaultPassbookLimit    = 10

	DiscordSlashCommandCreateAccount   = "create_account"
	DiscordSlashCommandBalance         = "balance"
	DiscordSlashCommandPassbook        = "passbook"
	DiscordSlashCommandTransferAddress = "transfer_address"
	DiscordSlashCommandPay             = "pay"
	DiscordSlashCommandRandomChat      = "random_chat"
	DiscordSlashCommandLeaderboard     = "leaderboard"
	DiscordSlashCommandChangeBranch    = "change_branch"
	DiscordSlashCommandPing            = "ping"
	DiscordSlashCommandUserInfo        = "userinfo"
	DiscordSlashCommandServerInfo      = "serverinfo"
	DiscordSlashCommandBotInfo         = "botinfo"
	DiscordSlashCommandHelp            = "help"
	DiscordSlashCommandAnime           = "anime"
	DiscordSlashCommandGrant           = "grant"

	DefaultDiscordLogLevel         = slog.LevelWarn
	DefaultDiscordgoLogLevel       = slog.LevelWarn
	DefaultDiscordErrorMessage     = "sorry, something went wrong!"
	DefaultDiscordRateLimitMessage = "I'm still working on your last command!"
	DefaultDiscordCustomStatus     = "/pay | /balance"
	DefaultDiscordStartupMessage   = "Quantum Bank is open!"
	discordMaxMessageLength        = 2000

	DefaultAPIListen        = "127.0.0.1:5000"
	DefaultAPITLSMinVersion = tls.VersionTLS12
	DefaultAPISessionMaxAge = 6 * time.Hour
	DefaultAPILogLevel      = slog.LevelInfo

	DefaultDatabaseSlowThreshold   = 200 * time.Millisecond
	DefaultDatabaseLogLevel        = slog.LevelInfo
	defaultListenNetwork           = "tcp"
	DefaultAPICORSAllowCredentials = true

	DefaultAnimeBaseURL              = "https://kitsu.io/api/edge"
	DefaultAnimeRequestsPerSecond    = 2
	DefaultAnimeLogLevel             = slog.LevelInfo
	DefaultFailedKYCRetention        = 30 * 24 * time.Hour
	DefaultPendingTransferSweepEvery = time.Minute

	DefaultRuntimeConfigTTL = 5 * time.Minute
	DefaultAccountCacheTTL  = time.Hour
)

// DefaultDiscordGatewayIntent includes message content: the KYC DM
// flow and anonymous chat relay both read DM message text.
const DefaultDiscordGatewayIntent = discordgo.IntentsAllWithoutPrivileged |
	discordgo.IntentMessageContent

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
		"X-CSRF-Token",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		xRequestIDHeader,
		"Location",
		"ETag",
		"Authorization",
		"Last-Modified",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Bank configures account, transfer and pairing behavior
	Bank *BankConfig `yaml:"bank" mapstructure:"bank" json:"bank"`

	// Anime configures the Kitsu API client backing /anime
	Anime *AnimeConfig `yaml:"anime" mapstructure:"anime" json:"anime"`

	// API configures the backend API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// RuntimeConfigTTL sets the time-to-live for the RuntimeConfig cache.
	// By default, RuntimeConfig is loaded on start, and refreshed with each
	// update. When running multiple instances, though, the config may become
	// 'stale' if updated from another instance. If this TTL is set above 0,
	// the config will be refreshed from the database at least every TTL duration.
	// If using PostgreSQL, LISTEN/NOTIFY will be used to announce updates in
	// addition to this.
	RuntimeConfigTTL time.Duration `yaml:"runtime_config_ttl" mapstructure:"runtime_config_ttl" json:"runtime_config_ttl"`

	// AccountCacheTTL sets the time-to-live for the account cache. By default,
	// all [Account] entries are loaded on startup, and new/updated entries are
	// added/updated as needed. If this TTL is set above 0, the cache will
	// be refreshed from the database at least every TTL duration. This is
	// primarily useful when running multiple instances.
	AccountCacheTTL time.Duration `yaml:"account_cache_ttl" mapstructure:"account_cache_ttl" json:"account_cache_ttl"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// BankConfig configures the banking domain: transfer confirmation,
// anonymous chat pairing, the KYC account-opening flow, and display
// limits.
type BankConfig struct {
	// How long an initiated transfer waits for confirmation before it
	// expires
	TransferConfirmTimeout time.Duration `yaml:"transfer_confirm_timeout" mapstructure:"transfer_confirm_timeout" json:"transfer_confirm_timeout"`

	// How often expired pending transfers are swept
	TransferSweepInterval time.Duration `yaml:"transfer_sweep_interval" mapstructure:"transfer_sweep_interval" json:"transfer_sweep_interval"`

	// How long /random_chat waits for a partner
	PairingWaitTimeout time.Duration `yaml:"pairing_wait_timeout" mapstructure:"pairing_wait_timeout" json:"pairing_wait_timeout"`

	// How long each KYC DM prompt waits for a reply
	KYCReplyTimeout time.Duration `yaml:"kyc_reply_timeout" mapstructure:"kyc_reply_timeout" json:"kyc_reply_timeout"`

	// Pause between accepting verification details and announcing the
	// opened account
	KYCProcessingDelay time.Duration `yaml:"kyc_processing_delay" mapstructure:"kyc_processing_delay" json:"kyc_processing_delay"`

	// How many times an invalid KYC answer may be retried before the
	// attempt is abandoned
	KYCMaxRetries int `yaml:"kyc_max_retries" mapstructure:"kyc_max_retries" json:"kyc_max_retries"`

	// Retention window for failed verification audit rows
	FailedKYCRetention time.Duration `yaml:"failed_kyc_retention" mapstructure:"failed_kyc_retention" json:"failed_kyc_retention"`

	// Number of accounts shown by /leaderboard
	LeaderboardLimit int `yaml:"leaderboard_limit" mapstructure:"leaderboard_limit" json:"leaderboard_limit" binding:"min=1,max=25"`

	// Number of transactions shown by /passbook
	PassbookLimit int `yaml:"passbook_limit" mapstructure:"passbook_limit" json:"passbook_limit" binding:"min=1,max=25"`
}

// AnimeConfig configures the Kitsu anime search client.
type AnimeConfig struct {
	// Kitsu API base URL
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`

	// Outgoing request rate limit
	RequestsPerSecond int `yaml:"requests_per_second" mapstructure:"requests_per_second" json:"requests_per_second" binding:"min=1"`

	// Log level for the anime API client
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// If specified, _and_ [RuntimeConfig.DiscordGatewayEnabled] is true,
	// _and_ [RuntimeConfig.DiscordNotificationChannelID] is set, the bot will
	// send the specified message to that channel ID whenever it connects to the
	// discord gateway.
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message" binding:"required"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// APIConfig configures the backend API server
type APIConfig struct {
	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"omitempty,hostname|filepath"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Secret used for signing cookies
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// Configuration for SSL/TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"omitempty,min=1s"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"  binding:"omitempty,min=1s"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"  binding:"omitempty,min=1s"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"  binding:"omitempty,min=1s"`

	// Max age for session cookies
	SessionMaxAge time.Duration `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age"  binding:"omitempty,min=10m,max=24h"`

	// If true, the SameSite attribute of the session cookie will be set to 'None'
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}
	animeLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)
	animeLogLevel.Set(DefaultAnimeLogLevel)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		RuntimeConfigTTL:      DefaultRuntimeConfigTTL,
		AccountCacheTTL:       DefaultAccountCacheTTL,
		Bank: &BankConfig{
			TransferConfirmTimeout: DefaultTransferConfirmTimeout,
			TransferSweepInterval:  DefaultPendingTransferSweepEvery,
			PairingWaitTimeout:     DefaultPairingWaitTimeout,
			KYCReplyTimeout:        DefaultKYCReplyTimeout,
			KYCProcessingDelay:     DefaultKYCProcessingDelay,
			KYCMaxRetries:          DefaultKYCMaxRetries,
			FailedKYCRetention:     DefaultFailedKYCRetention,
			LeaderboardLimit:       DefaultLeaderboardLimit,
			PassbookLimit:          DefaultPassbookLimit,
		},
		Anime: &AnimeConfig{
			BaseURL:           DefaultAnimeBaseURL,
			RequestsPerSecond: DefaultAnimeRequestsPerSecond,
			LogLevel:          animeLogLevel,
		},
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultDiscordStartupMessage,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultAPITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			SessionMaxAge:     DefaultAPISessionMaxAge,
			CORS:              DefaultCORSConfig(),
		},
	}
}
