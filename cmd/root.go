package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"testing"

	"github.com/D9292S/Quantum-Bank/quantumbank"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	cfg        = quantumbank.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "quantumbank [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", quantumbank.DefaultDatabase)
	viper.SetDefault("database_type", quantumbank.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		quantumbank.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		quantumbank.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("runtime_config_ttl", quantumbank.DefaultRuntimeConfigTTL)
	viper.SetDefault("account_cache_ttl", quantumbank.DefaultAccountCacheTTL)

	viper.SetDefault("log_level", quantumbank.DefaultLogLevel.String())
	viper.SetDefault("api.log_level", quantumbank.DefaultAPILogLevel.String())

	viper.SetDefault("startup_timeout", quantumbank.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", quantumbank.DefaultShutdownTimeout)

	// Bank config
	viper.SetDefault(
		"bank.transfer_confirm_timeout",
		quantumbank.DefaultTransferConfirmTimeout,
	)
	viper.SetDefault(
		"bank.transfer_sweep_interval",
		quantumbank.DefaultPendingTransferSweepEvery,
	)
	viper.SetDefault(
		"bank.pairing_wait_timeout",
		quantumbank.DefaultPairingWaitTimeout,
	)
	viper.SetDefault(
		"bank.kyc_reply_timeout",
		quantumbank.DefaultKYCReplyTimeout,
	)
	viper.SetDefault(
		"bank.kyc_processing_delay",
		quantumbank.DefaultKYCProcessingDelay,
	)
	viper.SetDefault("bank.kyc_max_retries", quantumbank.DefaultKYCMaxRetries)
	viper.SetDefault(
		"bank.failed_kyc_retention",
		quantumbank.DefaultFailedKYCRetention,
	)
	viper.SetDefault(
		"bank.leaderboard_limit",
		quantumbank.DefaultLeaderboardLimit,
	)
	viper.SetDefault("bank.passbook_limit", quantumbank.DefaultPassbookLimit)

	// Anime config
	viper.SetDefault("anime.base_url", quantumbank.DefaultAnimeBaseURL)
	viper.SetDefault(
		"anime.requests_per_second",
		quantumbank.DefaultAnimeRequestsPerSecond,
	)
	viper.SetDefault("anime.log_level", quantumbank.DefaultAnimeLogLevel.String())

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault(
		"discord.log_level",
		quantumbank.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		quantumbank.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		quantumbank.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault(
		"discord.startup_message",
		quantumbank.DefaultDiscordStartupMessage,
	)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// API config
	viper.SetDefault("api.listen", quantumbank.DefaultAPIListen)
	viper.SetDefault("api.secret", "")

	viper.SetDefault(
		"api.session_max_age",
		quantumbank.DefaultAPISessionMaxAge,
	)
	viper.SetDefault("api.read_timeout", quantumbank.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		quantumbank.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", quantumbank.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", quantumbank.DefaultIdleTimeout)

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))
	fatalErr(viper.BindEnv("api.ssl.tls_min_version"))

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		quantumbank.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		quantumbank.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		quantumbank.DefaultCORSExposeHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", quantumbank.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		quantumbank.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(quantumbank.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = quantumbank.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)

	for k, v := range viper.AllSettings() {
		log.Printf("config: %s: %v", k, v)
	}
	logLevelVar, err := levelStringToLevelVar(viper.GetString("log_level"))
	if err != nil {
		log.Fatalf("error parsing log_level: %v", err)
	}
	viper.Set("log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.log_level"))
	if err != nil {
		log.Fatalf("error parsing discord log level: %v", err)
	}
	viper.Set("discord.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("anime.log_level"))
	if err != nil {
		log.Fatalf("error parsing anime log level: %v", err)
	}
	viper.Set("anime.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.discordgo_log_level"))
	if err != nil {
		log.Fatalf("error parsing discordgo log level: %v", err)
	}
	viper.Set("discord.discordgo_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("database_log_level"))
	if err != nil {
		log.Fatalf("error parsing database log level: %v", err)
	}
	viper.Set("database_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("api.log_level"))
	if err != nil {
		log.Fatalf("error parsing api log level: %v", err)
	}
	viper.Set("api.log_level", logLevelVar)
}

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
