package quantumbank

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// Build metadata, set via ldflags.
var (
	Version   = "dev"
	CommitSHA = ""
	BuildTime = ""
)

var defaultLogWriter io.Writer = os.Stdout

// QuantumBank is the main bot struct. Use [New] to create an instance,
// and [QuantumBank.Run] to start it.
type QuantumBank struct {
	config *Config

	db      *gorm.DB
	writeDB DBI

	dbNotifier DBNotifier

	accounts  *AccountStore
	transfers *TransferProtocol
	pairing   *PairingQueue
	anime     *AnimeClient

	discord *Discord
	api     *API

	logger     *slog.Logger
	logHandler slog.Handler

	// runtimeConfig is the current state of [RuntimeConfig], loaded
	// from the database on startup and refreshed on updates
	runtimeConfig *RuntimeConfig
	cfgMu         sync.RWMutex

	// paused mirrors RuntimeConfig.Paused; while set, new commands
	// from non-priority accounts are rejected
	paused atomic.Bool

	// pendingSetup indicates the admin username/password have not been
	// set yet, and the bot is waiting on the API setup endpoint
	pendingSetup atomic.Bool

	// accountWorkers serialize command execution per account, so a
	// user can't run two transfers (or two verification flows) at once
	accountWorkers  map[string]*accountWorker
	accountWorkerMu sync.Mutex

	// dmWaiters routes incoming DM messages to an in-flight account
	// verification prompt, keyed by DM channel ID
	dmWaiters  map[string]chan *discordgo.Message
	dmWaiterMu sync.Mutex

	// signalStop stops the bot when received (used by [QuantumBank.Stop]
	// and the database notifier)
	signalStop chan struct{}

	// signalReady is closed when startup has finished
	signalReady chan struct{}

	// eventShutdown is closed when the bot begins shutting down
	eventShutdown chan struct{}

	// triggerRuntimeConfigRefreshCh forces a [RuntimeConfig] reload
	// from the database when received
	triggerRuntimeConfigRefreshCh chan bool

	// triggerAccountCacheRefreshCh forces a full account cache reload
	// when received
	triggerAccountCacheRefreshCh chan bool

	// triggerAccountUpdatedRefreshCh reloads a single account cache
	// entry for the received user ID
	triggerAccountUpdatedRefreshCh chan string

	// getInteractionHandlerFunc returns the handler to use for an
	// incoming interaction (overridden in tests)
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler

	runMu     sync.Mutex
	runtimeWG sync.WaitGroup
	startedAt time.Time
}

// New validates the given config and creates a new [QuantumBank]
// instance from it. The database isn't touched until [QuantumBank.Run]
// is called.
func New(config *Config) (*QuantumBank, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	qb := &QuantumBank{
		config:                         config,
		signalStop:                     make(chan struct{}, 1),
		signalReady:                    make(chan struct{}, 1),
		eventShutdown:                  make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh:  make(chan bool, 1),
		triggerAccountCacheRefreshCh:   make(chan bool, 1),
		triggerAccountUpdatedRefreshCh: make(chan string, 1),
		accountWorkers:                 map[string]*accountWorker{},
		dmWaiters:                      map[string]chan *discordgo.Message{},
	}

	qb.logHandler = tint.NewHandler(
		defaultLogWriter,
		&tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	qb.logger = slog.New(qb.logHandler).With(loggerNameKey, "quantum_bank")

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter,
			&tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		),
	)

	disc, err := newDiscord(config.Discord)
	if err != nil {
		return nil, err
	}
	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter,
			&tint.Options{
				Level:     config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")
	disc.qb = qb
	qb.discord = disc

	qb.anime = NewAnimeClient(
		config.Anime,
		config.HTTPClient,
		slog.New(
			tint.NewHandler(
				defaultLogWriter,
				&tint.Options{
					Level:     config.Anime.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "anime"),
	)

	api, err := newAPI(qb, config.API)
	if err != nil {
		return nil, err
	}
	qb.api = api

	qb.getInteractionHandlerFunc = func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler {
		return GatewayHandler{
			session:     qb.discord.session,
			interaction: i,
			config:      qb.RuntimeConfig().CommandOptions,
			logger: qb.logger.With(
				loggerNameKey, "gateway_handler",
			),
		}
	}

	return qb, nil
}

// ValidateConfig validates the given config
func ValidateConfig(config *Config) error {
	return structValidator.Struct(config)
}

// RuntimeConfig returns a copy of the current [RuntimeConfig]
func (qb *QuantumBank) RuntimeConfig() RuntimeConfig {
	qb.cfgMu.RLock()
	defer qb.cfgMu.RUnlock()
	if qb.runtimeConfig == nil {
		return DefaultRuntimeConfig()
	}
	return *qb.runtimeConfig
}

func (qb *QuantumBank) setRuntimeConfig(c *RuntimeConfig) {
	qb.cfgMu.Lock()
	defer qb.cfgMu.Unlock()
	qb.runtimeConfig = c
	qb.paused.Store(c.Paused)
}

// Run starts the bot, blocking until the context is canceled or the
// bot is stopped.
func (qb *QuantumBank) Run(ctx context.Context) error {
	qb.runMu.Lock()
	defer qb.runMu.Unlock()

	logger := qb.logger
	ctx = WithLogger(ctx, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	qb.startedAt = time.Now()

	startCtx, startCancel := context.WithTimeout(ctx, qb.config.StartupTimeout)
	defer startCancel()

	if err := qb.initRun(startCtx); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	notifier, err := newDBNotifier(qb)
	if err != nil {
		return fmt.Errorf("error creating db notifier: %w", err)
	}
	qb.dbNotifier = notifier

	notifyChannels := []string{
		notifier.RuntimeConfigChannelName(),
		notifier.AccountCacheChannelName(),
		notifier.AccountUpdateChannelName(),
		notifier.StopChannelName(),
	}
	for _, channel := range notifyChannels {
		if channel == "" {
			continue
		}
		qb.runtimeWG.Add(1)
		go func(ch string) {
			defer qb.runtimeWG.Done()
			if listenErr := notifier.Listen(ctx, ch); listenErr != nil {
				logger.Error(
					"db listener stopped",
					tint.Err(listenErr),
					"channel", ch,
				)
			}
		}(channel)
	}

	qb.runtimeWG.Add(1)
	go func() {
		defer qb.runtimeWG.Done()
		if err := qb.api.Serve(ctx); err != nil {
			logger.Error("api server stopped", tint.Err(err))
		}
	}()

	if qb.pendingSetup.Load() {
		logger.Warn(
			"admin credentials not set, waiting on setup via the API",
		)
		if err := qb.waitOnSetup(ctx); err != nil {
			return err
		}
	}

	runtimeConfig := qb.RuntimeConfig()
	qb.setRuntimeLevels(runtimeConfig)

	if runtimeConfig.DiscordGatewayEnabled {
		if err := qb.initDiscordSession(ctx); err != nil {
			return fmt.Errorf("discord session failed: %w", err)
		}
	} else {
		logger.Warn("discord gateway disabled, bot will be idle")
	}

	qb.startRuntimeConfigRefresher(ctx)
	qb.startAccountCacheRefresher(ctx)
	qb.startAccountUpdatedListener(ctx)
	qb.startTransferSweeper(ctx)
	qb.startFailedKYCJanitor(ctx)

	logger.Info(
		"quantum bank is open",
		"version", Version,
		"paused", qb.paused.Load(),
	)
	close(qb.signalReady)

	select {
	case <-ctx.Done():
		logger.Warn("context canceled, shutting down")
	case <-qb.signalStop:
		logger.Warn("got stop signal, shutting down")
		cancel()
	}

	qb.shutdown()
	return nil
}

// Stop signals a running bot to shut down.
func (qb *QuantumBank) Stop() {
	select {
	case qb.signalStop <- struct{}{}:
	default:
	}
}

// initRun connects to the database, loads the account cache and
// bootstraps [RuntimeConfig].
func (qb *QuantumBank) initRun(ctx context.Context) error {
	logger := qb.logger
	ctx = WithLogger(ctx, logger)

	db, err := CreateDB(ctx, qb.config.DatabaseType, qb.config.Database)
	if err != nil {
		return err
	}
	qb.db = db

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("error getting database handle: %w", err)
	}

	concurrentWrites := true
	if qb.config.DatabaseType == dbTypeSQLite {
		concurrentWrites = false
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if err = db.WithContext(ctx).Exec(pragma).Error; err != nil {
				return fmt.Errorf("error setting pragma %q: %w", pragma, err)
			}
		}
	}

	writeDB := NewDatabase(
		db,
		logger.With(loggerNameKey, "database"),
		concurrentWrites,
	)
	qb.writeDB = writeDB

	if _, err = writeDB.LoadAccounts(ctx); err != nil {
		return fmt.Errorf("error loading account cache: %w", err)
	}

	qb.accounts = NewAccountStore(
		writeDB,
		logger.With(loggerNameKey, "account_store"),
	)
	qb.transfers = NewTransferProtocol(
		qb.accounts,
		writeDB,
		logger,
		qb.config.Bank.TransferConfirmTimeout,
	)
	qb.pairing = NewPairingQueue(
		logger,
		qb.config.Bank.PairingWaitTimeout,
	)

	return qb.initRuntimeConfig(ctx)
}

// initRuntimeConfig loads [RuntimeConfig] from the database, creating
// the row with defaults if it doesn't exist yet. If no admin
// credentials are set, the bot is flagged as pending setup.
func (qb *QuantumBank) initRuntimeConfig(ctx context.Context) error {
	var runtimeConfig RuntimeConfig
	err := qb.db.WithContext(ctx).Order("id desc").First(&runtimeConfig).Error
	switch {
	case err == nil:
		//
	case errors.Is(err, gorm.ErrRecordNotFound):
		runtimeConfig = DefaultRuntimeConfig()
		if _, err = qb.writeDB.Create(&runtimeConfig); err != nil {
			return fmt.Errorf("error creating runtime config: %w", err)
		}
		qb.logger.Info("created runtime config", "config", runtimeConfig)
	default:
		return fmt.Errorf("error loading runtime config: %w", err)
	}

	qb.setRuntimeConfig(&runtimeConfig)

	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		qb.pendingSetup.Store(true)
	}
	return nil
}

// waitOnSetup blocks until admin credentials have been set via the
// API, or the context is canceled.
func (qb *QuantumBank) waitOnSetup(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-qb.signalStop:
			return errors.New("stopped while waiting on setup")
		case <-ticker.C:
			if !qb.pendingSetup.Load() {
				qb.logger.Info("admin credentials set, continuing startup")
				return nil
			}
		}
	}
}

// initDiscordSession creates the gateway session, registers event
// handlers and opens the websocket connection.
func (qb *QuantumBank) initDiscordSession(ctx context.Context) error {
	session, err := qb.discord.newSession()
	if err != nil {
		return err
	}
	if qb.config.HTTPClient != nil {
		session.SetHTTPClient(qb.config.HTTPClient)
	}
	session.SetIdentify(
		discordgo.Identify{
			Intents:  qb.config.Discord.GatewayIntents,
			Presence: getDiscordPresenceStatusUpdate(qb.RuntimeConfig()),
		},
	)
	qb.discord.session = session

	qb.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(qb.discord.handlerReady()),
		session.AddHandler(qb.discord.handlerConnect()),
		session.AddHandler(qb.discord.handlerDisconnect()),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handlerCtx := WithLogger(ctx, qb.logger)
				handler := qb.getInteractionHandlerFunc(handlerCtx, i)
				qb.runtimeWG.Add(1)
				go func() {
					defer qb.runtimeWG.Done()
					qb.handleInteraction(handlerCtx, handler)
				}()
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				qb.runtimeWG.Add(1)
				go func() {
					defer qb.runtimeWG.Done()
					qb.handleDiscordMessage(ctx, m)
				}()
			},
		),
	}

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord connection: %w", err)
	}
	return nil
}

// RegisterSlashCommands registers the bot's slash commands with
// Discord, overwriting any existing commands.
func (qb *QuantumBank) RegisterSlashCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	if qb.discord.session == nil {
		session, err := qb.discord.newSession()
		if err != nil {
			return nil, err
		}
		qb.discord.session = session
	}
	return qb.discord.registerCommands(options...)
}

// startRuntimeConfigRefresher reloads [RuntimeConfig] from the
// database when triggered by the notifier, and at least every
// RuntimeConfigTTL if set.
func (qb *QuantumBank) startRuntimeConfigRefresher(ctx context.Context) {
	qb.runtimeWG.Add(1)
	go func() {
		defer qb.runtimeWG.Done()
		var tickerCh <-chan time.Time
		if qb.config.RuntimeConfigTTL > 0 {
			ticker := time.NewTicker(qb.config.RuntimeConfigTTL)
			defer ticker.Stop()
			tickerCh = ticker.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-tickerCh:
				qb.refreshRuntimeConfig(ctx)
			case <-qb.triggerRuntimeConfigRefreshCh:
				qb.refreshRuntimeConfig(ctx)
			}
		}
	}()
}

// refreshRuntimeConfig reloads the current [RuntimeConfig] from the
// database and applies the log levels and paused state.
func (qb *QuantumBank) refreshRuntimeConfig(ctx context.Context) {
	var runtimeConfig RuntimeConfig
	err := qb.db.WithContext(ctx).Order("id desc").First(&runtimeConfig).Error
	if err != nil {
		qb.logger.Error("error refreshing runtime config", tint.Err(err))
		return
	}
	qb.setRuntimeConfig(&runtimeConfig)
	qb.setRuntimeLevels(runtimeConfig)
	qb.logger.Info("refreshed runtime config", "config", runtimeConfig)
}

// setRuntimeLevels applies the log levels from the given
// [RuntimeConfig] to the relevant level vars.
func (qb *QuantumBank) setRuntimeLevels(runtimeConfig RuntimeConfig) {
	qb.config.LogLevel.Set(runtimeConfig.LogLevel.Level())
	qb.config.Discord.LogLevel.Set(runtimeConfig.DiscordLogLevel.Level())
	qb.config.Discord.DiscordGoLogLevel.Set(
		runtimeConfig.DiscordGoLogLevel.Level(),
	)
	qb.config.DatabaseLogLevel.Set(runtimeConfig.DatabaseLogLevel.Level())
	qb.config.API.LogLevel.Set(runtimeConfig.APILogLevel.Level())
	qb.config.Anime.LogLevel.Set(runtimeConfig.AnimeLogLevel.Level())
}

// startAccountCacheRefresher reloads the full account cache when
// triggered, and at least every AccountCacheTTL if set.
func (qb *QuantumBank) startAccountCacheRefresher(ctx context.Context) {
	qb.runtimeWG.Add(1)
	go func() {
		defer qb.runtimeWG.Done()
		var tickerCh <-chan time.Time
		if qb.config.AccountCacheTTL > 0 {
			ticker := time.NewTicker(qb.config.AccountCacheTTL)
			defer ticker.Stop()
			tickerCh = ticker.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-tickerCh:
				//
			case <-qb.triggerAccountCacheRefreshCh:
				//
			}
			if _, err := qb.writeDB.LoadAccounts(ctx); err != nil {
				qb.logger.Error(
					"error refreshing account cache", tint.Err(err),
				)
			}
		}
	}()
}

// startAccountUpdatedListener reloads single account cache entries as
// update notifications arrive.
func (qb *QuantumBank) startAccountUpdatedListener(ctx context.Context) {
	qb.runtimeWG.Add(1)
	go func() {
		defer qb.runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case userID := <-qb.triggerAccountUpdatedRefreshCh:
				if _, err := qb.writeDB.ReloadAccount(ctx, userID); err != nil {
					qb.logger.Error(
						"error reloading account",
						tint.Err(err),
						"user_id", userID,
					)
				}
			}
		}
	}()
}

// startTransferSweeper periodically discards pending transfers whose
// confirmation window lapsed without a confirm or decline.
func (qb *QuantumBank) startTransferSweeper(ctx context.Context) {
	interval := qb.config.Bank.TransferSweepInterval
	if interval <= 0 {
		interval = DefaultPendingTransferSweepEvery
	}
	qb.runtimeWG.Add(1)
	go func() {
		defer qb.runtimeWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				qb.transfers.Sweep()
			}
		}
	}()
}

// startFailedKYCJanitor deletes failed verification audit rows older
// than the configured retention window, once a day.
func (qb *QuantumBank) startFailedKYCJanitor(ctx context.Context) {
	retention := qb.config.Bank.FailedKYCRetention
	if retention <= 0 {
		return
	}
	qb.runtimeWG.Add(1)
	go func() {
		defer qb.runtimeWG.Done()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := qb.accounts.pruneFailedKYC(ctx, retention)
				if err != nil {
					qb.logger.Error(
						"error pruning failed verifications", tint.Err(err),
					)
				} else if deleted > 0 {
					qb.logger.Info(
						"pruned failed verifications", "deleted", deleted,
					)
				}
			}
		}
	}()
}

// shutdown closes the gateway connection and waits (up to
// ShutdownTimeout) for in-flight work to finish.
func (qb *QuantumBank) shutdown() {
	logger := qb.logger
	close(qb.eventShutdown)

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		qb.config.ShutdownTimeout,
	)
	defer cancel()

	qb.stopAccountWorkers()

	if qb.discord.session != nil {
		for _, remove := range qb.discord.discordgoRemoveHandlerFuncs {
			remove()
		}
		if err := qb.discord.session.Close(); err != nil {
			logger.Error("error closing discord session", tint.Err(err))
		}
	}

	done := make(chan struct{}, 1)
	go func() {
		qb.runtimeWG.Wait()
		done <- struct{}{}
	}()

	select {
	case <-done:
		logger.Info("all goroutines finished")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown deadline reached, exiting")
	}
	logger.Info("quantum bank has closed")
}

func (qb *QuantumBank) stopAccountWorkers() {
	qb.accountWorkerMu.Lock()
	defer qb.accountWorkerMu.Unlock()
	for userID, worker := range qb.accountWorkers {
		select {
		case worker.signalStop <- struct{}{}:
			//
		default:
			qb.logger.Warn("worker stop signal full", "user_id", userID)
		}
	}
}

// Pause sets the bot to a paused state, where new commands from
// non-priority accounts are rejected. The state is persisted, so the
// bot remains paused across restarts.
func (qb *QuantumBank) Pause(ctx context.Context) bool {
	previous := qb.paused.Swap(true)
	if previous {
		return false
	}
	runtimeConfig := qb.RuntimeConfig()
	runtimeConfig.Paused = true
	if _, err := qb.writeDB.Update(
		&runtimeConfig, columnRuntimeConfigPaused, true,
	); err != nil {
		qb.logger.ErrorContext(ctx, "error saving paused state", tint.Err(err))
	}
	qb.setRuntimeConfig(&runtimeConfig)
	qb.logger.WarnContext(ctx, "bot paused")
	qb.notifyRuntimeConfigChanged(ctx)
	return true
}

// Resume unpauses the bot.
func (qb *QuantumBank) Resume(ctx context.Context) bool {
	previous := qb.paused.Swap(false)
	if !previous {
		return false
	}
	runtimeConfig := qb.RuntimeConfig()
	runtimeConfig.Paused = false
	if _, err := qb.writeDB.Update(
		&runtimeConfig, columnRuntimeConfigPaused, false,
	); err != nil {
		qb.logger.ErrorContext(ctx, "error saving paused state", tint.Err(err))
	}
	qb.setRuntimeConfig(&runtimeConfig)
	qb.logger.InfoContext(ctx, "bot resumed")
	qb.notifyRuntimeConfigChanged(ctx)
	return true
}

func (qb *QuantumBank) notifyRuntimeConfigChanged(ctx context.Context) {
	if qb.dbNotifier == nil {
		return
	}
	if !qb.dbNotifier.ReloadRuntimeConfig(ctx) {
		qb.logger.ErrorContext(
			ctx, "error sending runtime config notification",
		)
	}
}

// getAccountWorker returns the running command worker for the given
// account, starting one if needed.
func (qb *QuantumBank) getAccountWorker(
	ctx context.Context,
	account *Account,
) *accountWorker {
	qb.accountWorkerMu.Lock()
	defer qb.accountWorkerMu.Unlock()

	worker := qb.accountWorkers[account.ID]
	if worker != nil {
		return worker
	}

	worker = newAccountWorker(qb, account)
	qb.accountWorkers[account.ID] = worker

	startSignal := make(chan struct{}, 1)
	go worker.Run(ctx, startSignal)
	go func() {
		stoppedAt := <-worker.stopped
		qb.accountWorkerMu.Lock()
		if qb.accountWorkers[account.ID] == worker {
			delete(qb.accountWorkers, account.ID)
		}
		qb.accountWorkerMu.Unlock()
		qb.logger.Info(
			"removed account worker",
			"user_id", account.ID,
			"stopped_at", stoppedAt,
		)
	}()
	<-startSignal
	return worker
}

// awaitDM registers a waiter for the next DM message in the given
// channel. The returned cancel func must be called when the waiter is
// done, whether or not a message arrived.
func (qb *QuantumBank) awaitDM(
	channelID string,
) (<-chan *discordgo.Message, func()) {
	ch := make(chan *discordgo.Message, 1)
	qb.dmWaiterMu.Lock()
	qb.dmWaiters[channelID] = ch
	qb.dmWaiterMu.Unlock()
	return ch, func() {
		qb.dmWaiterMu.Lock()
		if qb.dmWaiters[channelID] == ch {
			delete(qb.dmWaiters, channelID)
		}
		qb.dmWaiterMu.Unlock()
	}
}

// handleDiscordMessage routes incoming gateway messages. DM messages
// are delivered to an in-flight verification prompt if one is waiting
// on the channel, otherwise relayed to the author's anonymous chat
// partner if they're in a session.
func (qb *QuantumBank) handleDiscordMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	// Guild messages aren't part of any DM flow
	if m.GuildID != "" {
		return
	}

	logger := qb.logger.With(loggerNameKey, "discord_message")

	qb.runtimeWG.Add(1)
	go func() {
		defer qb.runtimeWG.Done()
		record := NewDiscordMessage(m.Message)
		if _, err := qb.writeDB.Create(&record); err != nil {
			logger.ErrorContext(
				ctx, "error saving discord message", tint.Err(err),
			)
		}
	}()

	qb.dmWaiterMu.Lock()
	waiter := qb.dmWaiters[m.ChannelID]
	qb.dmWaiterMu.Unlock()
	if waiter != nil {
		select {
		case waiter <- m.Message:
			return
		default:
			// waiter already got a message, fall through
		}
	}

	if qb.pairing == nil || !qb.pairing.InSession(m.Author.ID) {
		return
	}
	peer, err := qb.pairing.Relay(m.Author.ID)
	if err != nil {
		logger.WarnContext(ctx, "relay failed", tint.Err(err))
		return
	}
	content := truncate("🎭 "+m.Content, discordMaxMessageLength)
	if _, err = qb.discord.session.ChannelMessageSend(
		peer.ChannelID, content,
	); err != nil {
		logger.ErrorContext(ctx, "error relaying message", tint.Err(err))
	}
}

// handleRecover logs a recovered panic along with a stack trace.
func (qb *QuantumBank) handleRecover(ctx context.Context, rv any) {
	if rv == nil {
		return
	}
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = qb.logger
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		tint.Err(fmt.Errorf("%v", rv)),
		"stack", string(debug.Stack()),
	)
}
