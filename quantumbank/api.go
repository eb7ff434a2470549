package quantumbank

import (
	"context"
	cryprand "crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	pprofPrefix                = "/debug"
	apiPrefix                  = "/api"
	apiPathPause               = "/pause"
	apiPathResume              = "/resume"
	apiPathQuit                = "/quit"
	apiPathLogin               = "/login"
	apiPathLogout              = "/logout"
	apiPathLoggedIn            = "/logged_in"
	apiHealthCheck             = "/healthz"
	apiPathStatus              = "/status"
	apiPathConfig              = "/config"
	apiPathSetup               = "/setup"
	apiPathSetupStatus         = "/setup/status"
	apiPathAccounts            = "/accounts"
	apiPathAccountDetail       = "/account/:id"
	apiPathAccountTransactions = "/account/:id/transactions"
	apiPathReloadAccounts      = "/accounts/reload"
	apiPathRegisterCommands    = "/discord/register_commands"
	apiPathGetDiscordMessages  = "/discord_messages"
	apiPathInteractionLogs     = "/interaction_logs"
	apiPathFailedVerifications = "/failed_verifications"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
)

var structValidator = validator.New()

//nolint:gochecknoinits // gotta register the validator tag name
func init() {
	structValidator.SetTagName("binding")
}

var (
	Ascending  Sort = "asc"
	Descending Sort = "desc"
)

type Sort string

// API is the admin backend HTTP server: credentials setup, login,
// runtime config, account inspection and bot lifecycle control.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	requestMetrics      map[string]int
	requestMetricsMu    sync.Mutex
	logger              *slog.Logger

	handlers *APIHandlers
}

// newAPI initializes the API server: session store, TLS config,
// middleware and routes.
func newAPI(qb *QuantumBank, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		requestMetrics:      map[string]int{},
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	apiHandlers := NewAPIHandlers(qb)
	api.handlers = apiHandlers
	api.store = apiHandlers.store
	_ = r.Use(sessions.Sessions(sessionVarName, apiHandlers.store))

	tlsCfg, e := tlsConfig(
		config.SSL.Cert,
		config.SSL.Key,
		config.SSL.TLSMinVersion,
	)
	if e != nil {
		return nil, fmt.Errorf("error loading SSL certs: %w", e)
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	api.logger = setupLogger.With(loggerNameKey, "api")

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && api.config.Development {
		corsConfig.AllowOrigins = []string{"*"}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	r.POST(apiPathSetup, apiHandlers.adminSetup)
	r.GET(apiPathSetupStatus, apiHandlers.setupStatus)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(qb))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathStatus, apiHandlers.botStatus)
	protected.GET(apiPathConfig, apiHandlers.getConfig)
	protected.PATCH(apiPathConfig, apiHandlers.updateRuntimeConfig)
	protected.POST(apiPathPause, apiHandlers.botPause)
	protected.POST(apiPathResume, apiHandlers.botResume)
	protected.POST(apiPathQuit, apiHandlers.botQuit)
	protected.GET(apiPathAccounts, apiHandlers.getAccounts)
	protected.GET(apiPathAccountDetail, apiHandlers.getAccountDetail)
	protected.GET(
		apiPathAccountTransactions, apiHandlers.getAccountTransactions,
	)
	protected.POST(apiPathReloadAccounts, apiHandlers.reloadAccounts)
	protected.POST(apiPathRegisterCommands, apiHandlers.discordRegisterCommands)
	protected.GET(apiPathGetDiscordMessages, apiHandlers.getDiscordMessages)
	protected.GET(apiPathInteractionLogs, apiHandlers.getInteractionLogs)
	protected.GET(apiPathFailedVerifications, apiHandlers.getFailedVerifications)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = tls.NewListener(ln, a.httpServer.TLSConfig)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()
		_ = a.httpServer.Shutdown(shutdownCtx)
	}()

	err := a.httpServer.Serve(a.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *API) getSessionUsername(c *gin.Context) (string, error) {
	session, err := a.store.Get(c.Request, sessionVarName)
	if err != nil {
		return "", err
	}
	username, ok := session.Values[sessionVarField]
	if !ok {
		return "", errors.New("username not found in session")
	}
	s, ok := username.(string)
	if !ok {
		return "", errors.New("username not a string")
	}
	return s, nil
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers contains the handlers for the API endpoints.
type APIHandlers struct {
	qb     *QuantumBank
	logger *slog.Logger
	store  CookieStore
}

func NewAPIHandlers(qb *QuantumBank) *APIHandlers {
	logger := qb.logger.With(loggerNameKey, "api")

	var secretKey []byte
	switch sk := qb.config.API.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	sameSite := http.SameSiteStrictMode
	if qb.config.API.Development {
		sameSite = http.SameSiteNoneMode
	}
	store.Options(
		sessions.Options{
			HttpOnly: true,
			Secure:   true,
			MaxAge:   int(qb.config.API.SessionMaxAge.Seconds()),
			SameSite: sameSite,
		},
	)
	return &APIHandlers{qb: qb, logger: logger, store: store}
}

// setupStatus reports whether the initial admin setup is still pending.
func (h *APIHandlers) setupStatus(c *gin.Context) {
	c.JSON(http.StatusOK, setupResponse{Required: h.qb.pendingSetup.Load()})
}

// adminSetup sets the initial admin credentials. Only allowed while
// setup is pending.
func (h *APIHandlers) adminSetup(c *gin.Context) {
	h.qb.cfgMu.Lock()
	defer h.qb.cfgMu.Unlock()

	if !h.qb.pendingSetup.Load() {
		c.JSON(http.StatusForbidden, httpError{Error: "Forbidden"})
		return
	}

	logger := ginContextLogger(c)
	logger.Info("first time admin setup")
	var payload adminSetupPayload

	if e := c.ShouldBindJSON(&payload); e != nil {
		logger.Error("bad payload", tint.Err(e))
		c.JSON(http.StatusBadRequest, gin.H{"error": e.Error()})
		return
	}

	currentState := h.qb.runtimeConfig

	password, err := HashPassword(payload.Password)
	if err != nil {
		logger.Error("error hashing password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error setting admin credentials"},
		)
		return
	}

	if _, err = h.qb.writeDB.Updates(
		currentState, map[string]any{
			columnRuntimeConfigAdminUsername: payload.Username,
			columnRuntimeConfigAdminPassword: password,
		},
	); err != nil {
		logger.Error("error updating admin credentials", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error updating admin credentials"},
		)
		return
	}
	h.qb.pendingSetup.Store(false)
	c.JSON(http.StatusCreated, gin.H{"message": "admin credentials set"})
}

// loginHandler validates the given credentials against the stored
// admin credentials and creates a session.
func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := h.logger
	if !h.qb.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runtimeConfig := h.qb.RuntimeConfig()
	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if login.Username != runtimeConfig.AdminUsername {
		logger.Warn("admin username incorrect")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	valid, err := verifyPassword(runtimeConfig.AdminPassword, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Internal Server Error"},
		)
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	session, err := h.qb.api.store.New(c.Request, sessionVarName)
	if err != nil || session == nil {
		logger.Error("error creating session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	sameSite := http.SameSiteStrictMode
	if h.qb.api.config.Development {
		sameSite = http.SameSiteNoneMode
	}
	session.Options = &gsessions.Options{
		MaxAge:   int(h.qb.api.config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
		HttpOnly: true,
		Secure:   true,
	}
	session.Values[sessionVarField] = login.Username
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  h.qb.paused.Load(),
			PendingTransfers:        h.qb.transfers.PendingCount(),
			DiscordGatewayConnected: h.qb.discord.connected.Load(),
		},
	)
}

// botStatus reports runtime metrics: uptime, pending transfers, the
// pairing queue and gateway connection counters.
func (h *APIHandlers) botStatus(c *gin.Context) {
	c.JSON(
		http.StatusOK, botStatusResponse{
			Version:            Version,
			Uptime:             time.Since(h.qb.startedAt).String(),
			Paused:             h.qb.paused.Load(),
			PendingTransfers:   h.qb.transfers.PendingCount(),
			PairingWaiting:     h.qb.pairing.WaitingCount(),
			PairingSessions:    h.qb.pairing.SessionCount(),
			GatewayConnected:   h.qb.discord.connected.Load(),
			GatewayConnects:    h.qb.discord.metricConnects.Load(),
			GatewayDisconnects: h.qb.discord.metricDisconnects.Load(),
		},
	)
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error getting session", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	session.Values[sessionVarField] = ""
	if err = session.Save(c.Request, c.Writer); err != nil {
		logger.Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, err := h.qb.api.getSessionUsername(c)
	if err != nil {
		ginContextLogger(c).Warn(
			"error getting session username", tint.Err(err),
		)
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, loggedInResponse{Username: username})
}

// discordRegisterCommands overwrites the bot's slash commands.
func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("registering commands")

	createdCommands, err := h.qb.discord.registerCommands()
	if err != nil {
		log.Error("error registering commands", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error registering commands"},
		)
		return
	}
	c.JSON(http.StatusCreated, createdCommands)
}

func (h *APIHandlers) botPause(c *gin.Context) {
	if h.qb.Pause(c.Request.Context()) {
		ginReplyMessage(c, "paused")
		return
	}
	c.JSON(http.StatusConflict, httpError{Error: "already paused"})
}

func (h *APIHandlers) botResume(c *gin.Context) {
	if h.qb.Resume(c.Request.Context()) {
		ginReplyMessage(c, "resumed")
		return
	}
	c.JSON(http.StatusConflict, httpError{Error: "not paused"})
}

// botQuit sends a stop signal to all bot instances.
func (h *APIHandlers) botQuit(c *gin.Context) {
	log := ginContextLogger(c)
	log.Warn("sending stop signal")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doneCh := make(chan struct{}, 1)
	go func() {
		h.qb.dbNotifier.Stop(ctx)
		doneCh <- struct{}{}
		close(doneCh)
	}()
	select {
	case <-doneCh:
		ginReplyMessage(c, "quitting")
	case <-ctx.Done():
		log.Warn("timeout sending stop signal")
		c.JSON(
			http.StatusGatewayTimeout,
			httpError{Error: "timeout sending stop signal"},
		)
	}
}

// reloadAccounts tells all bot instances to reload their account cache.
func (h *APIHandlers) reloadAccounts(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("sending account cache reload notification")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if h.qb.dbNotifier.ReloadAccountCache(ctx) {
		c.JSON(http.StatusAccepted, httpReply{Message: "Notification sent"})
		return
	}
	c.JSON(
		http.StatusInternalServerError,
		httpError{Error: "error sending notification"},
	)
}

// getAccounts returns a paginated list of accounts. If include_stats
// is set, each account is returned with its activity statistics.
func (h *APIHandlers) getAccounts(c *gin.Context) {
	var query getAccountsQuery
	if c.ShouldBindQuery(&query) != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid query"})
		return
	}
	if query.Order == "" {
		query.Order = Ascending
	}
	if query.Limit == 0 {
		query.Limit = 25
	}

	log := ginContextLogger(c)

	var accounts []Account
	order := "id asc"
	if query.Order == Descending {
		order = "id desc"
	}
	err := h.qb.db.Limit(query.Limit).Offset(query.Offset).Order(
		order,
	).Find(&accounts).Error
	if err != nil {
		log.Error("error getting accounts", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting accounts"},
		)
		return
	}

	if !query.IncludeStats {
		c.JSON(http.StatusOK, accounts)
		return
	}

	accountsWithStats := make([]accountWithStats, len(accounts))

	g, ctx := errgroup.WithContext(c.Request.Context())
	for ind, a := range accounts {
		ind, a := ind, a
		g.Go(
			func() error {
				withStats := accountWithStats{Account: a}
				stats, e := a.getStats(ctx, h.qb.db)
				withStats.AccountStats = &stats
				if e == nil {
					accountsWithStats[ind] = withStats
				}
				return e
			},
		)
	}
	if e := g.Wait(); e != nil {
		log.Error("error getting account stats", tint.Err(e))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting account stats"},
		)
		return
	}

	c.JSON(http.StatusOK, accountsWithStats)
}

func (h *APIHandlers) getAccountDetail(c *gin.Context) {
	var account Account
	err := h.qb.db.Where("id = ?", c.Param("id")).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, httpError{Error: "account not found"})
			return
		}
		ginContextLogger(c).Error("error getting account", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting account"},
		)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *APIHandlers) getAccountTransactions(c *gin.Context) {
	var pagination paginationQuery
	if c.ShouldBindQuery(&pagination) != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid pagination"})
		return
	}
	if pagination.Limit == 0 {
		pagination.Limit = 25
	}

	var records []TransactionRecord
	err := h.qb.db.Where("account_id = ?", c.Param("id")).Order(
		"created_at desc",
	).Limit(pagination.Limit).Offset(pagination.Offset).Find(&records).Error
	if err != nil {
		ginContextLogger(c).Error(
			"error getting transactions", tint.Err(err),
		)
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting transactions"},
		)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *APIHandlers) getDiscordMessages(c *gin.Context) {
	var pagination paginationQuery
	if c.ShouldBindQuery(&pagination) != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid pagination"})
		return
	}
	if pagination.Limit == 0 {
		pagination.Limit = 25
	}

	var messages []DiscordMessage
	err := h.qb.db.Order("id desc").Limit(pagination.Limit).Offset(
		pagination.Offset,
	).Find(&messages).Error
	if err != nil {
		ginContextLogger(c).Error("error getting messages", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting messages"},
		)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *APIHandlers) getInteractionLogs(c *gin.Context) {
	var pagination paginationQuery
	if c.ShouldBindQuery(&pagination) != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid pagination"})
		return
	}
	if pagination.Limit == 0 {
		pagination.Limit = 25
	}

	var logs []InteractionLog
	err := h.qb.db.Order("id desc").Limit(pagination.Limit).Offset(
		pagination.Offset,
	).Find(&logs).Error
	if err != nil {
		ginContextLogger(c).Error(
			"error getting interaction logs", tint.Err(err),
		)
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting interaction logs"},
		)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *APIHandlers) getFailedVerifications(c *gin.Context) {
	var pagination paginationQuery
	if c.ShouldBindQuery(&pagination) != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid pagination"})
		return
	}
	if pagination.Limit == 0 {
		pagination.Limit = 25
	}

	var attempts []FailedKYC
	err := h.qb.db.Order("id desc").Limit(pagination.Limit).Offset(
		pagination.Offset,
	).Find(&attempts).Error
	if err != nil {
		ginContextLogger(c).Error(
			"error getting failed verifications", tint.Err(err),
		)
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting failed verifications"},
		)
		return
	}
	c.JSON(http.StatusOK, attempts)
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.qb.RuntimeConfig())
}

// updateRuntimeConfig applies a partial [RuntimeConfig] update,
// persists it, and notifies other instances.
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	qb := h.qb
	qb.cfgMu.Lock()
	defer qb.cfgMu.Unlock()

	ctx := context.Background()

	var updateRequest RuntimeConfigUpdate
	logger := ginContextLogger(c)
	if err := c.ShouldBindJSON(&updateRequest); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := updateRequest.validate(); err != nil {
		logger.Error("invalid update", tint.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existingConfig := qb.runtimeConfig
	rollbackConfig := *existingConfig

	updateData, err := json.Marshal(updateRequest)
	if err != nil {
		logger.Error("error marshaling update request", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error marshaling update request"},
		)
		return
	}

	var updates map[string]any
	if err = json.Unmarshal(updateData, &updates); err != nil {
		logger.Error("error unmarshaling update request", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error unmarshaling update request"},
		)
		return
	}
	logger.Info("applying updates", "updates", updates)

	var updateError error
	var statusCode int
	var ginResponse gin.H

	_ = qb.writeDB.Transaction(
		func(tx *gorm.DB) error {
			updateError = tx.Model(existingConfig).Updates(updates).Error
			if updateError != nil {
				statusCode = http.StatusInternalServerError
				ginResponse = gin.H{"error": "error updating config"}
				return updateError
			}

			updateError = structValidator.Struct(existingConfig)
			if updateError != nil {
				statusCode = http.StatusBadRequest
				ginResponse = gin.H{"error": "error validating config"}
				return updateError
			}
			return nil
		},
	)

	if updateError != nil {
		qb.runtimeConfig = &rollbackConfig
		logger.Error("error updating config", tint.Err(updateError))
		c.JSON(statusCode, ginResponse)
		return
	}

	qb.setRuntimeLevels(*existingConfig)

	wasPaused := qb.paused.Swap(existingConfig.Paused)
	switch {
	case wasPaused && !existingConfig.Paused:
		logger.Info("unpaused bot")
	case existingConfig.Paused && !wasPaused:
		logger.Warn("paused bot")
	}

	switch {
	case existingConfig.Paused != rollbackConfig.Paused:
		presence := getDiscordPresenceStatusUpdate(*existingConfig)
		if statusErr := qb.discord.updateStatusComplex(
			discordgo.UpdateStatusData{
				AFK:    presence.AFK,
				Status: presence.Status,
			},
		); statusErr != nil {
			logger.Error("error updating discord status", tint.Err(statusErr))
		}
	case runtimeConfigValueChanged(
		rollbackConfig.DiscordCustomStatus, updateRequest.DiscordCustomStatus,
	):
		if statusErr := qb.discord.updateCustomStatus(
			existingConfig.DiscordCustomStatus,
		); statusErr != nil {
			logger.Error("error updating discord status", tint.Err(statusErr))
		}
	}

	c.JSON(http.StatusAccepted, existingConfig)

	if !qb.dbNotifier.ReloadRuntimeConfig(ctx) {
		logger.Error("error sending config update notification")
	}
}

type paginationQuery struct {
	Limit  int  `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int  `form:"offset" binding:"omitempty,min=0"`
	Order  Sort `form:"order" binding:"omitempty,oneof=asc desc"`
}

type getAccountsQuery struct {
	Limit        int  `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset       int  `form:"offset" binding:"omitempty,min=0"`
	Order        Sort `form:"order" binding:"omitempty,oneof=asc desc"`
	IncludeStats bool `form:"include_stats"`
}

type accountWithStats struct {
	Account
	*AccountStats
}

type loggedInResponse struct {
	Username string `json:"username"`
}

type healthCheckResponse struct {
	Paused                  bool `json:"paused"`
	PendingTransfers        int  `json:"pending_transfers"`
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
}

type botStatusResponse struct {
	Version            string `json:"version"`
	Uptime             string `json:"uptime"`
	Paused             bool   `json:"paused"`
	PendingTransfers   int    `json:"pending_transfers"`
	PairingWaiting     int    `json:"pairing_waiting"`
	PairingSessions    int    `json:"pairing_sessions"`
	GatewayConnected   bool   `json:"gateway_connected"`
	GatewayConnects    int64  `json:"gateway_connects"`
	GatewayDisconnects int64  `json:"gateway_disconnects"`
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type adminSetupPayload struct {
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required,eqfield=ConfirmPassword"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// setupResponse is the response for the setup status endpoint. If
// admin credentials haven't been set yet, Required is true.
type setupResponse struct {
	Required bool `json:"required"`
}

// authMiddleware rejects requests without a valid session, including
// all requests while initial setup is still pending.
func authMiddleware(qb *QuantumBank) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := qb.logger
		if qb.pendingSetup.Load() {
			logger.Warn("admin username and password not set")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		session, err := qb.api.store.Get(c.Request, sessionVarName)
		if err != nil || session == nil {
			logger.Error("error getting session", tint.Err(err))
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		username, ok := session.Values[sessionVarField]
		if !ok || username == "" {
			logger.Warn("username not found in session")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, returned in the X-Request-ID header.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		if requestID, exists := c.Get(xRequestIDHeader); exists {
			c.Header(xRequestIDHeader, requestID.(string))
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// creating one with request details included if it doesn't exist yet.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok && requestLogger != nil {
			return requestLogger
		}
	}

	attrs := []any{
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"client_ip", c.ClientIP(),
	}
	if requestID, exists := c.Get(xRequestIDHeader); exists {
		attrs = append(attrs, "request_id", requestID)
	}
	requestLogger = slog.Default().With(attrs...)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware counts API requests per method and path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		a.requestMetrics[key]++
	}
}

// generateSelfSignedCert generates a self-signed TLS certificate and
// private key, valid from the current time for 1 year.
func generateSelfSignedCert(
	certFile string,
	keyFile string,
) (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(cryprand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	certTemplate := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Quantum Bank"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(
		cryprand.Reader,
		&certTemplate,
		&certTemplate,
		&priv.PublicKey,
		priv,
	)
	if err != nil {
		return tls.Certificate{}, err
	}

	certOut, err := os.Create(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = certOut.Close()
	}()

	if err = pem.Encode(
		certOut,
		&pem.Block{Type: "CERTIFICATE", Bytes: derBytes},
	); err != nil {
		return tls.Certificate{}, err
	}

	keyOut, err := os.Create(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = keyOut.Close()
	}()

	privBytes := x509.MarshalPKCS1PrivateKey(priv)
	if err = pem.Encode(
		keyOut,
		&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes},
	); err != nil {
		return tls.Certificate{}, err
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	return cert, nil
}

func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}
