package quantumbank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
)

// DBNotifier defines the interface for notifying bot instances of database
// changes and other events.
type DBNotifier interface {
	AccountCacheChannelName() string

	// ReloadAccountCache sends a notification to bot instances to fully
	// reload their account cache
	ReloadAccountCache(context.Context) bool

	RuntimeConfigChannelName() string

	// ReloadRuntimeConfig sends a notification to bot instances to
	// reload their runtime configuration from the DB
	ReloadRuntimeConfig(context.Context) bool

	AccountUpdateChannelName() string

	// AccountUpdated sends a notification to bot instances that an
	// account record has been updated, and should be reloaded.
	AccountUpdated(ctx context.Context, userID string) bool

	StopChannelName() string

	// Stop sends a shutdown signal to all bots
	Stop(context.Context) bool

	// ID returns the identifier for this notifier. DBNotifier instances
	// should use this ID to filter out their own notifications.
	ID() string
	Listen(ctx context.Context, channel string) error
}

func newDBNotifier(qb *QuantumBank) (DBNotifier, error) {
	notifyID, err := generateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	log := qb.logger.With(loggerNameKey, "db_notifier")
	var notifier DBNotifier
	switch qb.config.DatabaseType {
	case dbTypeSQLite:
		notifier = &sqliteNotifier{
			logger:         log,
			qb:             qb,
			sqliteNotifyID: notifyID,
		}
	case dbTypePostgres:
		notifier = &postgresNotifier{
			qb:         qb,
			logger:     log,
			pgNotifyID: notifyID,
		}
	default:
		return nil, errors.New("invalid database type")
	}
	return notifier, nil
}

// sqliteNotifier forwards notifications in-process. With SQLite there is
// only ever a single instance, so no cross-instance signaling is needed.
type sqliteNotifier struct {
	logger         *slog.Logger
	qb             *QuantumBank
	sqliteNotifyID string
}

func (s *sqliteNotifier) Listen(_ context.Context, channel string) error {
	s.logger.Debug("listener called", "channel", channel)
	return nil
}

func (sqliteNotifier) StopChannelName() string {
	return ""
}

func (s *sqliteNotifier) Stop(ctx context.Context) bool {
	s.logger.Info("notifying stop signal")
	select {
	case s.qb.signalStop <- struct{}{}:
	//
	case <-ctx.Done():
		s.logger.Warn("timeout sending stop signal")
		return false
	}
	return true
}

func (sqliteNotifier) AccountUpdateChannelName() string {
	return ""
}

func (s *sqliteNotifier) AccountUpdated(ctx context.Context, userID string) bool {
	s.logger.Info("got account update notification", "user_id", userID)
	select {
	case s.qb.triggerAccountUpdatedRefreshCh <- userID:
	//
	case <-ctx.Done():
		s.logger.Warn("timeout sending account refresh", "user_id", userID)
		return false
	}
	return true
}

func (s *sqliteNotifier) ID() string {
	return s.sqliteNotifyID
}

func (s *sqliteNotifier) ReloadRuntimeConfig(ctx context.Context) bool {
	s.logger.Info("got runtime config reload notification")
	select {
	case s.qb.triggerRuntimeConfigRefreshCh <- true:
	//
	case <-ctx.Done():
		s.logger.Warn("timeout sending runtime config refresh signal")
		return false
	}
	return true
}

func (s *sqliteNotifier) ReloadAccountCache(ctx context.Context) bool {
	s.logger.Info("got account cache reload notification")
	select {
	case s.qb.triggerAccountCacheRefreshCh <- true:
	//
	case <-ctx.Done():
		s.logger.Warn("timeout sending account cache refresh signal")
	}
	return true
}

func (sqliteNotifier) AccountCacheChannelName() string {
	return ""
}

func (sqliteNotifier) RuntimeConfigChannelName() string {
	return ""
}

// postgresNotifier signals other bot instances via LISTEN/NOTIFY.
type postgresNotifier struct {
	qb         *QuantumBank
	logger     *slog.Logger
	pgNotifyID string
}

func (postgresNotifier) AccountCacheChannelName() string {
	return postgresNotifyChannelReloadAccountCache
}

func (postgresNotifier) RuntimeConfigChannelName() string {
	return postgresNotifyChannelRuntimeConfigUpdated
}

func (p *postgresNotifier) ID() string {
	return p.pgNotifyID
}

func (postgresNotifier) AccountUpdateChannelName() string {
	return postgresNotifyChannelAccountUpdated
}

func (postgresNotifier) StopChannelName() string {
	return postgresNotifyChannelStop
}

func (p *postgresNotifier) Stop(ctx context.Context) bool {
	var sent bool

	notifyErr := p.qb.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		p.StopChannelName(),
		p.ID(),
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(ctx, "Error sending NOTIFY to stop bot", tint.Err(notifyErr))
	} else {
		p.logger.Info("sent stop signal", "pg_notify_id", p.ID())
		sent = true
	}

	return sent
}

func (p *postgresNotifier) Listen(ctx context.Context, channel string) error {
	p.logger.Info("starting db listener", "channel", channel)

	config, err := pgxpool.ParseConfig(p.qb.config.Database)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error parsing database config", tint.Err(err))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error creating connection pool", tint.Err(err))
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error acquiring connection", tint.Err(err))
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("LISTEN %s", channel))
	if err != nil {
		p.logger.ErrorContext(ctx, "Error setting up listener", tint.Err(err))
		return err
	}
	logger := p.logger.With("channel", channel)
	logger.InfoContext(ctx, "Started listening on channel")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			logger.ErrorContext(ctx, "Error waiting for notification", tint.Err(e))
			time.Sleep(5 * time.Second) // Wait before retrying
			continue
		}
		if notification.Payload == p.ID() {
			logger.Info(
				"Received notification from self, ignoring",
				"payload",
				notification.Payload,
			)
			continue
		}

		switch channel {
		case p.AccountCacheChannelName():
			logger.InfoContext(ctx, "Received notification to reload account cache")
			select {
			case p.qb.triggerAccountCacheRefreshCh <- true:
				logger.Info("sent cache refresh signal from postgres listener")
			case <-time.After(dbNotifierSendTimeout):
				logger.Warn("timed out sending cache refresh signal")
			}
		case p.RuntimeConfigChannelName():
			logger.InfoContext(ctx, "Received notification for runtime config update")
			select {
			case p.qb.triggerRuntimeConfigRefreshCh <- true:
				logger.Info("sent runtime config refresh signal from postgres listener")
			case <-time.After(dbNotifierSendTimeout):
				logger.Warn("timed out sending config refresh signal")
			}
		case p.AccountUpdateChannelName():
			notifierID, userID := parseAccountUpdatedNotification(notification.Payload)
			if notifierID == p.ID() {
				logger.Info("Received account update notification from self, ignoring")
				continue
			}
			select {
			case p.qb.triggerAccountUpdatedRefreshCh <- userID:
				logger.Info("sent signal to update account", "user_id", userID)
			case <-time.After(dbNotifierSendTimeout):
				logger.Warn("timed out sending account refresh signal", "user_id", userID)
			}
		case p.StopChannelName():
			logger.InfoContext(ctx, "received stop signal via NOTIFY")
			select {
			case p.qb.signalStop <- struct{}{}:
				logger.Info("forwarded stop signal")
			case <-time.After(dbNotifierSendTimeout):
				logger.Warn("timed out forwarding stop signal")
			}
		default:
			logger.Warn("Received unknown notification", "channel", notification.Channel)
		}
	}

	return nil
}

func parseAccountUpdatedNotification(s string) (notifierID, userID string) {
	before, after, _ := strings.Cut(s, recordSeparator)
	return before, after
}

func newAccountUpdatedNotificationMessage(notifierID string, userID string) string {
	return strings.Join([]string{notifierID, userID}, recordSeparator)
}

func (p *postgresNotifier) AccountUpdated(ctx context.Context, userID string) bool {
	var sent bool

	msg := newAccountUpdatedNotificationMessage(p.ID(), userID)

	notifyErr := p.qb.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		p.AccountUpdateChannelName(),
		msg,
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(
			ctx,
			"Error sending NOTIFY to update account",
			tint.Err(notifyErr),
			"user_id", userID,
		)
	} else {
		p.logger.Info(
			"sent account update notification",
			"pg_notify_id", p.ID(),
			"user_id", userID,
		)
		sent = true
	}

	return sent
}

func (p *postgresNotifier) ReloadRuntimeConfig(ctx context.Context) bool {
	var sent bool

	notifyErr := p.qb.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		p.RuntimeConfigChannelName(),
		p.ID(),
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(
			ctx,
			"Error sending NOTIFY to reload runtime config",
			tint.Err(notifyErr),
		)
	} else {
		p.logger.Info(
			"sent runtime config refresh notification",
			"pg_notify_id", p.ID(),
		)
		sent = true
	}

	return sent
}

func (p *postgresNotifier) ReloadAccountCache(ctx context.Context) bool {
	var sent bool

	notifyErr := p.qb.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		p.AccountCacheChannelName(),
		p.ID(),
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(
			ctx,
			"Error sending NOTIFY to reload account cache",
			tint.Err(notifyErr),
		)
	} else {
		p.logger.Info(
			"sent account cache refresh notification",
			"pg_notify_id", p.ID(),
		)
		sent = true
	}

	select {
	case p.qb.triggerAccountCacheRefreshCh <- true:
	//
	case <-ctx.Done():
		p.logger.Warn("timeout sending account cache refresh signal")
	}

	return sent
}
