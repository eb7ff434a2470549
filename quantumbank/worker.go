package quantumbank

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

var (
	workerIdleTimeout        = 2 * time.Minute
	workerIdleCheckInterval  = time.Minute
	workerStopSignalDeadline = 5 * time.Second
)

// queuedCommand is a slash command handed to an [accountWorker].
type queuedCommand struct {
	name    string
	handler InteractionHandler
	run     func(ctx context.Context)
}

// accountWorker executes commands for a single account one at a time,
// so a user can't run overlapping transfers or verification flows.
// Workers stop themselves after sitting idle for workerIdleTimeout.
type accountWorker struct {
	account   *Account
	accountMu sync.Mutex

	// commandCh receives queued slash commands
	commandCh chan queuedCommand

	// signalStop stops the worker when received
	signalStop chan struct{}

	// stopped receives the time the worker stopped
	stopped chan time.Time

	// lastCommandAt is the last time any command was handled
	lastCommandAt time.Time
	lastCommandMu sync.Mutex

	idleTimeout       time.Duration
	idleCheckInterval time.Duration

	qb *QuantumBank
}

func newAccountWorker(qb *QuantumBank, account *Account) *accountWorker {
	return &accountWorker{
		account:           account,
		commandCh:         make(chan queuedCommand),
		signalStop:        make(chan struct{}, 1),
		stopped:           make(chan time.Time, 1),
		idleTimeout:       workerIdleTimeout,
		idleCheckInterval: workerIdleCheckInterval,
		qb:                qb,
	}
}

func (w *accountWorker) Account() Account {
	w.accountMu.Lock()
	defer w.accountMu.Unlock()
	return *w.account
}

func (w *accountWorker) SetAccount(a *Account) {
	w.accountMu.Lock()
	defer w.accountMu.Unlock()
	w.account = a
}

func (w *accountWorker) setLastCommand(ts time.Time) {
	w.lastCommandMu.Lock()
	defer w.lastCommandMu.Unlock()
	w.lastCommandAt = ts
}

// expired reports whether the worker has been idle past its timeout.
func (w *accountWorker) expired() (time.Time, bool) {
	w.lastCommandMu.Lock()
	defer w.lastCommandMu.Unlock()
	expiresAt := w.lastCommandAt.Add(w.idleTimeout)
	return expiresAt, time.Now().After(expiresAt)
}

// Run starts the worker loop, receiving on commandCh until the context
// is canceled, a stop signal arrives, or the idle timeout lapses.
// Sends on startCh once the loop is about to start.
func (w *accountWorker) Run(ctx context.Context, startCh chan struct{}) {
	account := w.Account()
	log := w.qb.logger.With(
		loggerNameKey, "account_worker",
		slog.Group("account", accountLogAttrs(account)...),
	)
	ctx = WithLogger(ctx, log)

	defer func() {
		stopCtx, stopCancel := context.WithTimeout(
			context.Background(), workerStopSignalDeadline,
		)
		select {
		case w.stopped <- time.Now():
			//
		case <-stopCtx.Done():
			log.Warn("timed out sending stop notification")
		}
		stopCancel()
	}()

	log.InfoContext(ctx, "starting account worker")
	startedAt := time.Now()
	ticker := time.NewTicker(w.idleCheckInterval)

	defer func() {
		ticker.Stop()
		log.InfoContext(
			ctx,
			"stopped account worker",
			"started_at", startedAt,
			"runtime", time.Since(startedAt),
		)
	}()

	startCh <- struct{}{}
	close(startCh)

	w.setLastCommand(time.Now())
	for {
		select {
		case <-ctx.Done():
			log.WarnContext(ctx, "context canceled")
			return
		case <-w.signalStop:
			log.WarnContext(ctx, "got stop signal")
			return
		case <-ticker.C:
			expiresAt, isExpired := w.expired()
			if isExpired {
				log.InfoContext(
					ctx,
					"worker idle, stopping",
					"expired_at", expiresAt,
				)
				return
			}
		case cmd := <-w.commandCh:
			w.handleCommand(ctx, log, cmd)
			ticker.Reset(w.idleCheckInterval)
		}
	}
}

// handleCommand runs a queued command, recovering from panics if the
// runtime config says to.
func (w *accountWorker) handleCommand(
	ctx context.Context,
	log *slog.Logger,
	cmd queuedCommand,
) {
	log.InfoContext(ctx, "got command", "command", cmd.name)
	w.setLastCommand(time.Now())

	done := make(chan struct{}, 1)
	go func() {
		if cmd.handler.Config().RecoverPanic {
			defer func() {
				w.qb.handleRecover(ctx, recover())
				done <- struct{}{}
			}()
		} else {
			defer func() {
				done <- struct{}{}
			}()
		}
		cmd.run(ctx)
	}()
	<-done

	w.setLastCommand(time.Now())
}
