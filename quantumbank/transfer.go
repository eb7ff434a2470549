package quantumbank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrTransferNotPending indicates a confirm or decline for a
	// transfer that is no longer (or never was) awaiting confirmation.
	ErrTransferNotPending = errors.New("transfer not pending")

	// ErrTransferExpired indicates the confirmation window lapsed
	// before the payer responded.
	ErrTransferExpired = errors.New("transfer expired")
)

// PendingTransfer is an initiated transfer awaiting payer confirmation.
// Pending transfers live only in memory and do not survive a restart.
type PendingTransfer struct {
	ID           string
	PayerID      string
	PayeeID      string
	PayeeAddress string
	Amount       decimal.Decimal
	Note         string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

func (p PendingTransfer) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", p.ID),
		slog.String("payer_id", p.PayerID),
		slog.String("payee_id", p.PayeeID),
		slog.String("amount", p.Amount.String()),
		slog.Time("expires_at", p.ExpiresAt),
	)
}

// Receipt is the result of a committed transfer.
type Receipt struct {
	ReceiptID   string
	Payer       *Account
	Payee       *Account
	Amount      decimal.Decimal
	CommittedAt time.Time
}

// TransferProtocol implements two-phase transfers: Initiate validates
// and parks the transfer in memory, Confirm re-validates and commits
// both ledger records atomically, Decline discards it.
//
// A single mutex guards the pending map, so a transfer can be resolved
// exactly once no matter how many confirm/decline events race.
type TransferProtocol struct {
	store  *AccountStore
	db     DBI
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*PendingTransfer

	confirmTimeout time.Duration
}

// NewTransferProtocol returns a new TransferProtocol. confirmTimeout
// bounds how long an initiated transfer waits for confirmation.
func NewTransferProtocol(
	store *AccountStore,
	db DBI,
	logger *slog.Logger,
	confirmTimeout time.Duration,
) *TransferProtocol {
	if logger == nil {
		logger = slog.Default()
	}
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultTransferConfirmTimeout
	}
	return &TransferProtocol{
		store:          store,
		db:             db,
		logger:         logger.With(loggerNameKey, "transfer_protocol"),
		pending:        map[string]*PendingTransfer{},
		confirmTimeout: confirmTimeout,
	}
}

// Initiate validates a transfer request and, if valid, registers it as
// pending confirmation. Validation order: payer account, amount,
// funds, payee, self-payment.
func (t *TransferProtocol) Initiate(
	ctx context.Context,
	payerID string,
	payeeAddress string,
	amount decimal.Decimal,
	note string,
) (*PendingTransfer, error) {
	payer, err := t.store.Get(ctx, payerID)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	if payer.Balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}
	payee, err := t.store.ResolveTransferAddress(ctx, payeeAddress)
	if err != nil {
		return nil, err
	}
	if payee.ID == payer.ID {
		return nil, ErrSelfPayment
	}

	now := time.Now().UTC()
	pending := &PendingTransfer{
		ID:           uuid.NewString(),
		PayerID:      payer.ID,
		PayeeID:      payee.ID,
		PayeeAddress: payeeAddress,
		Amount:       amount,
		Note:         note,
		CreatedAt:    now,
		ExpiresAt:    now.Add(t.confirmTimeout),
	}

	t.mu.Lock()
	t.pending[pending.ID] = pending
	t.mu.Unlock()

	t.logger.InfoContext(ctx, "transfer initiated", "transfer", *pending)
	return pending, nil
}

// Pending returns the pending transfer with the given ID, or nil.
func (t *TransferProtocol) Pending(transferID string) *PendingTransfer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending[transferID]
}

// take removes and returns a pending transfer, enforcing
// exactly-once resolution.
func (t *TransferProtocol) take(transferID string) (*PendingTransfer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending, ok := t.pending[transferID]
	if !ok {
		return nil, ErrTransferNotPending
	}
	delete(t.pending, transferID)

	if time.Now().UTC().After(pending.ExpiresAt) {
		return nil, ErrTransferExpired
	}
	return pending, nil
}

// Confirm commits a pending transfer. The debit is a single guarded
// update, `balance = balance - amount WHERE balance >= amount`, so
// concurrent confirms against the same payer cannot both spend the
// same funds regardless of transaction isolation. If the guard matches
// no row, a single failed-verification record is written against the
// payer, no balances change, and [ErrInsufficientBalance] is returned.
// Otherwise a debit and a credit sharing one receipt ID are written
// together with the balance updates.
func (t *TransferProtocol) Confirm(
	ctx context.Context,
	transferID string,
) (*Receipt, error) {
	pending, err := t.take(transferID)
	if err != nil {
		return nil, err
	}

	receiptID := uuid.NewString()
	committedAt := time.Now().UTC()
	verificationFailed := false

	err = t.db.Transaction(
		func(tx *gorm.DB) error {
			debit := tx.Model(&Account{}).Where(
				"id = ? AND balance >= ?", pending.PayerID, pending.Amount,
			).Update("balance", gorm.Expr("balance - ?", pending.Amount))
			if debit.Error != nil {
				return debit.Error
			}
			if debit.RowsAffected == 0 {
				verificationFailed = true
				return tx.Create(
					&TransactionRecord{
						AccountID:      pending.PayerID,
						Kind:           TransactionFailedVerification,
						Amount:         pending.Amount,
						CounterpartyID: pending.PayeeID,
						Note:           "balance verification failed",
					},
				).Error
			}

			credit := tx.Model(&Account{}).Where(
				"id = ?", pending.PayeeID,
			).Update("balance", gorm.Expr("balance + ?", pending.Amount))
			if credit.Error != nil {
				return credit.Error
			}
			if credit.RowsAffected == 0 {
				return ErrUnknownPayee
			}

			records := []TransactionRecord{
				{
					AccountID:      pending.PayerID,
					Kind:           TransactionDebit,
					Amount:         pending.Amount,
					ReceiptID:      receiptID,
					CounterpartyID: pending.PayeeID,
					Note:           pending.Note,
				},
				{
					AccountID:      pending.PayeeID,
					Kind:           TransactionCredit,
					Amount:         pending.Amount,
					ReceiptID:      receiptID,
					CounterpartyID: pending.PayerID,
					Note:           pending.Note,
				},
			}
			return tx.Create(&records).Error
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error committing transfer: %w", err)
	}

	payer, err := t.db.ReloadAccount(ctx, pending.PayerID)
	if err != nil {
		return nil, err
	}
	payee, err := t.db.ReloadAccount(ctx, pending.PayeeID)
	if err != nil {
		return nil, err
	}

	if verificationFailed {
		t.logger.WarnContext(
			ctx,
			"transfer failed balance verification",
			"transfer", *pending,
		)
		return nil, ErrInsufficientBalance
	}

	receipt := &Receipt{
		ReceiptID:   receiptID,
		Payer:       payer,
		Payee:       payee,
		Amount:      pending.Amount,
		CommittedAt: committedAt,
	}
	t.logger.InfoContext(
		ctx,
		"transfer committed",
		"transfer", *pending,
		"receipt_id", receiptID,
	)
	return receipt, nil
}

// Decline discards a pending transfer without moving money.
func (t *TransferProtocol) Decline(
	ctx context.Context,
	transferID string,
) (*PendingTransfer, error) {
	pending, err := t.take(transferID)
	if err != nil {
		return nil, err
	}
	t.logger.InfoContext(ctx, "transfer declined", "transfer", *pending)
	return pending, nil
}

// Sweep removes pending transfers whose confirmation window has
// lapsed, returning how many were discarded.
func (t *TransferProtocol) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for id, pending := range t.pending {
		if now.After(pending.ExpiresAt) {
			delete(t.pending, id)
			removed++
		}
	}
	if removed > 0 {
		t.logger.Info("swept expired pending transfers", "count", removed)
	}
	return removed
}

// PendingCount returns the number of transfers awaiting confirmation.
func (t *TransferProtocol) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
