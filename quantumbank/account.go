package quantumbank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transfer/operation errors surfaced to command handlers. Each maps to
// a distinct user-facing rejection message.
var (
	ErrNoAccount           = errors.New("no account")
	ErrAccountExists       = errors.New("account already exists")
	ErrNonPositiveAmount   = errors.New("non-positive amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownPayee        = errors.New("unknown payee")
	ErrSelfPayment         = errors.New("self payment")
)

// Account is a bank account, keyed on the holder's Discord user ID.
type Account struct {
	ModelStringID
	ModelUnixTime

	Username   string `json:"username"`
	GlobalName string `json:"global_name"`

	// Balance is the account balance. Stored as a fixed-point decimal
	// string to avoid float drift.
	Balance decimal.Decimal `json:"balance" gorm:"type:numeric;default:0"`

	// BranchID is the guild the account was opened in.
	BranchID   string `json:"branch_id" gorm:"index"`
	BranchName string `json:"branch_name"`

	// TransferAddress is the account's payment address, in the form
	// `<user_id>@quantumbank.<4 chars>`. Unique across all accounts.
	TransferAddress string `json:"transfer_address" gorm:"uniqueIndex"`

	HolderName string `json:"holder_name" log:"[redacted]"`
	Email      string `json:"email" log:"[redacted]"`

	KYCApproved bool `json:"kyc_approved"`

	// Ignored causes all commands from this user to be dropped.
	Ignored bool `json:"ignored"`

	// Priority accounts skip per-user rate limits.
	Priority bool `json:"priority"`
}

func (Account) TableName() string {
	return "accounts"
}

// LogValue implements slog.LogValuer, redacting KYC fields.
func (a Account) LogValue() slog.Value {
	return structToSlogValue(a)
}

// LeaderboardEntry is a single row of a branch leaderboard.
type LeaderboardEntry struct {
	Rank     int             `json:"rank"`
	UserID   string          `json:"user_id"`
	Username string          `json:"username"`
	Balance  decimal.Decimal `json:"balance"`
}

// AccountStore provides account persistence on top of [DBI], keeping
// the in-memory cache coherent with the database.
type AccountStore struct {
	db     DBI
	logger *slog.Logger
}

// NewAccountStore returns a new AccountStore using the given database.
func NewAccountStore(db DBI, logger *slog.Logger) *AccountStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountStore{
		db:     db,
		logger: logger.With(loggerNameKey, "account_store"),
	}
}

// Get returns the account for the given Discord user ID, or
// [ErrNoAccount] if the user has never opened one.
func (s *AccountStore) Get(_ context.Context, userID string) (*Account, error) {
	account := s.db.GetAccount(userID)
	if account == nil {
		return nil, ErrNoAccount
	}
	return account, nil
}

// Create opens a new account for the given user with the given opening
// balance. Returns [ErrAccountExists] if the user already has one.
func (s *AccountStore) Create(
	ctx context.Context,
	account *Account,
) (*Account, error) {
	if existing := s.db.GetAccount(account.ID); existing != nil {
		return nil, ErrAccountExists
	}

	if account.TransferAddress == "" {
		address, err := newTransferAddress(account.ID)
		if err != nil {
			return nil, fmt.Errorf("error generating transfer address: %w", err)
		}
		account.TransferAddress = address
	}

	if _, err := s.db.Create(account); err != nil {
		return nil, fmt.Errorf("error creating account: %w", err)
	}
	s.logger.InfoContext(ctx, "created account", "account", *account)
	return s.db.ReloadAccount(ctx, account.ID)
}

// UpdateBalance applies delta to the account's balance as a single
// guarded relative update, so concurrent deltas against the same
// account cannot overwrite each other. A delta that would take the
// balance below zero returns [ErrInsufficientBalance] and leaves the
// account unchanged.
func (s *AccountStore) UpdateBalance(
	ctx context.Context,
	userID string,
	delta decimal.Decimal,
) (*Account, error) {
	err := s.db.Transaction(
		func(tx *gorm.DB) error {
			res := tx.Model(&Account{}).Where(
				"id = ? AND balance + ? >= 0", userID, delta,
			).Update("balance", gorm.Expr("balance + ?", delta))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				return nil
			}
			var current Account
			if err := tx.Where("id = ?", userID).First(&current).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNoAccount
				}
				return err
			}
			return ErrInsufficientBalance
		},
	)
	if err != nil {
		return nil, err
	}
	return s.db.ReloadAccount(ctx, userID)
}

// AppendTransaction records a transaction against the given account.
func (s *AccountStore) AppendTransaction(
	ctx context.Context,
	record *TransactionRecord,
) error {
	if _, err := s.db.Create(record); err != nil {
		return fmt.Errorf("error recording transaction: %w", err)
	}
	s.logger.DebugContext(ctx, "recorded transaction", "record", *record)
	return nil
}

// Transactions returns the most recent transactions for the given
// account, newest first.
func (s *AccountStore) Transactions(
	ctx context.Context,
	userID string,
	limit int,
) ([]TransactionRecord, error) {
	var records []TransactionRecord
	err := s.db.DB().WithContext(ctx).Where(
		"account_id = ?", userID,
	).Order("created_at desc").Limit(limit).Find(&records).Error
	return records, err
}

// SetTransferAddress assigns a freshly generated transfer address to
// the account, replacing any existing one, and returns it.
func (s *AccountStore) SetTransferAddress(
	ctx context.Context,
	userID string,
) (string, error) {
	account := s.db.GetAccount(userID)
	if account == nil {
		return "", ErrNoAccount
	}
	address, err := newTransferAddress(userID)
	if err != nil {
		return "", fmt.Errorf("error generating transfer address: %w", err)
	}
	_, err = s.db.Update(&Account{ModelStringID: ModelStringID{ID: userID}},
		"transfer_address", address)
	if err != nil {
		return "", fmt.Errorf("error saving transfer address: %w", err)
	}
	if _, err = s.db.ReloadAccount(ctx, userID); err != nil {
		return "", err
	}
	return address, nil
}

// ResolveTransferAddress returns the account that owns the given
// transfer address, or [ErrUnknownPayee] if no account has it.
func (s *AccountStore) ResolveTransferAddress(
	_ context.Context,
	address string,
) (*Account, error) {
	if userID := transferAddressUserID(address); userID != "" {
		account := s.db.GetAccount(userID)
		if account != nil && account.TransferAddress == address {
			return account, nil
		}
	}
	// Fall back to a full scan in case the cached address is stale.
	for _, account := range s.db.AccountCache() {
		if account.TransferAddress == address {
			return account, nil
		}
	}
	return nil, ErrUnknownPayee
}

// Leaderboard returns the top accounts of a branch by balance,
// descending, limited to limit entries.
func (s *AccountStore) Leaderboard(
	ctx context.Context,
	branchID string,
	limit int,
) ([]LeaderboardEntry, error) {
	var accounts []Account
	err := s.db.DB().WithContext(ctx).Where(
		"branch_id = ?", branchID,
	).Order("balance desc").Limit(limit).Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(accounts))
	for i, account := range accounts {
		entries = append(
			entries, LeaderboardEntry{
				Rank:     i + 1,
				UserID:   account.ID,
				Username: account.Username,
				Balance:  account.Balance,
			},
		)
	}
	return entries, nil
}

// SetBranch moves the account to a different branch (guild).
func (s *AccountStore) SetBranch(
	ctx context.Context,
	userID string,
	branchID string,
	branchName string,
) (*Account, error) {
	account := s.db.GetAccount(userID)
	if account == nil {
		return nil, ErrNoAccount
	}
	_, err := s.db.Updates(
		&Account{ModelStringID: ModelStringID{ID: userID}},
		map[string]any{"branch_id": branchID, "branch_name": branchName},
	)
	if err != nil {
		return nil, fmt.Errorf("error updating branch: %w", err)
	}
	return s.db.ReloadAccount(ctx, userID)
}

// RecordFailedKYC stores a failed account-opening attempt for audit.
func (s *AccountStore) RecordFailedKYC(
	ctx context.Context,
	attempt *FailedKYC,
) error {
	if _, err := s.db.Create(attempt); err != nil {
		return fmt.Errorf("error recording failed verification: %w", err)
	}
	s.logger.InfoContext(
		ctx,
		"recorded failed account verification",
		"user_id", attempt.UserID,
		"reason", attempt.Reason,
	)
	return nil
}

// getStats collects activity statistics for the account: transaction
// counts per kind, and the totals sent and received.
//
// If any of the queries fail, the error is returned along with any
// successfully retrieved data.
func (a *Account) getStats(ctx context.Context, db *gorm.DB) (AccountStats, error) {
	s := AccountStats{Transactions: map[TransactionKind]int{}}

	var errs []error

	type kindCount struct {
		Kind  TransactionKind
		Count int
	}
	var counts []kindCount
	err := db.WithContext(ctx).Model(&TransactionRecord{}).Select(
		"kind, count(*) as count",
	).Where("account_id = ?", a.ID).Group("kind").Find(&counts).Error
	if err != nil {
		errs = append(
			errs,
			fmt.Errorf("error getting transaction counts: %w", err),
		)
	}
	for _, kc := range counts {
		s.Transactions[kc.Kind] = kc.Count
	}

	type kindSum struct {
		Kind  TransactionKind
		Total decimal.Decimal
	}
	var sums []kindSum
	err = db.WithContext(ctx).Model(&TransactionRecord{}).Select(
		"kind, sum(amount) as total",
	).Where(
		"account_id = ? AND kind IN ?",
		a.ID,
		[]TransactionKind{TransactionDebit, TransactionCredit},
	).Group("kind").Find(&sums).Error
	if err != nil {
		errs = append(errs, fmt.Errorf("error getting transfer totals: %w", err))
	}
	for _, ks := range sums {
		switch ks.Kind {
		case TransactionDebit:
			s.TotalSent = ks.Total
		case TransactionCredit:
			s.TotalReceived = ks.Total
		}
	}

	var failedAttempts int64
	err = db.WithContext(ctx).Model(&FailedKYC{}).Where(
		"user_id = ?",
		a.ID,
	).Count(&failedAttempts).Error
	if err != nil {
		errs = append(
			errs,
			fmt.Errorf("error getting failed verification count: %w", err),
		)
	}
	s.FailedVerifications = int(failedAttempts)

	return s, errors.Join(errs...)
}

type AccountStats struct {
	Transactions        map[TransactionKind]int `json:"transactions"`
	TotalSent           decimal.Decimal         `json:"total_sent"`
	TotalReceived       decimal.Decimal         `json:"total_received"`
	FailedVerifications int                     `json:"failed_verifications"`
}

// pruneFailedKYC deletes failed verification rows older than the given
// retention window. Used by the janitor in [QuantumBank.Run].
func (s *AccountStore) pruneFailedKYC(
	ctx context.Context,
	retention time.Duration,
) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).UnixMilli()
	return s.db.Delete(&FailedKYC{}, "created_at < ?", cutoff)
}
