package quantumbank

import (
	"log/slog"

	"github.com/shopspring/decimal"
)

// TransactionKind identifies the direction or disposition of a
// transaction record.
type TransactionKind string

const (
	// TransactionDebit is money leaving the account.
	TransactionDebit TransactionKind = "debit"

	// TransactionCredit is money entering the account.
	TransactionCredit TransactionKind = "credit"

	// TransactionFailedVerification records a transfer confirmation
	// that failed balance re-validation. No money moved.
	TransactionFailedVerification TransactionKind = "failed-verification"
)

// TransactionRecord is a single entry in an account's passbook.
//
// The two records of a completed transfer (the payer's debit and the
// payee's credit) share a ReceiptID.
type TransactionRecord struct {
	ModelUintID
	ModelUnixTime

	// AccountID is the Discord user ID of the account the record
	// belongs to.
	AccountID string `json:"account_id" gorm:"index"`

	Kind   TransactionKind `json:"kind" gorm:"index"`
	Amount decimal.Decimal `json:"amount" gorm:"type:numeric"`

	// ReceiptID links the two records of a transfer.
	ReceiptID string `json:"receipt_id" gorm:"index"`

	// CounterpartyID is the Discord user ID of the other party, if any.
	CounterpartyID string `json:"counterparty_id"`

	Note string `json:"note"`
}

func (TransactionRecord) TableName() string {
	return "transaction_records"
}

func (t TransactionRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(t.ID)),
		slog.String("account_id", t.AccountID),
		slog.String("kind", string(t.Kind)),
		slog.String("amount", t.Amount.String()),
		slog.String("receipt_id", t.ReceiptID),
	)
}

// FailedKYC records an account-opening attempt that did not complete
// identity verification.
type FailedKYC struct {
	ModelUintID
	ModelUnixTime

	UserID   string `json:"user_id" gorm:"index"`
	Username string `json:"username"`

	// Reason the verification failed (timeout, invalid email, declined).
	Reason string `json:"reason"`

	// Step is the verification step the attempt stalled on.
	Step string `json:"step"`
}

func (FailedKYC) TableName() string {
	return "failed_kyc"
}
