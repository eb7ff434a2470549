package quantumbank

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccountStore(t testing.TB) *AccountStore {
	t.Helper()
	db := gormDB(t)
	writeDB := NewDatabase(db, nil, false)
	return NewAccountStore(writeDB, nil)
}

func openTestAccount(
	t testing.TB,
	store *AccountStore,
	userID string,
	balance decimal.Decimal,
) *Account {
	t.Helper()
	ctx := context.Background()
	account, err := store.Create(
		ctx, &Account{
			ModelStringID: ModelStringID{ID: userID},
			Username:      "user_" + userID,
			Balance:       balance,
			BranchID:      "guild-1",
			BranchName:    "Test Guild",
			KYCApproved:   true,
		},
	)
	require.NoError(t, err)
	return account
}

func TestAccountStore_CreateAndGet(t *testing.T) {
	store := newTestAccountStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "100")
	require.ErrorIs(t, err, ErrNoAccount)

	created := openTestAccount(t, store, "100", decimal.NewFromInt(100))
	assert.Equal(t, "100", created.ID)
	assert.Regexp(
		t,
		`^100@quantumbank\.[a-z0-9]{4}$`,
		created.TransferAddress,
	)

	got, err := store.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(100)))

	_, err = store.Create(
		ctx, &Account{ModelStringID: ModelStringID{ID: "100"}},
	)
	require.ErrorIs(t, err, ErrAccountExists)
}

func TestAccountStore_UpdateBalance(t *testing.T) {
	store := newTestAccountStore(t)
	ctx := context.Background()
	openTestAccount(t, store, "100", decimal.NewFromInt(50))

	account, err := store.UpdateBalance(ctx, "100", decimal.NewFromInt(25))
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(75)))

	account, err = store.UpdateBalance(ctx, "100", decimal.NewFromInt(-75))
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())

	_, err = store.UpdateBalance(ctx, "100", decimal.NewFromInt(-1))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// balance unchanged after the rejected update
	account, err = store.Get(ctx, "100")
	require.NoError(t, err)
	assert.True(t, account.Balance.IsZero())

	_, err = store.UpdateBalance(ctx, "404", decimal.NewFromInt(1))
	require.ErrorIs(t, err, ErrNoAccount)
}

func TestAccountStore_UpdateBalanceConcurrentDeltas(t *testing.T) {
	store := newTestAccountStore(t)
	ctx := context.Background()
	openTestAccount(t, store, "100", decimal.NewFromInt(100))

	// concurrent withdrawals that together exceed the balance: each
	// delta is applied relative to the stored balance, so the admitted
	// ones sum exactly and none overdraws
	const attempts = 10
	withdrawal := decimal.NewFromInt(30)

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateBalance(ctx, "100", withdrawal.Neg())
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var applied int64
	for err := range results {
		if err == nil {
			applied++
		} else {
			require.ErrorIs(t, err, ErrInsufficientBalance)
		}
	}
	// 100 covers exactly three withdrawals of 30
	assert.EqualValues(t, 3, applied)

	account, err := store.Get(ctx, "100")
	require.NoError(t, err)
	assert.True(
		t,
		account.Balance.Equal(decimal.NewFromInt(10)),
		"balance: %s", account.Balance,
	)
	assert.False(t, account.Balance.IsNegative())
}

func TestAccountStore_Transactions(t *testing.T) {
	store := newTestAccountStore(t)
	ctx := context.Background()
	openTestAccount(t, store, "100", decimal.NewFromInt(100))

	for i := 0; i < 3; i++ {
		require.NoError(
			t, store.AppendTransaction(
				ctx, &TransactionRecord{
					AccountID: "100",
					Kind:      TransactionCredit,
					Amount:    decimal.NewFromInt(int64(i + 1)),
				},
			),
		)
	}

	records, err := store.Transactions(ctx, "100", 10)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, err = store.Transactions(ctx, "100", 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = store.Transactions(ctx, "404", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAccountStore_TransferAddress(t *testing.T) {
	store := newTestAccountStore(t)
	ctx := context.Background()
	account := openTestAccount(t, store, "100", decimal.NewFromInt(10))
	original := account.TransferAddress

	resolved, err := store.ResolveTransferAddress(ctx, original)
	require.NoError(t, err)
	assert.Equal(t, "100", resolved.ID)

	_, err = store.ResolveTransferAddress(ctx, "999@quantumbank.zz99")
	require.ErrorIs(t, err, ErrUnknownPayee)

	regenerated, err := store.SetTransferAddress(ctx, "100")
	require.NoError(t, err)
	assert.NotEqual(t, original, regenerated)

	// the old address no longer resolves
	_, err = store.ResolveTransferAddress(ctx, original)
	require.ErrorIs(t, err, ErrUnknownPayee)

	resolved, err = store.ResolveTransferAddress(ctx, regenerated)
	require.NoError(t, err)
	assert.Equal(t, "100", resolved.ID)

	_, err = store.SetTransferAddress(ctx, "404")
	require.ErrorIs(t, err, ErrNoAccount)
}

func TestAccountStore_Leaderboard(t *testing.T) {
	store := newTestAccountStore(t)
	ctx := context.Background()

	balances := map[string]int64{
		"1": 100,
		"2": 300,
		"3": 200,
		"4": 50,
	}
	for userID, balance := range balances {
		openTestAccount(t, store, userID, decimal.NewFromInt(balance))
	}

	// account in a different branch should not appear
	_, err := store.Create(
		ctx, &Account{
			ModelStringID: ModelStringID{ID: "9"},
			Username:      "user_9",
			Balance:       decimal.NewFromInt(9999),
			BranchID:      "guild-2",
		},
	)
	require.NoError(t, err)

	entries, err := store.Leaderboard(ctx, "guild-1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "2", entries[0].UserID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "3", entries[1].UserID)
	assert.Equal(t, "1", entries[2].UserID)

	entries, err = store.Leaderboard(ctx, "guild-404", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAccountStore_SetBranch(t *testing.T) {
	store := newTestAccountStore(t)
	ctx := context.Background()
	openTestAccount(t, store, "100", decimal.NewFromInt(10))

	account, err := store.SetBranch(ctx, "100", "guild-2", "Another Guild")
	require.NoError(t, err)
	assert.Equal(t, "guild-2", account.BranchID)
	assert.Equal(t, "Another Guild", account.BranchName)

	_, err = store.SetBranch(ctx, "404", "guild-2", "Another Guild")
	require.ErrorIs(t, err, ErrNoAccount)
}

func TestAccountStore_FailedKYC(t *testing.T) {
	store := newTestAccountStore(t)
	ctx := context.Background()

	require.NoError(
		t, store.RecordFailedKYC(
			ctx, &FailedKYC{
				UserID:   "100",
				Username: "user_100",
				Reason:   "timeout",
				Step:     "email",
			},
		),
	)

	var attempts []FailedKYC
	require.NoError(t, store.db.DB().Find(&attempts).Error)
	require.Len(t, attempts, 1)
	assert.Equal(t, "timeout", attempts[0].Reason)

	// nothing younger than the retention window is pruned
	pruned, err := store.pruneFailedKYC(ctx, DefaultFailedKYCRetention)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}

func TestAccountStats(t *testing.T) {
	store := newTestAccountStore(t)
	ctx := context.Background()
	account := openTestAccount(t, store, "100", decimal.NewFromInt(100))

	records := []*TransactionRecord{
		{
			AccountID: "100",
			Kind:      TransactionDebit,
			Amount:    decimal.NewFromInt(30),
		},
		{
			AccountID: "100",
			Kind:      TransactionDebit,
			Amount:    decimal.NewFromInt(20),
		},
		{
			AccountID: "100",
			Kind:      TransactionCredit,
			Amount:    decimal.NewFromInt(10),
		},
		{
			AccountID: "100",
			Kind:      TransactionFailedVerification,
			Amount:    decimal.NewFromInt(500),
		},
	}
	for _, record := range records {
		require.NoError(t, store.AppendTransaction(ctx, record))
	}

	stats, err := account.getStats(ctx, store.db.DB())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Transactions[TransactionDebit])
	assert.Equal(t, 1, stats.Transactions[TransactionCredit])
	assert.Equal(t, 1, stats.Transactions[TransactionFailedVerification])
	assert.True(t, stats.TotalSent.Equal(decimal.NewFromInt(50)))
	assert.True(t, stats.TotalReceived.Equal(decimal.NewFromInt(10)))
}
