package quantumbank

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// gormDB creates a temporary SQLite database for testing purposes.
func gormDB(t testing.TB) *gorm.DB {
	t.Helper()
	tmpdir := t.TempDir()
	dbfile := filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", filepath.Base(t.Name())))

	db, err := CreateDB(context.Background(), "sqlite", dbfile)
	if err != nil {
		t.Fatalf("error creating db: %v", err)
	}
	return db
}

func TestNewTransferAddress(t *testing.T) {
	address, err := newTransferAddress("123456789012345678")
	require.NoError(t, err)
	assert.Regexp(
		t,
		`^123456789012345678@quantumbank\.[a-z0-9]{4}$`,
		address,
	)
	assert.Equal(t, "123456789012345678", transferAddressUserID(address))
}

func TestTransferAddressUserID(t *testing.T) {
	testCases := []struct {
		name     string
		address  string
		expected string
	}{
		{
			name:     "valid address",
			address:  "42@quantumbank.ab12",
			expected: "42",
		},
		{
			name:     "wrong domain",
			address:  "42@otherbank.ab12",
			expected: "",
		},
		{
			name:     "suffix too long",
			address:  "42@quantumbank.ab123",
			expected: "",
		},
		{
			name:     "uppercase suffix",
			address:  "42@quantumbank.AB12",
			expected: "",
		},
		{
			name:     "non-numeric user id",
			address:  "bob@quantumbank.ab12",
			expected: "",
		},
		{
			name:     "empty",
			address:  "",
			expected: "",
		},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, transferAddressUserID(tc.address))
			},
		)
	}
}

func TestDecodeCustomID(t *testing.T) {
	action, payload := decodeCustomID("pay_confirm:abc-123")
	assert.Equal(t, "pay_confirm", action)
	assert.Equal(t, "abc-123", payload)

	action, payload = decodeCustomID("pay_confirm:")
	assert.Equal(t, "pay_confirm", action)
	assert.Empty(t, payload)

	// no separator means no action
	action, payload = decodeCustomID("help_menu")
	assert.Empty(t, action)
	assert.Empty(t, payload)

	action, payload = decodeCustomID("")
	assert.Empty(t, action)
	assert.Empty(t, payload)
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "$100.00", formatMoney(decimal.NewFromInt(100)))
	assert.Equal(
		t,
		"$0.50",
		formatMoney(decimal.NewFromFloat(0.5)),
	)
	assert.Equal(
		t,
		"$12.35",
		formatMoney(decimal.NewFromFloat(12.345).Round(2)),
	)
}

func TestTruncate(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		limit    int
		expected string
	}{
		{
			name:     "string shorter than limit",
			input:    "short",
			limit:    10,
			expected: "short",
		},
		{
			name:     "string longer than limit",
			input:    "this is a long string",
			limit:    4,
			expected: "this",
		},
		{
			name:     "empty string",
			input:    "",
			limit:    5,
			expected: "",
		},
		{
			name:     "multibyte runes",
			input:    "héllo wörld",
			limit:    5,
			expected: "héllo",
		},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, truncate(tc.input, tc.limit))
			},
		)
	}
}

func TestHashPassword(t *testing.T) {
	password := "correct horse battery staple"
	hashed, err := HashPassword(password)
	require.NoError(t, err)
	require.NotEqual(t, password, hashed)

	valid, err := verifyPassword(hashed, password)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = verifyPassword(hashed, "wrong password")
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = verifyPassword("not-a-real-hash", password)
	assert.Error(t, err)
}

func TestGenerateRandomHexString(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		s, err := generateRandomHexString(32)
		require.NoError(t, err)
		assert.Len(t, s, 32)
		assert.False(t, seen[s], "duplicate random string: %s", s)
		seen[s] = true
	}

	s, err := generateRandomHexString(7)
	require.NoError(t, err)
	assert.Len(t, s, 7)
}

func TestChunkItems(t *testing.T) {
	chunks := chunkItems(2, 1, 2, 3, 4, 5)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{1, 2}, chunks[0])
	assert.Equal(t, []int{3, 4}, chunks[1])
	assert.Equal(t, []int{5}, chunks[2])

	assert.Nil(t, chunkItems[int](3))
}

func TestEmailPattern(t *testing.T) {
	assert.True(t, emailPattern.MatchString("holder@example.com"))
	assert.True(t, emailPattern.MatchString("first.last+tag@sub.example.co"))
	assert.False(t, emailPattern.MatchString("not-an-email"))
	assert.False(t, emailPattern.MatchString("missing@tld"))
	assert.False(t, emailPattern.MatchString("@example.com"))
}

func TestDerive64ByteKey(t *testing.T) {
	key := derive64ByteKey("some secret")
	assert.Len(t, key, 64)
	assert.Equal(t, key, derive64ByteKey("some secret"))
	assert.NotEqual(t, key, derive64ByteKey("other secret"))
}
