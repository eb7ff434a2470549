package quantumbank

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"

	postgresNotifyChannelRuntimeConfigUpdated = "quantumbank_reload_runtime_config"
	postgresNotifyChannelReloadAccountCache   = "quantumbank_reload_account_cache"
	postgresNotifyChannelAccountUpdated       = "quantumbank_account_updated"
	postgresNotifyChannelStop                 = "quantumbank_stop"
	recordSeparator                           = string(rune(30))

	// dbOperationTimeout is the default timeout used for individual
	// database write operations.
	dbOperationTimeout = 30 * time.Second

	dbNotifierSendTimeout = 5 * time.Second
)

var (
	ErrDBTypeNotSupported = errors.New("database type not supported")

	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma foreign_keys = on;",
	}
)

// DBI is an interface abstracting database operations and the in-memory
// account cache.
//
// Write operations are serialized behind a mutex when the backing
// database is SQLite, which does not tolerate concurrent writers.
type DBI interface {
	Create(value any) (rowsAffected int64, err error)
	Save(value any) (rowsAffected int64, err error)
	Update(model any, column string, value any) (rowsAffected int64, err error)
	Updates(model any, values any) (rowsAffected int64, err error)
	UpdatesWhere(
		model any,
		values map[string]any,
		query any,
		args ...any,
	) (rowsAffected int64, err error)
	Delete(value any, conds ...any) (rowsAffected int64, err error)
	Transaction(fc func(tx *gorm.DB) error) error

	DB() *gorm.DB

	// AccountCache returns a snapshot of the in-memory account cache,
	// keyed on Discord user ID.
	AccountCache() map[string]*Account

	// GetAccount returns the cached account for the given Discord user
	// ID, or nil if no account exists.
	GetAccount(userID string) *Account

	// ReloadAccount refreshes the cached copy of a single account from
	// the database. Returns nil if the account no longer exists.
	ReloadAccount(ctx context.Context, userID string) (*Account, error)

	// LoadAccounts (re)populates the account cache from the database
	// and returns the loaded accounts.
	LoadAccounts(ctx context.Context) ([]Account, error)
}

// database implements [DBI].
type database struct {
	db     *gorm.DB
	logger *slog.Logger

	// enableConcurrentWrites disables write serialization. Only set
	// for databases that support concurrent writers (postgres).
	enableConcurrentWrites bool
	writeMu                sync.Mutex

	accountMu sync.RWMutex
	accounts  map[string]*Account
}

// NewDatabase returns a new [DBI] wrapping the given gorm.DB.
func NewDatabase(
	db *gorm.DB,
	logger *slog.Logger,
	concurrentWrites bool,
) DBI {
	if logger == nil {
		logger = slog.Default()
	}
	return &database{
		db:                     db,
		logger:                 logger,
		enableConcurrentWrites: concurrentWrites,
		accounts:               map[string]*Account{},
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) lock() func() {
	if d.enableConcurrentWrites {
		return func() {}
	}
	d.writeMu.Lock()
	return d.writeMu.Unlock
}

func (d *database) Create(value any) (int64, error) {
	unlock := d.lock()
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	rv := d.db.WithContext(ctx).Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Save(value any) (int64, error) {
	unlock := d.lock()
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	rv := d.db.WithContext(ctx).Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Update(model any, column string, value any) (int64, error) {
	unlock := d.lock()
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	rv := d.db.WithContext(ctx).Model(model).Update(column, value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(model any, values any) (int64, error) {
	unlock := d.lock()
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) UpdatesWhere(
	model any,
	values map[string]any,
	query any,
	args ...any,
) (int64, error) {
	unlock := d.lock()
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	rv := d.db.WithContext(ctx).Model(model).Where(query, args...).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Delete(value any, conds ...any) (int64, error) {
	unlock := d.lock()
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	rv := d.db.WithContext(ctx).Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(fc func(tx *gorm.DB) error) error {
	unlock := d.lock()
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dbOperationTimeout)
	defer cancel()
	return d.db.WithContext(ctx).Transaction(fc)
}

func (d *database) AccountCache() map[string]*Account {
	d.accountMu.RLock()
	defer d.accountMu.RUnlock()

	accounts := make(map[string]*Account, len(d.accounts))
	for k, v := range d.accounts {
		accounts[k] = v
	}
	return accounts
}

func (d *database) GetAccount(userID string) *Account {
	d.accountMu.RLock()
	defer d.accountMu.RUnlock()
	return d.accounts[userID]
}

func (d *database) ReloadAccount(
	ctx context.Context,
	userID string,
) (*Account, error) {
	var account Account
	rv := d.db.WithContext(ctx).Where("id = ?", userID).Limit(1).Find(&account)
	if rv.Error != nil {
		return nil, rv.Error
	}

	d.accountMu.Lock()
	defer d.accountMu.Unlock()
	if rv.RowsAffected == 0 {
		delete(d.accounts, userID)
		return nil, nil
	}
	d.accounts[userID] = &account
	return &account, nil
}

func (d *database) LoadAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := d.db.WithContext(ctx).Find(&accounts).Error; err != nil {
		return nil, err
	}

	d.accountMu.Lock()
	defer d.accountMu.Unlock()
	d.accounts = make(map[string]*Account, len(accounts))
	for i := range accounts {
		account := accounts[i]
		d.accounts[account.ID] = &account
	}
	d.logger.Debug("loaded account cache", "count", len(accounts))
	return accounts, nil
}

// ModelUintID is a base model with a uint primary key.
type ModelUintID struct {
	ID uint `gorm:"primarykey" json:"id"`
}

// ModelStringID is a base model with a string primary key. Used for
// records keyed on Discord snowflake IDs.
type ModelStringID struct {
	ID string `gorm:"primarykey" json:"id"`
}

// ModelUnixTime is a base model with millisecond unix timestamps for
// record creation, update and (soft) deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// CreateDB opens the database indicated by dbType/dsn and migrates the
// schema in a single transaction.
func CreateDB(
	ctx context.Context,
	dbType string,
	dsn string,
) (*gorm.DB, error) {
	db, err := getDB(ctx, dbType, dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	err = db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&Account{},
				&TransactionRecord{},
				&FailedKYC{},
				&RuntimeConfig{},
				&InteractionLog{},
				&DiscordMessage{},
			)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}
	return db, nil
}

func getDB(ctx context.Context, dbType string, dsn string) (*gorm.DB, error) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = slog.Default()
	}
	gormLogger := newGORMLogger(logger.Handler(), DefaultDatabaseSlowThreshold)

	cfg := &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	switch dbType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(dsn)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(dsn), cfg)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrDBTypeNotSupported, dbType)
	}
}

// Duration wraps time.Duration to support database serialization as a
// duration string.
type Duration struct {
	time.Duration
}

func (d Duration) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d *Duration) Scan(value any) error {
	switch v := value.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	case []byte:
		parsed, err := time.ParseDuration(string(v))
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	case int64:
		d.Duration = time.Duration(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Duration", value)
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.String())), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
