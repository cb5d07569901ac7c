// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for relational persistence.
// It is the single source of truth and the synchronization point between
// concurrent evaluations.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	// InsertTransactionIfAbsent inserts tx unless its business key exists.
	// It reports whether a row was inserted.
	InsertTransactionIfAbsent(ctx context.Context, tx *Transaction) (bool, error)
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	UpdateTransactionRiskScore(ctx context.Context, txID string, score float64) error
	UpdateTransactionStatus(ctx context.Context, txID string, status TransactionStatus, reason string) error
	// CountCustomerTransactions counts a customer's transactions at or after since.
	CountCustomerTransactions(ctx context.Context, customerID string, since time.Time) (int64, error)

	// Customer operations
	SaveCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	UpdateCustomerRisk(ctx context.Context, customerID string, rating RiskRating, score float64) error

	// User operations
	SaveUser(ctx context.Context, u *User) error
	// LeastRecentlyActiveUser returns the active user in one of roles whose
	// last activity is oldest (never active first). ErrNotFound if none.
	LeastRecentlyActiveUser(ctx context.Context, roles []string) (*User, error)

	AlertStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AlertReader is the read side of alert persistence.
type AlertReader interface {
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)
}

// AlertMutator changes an alert in place. It reports whether the alert was
// modified; returning an error aborts the surrounding store transaction.
type AlertMutator func(a *Alert) (bool, error)

// AlertStore persists alerts.
type AlertStore interface {
	AlertReader

	// CreateAlert inserts a new alert. A business key collision returns
	// ErrDuplicateAlert.
	CreateAlert(ctx context.Context, a *Alert) error

	// MutateAlert loads, mutates and saves one alert atomically.
	MutateAlert(ctx context.Context, alertID string, fn AlertMutator) (*Alert, error)

	// MutateAlerts applies fn to every existing alert in alertIDs inside a
	// single store transaction and returns how many were modified. Unknown
	// ids are skipped. Any error rolls the whole batch back.
	MutateAlerts(ctx context.Context, alertIDs []string, fn AlertMutator) (int, error)
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// Replica, when set, is used by read-only analytics.
	Replica *RepositoryConfig `mapstructure:"replica"`
}
