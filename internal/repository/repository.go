// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/normalize"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new repository based on configuration and runs migrations.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	return open(cfg, true)
}

// NewReplica opens a read replica. Migrations are not run; the replica is
// expected to follow the primary's schema.
func NewReplica(cfg domain.RepositoryConfig) (domain.Repository, error) {
	return open(cfg, false)
}

func open(cfg domain.RepositoryConfig, migrate bool) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.Driver != "sqlite" {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if migrate {
		if err := repo.migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const transactionColumns = `
	id, customer_id, amount, currency, type, channel,
	counterparty_name, counterparty_account, counterparty_bank,
	location, device_id, ip_address, timestamp, processed_at,
	status, status_reason, risk_score, metadata, created_at, updated_at`

// SaveTransaction stores a new transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	_, err := r.insertTransaction(ctx, tx, false)
	return err
}

// InsertTransactionIfAbsent stores tx unless its id already exists.
func (r *SQLRepository) InsertTransactionIfAbsent(ctx context.Context, tx *domain.Transaction) (bool, error) {
	return r.insertTransaction(ctx, tx, true)
}

func (r *SQLRepository) insertTransaction(ctx context.Context, tx *domain.Transaction, ignoreConflict bool) (bool, error) {
	if tx == nil || tx.ID == "" || tx.CustomerID == "" {
		return false, fmt.Errorf("%w: transaction id and customer id are required", domain.ErrInvalidInput)
	}
	if tx.Status == "" {
		tx.Status = domain.TransactionPending
	}
	if !tx.Status.Valid() {
		return false, fmt.Errorf("%w: transaction status %q", domain.ErrInvalidInput, tx.Status)
	}

	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = tx.CreatedAt
	}

	metadata, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to encode transaction metadata: %w", err)
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if ignoreConflict {
		query += ` ON CONFLICT (id) DO NOTHING`
	}

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.CustomerID, tx.Amount.String(), tx.Currency, tx.Type, tx.Channel,
		tx.Counterparty.Name, tx.Counterparty.Account, tx.Counterparty.Bank,
		tx.Location, tx.DeviceID, tx.IPAddress,
		nullTime(tx.Timestamp), nil,
		string(tx.Status), tx.StatusReason, nullFloat(tx.RiskScore), metadata,
		tx.CreatedAt.UTC(), tx.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetTransaction retrieves a transaction by its business key.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	var row normalize.TransactionRow
	err := r.db.QueryRowContext(ctx, r.rebind(query), txID).Scan(
		&row.ID, &row.CustomerID, &row.Amount, &row.Currency, &row.Type, &row.Channel,
		&row.CounterpartyName, &row.CounterpartyAccount, &row.CounterpartyBank,
		&row.Location, &row.DeviceID, &row.IPAddress, &row.Timestamp, &row.ProcessedAt,
		&row.Status, &row.StatusReason, &row.RiskScore, &row.Metadata,
		&row.CreatedAt, &row.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, txID)
	}
	if err != nil {
		return nil, err
	}

	return normalize.Transaction(row)
}

// UpdateTransactionRiskScore overwrites the transaction's risk score.
func (r *SQLRepository) UpdateTransactionRiskScore(ctx context.Context, txID string, score float64) error {
	query := `UPDATE transactions SET risk_score = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), score, time.Now().UTC(), txID)
	if err != nil {
		return err
	}
	return expectRow(res, "transaction", txID)
}

// UpdateTransactionStatus sets the transaction's status and reason.
func (r *SQLRepository) UpdateTransactionStatus(ctx context.Context, txID string, status domain.TransactionStatus, reason string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: transaction status %q", domain.ErrInvalidInput, status)
	}

	query := `UPDATE transactions SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), string(status), reason, time.Now().UTC(), txID)
	if err != nil {
		return err
	}
	return expectRow(res, "transaction", txID)
}

const customerColumns = `
	id, name, email, phone, onboarded_at, risk_rating, risk_score,
	kyc_status, is_pep, sanctions_hit, metadata, created_at, updated_at`

// CountCustomerTransactions counts the customer's transactions whose
// timestamp (or processed_at for legacy rows) is at or after since.
func (r *SQLRepository) CountCustomerTransactions(ctx context.Context, customerID string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM transactions
		WHERE customer_id = ?
		AND COALESCE(timestamp, processed_at) >= ?
	`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// SaveCustomer inserts or replaces a customer.
func (r *SQLRepository) SaveCustomer(ctx context.Context, c *domain.Customer) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: customer id is required", domain.ErrInvalidInput)
	}
	if !c.RiskRating.Valid() {
		return fmt.Errorf("%w: risk rating %q", domain.ErrInvalidInput, c.RiskRating)
	}
	if c.KYCStatus == "" {
		c.KYCStatus = domain.KYCPending
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	metadata, err := encodeMetadata(c.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode customer metadata: %w", err)
	}

	query := `
		INSERT INTO customers (` + customerColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone,
			onboarded_at = excluded.onboarded_at,
			risk_rating = excluded.risk_rating,
			risk_score = excluded.risk_score,
			kyc_status = excluded.kyc_status,
			is_pep = excluded.is_pep,
			sanctions_hit = excluded.sanctions_hit,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.Name, c.Email, c.Phone, nullTime(c.OnboardedAt),
		string(c.RiskRating), nullFloat(c.RiskScore), string(c.KYCStatus),
		boolInt(c.IsPEP), boolInt(c.SanctionsHit), metadata,
		c.CreatedAt.UTC(), c.UpdatedAt,
	)
	return err
}

// GetCustomer retrieves a customer by id.
func (r *SQLRepository) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = ?`

	var row normalize.CustomerRow
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID).Scan(
		&row.ID, &row.Name, &row.Email, &row.Phone, &row.OnboardedAt,
		&row.RiskRating, &row.RiskScore, &row.KYCStatus,
		&row.IsPEP, &row.SanctionsHit, &row.Metadata,
		&row.CreatedAt, &row.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: customer %s", domain.ErrNotFound, customerID)
	}
	if err != nil {
		return nil, err
	}

	return normalize.Customer(row)
}

// UpdateCustomerRisk re-scores a customer.
func (r *SQLRepository) UpdateCustomerRisk(ctx context.Context, customerID string, rating domain.RiskRating, score float64) error {
	if !rating.Valid() {
		return fmt.Errorf("%w: risk rating %q", domain.ErrInvalidInput, rating)
	}

	query := `UPDATE customers SET risk_rating = ?, risk_score = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), string(rating), score, time.Now().UTC(), customerID)
	if err != nil {
		return err
	}
	return expectRow(res, "customer", customerID)
}

// SaveUser inserts or replaces a user.
func (r *SQLRepository) SaveUser(ctx context.Context, u *domain.User) error {
	if u == nil || u.ID == "" || u.Role == "" {
		return fmt.Errorf("%w: user id and role are required", domain.ErrInvalidInput)
	}

	var lastActive any
	if u.LastActiveAt != nil {
		lastActive = u.LastActiveAt.UTC()
	}

	query := `
		INSERT INTO users (id, name, email, role, active, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			active = excluded.active,
			last_active_at = excluded.last_active_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		u.ID, u.Name, u.Email, u.Role, boolInt(u.Active), lastActive,
	)
	return err
}

// LeastRecentlyActiveUser picks the active user in roles whose last activity
// is oldest. Users that were never active come first; ties break on id.
func (r *SQLRepository) LeastRecentlyActiveUser(ctx context.Context, roles []string) (*domain.User, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("%w: at least one role is required", domain.ErrInvalidInput)
	}

	args := make([]any, len(roles))
	for i, role := range roles {
		args[i] = role
	}

	query := `
		SELECT id, name, email, role, active, last_active_at
		FROM users
		WHERE active = 1 AND role IN (` + placeholders(len(roles)) + `)
		ORDER BY CASE WHEN last_active_at IS NULL THEN 0 ELSE 1 END, last_active_at ASC, id ASC
		LIMIT 1
	`

	var u domain.User
	var active int
	var lastActive sql.NullTime
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(
		&u.ID, &u.Name, &u.Email, &u.Role, &active, &lastActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active user in roles %v", domain.ErrNotFound, roles)
	}
	if err != nil {
		return nil, err
	}

	u.Active = active == 1
	if lastActive.Valid {
		t := lastActive.Time.UTC()
		u.LastActiveAt = &t
	}
	return &u, nil
}

const alertColumns = `
	id, alert_id, customer_id, transaction_id, type, severity, status,
	description, risk_score, triggered_rules, assigned_to, escalated_at,
	resolved_at, resolution_notes, metadata, created_at, updated_at`

// CreateAlert inserts a new alert. A second alert with the same alert_id
// returns domain.ErrDuplicateAlert.
func (r *SQLRepository) CreateAlert(ctx context.Context, a *domain.Alert) error {
	if a == nil || a.AlertID == "" || a.CustomerID == "" {
		return fmt.Errorf("%w: alert id and customer id are required", domain.ErrInvalidInput)
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("%w: alert severity %q", domain.ErrInvalidInput, a.Severity)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("%w: alert status %q", domain.ErrInvalidInput, a.Status)
	}

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}

	rules, metadata, err := encodeAlert(a)
	if err != nil {
		return err
	}

	query := `INSERT INTO alerts (` + alertColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.AlertID, a.CustomerID, a.TransactionID, a.Type,
		string(a.Severity), string(a.Status), a.Description, a.RiskScore,
		rules, a.AssignedTo, nullTimePtr(a.EscalatedAt), nullTimePtr(a.ResolvedAt),
		a.ResolutionNotes, metadata, a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		if r.isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateAlert, a.AlertID)
		}
		return err
	}
	return nil
}

// GetAlert retrieves an alert by its business key.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	return r.getAlert(ctx, r.db, alertID, false)
}

func (r *SQLRepository) getAlert(ctx context.Context, q querier, alertID string, lock bool) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE alert_id = ?`
	if lock && r.driver == "postgres" {
		query += ` FOR UPDATE`
	}

	a, err := scanAlert(q.QueryRowContext(ctx, r.rebind(query), alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: alert %s", domain.ErrNotFound, alertID)
	}
	return a, err
}

// ListAlerts returns alerts matching filter, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	var where []string
	var args []any

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.AssignedTo != "" {
		where = append(where, "assigned_to = ?")
		args = append(args, filter.AssignedTo)
	}
	if filter.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	if !filter.CreatedFrom.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.CreatedFrom.UTC())
	}
	if !filter.CreatedTo.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, filter.CreatedTo.UTC())
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, alert_id ASC`

	// OFFSET is only honored together with LIMIT.
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// MutateAlert loads the alert, applies fn and saves the result in one
// store transaction.
func (r *SQLRepository) MutateAlert(ctx context.Context, alertID string, fn domain.AlertMutator) (*domain.Alert, error) {
	var out *domain.Alert

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		a, err := r.getAlert(ctx, tx, alertID, true)
		if err != nil {
			return err
		}

		changed, err := fn(a)
		if err != nil {
			return err
		}
		if changed {
			if err := r.updateAlert(ctx, tx, a); err != nil {
				return err
			}
		}

		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MutateAlerts applies fn to every existing alert in alertIDs within one
// store transaction. Unknown ids are skipped; any error rolls back all.
func (r *SQLRepository) MutateAlerts(ctx context.Context, alertIDs []string, fn domain.AlertMutator) (int, error) {
	modified := 0

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		seen := make(map[string]bool, len(alertIDs))
		for _, id := range alertIDs {
			if seen[id] {
				continue
			}
			seen[id] = true

			a, err := r.getAlert(ctx, tx, id, true)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			changed, err := fn(a)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}

			if err := r.updateAlert(ctx, tx, a); err != nil {
				return err
			}
			modified++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return modified, nil
}

func (r *SQLRepository) updateAlert(ctx context.Context, q querier, a *domain.Alert) error {
	rules, metadata, err := encodeAlert(a)
	if err != nil {
		return err
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}

	query := `
		UPDATE alerts SET
			severity = ?, status = ?, description = ?, risk_score = ?,
			triggered_rules = ?, assigned_to = ?, escalated_at = ?,
			resolved_at = ?, resolution_notes = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := q.ExecContext(ctx, r.rebind(query),
		string(a.Severity), string(a.Status), a.Description, a.RiskScore,
		rules, a.AssignedTo, nullTimePtr(a.EscalatedAt),
		nullTimePtr(a.ResolvedAt), a.ResolutionNotes, metadata, a.UpdatedAt.UTC(),
		a.ID,
	)
	if err != nil {
		return err
	}
	return expectRow(res, "alert", a.AlertID)
}

func (r *SQLRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) isUniqueViolation(err error) bool {
	if r.driver == "postgres" {
		return isPostgresUniqueViolation(err)
	}
	return isSQLiteUniqueViolation(err)
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(s rowScanner) (*domain.Alert, error) {
	var a domain.Alert
	var severity, status, rules string
	var escalatedAt, resolvedAt sql.NullTime
	var metadata sql.NullString

	if err := s.Scan(
		&a.ID, &a.AlertID, &a.CustomerID, &a.TransactionID, &a.Type,
		&severity, &status, &a.Description, &a.RiskScore, &rules,
		&a.AssignedTo, &escalatedAt, &resolvedAt, &a.ResolutionNotes,
		&metadata, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.Severity = domain.Severity(severity)
	a.Status = domain.AlertStatus(status)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if escalatedAt.Valid {
		t := escalatedAt.Time.UTC()
		a.EscalatedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		a.ResolvedAt = &t
	}

	if err := json.Unmarshal([]byte(rules), &a.TriggeredRules); err != nil {
		return nil, fmt.Errorf("failed to parse triggered rules for %s: %w", a.AlertID, err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse alert metadata for %s: %w", a.AlertID, err)
		}
	}

	return &a, nil
}

func encodeAlert(a *domain.Alert) (string, string, error) {
	triggered := a.TriggeredRules
	if triggered == nil {
		triggered = []string{}
	}
	rules, err := json.Marshal(triggered)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode triggered rules: %w", err)
	}
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode alert metadata: %w", err)
	}
	return string(rules), string(metadata), nil
}

func encodeMetadata(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return nullTime(*t)
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
