package repository

// Schema definitions for the Heron database.
// Compatible with both SQLite and PostgreSQL.

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    onboarded_at TIMESTAMP,
    risk_rating TEXT NOT NULL,
    risk_score REAL,
    kyc_status TEXT NOT NULL DEFAULT 'pending',
    is_pep INTEGER NOT NULL DEFAULT 0,
    sanctions_hit INTEGER NOT NULL DEFAULT 0,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_customers_risk ON customers(risk_rating);
`

// schemaTransactions defines the append-only transactions table.
// Legacy rows may only carry processed_at; timestamp is nullable for them.
const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    type TEXT NOT NULL,
    channel TEXT NOT NULL DEFAULT '',
    counterparty_name TEXT NOT NULL DEFAULT '',
    counterparty_account TEXT NOT NULL DEFAULT '',
    counterparty_bank TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    device_id TEXT NOT NULL DEFAULT '',
    ip_address TEXT NOT NULL DEFAULT '',
    timestamp TIMESTAMP,
    processed_at TIMESTAMP,
    status TEXT NOT NULL,
    status_reason TEXT NOT NULL DEFAULT '',
    risk_score REAL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    last_active_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_users_role ON users(role, active);
`

// schemaAlerts defines the alerts table.
// alert_id is the deduplication key; the unique index turns concurrent
// creation of the same alert into a constraint violation.
const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    alert_id TEXT NOT NULL UNIQUE,
    customer_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    risk_score REAL NOT NULL DEFAULT 0,
    triggered_rules TEXT NOT NULL,
    assigned_to TEXT NOT NULL DEFAULT '',
    escalated_at TIMESTAMP,
    resolved_at TIMESTAMP,
    resolution_notes TEXT NOT NULL DEFAULT '',
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
CREATE INDEX IF NOT EXISTS idx_alerts_customer ON alerts(customer_id);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
`

// AllSchemas returns all schema definitions in order.
func AllSchemas() []string {
	return []string{
		schemaCustomers,
		schemaTransactions,
		schemaUsers,
		schemaAlerts,
	}
}
