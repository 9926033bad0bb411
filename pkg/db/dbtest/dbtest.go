// Package dbtest opens isolated in-memory sqlite databases carrying the
// service schema, for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'patient',
  is_blocked BOOLEAN NOT NULL DEFAULT 0,
  last_login_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT users_role_check CHECK (role IN ('patient', 'rider', 'admin', 'pharmacy', 'doctor', 'caregiver'))
);`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id),
  image_url TEXT,
  status TEXT NOT NULL,
  upload_date DATETIME NOT NULL,
  notes TEXT,
  rider_id TEXT REFERENCES users(id),
  updated_at DATETIME,
  CONSTRAINT prescriptions_status_check CHECK (status IN (
    'pending', 'assigned', 'picked_up', 'delivered', 'rejected',
    'awaiting_pharmacy_response', 'pharmacy_confirmed'
  )),
  CONSTRAINT prescriptions_rider_status_check CHECK (
    rider_id IS NULL OR status IN ('assigned', 'picked_up', 'delivered')
  )
);`,
	`CREATE TABLE IF NOT EXISTS pharmacies (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  address TEXT NOT NULL,
  contact_email TEXT NOT NULL,
  phone_number TEXT NOT NULL,
  is_verified BOOLEAN NOT NULL DEFAULT 0,
  owner_user_id TEXT REFERENCES users(id),
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS pharmacy_responses (
  id TEXT PRIMARY KEY,
  prescription_id TEXT NOT NULL REFERENCES prescriptions(id),
  pharmacy_id TEXT NOT NULL REFERENCES users(id),
  has_stock BOOLEAN NOT NULL,
  price TEXT,
  response_date DATETIME NOT NULL,
  notes TEXT,
  CONSTRAINT pharmacy_responses_price_check CHECK (price IS NULL OR price > 0)
);`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
  id TEXT PRIMARY KEY,
  timestamp DATETIME NOT NULL,
  user_id TEXT REFERENCES users(id),
  action TEXT NOT NULL,
  target_id TEXT,
  description TEXT NOT NULL DEFAULT '',
  metadata TEXT NOT NULL DEFAULT '{}'
);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL CHECK (error_reason IN ('max_attempts', 'non_retryable')),
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id),
  event_id TEXT NOT NULL,
  type TEXT NOT NULL CHECK (type IN ('prescription_update', 'stock_request')),
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  prescription_id TEXT REFERENCES prescriptions(id),
  read_at DATETIME,
  created_at DATETIME,
  UNIQUE (event_id, user_id)
);`,
}

// Open returns a fresh database; each call gets its own named in-memory store.
// The schema mirrors the goose migrations, but foreign keys are not enforced
// so tests can seed rows without their parents.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	return open(t, false)
}

// OpenStrict is Open with foreign keys enforced, matching Postgres.
func OpenStrict(t testing.TB) *gorm.DB {
	t.Helper()
	return open(t, true)
}

// The pool is pinned to one connection so concurrent tests serialize instead
// of tripping sqlite's shared-cache table locks.
func open(t testing.TB, foreignKeys bool) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	if foreignKeys {
		dsn += "&_foreign_keys=1"
	}
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}
