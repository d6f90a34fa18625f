package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Driver type identifiers for the two stores.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverLibSQL   = "libsql"
)

// DetectDriver infers the driver type from a connection string.
func DetectDriver(connString string) string {
	lower := strings.ToLower(connString)

	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(lower, "libsql://"), strings.HasPrefix(lower, "wss://"), strings.HasPrefix(lower, "ws://"):
		return DriverLibSQL
	case strings.HasPrefix(lower, "sqlite://"):
		return DriverSQLite
	case strings.HasPrefix(lower, "file:"), lower == ":memory:":
		return DriverSQLite
	case strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return DriverSQLite
	default:
		// Key=value DSNs (host=... dbname=...) are a lib/pq convention.
		if strings.Contains(connString, "=") {
			return DriverPostgres
		}
		return DriverSQLite
	}
}

// SQLDriverName maps a detected driver type to the registered database/sql
// driver name.
func SQLDriverName(driverType string) string {
	switch driverType {
	case DriverPostgres:
		return "postgres"
	case DriverLibSQL:
		return "libsql"
	default:
		return "sqlite"
	}
}

// Open connects to a store and verifies the connection.
func Open(ctx context.Context, connString string) (*sql.DB, string, error) {
	driverType := DetectDriver(connString)

	dsn := connString
	if driverType == DriverSQLite {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open(SQLDriverName(driverType), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s connection: %w", driverType, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to connect to %s store: %w", driverType, err)
	}
	return db, driverType, nil
}

// Placeholder returns the parameter placeholder for the given driver and
// 1-based position. PostgreSQL uses $N, SQLite uses ?.
func Placeholder(driverType string, position int) string {
	if driverType == DriverPostgres {
		return fmt.Sprintf("$%d", position)
	}
	return "?"
}

// IsTransient reports whether err looks like a transient failure worth
// retrying: network blips, timeouts, serialization conflicts, lock waits.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57014", // query_canceled (statement_timeout)
			"53300": // too_many_connections
			return true
		}
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "i/o timeout")
}

// RetryConfig bounds the retry loop for transient failures.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// DefaultRetry is the retry budget used when none is configured.
var DefaultRetry = RetryConfig{MaxAttempts: 3, BaseBackoff: 100 * time.Millisecond}

// Retry runs fn, retrying transient failures with exponential backoff until
// the budget is exhausted. Non-transient errors fail immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetry.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultRetry.BaseBackoff
	}

	var err error
	backoff := cfg.BaseBackoff
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("retries exhausted after %d attempts: %w", cfg.MaxAttempts, err)
}
