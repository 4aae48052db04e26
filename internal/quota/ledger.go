// Package quota meters outbound generation-service requests. Rows land
// in SQLite so per-minute pacing and daily caps survive restarts; a
// fresh process cannot burn through a day's budget twice.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/services"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	// Rows older than this are swept on open; pacing windows never look
	// back further than one day.
	retention = 48 * time.Hour
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service TEXT NOT NULL,
	requested_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_service_time ON requests(service, requested_at);
`

// Ledger meters requests per service. A disabled ledger (quota.enabled
// = false) is a no-op so callers never branch on configuration.
type Ledger struct {
	db      *sql.DB
	path    string
	logger  *slog.Logger
	enabled bool
	rpm     int
	daily   int

	mu    sync.Mutex
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Open connects to the quota database at the configured path.
func Open(cfg *config.Config, logger *slog.Logger) (*Ledger, error) {
	if cfg == nil {
		return nil, errors.New("quota: config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "quota")

	ledger := &Ledger{
		logger:  logger,
		enabled: cfg.Quota.Enabled,
		rpm:     cfg.Quota.RequestsPerMinute,
		daily:   cfg.Quota.DailyLimit,
		now:     time.Now,
		sleep:   sleepContext,
	}
	if !ledger.enabled {
		return ledger, nil
	}

	path := cfg.QuotaPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create quota directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open quota db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init quota schema: %w", err)
	}

	ledger.db = db
	ledger.path = path
	ledger.prune()
	return ledger, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Reserve blocks until the service may issue one request, then records
// it. Pacing waits are cancellable. An exhausted daily budget returns a
// rate_limit-classified error so the retry policy treats it like any
// other throttling signal.
func (l *Ledger) Reserve(ctx context.Context, service string) error {
	if l == nil || !l.enabled {
		return nil
	}
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("service name cannot be empty")
	}

	for {
		now := l.now()

		used, err := l.countSince(ctx, service, midnight(now))
		if err != nil {
			return err
		}
		if l.daily > 0 && used >= l.daily {
			return services.Wrap(services.ErrRateLimited, "quota", service,
				fmt.Sprintf("daily request limit %d reached, resets at midnight", l.daily), nil)
		}

		if l.rpm <= 0 {
			return l.record(ctx, service, now)
		}

		windowStart := now.Add(-time.Minute)
		inWindow, oldest, err := l.windowUsage(ctx, service, windowStart)
		if err != nil {
			return err
		}
		if inWindow < l.rpm {
			return l.record(ctx, service, now)
		}

		wait := oldest.Add(time.Minute).Sub(now)
		if wait <= 0 {
			wait = time.Second
		}
		l.logger.Debug("pacing request",
			logging.String("service", service),
			logging.Duration("wait", wait),
			logging.Int("window_used", inWindow))
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// UsageToday reports requests recorded for the service since midnight.
func (l *Ledger) UsageToday(service string) (int, error) {
	if l == nil || !l.enabled {
		return 0, nil
	}
	return l.countSince(context.Background(), service, midnight(l.now()))
}

// Limits returns the configured pacing values.
func (l *Ledger) Limits() (requestsPerMinute, dailyLimit int) {
	if l == nil {
		return 0, 0
	}
	return l.rpm, l.daily
}

// Enabled reports whether the ledger meters anything.
func (l *Ledger) Enabled() bool {
	return l != nil && l.enabled
}

func (l *Ledger) record(ctx context.Context, service string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return retryOnBusy(ctx, func() error {
		_, err := l.db.ExecContext(ctx,
			`INSERT INTO requests (service, requested_at) VALUES (?, ?)`,
			service, now.UTC().Format(time.RFC3339Nano))
		return err
	})
}

func (l *Ledger) countSince(ctx context.Context, service string, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var count int
	err := retryOnBusy(ctx, func() error {
		row := l.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM requests WHERE service = ? AND requested_at >= ?`,
			service, since.UTC().Format(time.RFC3339Nano))
		return row.Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count quota usage: %w", err)
	}
	return count, nil
}

func (l *Ledger) windowUsage(ctx context.Context, service string, since time.Time) (int, time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		count  int
		oldest sql.NullString
	)
	err := retryOnBusy(ctx, func() error {
		row := l.db.QueryRowContext(ctx,
			`SELECT COUNT(1), MIN(requested_at) FROM requests WHERE service = ? AND requested_at > ?`,
			service, since.UTC().Format(time.RFC3339Nano))
		return row.Scan(&count, &oldest)
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("inspect quota window: %w", err)
	}
	if !oldest.Valid || count == 0 {
		return count, time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, oldest.String)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse quota timestamp: %w", err)
	}
	return count, parsed, nil
}

func (l *Ledger) prune() {
	cutoff := l.now().Add(-retention).UTC().Format(time.RFC3339Nano)
	if _, err := l.db.Exec(`DELETE FROM requests WHERE requested_at < ?`, cutoff); err != nil {
		l.logger.Warn("prune quota rows", logging.Error(err))
	}
}

// midnight returns the start of the calendar day holding t, in t's
// location. Daily budgets reset on the operator's local clock.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
