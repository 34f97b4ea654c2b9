package services

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Retrier wiederholt einzelne Datenbank-Aufrufe bei vorübergehenden Fehlern
// mit exponentiellem Backoff und begrenzter Anzahl von Versuchen.
type Retrier struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Logger   *zap.Logger
}

func NewRetrier(attempts int, initial, max time.Duration, logger *zap.Logger) *Retrier {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrier{Attempts: attempts, Initial: initial, Max: max, Logger: logger}
}

// Do führt fn aus. Nicht vorübergehende Fehler werden sofort zurückgegeben.
func (r *Retrier) Do(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Initial
	b.MaxInterval = r.Max
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.Attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		r.Logger.Warn("Transient store error, retrying",
			zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
	})
}

// Vorübergehende PostgreSQL-Fehler außerhalb der Klasse 08 (Verbindung).
var transientSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
}

// IsTransient entscheidet, ob ein erneuter Versuch sinnvoll ist.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || transientSQLStates[pgErr.Code]
	}
	return false
}
