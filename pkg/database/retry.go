package database

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

const (
	// DefaultMaxRetries is how many times a busy transaction is retried.
	DefaultMaxRetries = 5

	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = 2 * time.Second

	sqliteBusy   = 5
	sqliteLocked = 6
)

// sqliteCoded matches driver errors that expose the SQLite result code, such
// as modernc.org/sqlite's *Error.
type sqliteCoded interface {
	Code() int
}

// IsBusy reports whether err is SQLite refusing the statement because another
// connection (usually another worker process) holds the write lock. The
// driver's result code is used when it has one; otherwise the message is
// checked for SQLite's own busy and locked texts.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var coded sqliteCoded
	if errors.As(err, &coded) {
		// Extended codes keep the primary code in the low byte.
		switch coded.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		default:
			return false
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// backoff returns the delay before the given retry attempt (0-based):
// exponential from retryBaseDelay with up to 25% jitter, capped at retryMaxDelay.
func backoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<attempt)
	if delay <= 0 || delay > retryMaxDelay {
		return retryMaxDelay
	}
	delay += time.Duration(rand.Int63n(int64(delay/4) + 1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// Retry runs fn until it succeeds, fails with a non-busy error, or has been
// retried maxRetries times.
func Retry(ctx context.Context, maxRetries int, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil || !IsBusy(err) || attempt == maxRetries {
			return err
		}

		logger.FromContext(ctx).Warn("database busy, retrying", logger.Data{"attempt": attempt + 1})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return err
}

// RunInTx runs fn inside a transaction, retrying the whole transaction when
// SQLite reports the database as busy. fn must only use the tx it is given.
func RunInTx(ctx context.Context, db bun.IDB, maxRetries int, fn func(ctx context.Context, tx bun.Tx) error) error {
	return Retry(ctx, maxRetries, func() error {
		return db.RunInTx(ctx, nil, fn)
	})
}
