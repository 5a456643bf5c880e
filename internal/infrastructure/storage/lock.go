package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/vitos/credit_line/internal/domain"
	"go.uber.org/zap"
)

// LockRetry bounds lock acquisition attempts.
type LockRetry struct {
	Attempts int
	Delay    time.Duration
	Jitter   time.Duration
}

// SQLiteLocker implements domain.Locker with lease rows in the locks table.
// A lease is held by a random token and expires unless extended, so a crashed
// holder never blocks a wallet for longer than its TTL.
type SQLiteLocker struct {
	store  *SQLiteStore
	retry  LockRetry
	logger *zap.Logger
}

func NewSQLiteLocker(store *SQLiteStore, retry LockRetry, logger *zap.Logger) *SQLiteLocker {
	if retry.Delay <= 0 {
		retry.Delay = time.Second
	}
	return &SQLiteLocker{store: store, retry: retry, logger: logger}
}

// Acquire takes every key or none.
func (l *SQLiteLocker) Acquire(ctx context.Context, keys []string, ttl time.Duration) (domain.Lock, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no lock keys", domain.ErrInvalidParameter)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: lock ttl must be positive", domain.ErrInvalidParameter)
	}
	token := uuid.NewString()

	attempt := func() error {
		ok, err := l.tryAcquire(ctx, keys, token, ttl)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrLockContention, strings.Join(keys, ","))
		}
		return nil
	}
	if err := backoff.Retry(attempt, backoff.WithContext(l.newBackOff(), ctx)); err != nil {
		return nil, err
	}

	lock := &sqliteLock{
		locker: l,
		keys:   append([]string(nil), keys...),
		token:  token,
		ttl:    ttl,
		lost:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	lock.wg.Add(1)
	go lock.keepAlive()

	l.logger.Debug("Lock acquired", zap.Strings("keys", keys), zap.Duration("ttl", ttl))
	return lock, nil
}

func (l *SQLiteLocker) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.retry.Delay
	b.MaxInterval = l.retry.Delay
	b.Multiplier = 1
	b.RandomizationFactor = float64(l.retry.Jitter) / float64(l.retry.Delay)
	b.MaxElapsedTime = 0
	b.Reset()
	attempts := l.retry.Attempts
	if attempts < 0 {
		attempts = 0
	}
	return backoff.WithMaxRetries(b, uint64(attempts))
}

// tryAcquire inserts or takes over expired rows for every key in one transaction.
func (l *SQLiteLocker) tryAcquire(ctx context.Context, keys []string, token string, ttl time.Duration) (bool, error) {
	now := l.store.now()
	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	for _, key := range keys {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO locks (key, token, expires_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET token=excluded.token, expires_at=excluded.expires_at
			 WHERE locks.expires_at <= ?`,
			key, token, now.Add(ttl).UnixNano(), now.UnixNano())
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, tx.Commit()
}

type sqliteLock struct {
	locker *SQLiteLocker
	keys   []string
	token  string
	ttl    time.Duration

	lost     chan struct{}
	lostOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (k *sqliteLock) Lost() <-chan struct{} {
	return k.lost
}

// keepAlive extends the lease every third of the TTL until released.
func (k *sqliteLock) keepAlive() {
	defer k.wg.Done()
	interval := k.ttl / 3
	if interval <= 0 {
		interval = k.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastExtended := k.locker.store.now()

	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
		}
		err := k.extend()
		switch {
		case err == nil:
			lastExtended = k.locker.store.now()
		case errors.Is(err, domain.ErrLockContention):
			k.markLost(err)
			return
		default:
			k.locker.logger.Warn("Lock extension failed", zap.Strings("keys", k.keys), zap.Error(err))
			if k.locker.store.now().Sub(lastExtended) >= k.ttl {
				k.markLost(err)
				return
			}
		}
	}
}

func (k *sqliteLock) extend() error {
	now := k.locker.store.now()
	ctx, cancel := context.WithTimeout(context.Background(), k.ttl/3+time.Second)
	defer cancel()

	args := []any{now.Add(k.ttl).UnixNano(), k.token, now.UnixNano()}
	for _, key := range k.keys {
		args = append(args, key)
	}
	res, err := k.locker.store.db.ExecContext(ctx,
		`UPDATE locks SET expires_at = ? WHERE token = ? AND expires_at > ? AND key IN (`+placeholders(len(k.keys))+`)`,
		args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != int64(len(k.keys)) {
		return fmt.Errorf("%w: lease on %s expired", domain.ErrLockContention, strings.Join(k.keys, ","))
	}
	return nil
}

func (k *sqliteLock) markLost(err error) {
	k.lostOnce.Do(func() {
		k.locker.logger.Error("Lock lost", zap.Strings("keys", k.keys), zap.Error(err))
		close(k.lost)
	})
}

// Release stops extension and deletes the lease rows still owned by this lock.
func (k *sqliteLock) Release(ctx context.Context) error {
	k.stopOnce.Do(func() { close(k.stop) })
	k.wg.Wait()
	_, err := k.locker.store.db.ExecContext(ctx, `DELETE FROM locks WHERE token = ?`, k.token)
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var _ domain.Locker = (*SQLiteLocker)(nil)
