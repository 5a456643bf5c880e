package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/credit_line/internal/domain"
)

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (and migrates) the database at dbPath. Several
// processes may share one file; writers wait on the busy timeout.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS intents (
			id TEXT PRIMARY KEY,
			owner_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_intents_owner ON intents(owner_key, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_intents_incomplete ON intents(completed_at, created_at);`,
		`CREATE TABLE IF NOT EXISTS wallets (
			owner_key TEXT NOT NULL,
			address TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (owner_key, address)
		);`,
		`CREATE TABLE IF NOT EXISTS view_cache (
			address TEXT NOT NULL,
			view TEXT NOT NULL,
			payload BLOB NOT NULL,
			expires_at INTEGER NOT NULL,
			PRIMARY KEY (address, view)
		);`,
		`CREATE TABLE IF NOT EXISTS locks (
			key TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// IntentRepository Implementation

func (s *SQLiteStore) CreateIntent(ctx context.Context, intent *domain.Intent) error {
	params := string(intent.Params)
	if params == "" {
		params = "{}"
	}
	query := `INSERT INTO intents (id, owner_key, kind, params, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		intent.ID, intent.OwnerKey, string(intent.Kind), params, intent.CreatedAt.UnixNano())
	return err
}

const intentColumns = `id, owner_key, kind, params, created_at, completed_at`

func (s *SQLiteStore) GetIntent(ctx context.Context, id string) (*domain.Intent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM intents WHERE id = ?`, id)
	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: intent %s", domain.ErrNotFound, id)
	}
	return intent, err
}

func (s *SQLiteStore) CompleteIntent(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE intents SET completed_at = ? WHERE id = ? AND completed_at IS NULL`, at.UnixNano(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM intents WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: intent %s", domain.ErrNotFound, id)
	}
	return false, err
}

func (s *SQLiteStore) ListIncompleteIntents(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Intent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM intents WHERE completed_at IS NULL AND created_at < ? ORDER BY created_at LIMIT ?`,
		createdBefore.UnixNano(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIntents(rows)
}

func (s *SQLiteStore) ListIntentsByOwner(ctx context.Context, ownerKey string, limit int) ([]*domain.Intent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM intents WHERE owner_key = ? ORDER BY created_at DESC LIMIT ?`,
		ownerKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIntents(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*domain.Intent, error) {
	var (
		in          domain.Intent
		kind        string
		params      string
		createdAt   int64
		completedAt sql.NullInt64
	)
	if err := row.Scan(&in.ID, &in.OwnerKey, &kind, &params, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	in.Kind = domain.IntentKind(kind)
	in.Params = []byte(params)
	in.CreatedAt = time.Unix(0, createdAt).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		in.CompletedAt = &t
	}
	return &in, nil
}

func scanIntents(rows *sql.Rows) ([]*domain.Intent, error) {
	var intents []*domain.Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, in)
	}
	return intents, rows.Err()
}

// WalletRepository Implementation

func (s *SQLiteStore) SaveWallet(ctx context.Context, wallet *domain.Wallet) error {
	created := wallet.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets (owner_key, address, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(owner_key, address) DO NOTHING`,
		wallet.OwnerKey, strings.ToLower(wallet.Address), created.UnixNano())
	return err
}

func (s *SQLiteStore) WalletsForOwner(ctx context.Context, ownerKey string) ([]*domain.Wallet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_key, address, created_at FROM wallets WHERE owner_key = ? ORDER BY created_at, address`, ownerKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []*domain.Wallet
	for rows.Next() {
		var (
			w       domain.Wallet
			created int64
		)
		if err := rows.Scan(&w.OwnerKey, &w.Address, &created); err != nil {
			return nil, err
		}
		w.CreatedAt = time.Unix(0, created).UTC()
		wallets = append(wallets, &w)
	}
	return wallets, rows.Err()
}

// ViewCache Implementation

func (s *SQLiteStore) GetView(ctx context.Context, address, view string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM view_cache WHERE address = ? AND view = ? AND expires_at > ?`,
		strings.ToLower(address), view, s.now().UnixNano()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (s *SQLiteStore) PutView(ctx context.Context, address, view string, payload []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO view_cache (address, view, payload, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(address, view) DO UPDATE SET payload=excluded.payload, expires_at=excluded.expires_at`,
		strings.ToLower(address), view, payload, s.now().Add(ttl).UnixNano())
	return err
}

func (s *SQLiteStore) InvalidateViews(ctx context.Context, address string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM view_cache WHERE address = ?`, strings.ToLower(address))
	return err
}

// PruneViews drops expired cache rows.
func (s *SQLiteStore) PruneViews(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM view_cache WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
