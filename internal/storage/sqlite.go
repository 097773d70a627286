package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"trendbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite store at cfg.Path, creating the directory and
// running migrations as needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListTrackedAccounts(ctx context.Context) ([]TrackedAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, handle, owner_id, created_at FROM tracked_accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackedAccount
	for rows.Next() {
		var a TrackedAccount
		var createdMS int64
		if err := rows.Scan(&a.ID, &a.Handle, &a.OwnerID, &createdMS); err != nil {
			return nil, err
		}
		a.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddTrackedAccount(ctx context.Context, handle string, ownerID int64) (TrackedAccount, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return TrackedAccount{}, errors.New("handle is required")
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tracked_accounts(handle, owner_id, created_at) VALUES(?,?,?)
		 ON CONFLICT(handle, owner_id) DO NOTHING`,
		handle, ownerID, now.UnixMilli())
	if err != nil {
		return TrackedAccount{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already tracked; return the existing row.
		var a TrackedAccount
		var createdMS int64
		err := s.db.QueryRowContext(ctx,
			`SELECT id, handle, owner_id, created_at FROM tracked_accounts WHERE handle = ? AND owner_id = ?`,
			handle, ownerID).Scan(&a.ID, &a.Handle, &a.OwnerID, &createdMS)
		if err != nil {
			return TrackedAccount{}, err
		}
		a.CreatedAt = time.UnixMilli(createdMS)
		return a, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return TrackedAccount{}, err
	}
	return TrackedAccount{ID: id, Handle: handle, OwnerID: ownerID, CreatedAt: now}, nil
}

func (s *sqliteStore) RemoveTrackedAccount(ctx context.Context, handle string, ownerID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tracked_accounts WHERE handle = ? AND owner_id = ?`, handle, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) WasSent(ctx context.Context, userID int64, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sent_reels WHERE user_id = ? AND url = ?`, userID, url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordSent inserts one ledger row in its own implicit transaction so a
// crash mid-run leaves a consistent prefix of recorded deliveries.
func (s *sqliteStore) RecordSent(ctx context.Context, userID int64, url, accountName string) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("url is required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_reels(user_id, url, account_name, sent_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id, url) DO NOTHING`,
		userID, url, accountName, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadySent
	}
	return nil
}

func (s *sqliteStore) SentURLs(ctx context.Context, userID int64) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url FROM sent_reels WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out[u] = struct{}{}
	}
	return out, rows.Err()
}

// PurgeSentBefore deletes ledger rows strictly older than cutoff.
// Rows at exactly the cutoff instant are retained.
func (s *sqliteStore) PurgeSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sent_reels WHERE sent_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
