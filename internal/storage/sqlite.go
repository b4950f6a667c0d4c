// Package storage persists the risk ledger, the funding slot and the trade journal
package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"kimchi_arb/internal/core"
	"kimchi_arb/pkg/retry"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	keyRiskState = "risk_state"
	keyFunding   = "funding_position"
)

const schema = `CREATE TABLE IF NOT EXISTS state (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	checksum   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

// ErrChecksumMismatch is returned when a stored row fails verification
var ErrChecksumMismatch = errors.New("checksum verification failed: data corruption detected")

// SQLiteStore implements core.IStateStore on a single sqlite table of JSON
// documents, each guarded by a sha256 checksum
type SQLiteStore struct {
	db     *sql.DB
	policy retry.RetryPolicy
}

// NewSQLiteStore opens (or creates) the database and its schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	// WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "enable WAL mode")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create schema")
	}

	return &SQLiteStore{db: db, policy: retry.DefaultPolicy}, nil
}

func (s *SQLiteStore) SaveRiskState(ctx context.Context, state *core.RiskState) error {
	return s.put(ctx, keyRiskState, state)
}

func (s *SQLiteStore) LoadRiskState(ctx context.Context) (*core.RiskState, error) {
	var st core.RiskState
	found, err := s.get(ctx, keyRiskState, &st)
	if err != nil || !found {
		return nil, err
	}
	return &st, nil
}

// SaveFundingPosition stores the funding slot. nil clears it.
func (s *SQLiteStore) SaveFundingPosition(ctx context.Context, pos *core.FundingPosition) error {
	if pos == nil {
		return s.delete(ctx, keyFunding)
	}
	return s.put(ctx, keyFunding, pos)
}

func (s *SQLiteStore) LoadFundingPosition(ctx context.Context) (*core.FundingPosition, error) {
	var pos core.FundingPosition
	found, err := s.get(ctx, keyFunding, &pos)
	if err != nil || !found {
		return nil, err
	}
	return &pos, nil
}

func (s *SQLiteStore) put(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}
	checksum := sha256.Sum256(data)

	return retry.Do(ctx, s.policy, isBusy, func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return errors.Wrap(err, "begin transaction")
		}
		defer func() {
			_ = tx.Rollback()
		}()

		query := `INSERT OR REPLACE INTO state (key, data, checksum, updated_at) VALUES (?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, query, key, string(data), checksum[:], time.Now().UnixNano()); err != nil {
			return errors.Wrapf(err, "write %s", key)
		}
		return errors.Wrap(tx.Commit(), "commit")
	})
}

func (s *SQLiteStore) get(ctx context.Context, key string, out interface{}) (bool, error) {
	var data string
	var stored []byte
	err := retry.Do(ctx, s.policy, isBusy, func() error {
		return s.db.QueryRowContext(ctx, `SELECT data, checksum FROM state WHERE key = ?`, key).Scan(&data, &stored)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "read %s", key)
	}

	computed := sha256.Sum256([]byte(data))
	if len(stored) != len(computed) {
		return false, errors.Wrapf(ErrChecksumMismatch, "%s: checksum length %d", key, len(stored))
	}
	for i := range computed {
		if stored[i] != computed[i] {
			return false, errors.Wrap(ErrChecksumMismatch, key)
		}
	}

	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, errors.Wrapf(err, "unmarshal %s", key)
	}
	return true, nil
}

func (s *SQLiteStore) delete(ctx context.Context, key string) error {
	return retry.Do(ctx, s.policy, isBusy, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE key = ?`, key)
		return errors.Wrapf(err, "delete %s", key)
	})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isBusy reports lock contention, the only sqlite error worth retrying
func isBusy(err error) bool {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked
	}
	return false
}
