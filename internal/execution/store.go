package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

var ErrActionNotFound = errors.New("action not found")

const defaultListLimit = 20

// Store persists planned and executed actions in sqlite. Writers serialize on
// a file lock so concurrent CLI runs do not interleave upserts.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	Intent string
	Status string
	Vault  string
	From   string
	Limit  int
}

var actionSchema = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	`CREATE TABLE IF NOT EXISTS actions (
		action_id    TEXT PRIMARY KEY,
		intent_type  TEXT NOT NULL,
		status       TEXT NOT NULL,
		chain_id     TEXT NOT NULL,
		vault        TEXT NOT NULL DEFAULT '',
		from_address TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL,
		payload      BLOB NOT NULL
	);`,
	"CREATE INDEX IF NOT EXISTS idx_actions_intent_updated ON actions(intent_type, updated_at DESC);",
	"CREATE INDEX IF NOT EXISTS idx_actions_vault_updated ON actions(vault, updated_at DESC);",
}

func OpenStore(path, lockPath string) (*Store, error) {
	for _, dir := range []string{filepath.Dir(path), filepath.Dir(lockPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create action store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open action sqlite: %w", err)
	}
	for _, q := range actionSchema {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init action schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the action. Vault and sender are copied into indexed columns
// so settlements can be listed per vault without decoding every payload.
func (s *Store) Save(action Action) error {
	if strings.TrimSpace(action.ActionID) == "" {
		return fmt.Errorf("save action: missing action id")
	}
	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	now := time.Now().UTC().Unix()
	created := unixOr(action.CreatedAt, now)
	updated := unixOr(action.UpdatedAt, now)

	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.db.Exec(`
		INSERT INTO actions (action_id, intent_type, status, chain_id, vault, from_address, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET
			intent_type=excluded.intent_type,
			status=excluded.status,
			chain_id=excluded.chain_id,
			vault=excluded.vault,
			from_address=excluded.from_address,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, action.ActionID, action.IntentType, string(action.Status), action.ChainID,
		strings.ToLower(action.Vault()), strings.ToLower(action.FromAddress), created, updated, payload)
	if err != nil {
		return fmt.Errorf("save action: %w", err)
	}
	return nil
}

func (s *Store) acquire() (func(), error) {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("lock action store: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock action store: timeout acquiring lock")
	}
	return func() { _ = s.lock.Unlock() }, nil
}

func (s *Store) Get(actionID string) (Action, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM actions WHERE action_id = ?", actionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Action{}, fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
		}
		return Action{}, fmt.Errorf("read action: %w", err)
	}
	return decodeAction(payload)
}

// List returns matching actions, most recently updated first.
func (s *Store) List(f ListFilter) ([]Action, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	var (
		where []string
		args  []any
	)
	for _, c := range []struct{ column, value string }{
		{"intent_type", f.Intent},
		{"status", f.Status},
		{"vault", strings.ToLower(f.Vault)},
		{"from_address", strings.ToLower(f.From)},
	} {
		if v := strings.TrimSpace(c.value); v != "" {
			where = append(where, c.column+" = ?")
			args = append(args, v)
		}
	}
	query := "SELECT payload FROM actions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, created_at DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	actions := make([]Action, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan action row: %w", err)
		}
		action, err := decodeAction(payload)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action rows: %w", err)
	}
	return actions, nil
}

func decodeAction(payload []byte) (Action, error) {
	var action Action
	if err := json.Unmarshal(payload, &action); err != nil {
		return Action{}, fmt.Errorf("decode action payload: %w", err)
	}
	return action, nil
}

func unixOr(rfc3339 string, fallback int64) int64 {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return fallback
	}
	return t.UTC().Unix()
}
