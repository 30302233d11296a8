package main

import (
	"database/sql"
	"log"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// AccountRow represents a registered account
type AccountRow struct {
	ID        int64
	Username  string
	PassHash  string
	CreatedAt time.Time
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL so the turn writer doesn't block readers.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		pass_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		winner_client TEXT NOT NULL DEFAULT '',
		turns INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL,
		turn_number INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (session_id, turn_number)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	`
	_, err := db.conn.Exec(schema)
	if err != nil {
		log.Printf("DB migration error: %v", err)
	}
	return err
}

// GetSetting returns a settings value, or "" when absent
func (db *DB) GetSetting(key string) string {
	var v string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if err != nil {
		return ""
	}
	return v
}

// SetSetting upserts a settings value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// CreateAccount creates a new account and returns its id
func (db *DB) CreateAccount(username, passHash string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO accounts (username, pass_hash) VALUES (?, ?)",
		username, passHash,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetAccountByUsername returns an account, or nil when none exists
func (db *DB) GetAccountByUsername(username string) (*AccountRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM accounts WHERE username = ?",
		username,
	)
	a := &AccountRow{}
	err := row.Scan(&a.ID, &a.Username, &a.PassHash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// UsernameExists checks if a username is taken
func (db *DB) UsernameExists(username string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM accounts WHERE username = ?", username).Scan(&count)
	return count > 0, err
}

// SaveTurn persists one turn broadcast for late-join replay and archives
func (db *DB) SaveTurn(sessionID string, tb *TurnBroadcast) error {
	payload, err := msgpack.Marshal(tb)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(
		"INSERT OR REPLACE INTO turns (session_id, turn_number, payload) VALUES (?, ?, ?)",
		sessionID, tb.Turn.Number, payload,
	)
	return err
}

// LoadTurnHistory returns a session's recorded turns in order
func (db *DB) LoadTurnHistory(sessionID string) ([]TurnBroadcast, error) {
	rows, err := db.conn.Query(
		"SELECT payload FROM turns WHERE session_id = ? ORDER BY turn_number",
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []TurnBroadcast
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var tb TurnBroadcast
		if err := msgpack.Unmarshal(payload, &tb); err != nil {
			return nil, err
		}
		history = append(history, tb)
	}
	return history, rows.Err()
}

// RecordMatch records a completed match and returns its id
func (db *DB) RecordMatch(sessionID, name, winnerClient string, turns uint32) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO matches (session_id, name, winner_client, turns) VALUES (?, ?, ?, ?)",
		sessionID, name, winnerClient, turns,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecordEvent appends one diagnostics event
func (db *DB) RecordEvent(sessionID, kind, clientID, detail string) error {
	_, err := db.conn.Exec(
		"INSERT INTO events (session_id, kind, client_id, detail) VALUES (?, ?, ?, ?)",
		sessionID, kind, clientID, detail,
	)
	return err
}
