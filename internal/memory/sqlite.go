package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"boi/internal/assistant"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS turns (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session      TEXT NOT NULL,
	ts           INTEGER NOT NULL,
	utterance_id TEXT NOT NULL,
	user_text    TEXT NOT NULL,
	reply_text   TEXT NOT NULL,
	action       TEXT NOT NULL,
	tags         TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS turns_ts ON turns(ts);
`

// SQLiteStore persists turns in a single SQLite file. Every process run gets
// its own session id so history from different runs can be told apart.
type SQLiteStore struct {
	db      *sql.DB
	session string
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory db: %w", err)
	}

	return &SQLiteStore{db: db, session: uuid.NewString()}, nil
}

func (s *SQLiteStore) Session() string {
	return s.session
}

func (s *SQLiteStore) Save(ctx context.Context, t assistant.MemoryTurn) error {
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (session, ts, utterance_id, user_text, reply_text, action, tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.session, t.TS.UnixMilli(), t.UtteranceID, t.UserText, t.ReplyText, t.ActionTaken, string(tags))
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// Load returns up to limit of the newest turns across all sessions, oldest first.
func (s *SQLiteStore) Load(ctx context.Context, limit int) ([]assistant.MemoryTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, utterance_id, user_text, reply_text, action, tags
		 FROM (SELECT * FROM turns ORDER BY id DESC LIMIT ?) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []assistant.MemoryTurn
	for rows.Next() {
		var (
			t    assistant.MemoryTurn
			ts   int64
			tags string
		)
		if err := rows.Scan(&ts, &t.UtteranceID, &t.UserText, &t.ReplyText, &t.ActionTaken, &tags); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.TS = time.UnixMilli(ts)
		if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
