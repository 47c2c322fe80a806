package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// RunRecord is what the history keeps about one workflow run.
type RunRecord struct {
	ID         string
	Request    string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Messages   []Message
}

// HistoryStore keeps past runs and their message logs in sqlite so later
// runs can be planned with prior-interaction context.
type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			request TEXT,
			status TEXT,
			started_at TEXT,
			finished_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			role TEXT,
			agent TEXT,
			content TEXT,
			timestamp TEXT
		);`,
	}
	for _, q := range queries {
		if _, err = db.Exec(q); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &HistoryStore{DB: db}, nil
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}

// SaveRun stores a finished run and its messages in one transaction.
func (h *HistoryStore) SaveRun(rec RunRecord) error {
	tx, err := h.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT OR REPLACE INTO runs (id, request, status, started_at, finished_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Request, rec.Status, formatTime(rec.StartedAt), formatTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	for _, m := range rec.Messages {
		_, err = tx.Exec(
			`INSERT INTO messages (run_id, role, agent, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
			rec.ID, string(m.Role), m.Agent, m.Content, formatTime(m.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}
	return tx.Commit()
}

// RecentMessages returns up to limit assistant messages from earlier runs in
// chronological order.
func (h *HistoryStore) RecentMessages(limit int) ([]Message, error) {
	query := `SELECT role, agent, content, timestamp FROM messages WHERE role = ? ORDER BY id DESC LIMIT ?`
	rows, err := h.DB.Query(query, string(RoleAssistant), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []Message
	for rows.Next() {
		var role, agent, content, ts string
		if err := rows.Scan(&role, &agent, &content, &ts); err != nil {
			return nil, err
		}
		t, _ := time.Parse(time.RFC3339Nano, ts)
		history = append(history, Message{
			Role:      Role(role),
			Agent:     agent,
			Content:   content,
			Timestamp: t,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	return history, nil
}

// RunStatus returns the recorded status of a run.
func (h *HistoryStore) RunStatus(id string) (string, error) {
	var status string
	err := h.DB.QueryRow(`SELECT status FROM runs WHERE id = ?`, id).Scan(&status)
	return status, err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
