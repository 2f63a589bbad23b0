package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

// Prompt is a persisted text snapshot.
type Prompt struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS prompts (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_prompts_created_at ON prompts(created_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// CreatePrompt stores a new snapshot and returns the full record.
func (d *Database) CreatePrompt(content string) (*Prompt, error) {
	p := &Prompt{
		ID:        uuid.NewString(),
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	_, err := d.db.Exec(
		"INSERT INTO prompts (id, content, created_at) VALUES (?, ?, ?)",
		p.ID, p.Content, p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPrompt returns nil, nil when no prompt has the given id.
func (d *Database) GetPrompt(id string) (*Prompt, error) {
	row := d.db.QueryRow(
		"SELECT id, content, created_at FROM prompts WHERE id = ?",
		id,
	)

	var p Prompt
	err := row.Scan(&p.ID, &p.Content, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPrompts returns prompts newest first.
func (d *Database) ListPrompts(limit, offset int) ([]Prompt, error) {
	rows, err := d.db.Query(
		"SELECT id, content, created_at FROM prompts ORDER BY created_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []Prompt
	for rows.Next() {
		var p Prompt
		if err := rows.Scan(&p.ID, &p.Content, &p.CreatedAt); err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// PromptAt returns the prompt at the given position in newest-first
// order, or nil, nil when the index is out of range. Used to resolve
// gallery rotation targets.
func (d *Database) PromptAt(index int) (*Prompt, error) {
	if index < 0 {
		return nil, nil
	}

	row := d.db.QueryRow(
		"SELECT id, content, created_at FROM prompts ORDER BY created_at DESC LIMIT 1 OFFSET ?",
		index,
	)

	var p Prompt
	err := row.Scan(&p.ID, &p.Content, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *Database) CountPrompts() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM prompts").Scan(&count)
	return count, err
}

// UpdatePrompt replaces a prompt's content and returns the updated
// record, or nil, nil when the id does not exist.
func (d *Database) UpdatePrompt(id, content string) (*Prompt, error) {
	result, err := d.db.Exec(
		"UPDATE prompts SET content = ? WHERE id = ?",
		content, id,
	)
	if err != nil {
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return d.GetPrompt(id)
}

// DeletePrompt reports whether a row was actually removed.
func (d *Database) DeletePrompt(id string) (bool, error) {
	result, err := d.db.Exec("DELETE FROM prompts WHERE id = ?", id)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	count, err := d.CountPrompts()
	if err != nil {
		return nil, err
	}
	stats["prompt_count"] = count

	var newest time.Time
	err = d.db.QueryRow("SELECT created_at FROM prompts ORDER BY created_at DESC LIMIT 1").Scan(&newest)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err == nil {
		stats["newest_prompt_at"] = newest
	}

	return stats, nil
}
