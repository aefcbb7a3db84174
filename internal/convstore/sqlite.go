package convstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Open opens the conversation database at path with WAL and a busy
// timeout suitable for a single-host deployment.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}
	return db, nil
}

// SQLiteStore persists conversations in SQLite. The *sql.DB is owned
// by the caller until Close.
type SQLiteStore struct {
	db *sql.DB

	nowFunc func() time.Time
}

// NewSQLiteStore wraps db and applies the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{
		db:      db,
		nowFunc: time.Now,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate conversation schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		composed_context TEXT,
		composed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) GetOrCreate(id string) (*Conversation, error) {
	if id == "" {
		return nil, fmt.Errorf("conversation id is empty")
	}

	now := s.nowFunc().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO conversations (id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		id, StateActive, now, now)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	return s.Get(id)
}

func (s *SQLiteStore) Get(id string) (*Conversation, error) {
	row := s.db.QueryRow(`
		SELECT id, state, created_at, updated_at, composed_context, composed_at
		FROM conversations WHERE id = ?`, id)

	var conv Conversation
	var createdAt, updatedAt string
	var composedText, composedAt sql.NullString
	err := row.Scan(&conv.ID, &conv.State, &createdAt, &updatedAt, &composedText, &composedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)
	if composedText.Valid {
		conv.ComposedContext = &ComposedContext{
			Text:       composedText.String,
			ComposedAt: parseTime(composedAt.String),
		}
	}
	return &conv, nil
}

func (s *SQLiteStore) AppendMessage(conversationID, role, content string) (Message, error) {
	if !validRole(role) {
		return Message{}, fmt.Errorf("invalid message role %q", role)
	}

	now := s.nowFunc().UTC()
	res, err := s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339), conversationID)
	if err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Message{}, fmt.Errorf("append to %q: %w", conversationID, ErrNotFound)
	}

	id, _ := uuid.NewV7()
	msg := Message{
		ID:        id.String(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	_, err = s.db.Exec(`
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, conversationID, msg.Role, msg.Content, msg.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

func (s *SQLiteStore) Messages(conversationID string) ([]Message, error) {
	if _, err := s.Get(conversationID); err != nil {
		return nil, err
	}

	// rowid preserves insertion order even when timestamps collide.
	rows, err := s.db.Query(`
		SELECT id, role, content, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY rowid ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		var createdAt string
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = parseTime(createdAt)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetComposedContext(conversationID string, cc ComposedContext) error {
	res, err := s.db.Exec(`
		UPDATE conversations
		SET composed_context = ?, composed_at = ?, updated_at = ?
		WHERE id = ?`,
		cc.Text,
		cc.ComposedAt.UTC().Format(time.RFC3339),
		s.nowFunc().UTC().Format(time.RFC3339),
		conversationID)
	if err != nil {
		return fmt.Errorf("set composed context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set composed context of %q: %w", conversationID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Archive(conversationID string) error {
	res, err := s.db.Exec(`UPDATE conversations SET state = ?, updated_at = ? WHERE id = ?`,
		StateArchived, s.nowFunc().UTC().Format(time.RFC3339), conversationID)
	if err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("archive %q: %w", conversationID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Delete(conversationID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete %q: %w", conversationID, ErrNotFound)
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
