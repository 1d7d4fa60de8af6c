package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/RichardoC/padchat/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uid TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    token_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts4(
    content,
    tokenize=porter
);

-- Keep the FTS index in step with messages
CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(docid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    DELETE FROM messages_fts WHERE docid = old.id;
END;`

// Database is a write-mostly transcript of conversations. It is never used
// to restore token context.
type Database struct {
	db *sql.DB
}

// dsn turns foreign keys on for every connection the pool opens. dbPath may
// already carry its own query parameters.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_foreign_keys=on"
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, err
	}
	// one connection so :memory: databases stay a single database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) SaveMessage(msg *models.Message) error {
	return db.saveMessage(context.Background(), db.db, msg)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *Database) saveMessage(ctx context.Context, q queryRower, msg *models.Message) error {
	query := `
        INSERT INTO messages (conversation_id, role, content, token_count, created_at)
        VALUES (?, ?, ?, ?, ?)
        RETURNING id`

	msg.CreatedAt = time.Now().UTC()
	return q.QueryRowContext(ctx, query, msg.ConvID, msg.Role, msg.Content, msg.TokenCount, msg.CreatedAt).
		Scan(&msg.ID)
}

func (db *Database) CreateConversation(title string) (*models.Conversation, error) {
	query := `
        INSERT INTO conversations (uid, title, created_at)
        VALUES (?, ?, ?)
        RETURNING id`

	conv := &models.Conversation{UID: uuid.NewString(), Title: title, CreatedAt: time.Now().UTC()}
	err := db.db.QueryRow(query, conv.UID, title, conv.CreatedAt).Scan(&conv.ID)
	return conv, err
}

// GetConversationHistory returns the newest limit messages, newest first.
func (db *Database) GetConversationHistory(conversationID int64, limit int) ([]models.Message, error) {
	query := `
        SELECT id, conversation_id, role, content, token_count, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY id DESC
        LIMIT ?`

	rows, err := db.db.Query(query, conversationID, limit)
	if err != nil {
		return []models.Message{}, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (db *Database) GetConversations() ([]models.Conversation, error) {
	query := `
        SELECT id, uid, title, created_at
        FROM conversations
        ORDER BY id DESC`

	rows, err := db.db.Query(query)
	if err != nil {
		return []models.Conversation{}, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.UID, &conv.Title, &conv.CreatedAt); err != nil {
			return []models.Conversation{}, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// SearchMessages runs an FTS4 MATCH query over message content.
func (db *Database) SearchMessages(query string) ([]models.Message, error) {
	rows, err := db.db.Query(`
		SELECT m.id, m.conversation_id, m.role, m.content, m.token_count, m.created_at
		FROM messages m
		JOIN messages_fts fts ON m.id = fts.docid
		WHERE fts.content MATCH ?
		ORDER BY m.id DESC;
	`, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (db *Database) DeleteConversation(id int64) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *Database) UpdateConversationTitle(id int64, title string) error {
	_, err := db.db.Exec("UPDATE conversations SET title = ? WHERE id = ?", title, id)
	return err
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content, &msg.TokenCount, &msg.CreatedAt)
		if err != nil {
			return []models.Message{}, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
