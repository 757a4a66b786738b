// Package store persists conversation logs in a local SQLite database so
// the CLI can resume and browse past conversations.
package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/paulchrisluke/quillsync/conversation"
)

// Conversation is one stored conversation log.
type Conversation struct {
	// ID of this conversation.
	ID string
	// Time at which the conversation was created.
	CreationTimestamp int64
	// Time at which the conversation was last updated.
	UpdateTimestamp int64
	// The messages of this conversation.
	Messages []*conversation.ChatMessage
}

// Store implements a SQLite store for conversations.
type Store struct {
	db *sql.DB
}

// New store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			creation_timestamp INTEGER NOT NULL,
			update_timestamp INTEGER NOT NULL,
			messages TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, errors.Wrap(err, "creating conversations table")
	}

	return &Store{
		db: db,
	}, nil
}

// NewConversation instantiates and returns a new conversation.
func (s *Store) NewConversation(id string) *Conversation {
	now := time.Now().UnixMicro()
	return &Conversation{
		ID:                id,
		CreationTimestamp: now,
		UpdateTimestamp:   now,
	}
}

// Write a conversation to the store.
func (s *Store) Write(c *Conversation) error {
	c.UpdateTimestamp = time.Now().UnixMicro()

	messages, err := json.Marshal(c.Messages)
	if err != nil {
		return errors.Wrap(err, "marshaling messages")
	}

	// REPLACE INTO handles both insert and update.
	_, err = s.db.Exec(`
		REPLACE INTO conversations (id, creation_timestamp, update_timestamp, messages)
		VALUES (?, ?, ?, ?)
	`, c.ID, c.CreationTimestamp, c.UpdateTimestamp, string(messages))

	if err != nil {
		return errors.Wrap(err, "writing conversation to database")
	}
	return nil
}

// Get a conversation.
func (s *Store) Get(id string) (*Conversation, error) {
	c := &Conversation{}
	var messagesJSON string

	err := s.db.QueryRow(`
		SELECT id, creation_timestamp, update_timestamp, messages
		FROM conversations
		WHERE id = ?
	`, id).Scan(&c.ID, &c.CreationTimestamp, &c.UpdateTimestamp, &messagesJSON)

	if err == sql.ErrNoRows {
		return nil, errors.New("conversation does not exist")
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying conversation")
	}

	if err := json.Unmarshal([]byte(messagesJSON), &c.Messages); err != nil {
		return nil, errors.Wrap(err, "unmarshaling messages")
	}

	return c, nil
}

// List the conversations in the store, most recently updated first.
func (s *Store) List(pageSize int) ([]*Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, creation_timestamp, update_timestamp, messages
		FROM conversations
		ORDER BY update_timestamp DESC
		LIMIT ?
	`, pageSize)
	if err != nil {
		return nil, errors.Wrap(err, "querying conversations")
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		c := &Conversation{}
		var messagesJSON string
		if err := rows.Scan(&c.ID, &c.CreationTimestamp, &c.UpdateTimestamp, &messagesJSON); err != nil {
			return nil, errors.Wrap(err, "scanning conversation row")
		}
		if err := json.Unmarshal([]byte(messagesJSON), &c.Messages); err != nil {
			return nil, errors.Wrap(err, "unmarshaling messages")
		}
		conversations = append(conversations, c)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating conversation rows")
	}

	return conversations, nil
}

// Delete a conversation.
func (s *Store) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "deleting conversation")
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
