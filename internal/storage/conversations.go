// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/studio/internal/filecmd"
	"github.com/jeranaias/studio/internal/model"
	"github.com/jeranaias/studio/internal/util"
)

// =============================================================================
// TYPES
// =============================================================================

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"` // first user message, truncated
}

// CommandRecord is a stored file directive outcome.
type CommandRecord struct {
	MessageID string                `json:"message_id"`
	Result    filecmd.CommandResult `json:"result"`
	CreatedAt time.Time             `json:"created_at"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &ConversationError{Message: "conversation not found"}

// ErrAmbiguousID is returned when an ID prefix matches several conversations.
var ErrAmbiguousID = &ConversationError{Message: "conversation ID prefix is ambiguous"}

// ConversationError represents a conversation-related error.
type ConversationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing conversation errors.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore handles conversation persistence.
type ConversationStore struct {
	db *sql.DB

	// MaxConversations limits stored conversations (0 = unlimited)
	MaxConversations int
}

// Open opens or creates the database at path.
func Open(path string) (*ConversationStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &ConversationStore{db: db, MaxConversations: 100}, nil
}

// Close closes the database.
func (s *ConversationStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a conversation, replacing any stored messages.
func (s *ConversationStore) Save(ctx context.Context, conv *model.Conversation) error {
	if conv.ID == "" {
		return errors.New("conversation has no ID")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, title, model, created_at, updated_at, prompt_tokens, completion_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			model = excluded.model,
			updated_at = excluded.updated_at,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens`,
		conv.ID, conv.Title, conv.Model, toUnix(conv.CreatedAt), toUnix(conv.UpdatedAt),
		conv.PromptTokens, conv.CompletionTokens)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", conv.ID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (conversation_id, seq, id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare messages: %w", err)
	}
	defer stmt.Close()

	for i, msg := range conv.Messages {
		if _, err := stmt.ExecContext(ctx, conv.ID, i, msg.ID, msg.Role.String(), msg.Content, toUnix(msg.Timestamp)); err != nil {
			return fmt.Errorf("save message %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return s.enforceLimit(ctx)
}

// enforceLimit deletes the oldest conversations beyond MaxConversations.
func (s *ConversationStore) enforceLimit(ctx context.Context) error {
	if s.MaxConversations <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations WHERE id IN (
			SELECT id FROM conversations ORDER BY updated_at DESC LIMIT -1 OFFSET ?
		)`, s.MaxConversations)
	if err != nil {
		return fmt.Errorf("enforce limit: %w", err)
	}
	return nil
}

// RecordCommandResults stores the directive outcomes of a reply.
func (s *ConversationStore) RecordCommandResults(ctx context.Context, convID, messageID string, results []filecmd.CommandResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback()

	now := toUnix(time.Now())
	for _, r := range results {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO command_results (conversation_id, message_id, label, status, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			convID, messageID, r.Label, string(r.Status), r.Detail, now)
		if err != nil {
			return fmt.Errorf("record command result: %w", err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load returns a conversation by ID or unique ID prefix.
func (s *ConversationStore) Load(ctx context.Context, id string) (*model.Conversation, error) {
	fullID, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, err
	}

	conv := &model.Conversation{}
	var created, updated int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id, title, model, created_at, updated_at, prompt_tokens, completion_tokens
		FROM conversations WHERE id = ?`, fullID).
		Scan(&conv.ID, &conv.Title, &conv.Model, &created, &updated, &conv.PromptTokens, &conv.CompletionTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	conv.CreatedAt, conv.UpdatedAt = fromUnix(created), fromUnix(updated)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, role, content, created_at FROM messages WHERE conversation_id = ? ORDER BY seq", fullID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = make([]model.Message, 0)
	for rows.Next() {
		var msg model.Message
		var role string
		var ts int64
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = model.ParseRole(role)
		msg.Timestamp = fromUnix(ts)
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return conv, nil
}

func (s *ConversationStore) resolveID(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrConversationNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM conversations WHERE id = ? OR substr(id, 1, ?) = ? LIMIT 2", id, len(id), id)
	if err != nil {
		return "", fmt.Errorf("resolve id: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var found string
		if err := rows.Scan(&found); err != nil {
			return "", fmt.Errorf("resolve id: %w", err)
		}
		if found == id {
			return found, nil
		}
		ids = append(ids, found)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("resolve id: %w", err)
	}

	switch len(ids) {
	case 0:
		return "", ErrConversationNotFound
	case 1:
		return ids[0], nil
	default:
		return "", ErrAmbiguousID
	}
}

const listQuery = `
	SELECT c.id, c.title, c.model, c.created_at, c.updated_at,
		(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
		COALESCE((SELECT m.content FROM messages m
			WHERE m.conversation_id = c.id AND m.role = 'user' ORDER BY m.seq LIMIT 1), '')
	FROM conversations c`

// List returns all conversations, most recently updated first.
func (s *ConversationStore) List(ctx context.Context) ([]ConversationMeta, error) {
	return s.queryMetas(ctx, listQuery+" ORDER BY c.updated_at DESC")
}

// Search returns conversations whose title or any message contains query,
// case-insensitively. An empty query lists everything.
func (s *ConversationStore) Search(ctx context.Context, query string) ([]ConversationMeta, error) {
	if strings.TrimSpace(query) == "" {
		return s.List(ctx)
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.queryMetas(ctx, listQuery+`
		WHERE lower(c.title) LIKE ? ESCAPE '\'
		   OR EXISTS (SELECT 1 FROM messages m WHERE m.conversation_id = c.id AND lower(m.content) LIKE ? ESCAPE '\')
		ORDER BY c.updated_at DESC`, pattern, pattern)
}

func (s *ConversationStore) queryMetas(ctx context.Context, query string, args ...interface{}) ([]ConversationMeta, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var metas []ConversationMeta
	for rows.Next() {
		var m ConversationMeta
		var created, updated int64
		var first string
		if err := rows.Scan(&m.ID, &m.Title, &m.Model, &created, &updated, &m.MessageCount, &first); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		m.CreatedAt, m.UpdatedAt = fromUnix(created), fromUnix(updated)
		m.Preview = util.TruncateRunes(strings.Join(strings.Fields(first), " "), 80)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// CommandResults returns the stored directive outcomes of a conversation
// in the order they were recorded.
func (s *ConversationStore) CommandResults(ctx context.Context, convID string) ([]CommandRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT message_id, label, status, detail, created_at FROM command_results WHERE conversation_id = ? ORDER BY id", convID)
	if err != nil {
		return nil, fmt.Errorf("load command results: %w", err)
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		var status string
		var ts int64
		if err := rows.Scan(&rec.MessageID, &rec.Result.Label, &status, &rec.Result.Detail, &ts); err != nil {
			return nil, fmt.Errorf("scan command result: %w", err)
		}
		rec.Result.Status = filecmd.Status(status)
		rec.CreatedAt = fromUnix(ts)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a conversation by ID or unique ID prefix.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	fullID, err := s.resolveID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", fullID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// Clear removes all conversations.
func (s *ConversationStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversations"); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	return nil
}

// =============================================================================
// FORMATTING
// =============================================================================

// FormatSessionList formats conversations as a table.
func FormatSessionList(metas []ConversationMeta) string {
	if len(metas) == 0 {
		return "No conversations found."
	}

	var sb strings.Builder
	sb.WriteString(util.PadRight("ID", 10) + " " + util.PadRight("Updated", 17) + " " + util.PadRight("Msgs", 5) + " Title\n")
	sb.WriteString(strings.Repeat("-", 60) + "\n")

	for _, m := range metas {
		id := m.ID
		if len(id) > 8 {
			id = id[:8]
		}
		title := m.Title
		if title == "" {
			title = m.Preview
		}
		sb.WriteString(util.PadRight(id, 10) + " " +
			util.PadRight(m.UpdatedAt.Local().Format("2006-01-02 15:04"), 17) + " " +
			util.PadRight(strconv.Itoa(m.MessageCount), 5) + " " +
			util.TruncateWidth(title, 40) + "\n")
	}
	return sb.String()
}

// =============================================================================
// HELPERS
// =============================================================================

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UnixNano()
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
