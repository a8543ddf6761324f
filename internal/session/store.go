// Package session owns conversation state: the active per-session
// message history the loop reads, and the append-only audit records
// the analytics layer reads.
//
// Active history and audit log are stored separately so that resetting
// a session clears what the agent remembers without touching what the
// audit trail retains.
package session

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/matchagon/bookly-agent/internal/classify"
	"github.com/matchagon/bookly-agent/internal/llm"
)

// Session lifecycle states.
const (
	StateActive = "active"
	StateReset  = "reset"
)

// Record is the persisted analytics projection of a session. It is
// created on the first turn, updated after every turn, and never
// deleted by normal operation.
type Record struct {
	SessionID         string               `json:"session_id"`
	Topic             classify.Topic       `json:"topic"`
	TopicLabel        string               `json:"topic_label"`
	Disposition       classify.Disposition `json:"disposition"`
	DispositionLabel  string               `json:"disposition_label"`
	UserMessageCount  int                  `json:"user_message_count"`
	TotalMessageCount int                  `json:"total_message_count"`
	LastUserMessage   string               `json:"last_user_message"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// AuditMessage is one entry in a session's append-only audit log.
type AuditMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ToolName  string    `json:"tool_name,omitempty"`
	ToolCalls string    `json:"tool_calls,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows a record listing.
type Filter struct {
	Days            int
	Topic           string
	MinUserMessages *int
	MaxUserMessages *int
}

// Store is the sqlite-backed session and audit store.
type Store struct {
	db         *sql.DB
	logger     *slog.Logger
	staleAfter time.Duration

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// Open creates a session store on the sqlite database at path.
// staleAfter is the idle horizon after which a still-open record is
// reported as abandoned.
func Open(path string, staleAfter time.Duration, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{
		db:         db,
		logger:     logger,
		staleAfter: staleAfter,
		locks:      make(map[string]*sync.Mutex),
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying connection so other persistence layers can
// share the same database file.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Session lifecycle
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		state      TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Active history, cleared on reset
	CREATE TABLE IF NOT EXISTS session_messages (
		id           TEXT PRIMARY KEY,
		session_id   TEXT NOT NULL,
		role         TEXT NOT NULL,
		content      TEXT NOT NULL,
		tool_calls   TEXT,
		tool_call_id TEXT,
		tool_name    TEXT,
		created_at   TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_session_messages ON session_messages(session_id, id);

	-- Analytics header, mutable, survives reset
	CREATE TABLE IF NOT EXISTS conversations (
		session_id          TEXT PRIMARY KEY,
		topic               TEXT NOT NULL DEFAULT 'general_inquiry',
		disposition         TEXT NOT NULL DEFAULT 'in_progress',
		user_message_count  INTEGER NOT NULL DEFAULT 0,
		total_message_count INTEGER NOT NULL DEFAULT 0,
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	);

	-- Append-only audit log, survives reset
	CREATE TABLE IF NOT EXISTS conversation_messages (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		tool_calls TEXT,
		tool_name  TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES conversations(session_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_messages ON conversation_messages(session_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Lock serializes turns for one session. It returns the unlock
// function. Different sessions proceed concurrently.
func (s *Store) Lock(sessionID string) func() {
	s.lockMu.Lock()
	mu, ok := s.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[sessionID] = mu
	}
	s.lockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// newULID returns a lexically time-sortable message ID.
func (s *Store) newULID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// ensure creates the session and conversation rows if needed.
func (s *Store) ensure(tx *sql.Tx, sessionID string, now string) error {
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO sessions (id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, StateActive, now, now); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO conversations (session_id, created_at, updated_at)
		VALUES (?, ?, ?)
	`, sessionID, now, now); err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}
	return nil
}

// Append adds a message to a session's active history and its audit
// log, updating the analytics counters. System messages are never
// persisted; the policy document is resent on every model call instead.
func (s *Store) Append(sessionID string, msg llm.Message) error {
	if msg.Role == llm.RoleSystem {
		return nil
	}

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)

	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = string(data)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensure(tx, sessionID, nowStr); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO session_messages (id, session_id, role, content, tool_calls, tool_call_id, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.newULID(), sessionID, msg.Role, msg.Content, toolCalls, nullable(msg.ToolCallID), nullable(msg.ToolName), nowStr); err != nil {
		return fmt.Errorf("insert active message: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO conversation_messages (id, session_id, role, content, tool_calls, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.newULID(), sessionID, msg.Role, msg.Content, toolCalls, nullable(msg.ToolName), nowStr); err != nil {
		return fmt.Errorf("insert audit message: %w", err)
	}

	userIncrement := 0
	if msg.Role == llm.RoleUser {
		userIncrement = 1
	}
	if _, err := tx.Exec(`
		UPDATE conversations SET
			updated_at = ?,
			total_message_count = total_message_count + 1,
			user_message_count = user_message_count + ?
		WHERE session_id = ?
	`, nowStr, userIncrement, sessionID); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?
	`, StateActive, nowStr, sessionID); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	return tx.Commit()
}

// History returns a session's active message history in append order.
// A session that does not exist or was reset yields an empty history.
func (s *Store) History(sessionID string) ([]llm.Message, error) {
	rows, err := s.db.Query(`
		SELECT role, content, tool_calls, tool_call_id, tool_name, created_at
		FROM session_messages
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var messages []llm.Message
	for rows.Next() {
		var m llm.Message
		var toolCalls, toolCallID, toolName sql.NullString
		var createdAt string
		if err := rows.Scan(&m.Role, &m.Content, &toolCalls, &toolCallID, &toolName, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Reset clears a session's active history and returns it to its
// initial empty state. The audit record and its classification are
// retained.
func (s *Store) Reset(sessionID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?
	`, StateReset, now, sessionID); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info("session reset", "session", sessionID)
	return nil
}

// State returns a session's lifecycle state, or "" if it does not exist.
func (s *Store) State(sessionID string) (string, error) {
	var state string
	err := s.db.QueryRow(`SELECT state FROM sessions WHERE id = ?`, sessionID).Scan(&state)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query session state: %w", err)
	}
	return state, nil
}

// SetClassification overwrites the topic and disposition labels on a
// session's record.
func (s *Store) SetClassification(sessionID string, topic classify.Topic, disposition classify.Disposition) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		UPDATE conversations SET topic = ?, disposition = ?, updated_at = ?
		WHERE session_id = ?
	`, string(classify.NormalizeTopic(string(topic))), string(classify.NormalizeDisposition(string(disposition))), now, sessionID)
	if err != nil {
		return fmt.Errorf("set classification: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
