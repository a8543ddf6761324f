package session

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/matchagon/bookly-agent/internal/classify"
)

// ListRecords returns conversation records updated within the trailing
// window, newest first, with optional topic and length filters.
func (s *Store) ListRecords(f Filter) ([]Record, error) {
	days := f.Days
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	where := []string{"c.updated_at >= ?"}
	params := []any{cutoff.Format(time.RFC3339Nano)}

	if f.Topic != "" {
		where = append(where, "c.topic = ?")
		params = append(params, string(classify.NormalizeTopic(f.Topic)))
	}
	if f.MinUserMessages != nil {
		where = append(where, "c.user_message_count >= ?")
		params = append(params, *f.MinUserMessages)
	}
	if f.MaxUserMessages != nil {
		where = append(where, "c.user_message_count <= ?")
		params = append(params, *f.MaxUserMessages)
	}

	query := fmt.Sprintf(`
		SELECT
			c.session_id, c.topic, c.disposition,
			c.user_message_count, c.total_message_count,
			c.created_at, c.updated_at,
			(
				SELECT m.content
				FROM conversation_messages m
				WHERE m.session_id = c.session_id AND m.role = 'user'
				ORDER BY m.id DESC
				LIMIT 1
			) AS last_user_message
		FROM conversations c
		WHERE %s
		ORDER BY c.updated_at DESC
	`, strings.Join(where, " AND "))

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// GetRecord returns one conversation record and its full audit log.
// Returns (nil, nil, nil) when no record exists for the session.
func (s *Store) GetRecord(sessionID string) (*Record, []AuditMessage, error) {
	row := s.db.QueryRow(`
		SELECT
			c.session_id, c.topic, c.disposition,
			c.user_message_count, c.total_message_count,
			c.created_at, c.updated_at,
			(
				SELECT m.content
				FROM conversation_messages m
				WHERE m.session_id = c.session_id AND m.role = 'user'
				ORDER BY m.id DESC
				LIMIT 1
			) AS last_user_message
		FROM conversations c
		WHERE c.session_id = ?
	`, sessionID)

	rec, err := s.scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, role, content, tool_calls, tool_name, created_at
		FROM conversation_messages
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var messages []AuditMessage
	for rows.Next() {
		var m AuditMessage
		var toolCalls, toolName sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &toolCalls, &toolName, &createdAt); err != nil {
			return nil, nil, fmt.Errorf("scan audit message: %w", err)
		}
		m.ToolCalls = toolCalls.String
		m.ToolName = toolName.String
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return rec, messages, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRecord(row scanner) (*Record, error) {
	var rec Record
	var topic, disposition, createdAt, updatedAt string
	var lastUser sql.NullString

	if err := row.Scan(
		&rec.SessionID, &topic, &disposition,
		&rec.UserMessageCount, &rec.TotalMessageCount,
		&createdAt, &updatedAt, &lastUser,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}

	rec.Topic = classify.NormalizeTopic(topic)
	rec.Disposition = classify.NormalizeDisposition(disposition)
	rec.LastUserMessage = lastUser.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	// A conversation still marked in-progress past the staleness
	// horizon was walked away from, not finished.
	if rec.Disposition == classify.DispositionInProgress &&
		s.staleAfter > 0 && time.Since(rec.UpdatedAt) > s.staleAfter {
		rec.Disposition = classify.DispositionAbandoned
	}

	rec.TopicLabel = classify.TopicLabel(rec.Topic)
	rec.DispositionLabel = classify.DispositionLabel(rec.Disposition)
	return &rec, nil
}
