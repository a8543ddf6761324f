package registry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// policyKey is the singleton row name for the policy document.
const policyKey = "policy"

// Store persists tool definitions and the policy document as versioned
// records keyed by name. Every publish appends a new version row; the
// registry loads the latest version of each name at startup.
type Store struct {
	db *sql.DB
}

// NewStore creates the registry persistence layer on an open database
// connection, creating its tables if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("registry migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tool_versions (
			name        TEXT NOT NULL,
			version     INTEGER NOT NULL,
			description TEXT NOT NULL,
			parameters  TEXT NOT NULL,
			handler     TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			PRIMARY KEY (name, version)
		);

		CREATE TABLE IF NOT EXISTS policy_versions (
			name       TEXT NOT NULL,
			version    INTEGER NOT NULL,
			text       TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (name, version)
		);
	`)
	return err
}

// SaveTool appends a new version row for a definition.
func (s *Store) SaveTool(def ToolDefinition) error {
	params, err := json.Marshal(def.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO tool_versions (name, version, description, parameters, handler, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, def.Name, def.Version, def.Description, string(params), def.Handler,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert tool version: %w", err)
	}
	return nil
}

// LoadTools returns the latest persisted version of every tool.
func (s *Store) LoadTools() ([]ToolDefinition, error) {
	rows, err := s.db.Query(`
		SELECT t.name, t.version, t.description, t.parameters, t.handler
		FROM tool_versions t
		JOIN (
			SELECT name, MAX(version) AS version
			FROM tool_versions
			GROUP BY name
		) latest ON t.name = latest.name AND t.version = latest.version
		ORDER BY t.name
	`)
	if err != nil {
		return nil, fmt.Errorf("query tool versions: %w", err)
	}
	defer rows.Close()

	var defs []ToolDefinition
	for rows.Next() {
		var def ToolDefinition
		var params string
		if err := rows.Scan(&def.Name, &def.Version, &def.Description, &params, &def.Handler); err != nil {
			return nil, fmt.Errorf("scan tool version: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &def.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters for %s: %w", def.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// SavePolicy appends a new policy version.
func (s *Store) SavePolicy(p Policy) error {
	_, err := s.db.Exec(`
		INSERT INTO policy_versions (name, version, text, created_at)
		VALUES (?, ?, ?, ?)
	`, policyKey, p.Version, p.Text, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert policy version: %w", err)
	}
	return nil
}

// LoadPolicy returns the latest persisted policy, or nil if none has
// been published yet.
func (s *Store) LoadPolicy() (*Policy, error) {
	var p Policy
	err := s.db.QueryRow(`
		SELECT version, text FROM policy_versions
		WHERE name = ?
		ORDER BY version DESC
		LIMIT 1
	`, policyKey).Scan(&p.Version, &p.Text)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query policy: %w", err)
	}
	return &p, nil
}
