// Package registry holds the tool definitions and policy document the
// agent operates under.
//
// The registry is versioned and copy-on-publish: readers take immutable
// snapshots and writers swap in a fully-validated replacement, so a
// turn that captured its snapshot before an admin edit runs to
// completion against a consistent tool set and policy.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/matchagon/bookly-agent/internal/llm"
)

// ToolDefinition is one named, schema-described capability the model
// may invoke. Handler names an entry in the closed builtin handler set;
// admin edits rebind schemas and handlers but never upload code.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     string         `json:"handler"`
	Version     int            `json:"version"`
}

// Policy is the standing-instruction document injected verbatim into
// every model invocation.
type Policy struct {
	Text    string `json:"text"`
	Version int    `json:"version"`
}

// Snapshot is an immutable point-in-time view of the registry. It is
// created on each snapshot request and never mutated after handoff.
type Snapshot struct {
	policy  Policy
	tools   map[string]ToolDefinition
	version uint64
}

// Policy returns the policy document in this snapshot.
func (s *Snapshot) Policy() Policy { return s.policy }

// Version returns the registry publish counter at snapshot time.
func (s *Snapshot) Version() uint64 { return s.version }

// Tool returns the named tool definition, if present.
func (s *Snapshot) Tool(name string) (ToolDefinition, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// Tools returns all definitions sorted by name.
func (s *Snapshot) Tools() []ToolDefinition {
	out := make([]ToolDefinition, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Schemas returns the tool schema list in the form the completion API
// client expects.
func (s *Snapshot) Schemas() []llm.ToolSchema {
	defs := s.Tools()
	out := make([]llm.ToolSchema, len(defs))
	for i, t := range defs {
		out[i] = llm.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// Registry owns the tool definitions and policy document. It is the
// only writer; everything else reads snapshots.
type Registry struct {
	mu      sync.Mutex // serializes writers; readers never take it
	current atomic.Pointer[Snapshot]
	store   *Store
	known   func(handler string) bool
	logger  *slog.Logger
}

// New creates a registry backed by the given persistent store. Any
// persisted definitions and policy are loaded; missing entries are
// seeded from seedTools and seedPolicy and persisted. knownHandler
// reports whether a handler name is in the builtin set and is consulted
// on every publish.
func New(logger *slog.Logger, store *Store, knownHandler func(string) bool, seedTools []ToolDefinition, seedPolicy string) (*Registry, error) {
	r := &Registry{
		store:  store,
		known:  knownHandler,
		logger: logger,
	}

	tools, err := store.LoadTools()
	if err != nil {
		return nil, fmt.Errorf("load tools: %w", err)
	}
	policy, err := store.LoadPolicy()
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	if len(tools) == 0 {
		for _, def := range seedTools {
			if verr := r.validateTool(def); verr != nil {
				return nil, fmt.Errorf("seed tool %s: %w", def.Name, verr)
			}
			def.Version = 1
			if err := store.SaveTool(def); err != nil {
				return nil, fmt.Errorf("seed tool %s: %w", def.Name, err)
			}
			tools = append(tools, def)
		}
	}
	if policy == nil {
		p := Policy{Text: seedPolicy, Version: 1}
		if err := store.SavePolicy(p); err != nil {
			return nil, fmt.Errorf("seed policy: %w", err)
		}
		policy = &p
	}

	byName := make(map[string]ToolDefinition, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	r.current.Store(&Snapshot{policy: *policy, tools: byName, version: 1})

	logger.Info("registry loaded", "tools", len(byName), "policy_version", policy.Version)
	return r, nil
}

// Snapshot returns the current immutable registry view. It is a single
// atomic pointer load and never blocks on writers.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// PublishTool validates a definition and atomically publishes it as a
// new version under its name. An invalid submission is rejected and the
// previous version remains live.
func (r *Registry) PublishTool(def ToolDefinition) error {
	return r.publishTool(def, publishUpsert)
}

// CreateTool publishes a definition for a name that must not exist yet.
func (r *Registry) CreateTool(def ToolDefinition) error {
	return r.publishTool(def, publishCreate)
}

// ReplaceTool publishes a new version of a definition that must already
// exist.
func (r *Registry) ReplaceTool(def ToolDefinition) error {
	return r.publishTool(def, publishReplace)
}

type publishMode int

const (
	publishUpsert publishMode = iota
	publishCreate
	publishReplace
)

func (r *Registry) publishTool(def ToolDefinition, mode publishMode) error {
	// Validate off the live path; readers keep taking the old snapshot
	// until the swap at the end.
	if err := r.validateTool(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	prev, exists := cur.tools[def.Name]
	switch mode {
	case publishCreate:
		if exists {
			return &ValidationError{Field: "name", Reason: fmt.Sprintf("tool %q already exists", def.Name)}
		}
	case publishReplace:
		if !exists {
			return &ValidationError{Field: "name", Reason: fmt.Sprintf("tool %q does not exist", def.Name)}
		}
	}

	def.Version = prev.Version + 1
	if !exists {
		def.Version = 1
	}

	if err := r.store.SaveTool(def); err != nil {
		return fmt.Errorf("persist tool %s: %w", def.Name, err)
	}

	r.swapLocked(func(next *Snapshot) {
		next.tools[def.Name] = def
	})

	r.logger.Info("tool published", "tool", def.Name, "version", def.Version)
	return nil
}

// PublishPolicy validates and atomically publishes a new policy
// document version.
func (r *Registry) PublishPolicy(text string) error {
	if err := validatePolicy(text); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := Policy{Text: text, Version: r.current.Load().policy.Version + 1}
	if err := r.store.SavePolicy(next); err != nil {
		return fmt.Errorf("persist policy: %w", err)
	}

	r.swapLocked(func(snap *Snapshot) {
		snap.policy = next
	})

	r.logger.Info("policy published", "version", next.Version)
	return nil
}

// swapLocked builds a full copy of the current snapshot, applies the
// mutation, and swaps it in. Callers must hold r.mu. Snapshots handed
// out before the swap keep observing the pre-publish state in full.
func (r *Registry) swapLocked(mutate func(*Snapshot)) {
	cur := r.current.Load()
	next := &Snapshot{
		policy:  cur.policy,
		tools:   make(map[string]ToolDefinition, len(cur.tools)+1),
		version: cur.version + 1,
	}
	for name, t := range cur.tools {
		next.tools[name] = t
	}
	mutate(next)
	r.current.Store(next)
}
