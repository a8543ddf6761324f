package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/matchagon/bookly-agent/internal/defaults"
)

// runInit initializes a Bookly working directory with default files:
// an example config and the starter policy document. Existing files are
// never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Bookly workspace in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// Config holds the API key, so it gets restricted permissions.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	policyPath := filepath.Join(dir, "policy.md")
	if err := writeIfMissing(policyPath, defaults.PolicyMD, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", policyPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml and policy.md, then run: bookly serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, content, perm)
}
