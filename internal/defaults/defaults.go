// Package defaults provides embedded copies of the example config and
// policy files for use by the init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the example configuration file.
//
//go:embed config.example.yaml
var ConfigYAML []byte

// PolicyMD is the example policy document.
//
//go:embed policy.example.md
var PolicyMD []byte
