package registry

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError reports a malformed tool submission or tool-call
// argument set. It names the violated constraint so the caller (or the
// model, via a corrective tool result) can fix the submission.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// scalarTypes are the parameter types accepted in a tool schema.
var scalarTypes = map[string]bool{
	"string":  true,
	"integer": true,
	"number":  true,
	"boolean": true,
	"object":  true,
	"array":   true,
}

// validateTool performs the structural check that gates every publish.
func (r *Registry) validateTool(def ToolDefinition) error {
	if !toolNamePattern.MatchString(def.Name) {
		return &ValidationError{Field: "name", Reason: "must be lowercase letters, digits, and underscores, starting with a letter"}
	}
	if strings.TrimSpace(def.Description) == "" {
		return &ValidationError{Field: "description", Reason: "must not be empty"}
	}
	if def.Handler == "" {
		return &ValidationError{Field: "handler", Reason: "must not be empty"}
	}
	if r.known != nil && !r.known(def.Handler) {
		return &ValidationError{Field: "handler", Reason: fmt.Sprintf("%q is not a known handler", def.Handler)}
	}
	return ValidateSchema(def.Parameters)
}

// ValidateSchema checks that a parameter schema is a well-formed object
// schema: a "type": "object" root, a properties map of typed entries,
// and a required list that only names declared properties.
func ValidateSchema(schema map[string]any) error {
	if schema == nil {
		return &ValidationError{Field: "parameters", Reason: "must be an object schema"}
	}
	if t, _ := schema["type"].(string); t != "object" {
		return &ValidationError{Field: "parameters.type", Reason: `must be "object"`}
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return &ValidationError{Field: "parameters.properties", Reason: "must be a map of property schemas"}
	}
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			return &ValidationError{Field: "parameters.properties." + name, Reason: "must be an object"}
		}
		pt, _ := prop["type"].(string)
		if !scalarTypes[pt] {
			return &ValidationError{Field: "parameters.properties." + name, Reason: fmt.Sprintf("unknown type %q", pt)}
		}
		if enum, present := prop["enum"]; present {
			values, ok := enum.([]any)
			if !ok || len(values) == 0 {
				return &ValidationError{Field: "parameters.properties." + name, Reason: "enum must be a non-empty list"}
			}
		}
	}

	if rawReq, present := schema["required"]; present {
		req, ok := rawReq.([]any)
		if !ok {
			return &ValidationError{Field: "parameters.required", Reason: "must be a list of property names"}
		}
		for _, item := range req {
			name, ok := item.(string)
			if !ok {
				return &ValidationError{Field: "parameters.required", Reason: "entries must be strings"}
			}
			if _, declared := props[name]; !declared {
				return &ValidationError{Field: "parameters.required", Reason: fmt.Sprintf("%q is not a declared property", name)}
			}
		}
	}

	return nil
}

// ValidateArgs checks a tool call's arguments against the declared
// schema. JSON numbers arrive as float64; integer properties accept
// whole-number floats.
func ValidateArgs(schema map[string]any, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}

	props, _ := schema["properties"].(map[string]any)

	if rawReq, present := schema["required"]; present {
		req, _ := rawReq.([]any)
		for _, item := range req {
			name, _ := item.(string)
			if _, ok := args[name]; !ok {
				return &ValidationError{Field: name, Reason: "required argument is missing"}
			}
		}
	}

	for name, value := range args {
		raw, declared := props[name]
		if !declared {
			return &ValidationError{Field: name, Reason: "argument is not declared in the tool schema"}
		}
		prop, _ := raw.(map[string]any)
		pt, _ := prop["type"].(string)
		if err := checkType(name, pt, value); err != nil {
			return err
		}
		if enum, present := prop["enum"]; present {
			if err := checkEnum(name, enum, value); err != nil {
				return err
			}
		}
	}

	return nil
}

func checkType(name, want string, value any) error {
	ok := false
	switch want {
	case "string":
		_, ok = value.(string)
	case "boolean":
		_, ok = value.(bool)
	case "number":
		_, ok = value.(float64)
	case "integer":
		f, isFloat := value.(float64)
		ok = isFloat && f == float64(int64(f))
	case "object":
		_, ok = value.(map[string]any)
	case "array":
		_, ok = value.([]any)
	}
	if !ok {
		return &ValidationError{Field: name, Reason: fmt.Sprintf("must be a %s", want)}
	}
	return nil
}

func checkEnum(name string, enum any, value any) error {
	values, _ := enum.([]any)
	for _, v := range values {
		if v == value {
			return nil
		}
	}
	return &ValidationError{Field: name, Reason: fmt.Sprintf("must be one of %v", values)}
}

// validatePolicy gates policy publishes. The policy is free text, but
// an empty document would silently strip the agent of its standing
// instructions, so it is rejected.
func validatePolicy(text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: "policy", Reason: "must not be empty"}
	}
	return nil
}
