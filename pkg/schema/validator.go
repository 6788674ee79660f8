// Package schema validates inbound documents against the canonical JSON
// Schema Draft 2020-12 schemas, which are authored as YAML.
//
// The validator is strict and deterministic:
//   - formats (date-time, uri, uri-reference, email, regex, ...) are asserted
//   - remote $ref resolution is forbidden; the Draft 2020-12 meta-schema is
//     resolved from the compiler's local registry
//   - a failed validation reports the complete violation list with RFC 6901
//     pointers, sorted by (path, message)
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
)

// kindToFile maps each canonical kind to its schema file.
var kindToFile = map[string]string{
	contracts.KindOrganizationManifest: "organization_manifest.schema.yaml",
	contracts.KindAgentDefinition:      "agent_definition.schema.yaml",
	contracts.KindSkillContract:        "skill_contract.schema.yaml",
	contracts.KindMemoryEntry:          "memory_entry.schema.yaml",
	contracts.KindJobContract:          "job_contract.schema.yaml",
	contracts.KindArtifact:             "artifact.schema.yaml",
	contracts.KindEvaluation:           "evaluation.schema.yaml",
}

// Validator holds the compiled canonical schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
	sources map[string]string
}

// Load reads, normalizes, and compiles every canonical schema from dir.
// Any missing file, parse failure, or compile failure is fatal: the caller
// must abort startup (fail closed).
func Load(dir string) (*Validator, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("schema: resolve dir %s: %w", dir, err)
	}
	if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("schema: schemas directory not found: %s", absDir)
	}

	v := &Validator{
		schemas: make(map[string]*jsonschema.Schema, len(kindToFile)),
		sources: make(map[string]string, len(kindToFile)),
	}

	for kind, filename := range kindToFile {
		path := filepath.Join(absDir, filename)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("schema: missing required schema file for %s: %w", kind, err)
		}
		doc, err := decodeYAMLObject(raw)
		if err != nil {
			return nil, fmt.Errorf("schema: parse %s: %w", path, err)
		}
		normalizePatterns(doc)

		compiled, err := compile(filename, doc)
		if err != nil {
			return nil, fmt.Errorf("schema: compile %s schema from %s: %w", kind, path, err)
		}
		v.schemas[kind] = compiled
		v.sources[kind] = path
	}
	return v, nil
}

// compile builds a single schema with strict formats and no network access.
// The registration URL mirrors the schema's own $id so internal $refs
// resolve locally.
func compile(filename string, doc map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	// Remote resolution is forbidden at runtime. The Draft 2020-12
	// meta-schema is registered in the compiler itself; anything else must
	// fail rather than resolve non-deterministically.
	c.LoadURL = func(u string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("remote $ref resolution is forbidden: %s", u)
	}

	url := fmt.Sprintf("https://foundry.schemas.local/%s.json", strings.TrimSuffix(filename, ".yaml"))
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("register schema: %w", err)
	}
	return c.Compile(url)
}

// SourcePath returns the file the kind's schema was loaded from.
func (v *Validator) SourcePath(kind string) (string, error) {
	p, ok := v.sources[kind]
	if !ok {
		return "", fmt.Errorf("schema: unknown kind: %s", kind)
	}
	return p, nil
}

// Validate checks document against the canonical schema for kind. A failure
// is a *fault.SchemaValidationError with the complete sorted violation list.
// An unknown kind is a configuration error, not a validation error.
func (v *Validator) Validate(kind string, document contracts.Document) error {
	schema, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("schema: unknown kind: %s", kind)
	}

	normalized, err := contracts.NormalizeJSON(document)
	if err != nil {
		return err
	}

	err = schema.Validate(map[string]any(normalized))
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return fmt.Errorf("schema: validate %s: %w", kind, err)
	}

	violations := collectViolations(ve, nil)
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Path != violations[j].Path {
			return violations[i].Path < violations[j].Path
		}
		return violations[i].Message < violations[j].Message
	})
	return &fault.SchemaValidationError{Kind: kind, Violations: violations}
}

// collectViolations flattens the cause tree into leaf violations, deduped.
func collectViolations(ve *jsonschema.ValidationError, acc []fault.Violation) []fault.Violation {
	if len(ve.Causes) == 0 {
		v := fault.Violation{Path: pointer(ve.InstanceLocation), Message: ve.Message}
		for _, seen := range acc {
			if seen == v {
				return acc
			}
		}
		return append(acc, v)
	}
	for _, cause := range ve.Causes {
		acc = collectViolations(cause, acc)
	}
	return acc
}

// pointer renders an instance location as the pointer form callers expect;
// the document root is "/".
func pointer(loc string) string {
	if loc == "" {
		return "/"
	}
	return loc
}

// decodeYAMLObject parses YAML bytes into a JSON-shaped object tree.
func decodeYAMLObject(raw []byte) (map[string]any, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	converted := yamlToJSON(v)
	obj, ok := converted.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected YAML object at root, got %T", converted)
	}
	return obj, nil
}

// yamlToJSON rewrites YAML decoder output (which may contain map[any]any)
// into encoding/json-shaped values.
func yamlToJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = yamlToJSON(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = yamlToJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = yamlToJSON(val)
		}
		return out
	default:
		return t
	}
}

// normalizePatterns collapses doubled backslashes exactly once on fields
// literally named "pattern", recursively. The canonical schemas are YAML
// files carrying JSON-style regex escaping; without this pass a pattern like
// `\\d` would match a literal backslash followed by 'd'.
func normalizePatterns(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if k == "pattern" {
				if s, ok := val.(string); ok {
					t[k] = strings.ReplaceAll(s, `\\`, `\`)
					continue
				}
			}
			normalizePatterns(val)
		}
	case []any:
		for _, item := range t {
			normalizePatterns(item)
		}
	}
}
