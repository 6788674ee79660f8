// Package contracts defines the document model shared by every layer of the
// control plane.
//
// All canonical entities (OrganizationManifest, JobContract, Artifact, ...)
// are structured documents: untyped trees addressable by JSON Pointer. The
// tree is the source of truth — it is what gets validated, stored, and
// audited, unknown fields included. Typed views (JobView, OrgView, ...) are
// lightweight projections over the tree and never own or copy it.
package contracts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document is an untyped document tree as decoded from JSON or YAML.
type Document = map[string]any

// Canonical document kinds accepted by the control plane.
const (
	KindOrganizationManifest = "OrganizationManifest"
	KindAgentDefinition      = "AgentDefinition"
	KindSkillContract        = "SkillContract"
	KindMemoryEntry          = "MemoryEntry"
	KindJobContract          = "JobContract"
	KindArtifact             = "Artifact"
	KindEvaluation           = "Evaluation"
)

// Kinds lists every canonical kind in stable order.
func Kinds() []string {
	return []string{
		KindOrganizationManifest,
		KindAgentDefinition,
		KindSkillContract,
		KindMemoryEntry,
		KindJobContract,
		KindArtifact,
		KindEvaluation,
	}
}

// Get walks a document tree by key path. The second result is false when any
// segment is missing or a non-object is traversed.
func Get(doc Document, path ...string) (any, bool) {
	var cur any = doc
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString returns the string at path, or an error naming the missing path.
func GetString(doc Document, path ...string) (string, error) {
	v, ok := Get(doc, path...)
	if !ok {
		return "", fmt.Errorf("missing field: %s", strings.Join(path, "."))
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %s: expected string, got %T", strings.Join(path, "."), v)
	}
	return s, nil
}

// GetMap returns the object at path.
func GetMap(doc Document, path ...string) (map[string]any, error) {
	v, ok := Get(doc, path...)
	if !ok {
		return nil, fmt.Errorf("missing field: %s", strings.Join(path, "."))
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("field %s: expected object, got %T", strings.Join(path, "."), v)
	}
	return m, nil
}

// GetSlice returns the array at path. A missing path yields an empty slice;
// a present non-array value is an error.
func GetSlice(doc Document, path ...string) ([]any, error) {
	v, ok := Get(doc, path...)
	if !ok {
		return nil, nil
	}
	if v == nil {
		return nil, nil
	}
	s, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %s: expected array, got %T", strings.Join(path, "."), v)
	}
	return s, nil
}

// GetInt returns the integer at path. JSON decoding yields float64; YAML
// yields int — both are accepted.
func GetInt(doc Document, path ...string) (int64, error) {
	v, ok := Get(doc, path...)
	if !ok {
		return 0, fmt.Errorf("missing field: %s", strings.Join(path, "."))
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		return n.Int64()
	}
	return 0, fmt.Errorf("field %s: expected number, got %T", strings.Join(path, "."), v)
}

// GetFloat returns the number at path as a float64.
func GetFloat(doc Document, path ...string) (float64, error) {
	v, ok := Get(doc, path...)
	if !ok {
		return 0, fmt.Errorf("missing field: %s", strings.Join(path, "."))
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	}
	return 0, fmt.Errorf("field %s: expected number, got %T", strings.Join(path, "."), v)
}

// Kind returns the document's kind field, or "" when absent.
func Kind(doc Document) string {
	s, _ := doc["kind"].(string)
	return s
}

// DeepCopy returns an independent copy of the document tree. Scalars are
// shared (they are immutable); maps and slices are copied recursively.
func DeepCopy(doc Document) Document {
	return deepCopyValue(doc).(map[string]any)
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopyValue(val)
		}
		return out
	default:
		return t
	}
}

// StringSet collects the string elements of list into a set. Non-string
// elements are stringified via fmt, matching how loosely-typed documents
// compare policy entries.
func StringSet(list []any) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, v := range list {
		out[asString(v)] = struct{}{}
	}
	return out
}

// Strings collects list elements as strings.
func Strings(list []any) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, asString(v))
	}
	return out
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// NormalizeJSON re-encodes the document through encoding/json so that all
// numbers are float64 and all maps are map[string]any, regardless of whether
// the tree came from a YAML or JSON decoder. Schema validation requires
// JSON-shaped values.
func NormalizeJSON(doc Document) (Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	return out, nil
}
