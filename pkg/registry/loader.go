package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/foundry/pkg/contracts"
)

// loadedDocument is a YAML document plus its resolved source path.
type loadedDocument struct {
	path string
	doc  contracts.Document
}

func (d loadedDocument) kind() string { return contracts.Kind(d.doc) }

// loadYAMLDocument reads one YAML file as a document tree.
func loadYAMLDocument(path string) (loadedDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return loadedDocument{}, fmt.Errorf("registry: read %s: %w", path, err)
	}
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return loadedDocument{}, fmt.Errorf("registry: parse YAML %s: %w", path, err)
	}
	doc, ok := jsonShape(v).(map[string]any)
	if !ok {
		return loadedDocument{}, fmt.Errorf("registry: %s: expected YAML object at root", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return loadedDocument{}, fmt.Errorf("registry: resolve %s: %w", path, err)
	}
	return loadedDocument{path: abs, doc: doc}, nil
}

// walkYAMLFiles yields every .yaml/.yml file under root, recursively.
// A missing root yields nothing; registry directories are optional until a
// manifest references into them.
func walkYAMLFiles(root string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: stat %s: %w", root, err)
	}
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: scan %s: %w", root, err)
	}
	return paths, nil
}

// jsonShape rewrites YAML decoder output into encoding/json-shaped values.
func jsonShape(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = jsonShape(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = jsonShape(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = jsonShape(val)
		}
		return out
	default:
		return t
	}
}
