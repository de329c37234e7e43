package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// configAsJSON returns the file content as JSON bytes. Files with a
// .yaml/.yml extension are unmarshaled and re-marshaled through JSON
// so the one strict decoder (DisallowUnknownFields) covers both
// formats; everything else passes through untouched. The returned
// format tag is "json" or "yaml".
func configAsJSON(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}
	out, err := json.Marshal(stringKeyed(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return out, "yaml", nil
}

// stringKeyed rewrites every map in the document with string keys;
// YAML permits non-string keys, json.Marshal does not.
func stringKeyed(v any) any {
	switch doc := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(doc))
		for k, item := range doc {
			out[fmt.Sprint(k)] = stringKeyed(item)
		}
		return out
	case map[string]any:
		for k, item := range doc {
			doc[k] = stringKeyed(item)
		}
		return doc
	case []any:
		for i, item := range doc {
			doc[i] = stringKeyed(item)
		}
		return doc
	}
	return v
}
