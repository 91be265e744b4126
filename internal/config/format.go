package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"
)

type format struct {
	name      string
	unmarshal func([]byte, any) error // nil for JSON
}

var formatsByExt = map[string]format{
	".yaml": {name: "yaml", unmarshal: yaml.Unmarshal},
	".yml":  {name: "yaml", unmarshal: yaml.Unmarshal},
	".toml": {name: "toml", unmarshal: toml.Unmarshal},
}

// toJSON re-encodes a YAML or TOML document as JSON so every format goes
// through the same strict decoder. Other extensions are taken as JSON.
func toJSON(path string, data []byte) ([]byte, string, error) {
	f, ok := formatsByExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return data, "json", nil
	}
	var doc map[string]any
	if err := f.unmarshal(data, &doc); err != nil {
		return nil, f.name, fmt.Errorf("%s: %w", f.name, err)
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, f.name, fmt.Errorf("%s to json: %w", f.name, err)
	}
	return out, f.name, nil
}

// stringKeys rewrites nested map[any]any values, which YAML produces for
// non-string keys, into JSON-encodable maps.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = stringKeys(child)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = stringKeys(child)
		}
		return out
	case []any:
		for i, child := range t {
			t[i] = stringKeys(child)
		}
		return t
	}
	return v
}
