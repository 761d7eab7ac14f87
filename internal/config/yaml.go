package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// sourceJSON returns the config file as JSON so both formats go through the
// same strict decoder. The format is picked by extension; anything that is
// not .yaml or .yml is taken as JSON.
func sourceJSON(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, "yaml", errors.New("yaml config: file has no document")
		}
		return nil, "yaml", fmt.Errorf("yaml config: %w", err)
	}
	// A second document would be silently ignored; the bot has one config.
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return nil, "yaml", errors.New("yaml config: only one document is allowed")
	} else if !errors.Is(err, io.EOF) {
		return nil, "yaml", fmt.Errorf("yaml config: %w", err)
	}

	j, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml config: %w", err)
	}
	return j, "yaml", nil
}

// stringKeys rewrites YAML mappings with non-string keys (e.g. numeric chat
// ids used as keys) into JSON-marshalable maps.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
