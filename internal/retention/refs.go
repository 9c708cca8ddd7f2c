// Package retention implements the per-layer "keep newest N versions"
// cleanup policy over a versioned artifact tree, pinned-reference
// loading, and an append-only JSON-lines audit log.
package retention

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// PinSet is the set of (layer, version) pairs that must never be
// deleted, regardless of age.
type PinSet map[string]map[string]struct{}

// Pinned reports whether version is pinned for layer.
func (p PinSet) Pinned(layer, version string) bool {
	versions, ok := p[layer]
	if !ok {
		return false
	}
	_, ok = versions[version]
	return ok
}

// add records layer/version as pinned, skipping blank values.
func (p PinSet) add(layer, version string) {
	layer = strings.TrimSpace(layer)
	version = strings.TrimSpace(version)
	if layer == "" || version == "" {
		return
	}
	if p[layer] == nil {
		p[layer] = make(map[string]struct{})
	}
	p[layer][version] = struct{}{}
}

// LoadPinnedReferences reads path (YAML if the extension is .yaml/.yml,
// JSON otherwise) and normalizes it into a PinSet. Three shapes are
// accepted at the top level:
//
//  1. {"layers": {"temperature": ["2024-01-01", "2024-02-01"]}}
//  2. {"temperature": ["2024-01-01", "2024-02-01"]}   (flat map)
//  3. {"references": [{"layer": "temperature", "version": "2024-01-01"}]}
func LoadPinnedReferences(path string) (PinSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Wrap(apperr.NotFound, "references file not found: "+path, err)
		}
		return nil, apperr.Wrap(apperr.StorageErr, "failed to read references file", err)
	}

	var generic map[string]any
	if isYAMLPath(path) {
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return nil, apperr.Wrap(apperr.DecodeErr, "failed to parse references file as YAML", err)
		}
	} else {
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, apperr.Wrap(apperr.DecodeErr, "failed to parse references file as JSON", err)
		}
	}

	pins := make(PinSet)

	if layers, ok := generic["layers"]; ok {
		layerMap, ok := layers.(map[string]any)
		if !ok {
			return nil, apperr.New(apperr.InvalidArgument, `"layers" must be a mapping of layer name to versions`)
		}
		for layer, versions := range layerMap {
			for _, v := range asStrSet(versions) {
				pins.add(layer, v)
			}
		}
		return pins, nil
	}

	if refsRaw, ok := generic["references"]; ok {
		refsList, ok := refsRaw.([]any)
		if !ok {
			return nil, apperr.New(apperr.InvalidArgument, `"references" must be a list of {layer, version} entries`)
		}
		for _, entryRaw := range refsList {
			entry, ok := entryRaw.(map[string]any)
			if !ok {
				continue
			}
			layer, _ := entry["layer"].(string)
			version, _ := entry["version"].(string)
			pins.add(layer, version)
		}
		return pins, nil
	}

	// Flat-map shape: every top-level key is a layer name, every value its
	// set of pinned versions.
	for layer, versions := range generic {
		for _, v := range asStrSet(versions) {
			pins.add(layer, v)
		}
	}
	return pins, nil
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// asStrSet normalizes a decoded JSON/YAML value (string, list, or
// scalar) into a de-duplicated slice of trimmed, non-empty strings.
func asStrSet(v any) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	switch val := v.(type) {
	case nil:
		return nil
	case string:
		add(val)
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	default:
	}
	return out
}
