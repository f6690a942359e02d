package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Include directives. Both spellings are accepted; values are a path, a
// glob, or a list of either, relative to the including file.
const (
	includeKey      = "$include"
	includeAlias    = "include"
	maxIncludeDepth = 8
)

// LoadRaw reads path and every file it includes into one map. Later keys
// win: includes are applied in order, then the including file on top.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	var l rawLoader
	return l.load(path)
}

// rawLoader tracks the include chain for cycle detection.
type rawLoader struct {
	chain []string
}

func (l *rawLoader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if slices.Contains(l.chain, abs) {
		return nil, fmt.Errorf("config include cycle detected: %s -> %s", strings.Join(l.chain, " -> "), abs)
	}
	if len(l.chain) >= maxIncludeDepth {
		return nil, fmt.Errorf("config includes nested deeper than %d at %s", maxIncludeDepth, abs)
	}
	l.chain = append(l.chain, abs)
	defer func() { l.chain = l.chain[:len(l.chain)-1] }()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument([]byte(os.ExpandEnv(string(data))), filepath.Ext(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	patterns, err := takeIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	files, err := resolveIncludes(filepath.Dir(abs), patterns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	merged := map[string]any{}
	for _, file := range files {
		included, err := l.load(file)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, included)
	}
	return mergeMaps(merged, doc), nil
}

// parseDocument decodes a single YAML document, or JSON5 for .json and
// .json5 files.
func parseDocument(data []byte, ext string) (map[string]any, error) {
	doc := map[string]any{}
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, errors.New("failed to parse config: expected single document")
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// takeIncludes removes the include directive from doc and returns its entries.
func takeIncludes(doc map[string]any) ([]string, error) {
	var value any
	for _, key := range []string{includeKey, includeAlias} {
		if v, ok := doc[key]; ok {
			value = v
			delete(doc, key)
			break
		}
	}

	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("include[%d] must be a string", i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, errors.New("include must be a string or list of strings")
	}
}

// resolveIncludes turns include entries into file paths. Globs expand in
// lexical order and may match nothing; plain paths must exist.
func resolveIncludes(dir string, patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(dir, pattern)
		}
		if !strings.ContainsAny(pattern, "*?[") {
			files = append(files, pattern)
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("include pattern %q: %w", pattern, err)
		}
		slices.Sort(matches)
		files = append(files, matches...)
	}
	return files, nil
}

// mergeMaps overlays src onto dst, recursing into nested maps. Lists and
// scalars in src replace those in dst.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for key, value := range src {
		next, isMap := value.(map[string]any)
		prev, hadMap := dst[key].(map[string]any)
		if isMap && hadMap {
			dst[key] = mergeMaps(prev, next)
			continue
		}
		dst[key] = value
	}
	return dst
}

// decodeRawConfig re-encodes the merged map and decodes it strictly, so
// misspelled keys are reported.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
