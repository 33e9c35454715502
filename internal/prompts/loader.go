// Package prompts serves the LLM prompt templates embedded in the binary.
// Each JSON file maps prompt keys to template text with {{.Key}} placeholders.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

//go:embed *.json
var promptFiles embed.FS

var (
	mu    sync.RWMutex
	cache = map[string]map[string]string{}
)

// Get returns the template stored under key in the named file
// (e.g. "drafting.json").
func Get(filename, key string) (string, error) {
	file, err := load(filename)
	if err != nil {
		return "", err
	}

	template, ok := file[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found in %s", key, filename)
	}
	return template, nil
}

// MustGet is Get for prompts required at initialization; it panics on error.
func MustGet(filename, key string) string {
	template, err := Get(filename, key)
	if err != nil {
		panic(fmt.Sprintf("failed to load prompt: %v", err))
	}
	return template
}

// Format substitutes {{.Key}} placeholders with the given values.
func Format(template string, data map[string]string) string {
	for key, value := range data {
		template = strings.ReplaceAll(template, fmt.Sprintf("{{.%s}}", key), value)
	}
	return template
}

// List returns the prompt keys available in a file.
func List(filename string) ([]string, error) {
	file, err := load(filename)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(file))
	for key := range file {
		keys = append(keys, key)
	}
	return keys, nil
}

// ClearCache drops parsed files, for tests.
func ClearCache() {
	mu.Lock()
	cache = map[string]map[string]string{}
	mu.Unlock()
}

func load(filename string) (map[string]string, error) {
	mu.RLock()
	file, ok := cache[filename]
	mu.RUnlock()
	if ok {
		return file, nil
	}

	data, err := promptFiles.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", filename, err)
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
	}

	mu.Lock()
	cache[filename] = file
	mu.Unlock()
	return file, nil
}
