package benchmark

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadSuite reads a suite file, auto-detecting JSON vs YAML by extension
// (falling back to JSON-then-YAML if the extension is ambiguous).
func LoadSuite(path string) (Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Suite{}, fmt.Errorf("benchmark: read suite: %w", err)
	}

	var suite Suite
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, &suite); err != nil {
			return Suite{}, fmt.Errorf("benchmark: parse suite yaml: %w", err)
		}
		return suite, nil
	}

	if err := json.Unmarshal(data, &suite); err == nil {
		return suite, nil
	}
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return Suite{}, fmt.Errorf("benchmark: parse suite: %w", err)
	}
	return suite, nil
}

// SelectTasks filters suite.Tasks down to the given allow-list of task ids.
// An empty allowList means every task is selected.
func SelectTasks(suite Suite, allowList []string) []Task {
	if len(allowList) == 0 {
		return suite.Tasks
	}
	allowed := make(map[string]bool, len(allowList))
	for _, id := range allowList {
		allowed[id] = true
	}
	var out []Task
	for _, task := range suite.Tasks {
		if allowed[task.ID] {
			out = append(out, task)
		}
	}
	return out
}
