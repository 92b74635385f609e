package benchmark

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// appPathMarker is the prefix tasks use to refer to the eventual workspace
// root in their tests/environment sources.
const appPathMarker = "/app/"

// MaterializeWorkspace creates dir and populates it from task.Setup.Files,
// then — if task carries a source path — copies environment/* (excluding
// any container file) and tests/, rewriting /app/ references to the
// absolute workspace path along the way.
func MaterializeWorkspace(dir string, task Task) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("benchmark: mkdir workspace: %w", err)
	}

	for relPath, content := range task.Setup.Files {
		full := filepath.Join(dir, relPath)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("benchmark: mkdir for %s: %w", relPath, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return fmt.Errorf("benchmark: write %s: %w", relPath, err)
		}
	}

	if task.SourcePath == "" {
		return nil
	}

	envDir := filepath.Join(task.SourcePath, "environment")
	if info, err := os.Stat(envDir); err == nil && info.IsDir() {
		if err := copyTreeRewritten(envDir, dir, dir, []string{"container"}); err != nil {
			return fmt.Errorf("benchmark: copy environment: %w", err)
		}
	}

	testsDir := filepath.Join(task.SourcePath, "tests")
	if info, err := os.Stat(testsDir); err == nil && info.IsDir() {
		if err := copyTreeRewritten(testsDir, filepath.Join(dir, "tests"), dir, nil); err != nil {
			return fmt.Errorf("benchmark: copy tests: %w", err)
		}
	}

	return nil
}

// copyTreeRewritten copies every file under src into dst, skipping any
// file whose base name is in skipNames, and rewriting occurrences of
// "/app/" to workspaceRoot + "/" in text content along the way.
func copyTreeRewritten(src, dst, workspaceRoot string, skipNames []string) error {
	skip := make(map[string]bool, len(skipNames))
	for _, n := range skipNames {
		skip[n] = true
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if skip[d.Name()] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rewritten := strings.ReplaceAll(string(data), appPathMarker, workspaceRoot+"/")
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, []byte(rewritten), 0o644)
	})
}
