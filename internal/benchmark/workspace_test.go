package benchmark

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMaterializeWorkspace_InlineFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "workspace")
	task := Task{Setup: Setup{Files: map[string]string{
		"main.go":       "package main\n",
		"nested/lib.go": "package nested\n",
	}}}

	if err := MaterializeWorkspace(dir, task); err != nil {
		t.Fatalf("MaterializeWorkspace: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "main.go"))
	if err != nil || string(data) != "package main\n" {
		t.Fatalf("main.go: data=%q err=%v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "nested", "lib.go")); err != nil {
		t.Fatalf("expected nested file: %v", err)
	}
}

func TestMaterializeWorkspace_CopiesAndRewritesFromSourcePath(t *testing.T) {
	src := t.TempDir()
	os.MkdirAll(filepath.Join(src, "environment"), 0o755)
	os.WriteFile(filepath.Join(src, "environment", "setup.sh"), []byte("cd /app/project && run\n"), 0o644)
	os.WriteFile(filepath.Join(src, "environment", "container"), []byte("ignored"), 0o644)
	os.MkdirAll(filepath.Join(src, "tests"), 0o755)
	os.WriteFile(filepath.Join(src, "tests", "test_main.py"), []byte("path = '/app/project'\n"), 0o644)

	dir := filepath.Join(t.TempDir(), "workspace")
	task := Task{SourcePath: src}

	if err := MaterializeWorkspace(dir, task); err != nil {
		t.Fatalf("MaterializeWorkspace: %v", err)
	}

	setup, err := os.ReadFile(filepath.Join(dir, "setup.sh"))
	if err != nil {
		t.Fatalf("setup.sh not copied: %v", err)
	}
	if string(setup) == "cd /app/project && run\n" {
		t.Fatal("expected /app/ rewritten to workspace path")
	}

	if _, err := os.Stat(filepath.Join(dir, "container")); err == nil {
		t.Fatal("container file should have been skipped")
	}

	testFile, err := os.ReadFile(filepath.Join(dir, "tests", "test_main.py"))
	if err != nil {
		t.Fatalf("tests not copied: %v", err)
	}
	if string(testFile) == "path = '/app/project'\n" {
		t.Fatal("expected /app/ rewritten in copied test file")
	}
}
