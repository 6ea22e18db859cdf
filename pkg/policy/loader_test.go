package policy

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "qty-check.rego")
	regoContent := `# Quantities must be positive.
# Applies to every sheet.
package acme.qty

import rego.v1

deny contains "bad qty" if {
	to_number(input.values.Qty) <= 0
}`
	writeFile(t, policyFile, regoContent)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "qty-check" {
		t.Errorf("Expected name 'qty-check', got '%s'", policy.Name)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if policy.Description != "Quantities must be positive. Applies to every sheet." {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if !policy.Enabled || policy.Severity != SeverityWarning {
		t.Errorf("Unexpected defaults: enabled=%v severity=%s", policy.Enabled, policy.Severity)
	}
	if policy.Source != policyFile {
		t.Errorf("Expected source %s, got %s", policyFile, policy.Source)
	}
}

func TestLoadFromFile_Definitions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rules", "email.rego"), "package acme.email\n\nimport rego.v1\n\ndeny contains \"x\" if false\n")

	tests := []struct {
		name     string
		file     string
		content  string
		wantName string
		wantSev  Severity
		enabled  bool
		wantErr  bool
	}{
		{
			name: "json inline",
			file: "inline.json",
			content: `{"name": "json-policy", "severity": "error",
				"rego": "package j\n\nimport rego.v1\n\ndeny contains \"x\" if false\n"}`,
			wantName: "json-policy",
			wantSev:  SeverityError,
			enabled:  true,
		},
		{
			name: "yaml with rego file",
			file: "email.yaml",
			content: `description: Emails look valid
severity: critical
enabled: false
rego_file: rules/email.rego
`,
			wantName: "email",
			wantSev:  SeverityCritical,
			enabled:  false,
		},
		{
			name:    "no rego",
			file:    "empty.yml",
			content: "name: empty\n",
			wantErr: true,
		},
		{
			name:    "invalid json",
			file:    "broken.json",
			content: "{not json",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)

			policy, err := NewLoader(zerolog.Nop()).loadFromFile(context.Background(), path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to load policy: %v", err)
			}
			if policy.Name != tt.wantName {
				t.Errorf("Expected name %s, got %s", tt.wantName, policy.Name)
			}
			if policy.Severity != tt.wantSev {
				t.Errorf("Expected severity %s, got %s", tt.wantSev, policy.Severity)
			}
			if policy.Enabled != tt.enabled {
				t.Errorf("Expected enabled=%v", tt.enabled)
			}
			if policy.Rego == "" {
				t.Error("Expected rego to be loaded")
			}
		})
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	tmpDir := t.TempDir()

	writeFile(t, filepath.Join(tmpDir, "p1.rego"), "package p1\n")
	writeFile(t, filepath.Join(tmpDir, "sub", "p2.rego"), "package p2\n")
	writeFile(t, filepath.Join(tmpDir, "README.md"), "# Test")
	writeFile(t, filepath.Join(tmpDir, "bad.json"), "{")

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	names := make([]string, 0, len(loaded))
	for _, p := range loaded {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "p1" || names[1] != "p2" {
		t.Errorf("Expected [p1 p2], got %v", names)
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	tmpDir := t.TempDir()

	dir1 := filepath.Join(tmpDir, "dir1")
	writeFile(t, filepath.Join(dir1, "policy1.rego"), "package p1\n")
	file1 := filepath.Join(tmpDir, "policy2.rego")
	writeFile(t, file1, "package p2\n")

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir1, file1})
	if err != nil {
		t.Fatalf("Failed to load paths: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(loaded))
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(tmpDir, "missing")}); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestLoadFromFile_UnsupportedType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.txt")
	writeFile(t, path, "text")

	if _, err := NewLoader(zerolog.Nop()).loadFromFile(context.Background(), path); err == nil {
		t.Error("Expected error for unsupported file type")
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "leading comments", content: "# First line\n# Second line\npackage x\n# later", want: "First line Second line"},
		{name: "blank lines before", content: "\n\n# Only\n\npackage x", want: "Only"},
		{name: "no comments", content: "package x\n", want: ""},
		{name: "package comment skipped", content: "# package note\n# Real\npackage x", want: "Real"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractDescription(tt.content); got != tt.want {
				t.Errorf("extractDescription() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "cached.rego")
	writeFile(t, path, "package first\n")

	if _, err := loader.loadFromFile(context.Background(), path); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	writeFile(t, path, "package second\n")

	cached, _ := loader.loadFromFile(context.Background(), path)
	if cached.Rego != "package first\n" {
		t.Error("Expected cached policy")
	}

	loader.ClearCache()
	fresh, _ := loader.loadFromFile(context.Background(), path)
	if fresh.Rego != "package second\n" {
		t.Error("Expected policy to be re-read after ClearCache")
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), "package a\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	loader := NewLoader(zerolog.Nop())
	err := loader.Watch(ctx, []string{dir}, func(ps []Policy) error {
		reloaded <- ps
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, filepath.Join(dir, "b.rego"), "package b\n")
	writeFile(t, filepath.Join(dir, "a.rego"), "package a2\n")

	select {
	case ps := <-reloaded:
		if len(ps) != 2 {
			t.Fatalf("Expected 2 policies after reload, got %d", len(ps))
		}
		for _, p := range ps {
			if p.Name == "a" && p.Rego != "package a2\n" {
				t.Errorf("Expected a.rego to be re-read, got %q", p.Rego)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}

	select {
	case <-reloaded:
		t.Error("Expected writes to be debounced into one reload")
	case <-time.After(2 * reloadDelay):
	}
}

func TestWatch_EngineReplace(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := newTestEngine(t)
	done := make(chan struct{}, 1)
	loader := NewLoader(zerolog.Nop())
	err := loader.Watch(ctx, []string{dir}, func(ps []Policy) error {
		err := eng.ReplacePolicies(ctx, ps)
		done <- struct{}{}
		return err
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, filepath.Join(dir, "custom.rego"), fmtRego("custom"))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
	if _, err := eng.GetPolicy("custom"); err != nil {
		t.Errorf("Expected custom policy after reload: %v", err)
	}
}

func fmtRego(pkg string) string {
	return "package " + pkg + "\n\nimport rego.v1\n\ndeny contains \"x\" if false\n"
}
