package config

import (
	"path/filepath"
	"testing"
)

func TestLanguagesMatch(t *testing.T) {
	cfg := Languages{
		Languages: []Language{
			{Name: "go", FileTypes: []string{"go", "go.mod", ".go"}},
			{Name: "git", FileTypes: []string{".gitignore", "Makefile"}},
		},
	}

	if got := cfg.Match("main.go"); got == nil || got.Name != "go" {
		t.Fatalf("Match main.go = %#v, want go", got)
	}
	if got := cfg.Match("go.mod"); got == nil || got.Name != "go" {
		t.Fatalf("Match go.mod = %#v, want go", got)
	}
	if got := cfg.Match(".gitignore"); got == nil || got.Name != "git" {
		t.Fatalf("Match .gitignore = %#v, want git", got)
	}
	if got := cfg.Match("Makefile"); got == nil || got.Name != "git" {
		t.Fatalf("Match Makefile = %#v, want git", got)
	}
	if got := cfg.Match("unknown.txt"); got != nil {
		t.Fatalf("Match unknown.txt = %#v, want nil", got)
	}
}

func TestLoadLanguagesMergesUserFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QBUF_CONFIG_HOME", dir)

	writeFile(t, filepath.Join(dir, "languages.toml"), `
[[language]]
name = "go"
file-types = ["go", "gox"]

[[language]]
name = "markdown"
file-types = ["md"]
`)

	cfg, err := LoadLanguages()
	if err != nil {
		t.Fatalf("LoadLanguages error: %v", err)
	}

	// The user entry replaces the built-in go definition.
	got := cfg.Match("file.gox")
	if got == nil || got.Name != "go" {
		t.Fatalf("Match file.gox = %#v, want go", got)
	}
	// New languages are appended.
	got = cfg.Match("README.md")
	if got == nil || got.Name != "markdown" {
		t.Fatalf("Match README.md = %#v, want markdown", got)
	}
	// Built-ins not mentioned by the user survive.
	got = cfg.Match("config.toml")
	if got == nil || got.Name != "toml" {
		t.Fatalf("Match config.toml = %#v, want toml", got)
	}
}

func TestLoadLanguagesMissingFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QBUF_CONFIG_HOME", dir)

	cfg, err := LoadLanguages()
	if err != nil {
		t.Fatalf("LoadLanguages error: %v", err)
	}
	if len(cfg.Languages) != len(DefaultLanguages().Languages) {
		t.Fatalf("Languages len = %d, want defaults", len(cfg.Languages))
	}
}
