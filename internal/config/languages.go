package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Language struct {
	Name      string   `toml:"name"`
	FileTypes []string `toml:"file-types"`
}

type Languages struct {
	Languages []Language `toml:"language"`
}

// Match returns the language whose file types cover path, matching either
// the extension or the full base name (e.g. ".gitignore", "Makefile").
func (l Languages) Match(path string) *Language {
	base := filepath.Base(path)
	baseLower := strings.ToLower(base)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	for i := range l.Languages {
		lang := &l.Languages[i]
		for _, ft := range lang.FileTypes {
			ftLower := strings.ToLower(ft)
			if ftLower == ext || ftLower == baseLower {
				return lang
			}
			if strings.HasPrefix(ftLower, ".") && strings.TrimPrefix(ftLower, ".") == ext {
				return lang
			}
		}
	}
	return nil
}

// DefaultLanguages covers the grammars the built-in tokenizer ships with.
func DefaultLanguages() Languages {
	return Languages{
		Languages: []Language{
			{Name: "go", FileTypes: []string{"go"}},
			{Name: "yaml", FileTypes: []string{"yaml", "yml"}},
			{Name: "toml", FileTypes: []string{"toml"}},
			{Name: "bash", FileTypes: []string{"sh", "bash", "zsh"}},
			{Name: "json", FileTypes: []string{"json"}},
			{Name: "gitignore", FileTypes: []string{".gitignore", "gitignore"}},
		},
	}
}

// LoadLanguages returns the defaults extended by the user's languages.toml.
// User entries take precedence over built-ins with the same name.
func LoadLanguages() (Languages, error) {
	langs := DefaultLanguages()
	path, err := LanguagesPath()
	if err != nil {
		return langs, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return langs, nil
		}
		return langs, err
	}

	var user Languages
	if _, err := toml.Decode(string(data), &user); err != nil {
		return langs, err
	}

	for _, ul := range user.Languages {
		replaced := false
		for i := range langs.Languages {
			if langs.Languages[i].Name == ul.Name {
				langs.Languages[i] = ul
				replaced = true
				break
			}
		}
		if !replaced {
			langs.Languages = append(langs.Languages, ul)
		}
	}
	return langs, nil
}

func LanguagesPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "languages.toml"), nil
}
