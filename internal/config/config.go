package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// EngineOptions tune the text engine. All sizes are bytes unless noted.
type EngineOptions struct {
	ChunkSize          int   `toml:"chunk-size"`
	ChunkCacheBudget   int64 `toml:"chunk-cache-budget"`
	HighlightCacheSize int   `toml:"highlight-cache-lines"`
	ViewportMargin     int   `toml:"viewport-margin"`
	UndoDepth          int   `toml:"undo-depth"`
	CoalesceWindowMS   int   `toml:"coalesce-window-ms"`
	SaveBatchSize      int   `toml:"save-batch-size"`
	Workers            int   `toml:"workers"`
}

type Config struct {
	Engine EngineOptions `toml:"engine"`
}

func Default() Config {
	return Config{
		Engine: EngineOptions{
			ChunkSize:          64 * 1024,
			ChunkCacheBudget:   32 * 1024 * 1024,
			HighlightCacheSize: 2000,
			ViewportMargin:     40,
			UndoDepth:          1000,
			CoalesceWindowMS:   700,
			SaveBatchSize:      1024 * 1024,
			Workers:            4,
		},
	}
}

func Load() (Config, error) {
	cfg := Default()
	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	var userCfg Config
	if _, err := toml.Decode(string(data), &userCfg); err != nil {
		return cfg, err
	}

	if userCfg.Engine.ChunkSize > 0 {
		cfg.Engine.ChunkSize = userCfg.Engine.ChunkSize
	}
	if userCfg.Engine.ChunkCacheBudget > 0 {
		cfg.Engine.ChunkCacheBudget = userCfg.Engine.ChunkCacheBudget
	}
	if userCfg.Engine.HighlightCacheSize > 0 {
		cfg.Engine.HighlightCacheSize = userCfg.Engine.HighlightCacheSize
	}
	if userCfg.Engine.ViewportMargin > 0 {
		cfg.Engine.ViewportMargin = userCfg.Engine.ViewportMargin
	}
	if userCfg.Engine.UndoDepth > 0 {
		cfg.Engine.UndoDepth = userCfg.Engine.UndoDepth
	}
	if userCfg.Engine.CoalesceWindowMS > 0 {
		cfg.Engine.CoalesceWindowMS = userCfg.Engine.CoalesceWindowMS
	}
	if userCfg.Engine.SaveBatchSize > 0 {
		cfg.Engine.SaveBatchSize = userCfg.Engine.SaveBatchSize
	}
	if userCfg.Engine.Workers > 0 {
		cfg.Engine.Workers = userCfg.Engine.Workers
	}

	return cfg, nil
}

func ConfigDir() (string, error) {
	if v := os.Getenv("QBUF_CONFIG_HOME"); v != "" {
		return filepath.Join(v), nil
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "qbuf"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "qbuf"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}
