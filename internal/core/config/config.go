// Package config loads Mementor's on-disk configuration: an optional TOML
// file under the user's ~/.config directory, with hardcoded defaults when
// absent.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Default tuning constants, named so a recalibration procedure only needs
// to touch this file.
const (
	DefaultEmbeddingDimension  = 768
	DefaultChunkTargetTokens   = 256
	DefaultChunkOverlapTokens  = 40
	DefaultTopK                = 5
	DefaultOverFetchMultiplier = 4
	DefaultMaxCosineDistance   = 0.45
	DefaultFileMatchDistance   = 0.40
	DefaultMinQueryUnits       = 3
	DefaultWindowSize          = 5
)

// CompactionSummaryPrefix marks a user message as the synthetic summary
// Claude Code injects after auto-compaction, rather than something the
// person actually typed.
const CompactionSummaryPrefix = "This session is being continued from a previous conversation"

// Config holds the tunables and paths Mementor needs at runtime.
type Config struct {
	ModelDir            string
	LogDir              string
	ChunkTargetTokens   int
	ChunkOverlapTokens  int
	DefaultTopK         int
	OverFetchMultiplier int
	MaxCosineDistance   float64
	FileMatchDistance   float64
	MinQueryUnits       int
	WindowSize          int
}

type tomlConfig struct {
	ModelDir            string  `toml:"model_dir"`
	ChunkTargetTokens   int     `toml:"chunk_target_tokens"`
	ChunkOverlapTokens  int     `toml:"chunk_overlap_tokens"`
	DefaultTopK         int     `toml:"default_top_k"`
	OverFetchMultiplier int     `toml:"over_fetch_multiplier"`
	MaxCosineDistance   float64 `toml:"max_cosine_distance"`
	FileMatchDistance   float64 `toml:"file_match_distance"`
	MinQueryUnits       int     `toml:"min_query_units"`
	WindowSize          int     `toml:"window_size"`
}

// Load reads ~/.config/mementor/config.toml, falling back to defaults for
// anything absent or when the file itself doesn't exist. MEMENTOR_MODEL_DIR
// and MEMENTOR_LOG_DIR, when set, override both the config file and the
// built-in default.
func Load() (*Config, error) {
	cfg := &Config{
		ChunkTargetTokens:   DefaultChunkTargetTokens,
		ChunkOverlapTokens:  DefaultChunkOverlapTokens,
		DefaultTopK:         DefaultTopK,
		OverFetchMultiplier: DefaultOverFetchMultiplier,
		MaxCosineDistance:   DefaultMaxCosineDistance,
		FileMatchDistance:   DefaultFileMatchDistance,
		MinQueryUnits:       DefaultMinQueryUnits,
		WindowSize:          DefaultWindowSize,
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "~"
	}
	cfg.ModelDir = filepath.Join(home, ".mementor", "models")

	tomlPath := filepath.Join(home, ".config", "mementor", "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		var tc tomlConfig
		if _, err := toml.DecodeFile(tomlPath, &tc); err == nil {
			applyOverrides(cfg, &tc)
		}
	}

	if dir := os.Getenv("MEMENTOR_MODEL_DIR"); dir != "" {
		cfg.ModelDir = dir
	}
	if dir := os.Getenv("MEMENTOR_LOG_DIR"); dir != "" {
		cfg.LogDir = dir
	}

	return cfg, nil
}

func applyOverrides(cfg *Config, tc *tomlConfig) {
	if tc.ModelDir != "" {
		cfg.ModelDir = tc.ModelDir
	}
	if tc.ChunkTargetTokens > 0 {
		cfg.ChunkTargetTokens = tc.ChunkTargetTokens
	}
	if tc.ChunkOverlapTokens > 0 {
		cfg.ChunkOverlapTokens = tc.ChunkOverlapTokens
	}
	if tc.DefaultTopK > 0 {
		cfg.DefaultTopK = tc.DefaultTopK
	}
	if tc.OverFetchMultiplier > 0 {
		cfg.OverFetchMultiplier = tc.OverFetchMultiplier
	}
	if tc.MaxCosineDistance > 0 {
		cfg.MaxCosineDistance = tc.MaxCosineDistance
	}
	if tc.FileMatchDistance > 0 {
		cfg.FileMatchDistance = tc.FileMatchDistance
	}
	if tc.MinQueryUnits > 0 {
		cfg.MinQueryUnits = tc.MinQueryUnits
	}
	if tc.WindowSize > 0 {
		cfg.WindowSize = tc.WindowSize
	}
}
