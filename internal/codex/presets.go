package codex

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultModelPresets is the short allow-list of suggested models; the user's
// own codex configuration refines the ordering.
var DefaultModelPresets = []string{
	"gpt-5.2-codex",
	"gpt-5.1-codex-max",
	"gpt-5.1-codex-mini",
	"gpt-5.2",
}

type codexConfig struct {
	Model  string `toml:"model"`
	Notice struct {
		ModelMigrations map[string]string `toml:"model_migrations"`
	} `toml:"notice"`
}

// codexHome returns $CODEX_HOME or ~/.codex.
func codexHome() string {
	if home := os.Getenv("CODEX_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(userHome, ".codex")
}

// DiscoverModelPresets builds the model preset list: the model configured in
// $CODEX_HOME/config.toml first (with its migration target, when one is
// announced), then the default presets. Entries outside the allow-list are
// dropped and duplicates removed. Any read or parse failure degrades to the
// defaults alone.
func DiscoverModelPresets() []string {
	allowed := map[string]bool{}
	for _, m := range DefaultModelPresets {
		allowed[m] = true
	}

	var presets []string
	seen := map[string]bool{}
	add := func(model string) {
		if model == "" || seen[model] || !allowed[model] {
			return
		}
		seen[model] = true
		presets = append(presets, model)
	}

	if home := codexHome(); home != "" {
		var cfg codexConfig
		if _, err := toml.DecodeFile(filepath.Join(home, "config.toml"), &cfg); err == nil {
			add(cfg.Model)
			if cfg.Model != "" {
				add(cfg.Notice.ModelMigrations[cfg.Model])
			}
		}
	}
	for _, m := range DefaultModelPresets {
		add(m)
	}
	return presets
}
