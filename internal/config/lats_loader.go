package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"turncore/internal/search"
)

// LoadLATSConfig reads config/lats.yaml and converts it into search.Config.
// Missing keys fall back to search.DefaultConfig()'s values (see
// LATSConfig.ToSearchConfig).
func LoadLATSConfig(path string) (search.Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return search.Config{}, fmt.Errorf("load lats config: %w", err)
	}
	var raw LATSConfig
	if err := k.UnmarshalWithConf("", &raw, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return search.Config{}, fmt.Errorf("unmarshal lats config: %w", err)
	}
	return raw.ToSearchConfig(), nil
}
