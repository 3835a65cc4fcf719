package config

import (
	"fmt"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"turncore/internal/domain"
	"turncore/internal/stage"
)

// stageProfilesYAML is the config/stage_profiles.yaml shape: one named band
// per dimension, per stage, keyed by the stage's lowercase name.
type stageProfilesYAML struct {
	Stages map[string]stage.Profile `yaml:"stages"`
}

// StageProfileLoader wraps a koanf file provider with the teacher's
// load-then-watch pattern (entity/conf.Init/loadConfig/startConfigWatch),
// swapped from log.Printf to the ambient zap logger.
type StageProfileLoader struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	table stage.Table
}

func NewStageProfileLoader(path string, logger *zap.Logger) *StageProfileLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StageProfileLoader{path: path, logger: logger, table: stage.DefaultTable()}
}

// Load reads config/stage_profiles.yaml once and starts a file watch that
// reloads the table on every subsequent change.
func (l *StageProfileLoader) Load() error {
	if err := l.reload(); err != nil {
		return err
	}
	f := file.Provider(l.path)
	return f.Watch(func(event interface{}, err error) {
		if err != nil {
			l.logger.Warn("stage profile watch error", zap.Error(err))
			return
		}
		if rerr := l.reload(); rerr != nil {
			l.logger.Warn("stage profile reload failed, keeping previous table", zap.Error(rerr))
			return
		}
		l.logger.Info("stage profiles reloaded", zap.String("path", l.path))
	})
}

func (l *StageProfileLoader) reload() error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(l.path), yaml.Parser()); err != nil {
		return fmt.Errorf("load stage profiles: %w", err)
	}
	var raw stageProfilesYAML
	if err := k.UnmarshalWithConf("", &raw, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return fmt.Errorf("unmarshal stage profiles: %w", err)
	}

	table := stage.Table{}
	for name, profile := range raw.Stages {
		s, ok := domain.ParseRelationshipStage(name)
		if !ok {
			return fmt.Errorf("unknown stage name %q in stage_profiles.yaml", name)
		}
		profile.Stage = s
		table[s] = profile
	}
	if len(table) != 10 {
		return fmt.Errorf("stage_profiles.yaml must define all ten stages, got %d", len(table))
	}

	l.mu.Lock()
	l.table = table
	l.mu.Unlock()
	return nil
}

// Table returns the current stage profile table (safe for concurrent use
// while the background watch swaps it out).
func (l *StageProfileLoader) Table() stage.Table {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table
}
