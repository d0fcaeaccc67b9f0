package config

import (
	"fmt"
	"os"

	"trade_engine/internal/rules"

	"gopkg.in/yaml.v2"
)

// StrategySpec — one declared strategy: its instruments, sizing and
// rule sets. Entry/exit evaluate first-wins; adjust rules may co-fire.
type StrategySpec struct {
	Name        string   `yaml:"name"`
	Instruments []string `yaml:"instruments"`
	Qty         float64  `yaml:"qty"`

	Window struct {
		Open  string `yaml:"open"`
		Close string `yaml:"close"`
	} `yaml:"window"`

	// Exit levels armed on fill, watched by the order watch loop.
	StopPct   float64 `yaml:"stop_pct"`
	TargetPct float64 `yaml:"target_pct"`
	TrailPct  float64 `yaml:"trail_pct"`

	Entry  []rules.Rule `yaml:"entry"`
	Exit   []rules.Rule `yaml:"exit"`
	Adjust []rules.Rule `yaml:"adjust"`
}

type StrategiesFile struct {
	Strategies []StrategySpec `yaml:"strategies"`
}

// LoadStrategies reads the strategy declarations file.
func LoadStrategies(path string) (*StrategiesFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open strategies file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var out StrategiesFile
	if err := yaml.NewDecoder(f).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode strategies file: %w", err)
	}
	for i := range out.Strategies {
		s := &out.Strategies[i]
		if s.Name == "" {
			return nil, fmt.Errorf("strategy #%d has no name", i)
		}
		if len(s.Instruments) == 0 {
			return nil, fmt.Errorf("strategy %q has no instruments", s.Name)
		}
		if s.Qty <= 0 {
			s.Qty = 1
		}
	}
	return &out, nil
}
