package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "EA_STRESS_"

// FileLoader loads settings from an optional YAML or JSON file, then applies
// environment overrides and validates the result.
type FileLoader struct {
	validator Validator
	lookup    func(string) (string, bool)
}

// NewFileLoader creates a loader reading overrides from the process environment
func NewFileLoader() *FileLoader {
	return &FileLoader{
		validator: NewSettingsValidator(),
		lookup:    os.LookupEnv,
	}
}

// NewFileLoaderWithLookup creates a loader with a custom environment lookup
func NewFileLoaderWithLookup(lookup func(string) (string, bool)) *FileLoader {
	return &FileLoader{
		validator: NewSettingsValidator(),
		lookup:    lookup,
	}
}

// Load builds settings from defaults, the file at path (if any) and the environment
func (l *FileLoader) Load(path string) (Settings, error) {
	s := Default()

	if path != "" {
		loaded, err := LoadFile(path, s)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to load config file: %w", err)
		}
		s = loaded
	}

	s, err := ApplyEnv(s, l.lookup)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := l.validator.Validate(s); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return s, nil
}

// LoadFile decodes a settings file over base. The format follows the extension.
func LoadFile(path string, base Settings) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("could not read config file: %w", err)
	}

	out := base
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &out); err != nil {
			return Settings{}, fmt.Errorf("could not parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &out); err != nil {
			return Settings{}, fmt.Errorf("could not parse JSON config: %w", err)
		}
	default:
		return Settings{}, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}

	return out, nil
}

// SaveFile writes settings as YAML or JSON depending on the extension
func SaveFile(s Settings, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(s)
	default:
		data, err = json.MarshalIndent(s, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

type envSetter func(s *Settings, value string) error

func floatSetter(field func(*Settings) *float64) envSetter {
	return func(s *Settings, value string) error {
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return err
		}
		*field(s) = v
		return nil
	}
}

func intSetter(field func(*Settings) *int) envSetter {
	return func(s *Settings, value string) error {
		v, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*field(s) = v
		return nil
	}
}

func boolSetter(field func(*Settings) *bool) envSetter {
	return func(s *Settings, value string) error {
		v, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*field(s) = v
		return nil
	}
}

func stringSetter(field func(*Settings) *string) envSetter {
	return func(s *Settings, value string) error {
		*field(s) = strings.TrimSpace(value)
		return nil
	}
}

var envSetters = map[string]envSetter{
	"DEPOSIT":                  floatSetter(func(s *Settings) *float64 { return &s.Backtest.Deposit }),
	"MIN_PROFIT_FACTOR":        floatSetter(func(s *Settings) *float64 { return &s.Gates.MinProfitFactor }),
	"MAX_DRAWDOWN_PCT":         floatSetter(func(s *Settings) *float64 { return &s.Gates.MaxDrawdownPct }),
	"MIN_TRADES":               intSetter(func(s *Settings) *int { return &s.Gates.MinTrades }),
	"ONTESTER_MIN_TRADES":      intSetter(func(s *Settings) *int { return &s.Gates.OnTesterMinTrades }),
	"MC_ITERATIONS":            intSetter(func(s *Settings) *int { return &s.MonteCarlo.Iterations }),
	"MC_CONFIDENCE_MIN":        floatSetter(func(s *Settings) *float64 { return &s.Gates.MCConfidenceMin }),
	"MC_RUIN_MAX":              floatSetter(func(s *Settings) *float64 { return &s.Gates.MCRuinMax }),
	"MC_WORKERS":               intSetter(func(s *Settings) *int { return &s.MonteCarlo.Workers }),
	"BEST_PASS_SELECTION":      stringSetter(func(s *Settings) *string { return &s.Scoring.SelectionMode }),
	"AUTO_STATS_ANALYSIS":      boolSetter(func(s *Settings) *bool { return &s.Automation.AutoStatsAnalysis }),
	"AUTO_STATS_TOP_N":         intSetter(func(s *Settings) *int { return &s.Automation.AutoStatsTopN }),
	"AUTO_RUN_STRESS":          boolSetter(func(s *Settings) *bool { return &s.Automation.AutoRunStressScenarios }),
	"AUTO_RUN_FORWARD_WINDOWS": boolSetter(func(s *Settings) *bool { return &s.Automation.AutoRunForwardWindows }),
	"AUTO_RUN_MULTI_PAIR":      boolSetter(func(s *Settings) *bool { return &s.Automation.AutoRunMultiPair }),
	"MULTI_PAIR_MODE":          stringSetter(func(s *Settings) *string { return &s.Automation.MultiPairMode }),
	"LLM_IMPROVEMENT_ENABLED":  boolSetter(func(s *Settings) *bool { return &s.Advisor.Enabled }),
	"LLM_REVIEW_REQUIRED":      boolSetter(func(s *Settings) *bool { return &s.Advisor.ReviewRequired }),
	"STAT_TIMEZONE":            stringSetter(func(s *Settings) *string { return &s.Stats.Timezone }),
	"MAX_FIX_ATTEMPTS":         intSetter(func(s *Settings) *int { return &s.Workflow.MaxFixAttempts }),
	"RUNS_DIR":                 stringSetter(func(s *Settings) *string { return &s.Paths.RunsDir }),
	"LOG_LEVEL":                stringSetter(func(s *Settings) *string { return &s.Log.Level }),
	"MULTI_PAIR_SYMBOLS": func(s *Settings, value string) error {
		var symbols []string
		for _, part := range strings.Split(value, ",") {
			if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
				symbols = append(symbols, p)
			}
		}
		s.Automation.MultiPairSymbols = symbols
		return nil
	},
}

// ApplyEnv returns a copy of s with EA_STRESS_* overrides applied
func ApplyEnv(s Settings, lookup func(string) (string, bool)) (Settings, error) {
	if lookup == nil {
		return s, nil
	}

	out := s
	// slices are replaced, never appended to, so the copy stays independent
	out.Automation.MultiPairSymbols = append([]string(nil), s.Automation.MultiPairSymbols...)

	for key, set := range envSetters {
		value, ok := lookup(EnvPrefix + key)
		if !ok || value == "" {
			continue
		}
		if err := set(&out, value); err != nil {
			return Settings{}, fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, key, value, err)
		}
	}
	return out, nil
}
