// Package config loads declaregen settings from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"declaregen/internal/asp"
	"declaregen/internal/distribution"
	"declaregen/internal/generator"
	"declaregen/internal/logging"
	"declaregen/internal/parser"
	"declaregen/internal/solver"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "declaregen.yaml"

// Config holds all declaregen configuration.
type Config struct {
	Generation GenerationConfig `yaml:"generation"`
	Solver     SolverConfig     `yaml:"solver"`
	Diversity  DiversityConfig  `yaml:"diversity"`
	Parallel   ParallelConfig   `yaml:"parallel"`
	Store      StoreConfig      `yaml:"store"`
	Logging    logging.Config   `yaml:"logging"`
}

// GenerationConfig controls how many traces are generated and how long they are.
type GenerationConfig struct {
	Traces         int `yaml:"traces"`
	NegativeTraces int `yaml:"negative_traces"`
	MinEvents      int `yaml:"min_events"`
	MaxEvents      int `yaml:"max_events"`

	Distribution  string    `yaml:"distribution"` // uniform, gaussian, custom
	Mu            float64   `yaml:"mu"`
	Sigma         float64   `yaml:"sigma"`
	Probabilities []float64 `yaml:"probabilities,omitempty"`

	Encode bool `yaml:"encode"`
	// Violate lists zero-based constraint indexes negative traces must break.
	Violate    []int `yaml:"violate,omitempty"`
	ViolateAll bool  `yaml:"violate_all"`
	StrictBind bool  `yaml:"strict_bind"`

	IntRange       [2]int64   `yaml:"int_range,flow"`
	FloatRange     [2]float64 `yaml:"float_range,flow"`
	FloatPrecision uint32     `yaml:"float_precision"`
}

// SolverConfig configures clingo.
type SolverConfig struct {
	solver.Options `yaml:",inline"`

	Binary    string `yaml:"binary"`
	Timeout   string `yaml:"timeout"`
	BatchSize int    `yaml:"batch_size"`
	Seed      int64  `yaml:"seed"`
}

// DiversityConfig selects the diversity strategy.
type DiversityConfig struct {
	Strategy      string `yaml:"strategy"` // none, random, hamming, levenshtein
	Threshold     int    `yaml:"threshold"`
	MaxRejections int    `yaml:"max_rejections"`
}

// ParallelConfig configures concurrent cell solving.
type ParallelConfig struct {
	Workers int `yaml:"workers"`
}

// StoreConfig configures the run store. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Generation: GenerationConfig{
			Traces:       10,
			MinEvents:    1,
			MaxEvents:    10,
			Distribution: "uniform",
			IntRange:     asp.DefaultIntRange,
			FloatRange:   asp.DefaultFloatRange,
		},
		Solver: SolverConfig{
			Binary:  solver.DefaultBinary,
			Options: solver.Options{Threads: 1},
			Timeout: "60s",
		},
		Diversity: DiversityConfig{
			Strategy:      "none",
			MaxRejections: generator.DefaultMaxRejections,
		},
		Parallel: ParallelConfig{Workers: 1},
		Logging:  logging.Config{Level: "info"},
	}
}

// Load loads configuration from a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.BootDebug("config loaded from %s", path)
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if bin := os.Getenv("DECLAREGEN_CLINGO"); bin != "" {
		c.Solver.Binary = bin
	}
	if path := os.Getenv("DECLAREGEN_DB"); path != "" {
		c.Store.Path = path
	}
	if timeout := os.Getenv("DECLAREGEN_TIMEOUT"); timeout != "" {
		c.Solver.Timeout = timeout
	}
	if seed := os.Getenv("DECLAREGEN_SEED"); seed != "" {
		if n, err := strconv.ParseInt(seed, 10, 64); err == nil {
			c.Solver.Seed = n
		} else {
			logging.BootWarn("ignoring DECLAREGEN_SEED=%q: %v", seed, err)
		}
	}
}

// SolverTimeout returns the per-call solver timeout. "0" or "none" disables it;
// an unparsable value falls back to 60s.
func (c *Config) SolverTimeout() time.Duration {
	switch c.Solver.Timeout {
	case "", "0", "none":
		return 0
	}
	d, err := time.ParseDuration(c.Solver.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	g := c.Generation
	switch {
	case g.Traces < 0 || g.NegativeTraces < 0:
		return fmt.Errorf("trace counts must not be negative")
	case g.MinEvents < 1:
		return fmt.Errorf("min_events must be >= 1, got %d", g.MinEvents)
	case g.MaxEvents < g.MinEvents:
		return fmt.Errorf("max_events %d is below min_events %d", g.MaxEvents, g.MinEvents)
	case g.IntRange[0] > g.IntRange[1]:
		return fmt.Errorf("int_range %v is empty", g.IntRange)
	case g.FloatRange[0] > g.FloatRange[1]:
		return fmt.Errorf("float_range %v is empty", g.FloatRange)
	}
	if _, err := distribution.ParsePolicy(g.Distribution); err != nil {
		return err
	}
	if _, err := generator.ParseStrategy(c.Diversity.Strategy); err != nil {
		return err
	}
	switch c.Solver.Timeout {
	case "", "0", "none":
	default:
		if d, err := time.ParseDuration(c.Solver.Timeout); err != nil || d < 0 {
			return fmt.Errorf("invalid solver timeout %q", c.Solver.Timeout)
		}
	}
	if c.Solver.RandomFrequency < 0 || c.Solver.RandomFrequency > 1 {
		return fmt.Errorf("random_frequency %g is outside [0,1]", c.Solver.RandomFrequency)
	}
	for _, v := range g.Violate {
		if v < 0 {
			return fmt.Errorf("violate index %d is negative", v)
		}
	}
	if c.Solver.Threads < 0 || c.Solver.BatchSize < 0 || c.Parallel.Workers < 0 {
		return fmt.Errorf("threads, batch_size and workers must not be negative")
	}
	return nil
}

// ParserOptions returns the DSL parser options.
func (c *Config) ParserOptions() parser.Options {
	return parser.Options{Strict: c.Generation.StrictBind, FloatPrecision: c.Generation.FloatPrecision}
}

// GeneratorOptions converts the configuration for a model with the given
// number of constraints. Call Validate first.
func (c *Config) GeneratorOptions(constraints int) generator.Options {
	g := c.Generation
	policy, _ := distribution.ParsePolicy(g.Distribution)
	strategy, _ := generator.ParseStrategy(c.Diversity.Strategy)

	violations := append([]int(nil), g.Violate...)
	if g.ViolateAll {
		violations = make([]int, constraints)
		for i := range violations {
			violations[i] = i
		}
	}
	timeout := c.SolverTimeout()
	solverOpts := c.Solver.Options
	solverOpts.TimeLimit = timeout
	return generator.Options{
		Traces:         g.Traces,
		NegativeTraces: g.NegativeTraces,
		MinEvents:      g.MinEvents,
		MaxEvents:      g.MaxEvents,
		Policy:         policy,
		Mu:             g.Mu,
		Sigma:          g.Sigma,
		Probabilities:  g.Probabilities,
		Violations:     violations,
		Encode:         g.Encode,
		Seed:           c.Solver.Seed,
		Solver:         solverOpts,
		Timeout:        timeout,
		BatchSize:      c.Solver.BatchSize,
		Diversity: generator.Diversity{
			Strategy:      strategy,
			Threshold:     c.Diversity.Threshold,
			MaxRejections: c.Diversity.MaxRejections,
		},
		Workers:    c.Parallel.Workers,
		IntRange:   g.IntRange,
		FloatRange: g.FloatRange,
	}
}
