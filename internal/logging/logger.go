// Package logging provides categorized structured logging for declaregen.
// Each pipeline stage logs under its own category so a run can be filtered
// down to, say, only solver calls. Until Initialize or Use is called every
// logger is a no-op, which keeps library code and tests silent.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // CLI startup, config loading
	CategoryParser    Category = "parser"    // DSL parsing and integrity checks
	CategoryCompiler  Category = "compiler"  // Condition compilation
	CategoryAssembler Category = "assembler" // ASP program assembly
	CategorySampler   Category = "sampler"   // Trace length distributions
	CategorySolver    Category = "solver"    // External solver calls
	CategoryGenerator Category = "generator" // Orchestration across cells
	CategoryDecoder   Category = "decoder"   // Model -> trace decoding
	CategoryVerify    Category = "verify"    // Trace audit
	CategoryStore     Category = "store"     // SQLite persistence
)

// Config selects the zap core built by Initialize.
type Config struct {
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSON       bool            `yaml:"json"`
	File       string          `yaml:"file"` // empty means stderr
	Categories map[string]bool `yaml:"categories,omitempty"`
}

var (
	mu         sync.RWMutex
	root       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Logger is a category-scoped sugared zap logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

// Initialize builds a zap logger from cfg and installs it as the root logger.
func Initialize(cfg Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if cfg.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	sink := zapcore.AddSync(os.Stderr)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		sink = zapcore.AddSync(f)
	}

	installLocked(zap.New(zapcore.NewCore(enc, sink, level)), cfg.Categories)
	Get(CategoryBoot).Debug("logging initialized level=%s json=%v", level, cfg.JSON)
	return nil
}

// Use installs an externally built logger (the CLI builds its own).
func Use(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	installLocked(l, nil)
}

func installLocked(l *zap.Logger, cats map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	root = l
	categories = cats
	loggers = make(map[Category]*Logger)
}

// Sync flushes the root logger.
func Sync() {
	mu.RLock()
	l := root
	mu.RUnlock()
	_ = l.Sync()
}

// Root returns the installed zap logger, for components that log with typed fields.
func Root() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    root.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Category helpers.

func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

func BootWarn(format string, args ...interface{}) {
	Get(CategoryBoot).Warn(format, args...)
}

func Parser(format string, args ...interface{}) {
	Get(CategoryParser).Info(format, args...)
}

func ParserDebug(format string, args ...interface{}) {
	Get(CategoryParser).Debug(format, args...)
}

func ParserWarn(format string, args ...interface{}) {
	Get(CategoryParser).Warn(format, args...)
}

func CompilerDebug(format string, args ...interface{}) {
	Get(CategoryCompiler).Debug(format, args...)
}

func Assembler(format string, args ...interface{}) {
	Get(CategoryAssembler).Info(format, args...)
}

func AssemblerDebug(format string, args ...interface{}) {
	Get(CategoryAssembler).Debug(format, args...)
}

func SamplerDebug(format string, args ...interface{}) {
	Get(CategorySampler).Debug(format, args...)
}

func SamplerWarn(format string, args ...interface{}) {
	Get(CategorySampler).Warn(format, args...)
}

func Solver(format string, args ...interface{}) {
	Get(CategorySolver).Info(format, args...)
}

func SolverDebug(format string, args ...interface{}) {
	Get(CategorySolver).Debug(format, args...)
}

func SolverWarn(format string, args ...interface{}) {
	Get(CategorySolver).Warn(format, args...)
}

func Generator(format string, args ...interface{}) {
	Get(CategoryGenerator).Info(format, args...)
}

func GeneratorDebug(format string, args ...interface{}) {
	Get(CategoryGenerator).Debug(format, args...)
}

func GeneratorWarn(format string, args ...interface{}) {
	Get(CategoryGenerator).Warn(format, args...)
}

func DecoderDebug(format string, args ...interface{}) {
	Get(CategoryDecoder).Debug(format, args...)
}

func VerifyDebug(format string, args ...interface{}) {
	Get(CategoryVerify).Debug(format, args...)
}

func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// Timer helps track operation durations
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
