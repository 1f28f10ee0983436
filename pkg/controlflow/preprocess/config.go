package preprocess

import (
	"fmt"

	"github.com/tombee/scriptflow/pkg/controlflow/engine"
	"github.com/tombee/scriptflow/pkg/controlflow/handler"
	"github.com/tombee/scriptflow/pkg/controlflow/parser"
)

// OptimizationLevel selects how the engine is tuned. It never changes the
// shape of the plan.
type OptimizationLevel string

const (
	OptimizationNone       OptimizationLevel = "none"
	OptimizationBasic      OptimizationLevel = "basic"
	OptimizationStandard   OptimizationLevel = "standard"
	OptimizationAggressive OptimizationLevel = "aggressive"
)

// Validate reports whether l is a known level.
func (l OptimizationLevel) Validate() error {
	switch l {
	case OptimizationNone, OptimizationBasic, OptimizationStandard, OptimizationAggressive:
		return nil
	}
	return fmt.Errorf("unknown optimization level %q (want none, basic, standard or aggressive)", l)
}

// Count is the number of optimizations the level applies.
func (l OptimizationLevel) Count() int {
	switch l {
	case OptimizationBasic:
		return 1
	case OptimizationStandard:
		return 2
	case OptimizationAggressive:
		return 3
	}
	return 0
}

// EngineOptimization maps the level onto engine settings.
func (l OptimizationLevel) EngineOptimization() engine.OptimizationConfig {
	switch l {
	case OptimizationBasic:
		return engine.OptimizationConfig{BatchSize: 10}
	case OptimizationStandard:
		return engine.OptimizationConfig{EnableCaching: true, BatchSize: 10}
	case OptimizationAggressive:
		return engine.OptimizationConfig{EnableCaching: true, BatchSize: 20}
	}
	return engine.OptimizationConfig{BatchSize: 1}
}

// Config configures a Preprocessor.
type Config struct {
	Parser  parser.Config  `yaml:"parser" json:"parser"`
	Engine  engine.Config  `yaml:"engine" json:"engine"`
	Handler handler.Config `yaml:"handler" json:"handler"`

	// OptimizationLevel overrides Engine.Optimization
	OptimizationLevel OptimizationLevel `yaml:"optimization_level" json:"optimization_level"`

	// VerboseLogging logs pipeline timings at info level
	VerboseLogging bool `yaml:"verbose_logging" json:"verbose_logging"`
}

// EngineConfig returns Engine tuned by OptimizationLevel.
func (c Config) EngineConfig() engine.Config {
	ecfg := c.Engine
	if c.OptimizationLevel != "" {
		ecfg.Optimization = c.OptimizationLevel.EngineOptimization()
	}
	return ecfg
}

// DefaultConfig returns strict parsing, continue-on-error execution and
// standard optimization.
func DefaultConfig() Config {
	return Config{
		Parser:            parser.DefaultConfig(),
		Engine:            engine.DefaultConfig(),
		Handler:           handler.DefaultConfig(),
		OptimizationLevel: OptimizationStandard,
	}
}

// HighPerformanceConfig allows deeper nesting, merges adjacent identical
// waits and tunes the engine aggressively.
func HighPerformanceConfig() Config {
	cfg := DefaultConfig()
	cfg.Parser.MaxNestingDepth = 20
	cfg.Handler.EnableOptimization = true
	cfg.OptimizationLevel = OptimizationAggressive
	return cfg
}

// DebugConfig tolerates unclosed structures, stops at the first failure and
// logs every stage.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Parser.AllowUnmatched = true
	cfg.Engine.ErrorHandling.ContinueOnError = false
	cfg.OptimizationLevel = OptimizationNone
	cfg.VerboseLogging = true
	return cfg
}
