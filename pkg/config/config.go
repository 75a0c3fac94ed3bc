// Package config provides configuration loading and validation for tapeline runs.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/tapeline/pkg/report"
)

// Sentinel validation errors.
var (
	ErrNoTree             = errors.New("tree.newick or tree.file is required")
	ErrNoAlignment        = errors.New("alignment.file is required")
	ErrInvalidTapeLength  = errors.New("model tape length must not be negative")
	ErrInvalidEditRate    = errors.New("model edit rate must be positive")
	ErrInvalidMissingness = errors.New("missingness rates must be in range")
	ErrInvalidClockRate   = errors.New("clock rate must be positive")
	ErrInvalidCategories  = errors.New("clock categories must be positive")
	ErrInvalidGammaShape  = errors.New("clock gamma shape must not be negative")
	ErrNegativeOrigin     = errors.New("likelihood origin must not be negative")
	ErrInvalidThreshold   = errors.New("likelihood scaling threshold must be in (0, 1]")
	ErrInvalidIterations  = errors.New("bench iterations must be positive")
	ErrInvalidChains      = errors.New("bench chains must be positive")
	ErrInvalidWindow      = errors.New("bench scale window must be in (0, 1)")
	ErrInvalidLogLevel    = errors.New("invalid logging level")
	ErrInvalidLogFormat   = errors.New("logging format must be text or json")
	ErrInvalidSampleRatio = errors.New("telemetry sample ratio must be in [0, 1]")
)

// Config holds all configuration for a tapeline run.
type Config struct {
	Tree       TreeConfig       `mapstructure:"tree"`
	Alignment  AlignmentConfig  `mapstructure:"alignment"`
	Model      ModelConfig      `mapstructure:"model"`
	Clock      ClockConfig      `mapstructure:"clock"`
	Likelihood LikelihoodConfig `mapstructure:"likelihood"`
	Bench      BenchConfig      `mapstructure:"bench"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`

	// baseDir resolves relative tree and alignment paths.
	baseDir string
}

// TreeConfig locates the time tree. Newick takes precedence over File.
type TreeConfig struct {
	Newick string `mapstructure:"newick"`
	File   string `mapstructure:"file"`
}

// AlignmentConfig locates the barcode alignment document.
type AlignmentConfig struct {
	File string `mapstructure:"file"`
}

// ModelConfig holds edit model parameters.
type ModelConfig struct {
	// TapeLength of zero means the alignment's tape length.
	TapeLength int `mapstructure:"tape_length"`

	// Weights of an empty list means uniform weights over the alignment's symbols.
	Weights          []float64         `mapstructure:"weights"`
	EditRate         float64           `mapstructure:"edit_rate"`
	PerCategoryRate  bool              `mapstructure:"per_category_rate"`
	PositionalPrefix bool              `mapstructure:"positional_prefix"`
	Missingness      MissingnessConfig `mapstructure:"missingness"`
}

// MissingnessConfig enables heritable tape loss and tip dropout.
type MissingnessConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	LossRate       float64 `mapstructure:"loss_rate"`
	TipProbability float64 `mapstructure:"tip_probability"`
}

// ClockConfig holds the clock rate and rate categories. PerBranch gives every
// branch its own rate, starting at Rate, which the bench proposes changes to.
type ClockConfig struct {
	Rate       float64 `mapstructure:"rate"`
	GammaShape float64 `mapstructure:"gamma_shape"`
	Categories int     `mapstructure:"categories"`
	PerBranch  bool    `mapstructure:"per_branch"`
}

// LikelihoodConfig holds likelihood engine settings.
type LikelihoodConfig struct {
	// Origin of zero disables the origin branch.
	Origin           float64 `mapstructure:"origin"`
	ScalingThreshold float64 `mapstructure:"scaling_threshold"`
	Scaling          bool    `mapstructure:"scaling"`
}

// BenchConfig holds settings for the accept/reject benchmark loop.
type BenchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MetricsAddr  string        `mapstructure:"metrics_addr"`
	ReportDir    string        `mapstructure:"report_dir"`
	ReportFormat string        `mapstructure:"report_format"`
	Iterations   int           `mapstructure:"iterations"`
	Chains       int           `mapstructure:"chains"`
	Seed         int64         `mapstructure:"seed"`
	ScaleWindow  float64       `mapstructure:"scale_window"`
	Parsimony    bool          `mapstructure:"parsimony"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Environment     string        `mapstructure:"environment"`
	OTLPEndpoint    string        `mapstructure:"otlp_endpoint"`
	OTLPHeaders     string        `mapstructure:"otlp_headers"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	OTLPInsecure    bool          `mapstructure:"otlp_insecure"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("tapeline")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/tapeline")
	}

	viperCfg.SetEnvPrefix("TAPELINE")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	if used := viperCfg.ConfigFileUsed(); used != "" {
		config.baseDir = filepath.Dir(used)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("tree.newick", "")
	viperCfg.SetDefault("tree.file", "")
	viperCfg.SetDefault("alignment.file", "")

	viperCfg.SetDefault("model.tape_length", DefaultTapeLength)
	viperCfg.SetDefault("model.weights", []float64{})
	viperCfg.SetDefault("model.edit_rate", DefaultEditRate)
	viperCfg.SetDefault("model.per_category_rate", DefaultPerCategoryRate)
	viperCfg.SetDefault("model.positional_prefix", DefaultPositionalPrefix)
	viperCfg.SetDefault("model.missingness.enabled", false)
	viperCfg.SetDefault("model.missingness.loss_rate", 0.0)
	viperCfg.SetDefault("model.missingness.tip_probability", 0.0)

	viperCfg.SetDefault("clock.rate", DefaultClockRate)
	viperCfg.SetDefault("clock.gamma_shape", 0.0)
	viperCfg.SetDefault("clock.categories", DefaultCategories)
	viperCfg.SetDefault("clock.per_branch", false)

	viperCfg.SetDefault("likelihood.origin", 0.0)
	viperCfg.SetDefault("likelihood.scaling", true)
	viperCfg.SetDefault("likelihood.scaling_threshold", DefaultScalingThreshold)

	viperCfg.SetDefault("bench.iterations", DefaultBenchIterations)
	viperCfg.SetDefault("bench.chains", DefaultBenchChains)
	viperCfg.SetDefault("bench.seed", DefaultBenchSeed)
	viperCfg.SetDefault("bench.scale_window", DefaultBenchScaleWindow)
	viperCfg.SetDefault("bench.parsimony", false)
	viperCfg.SetDefault("bench.timeout", "0s")
	viperCfg.SetDefault("bench.metrics_addr", "")
	viperCfg.SetDefault("bench.report_dir", "")
	viperCfg.SetDefault("bench.report_format", report.FormatJSON)

	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "text")

	viperCfg.SetDefault("telemetry.environment", "")
	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.sample_ratio", 1.0)
	viperCfg.SetDefault("telemetry.shutdown_timeout", "5s")
}

// validateConfig validates the configuration. Tree and alignment sources are
// checked when they are loaded, since the ancestors command needs neither.
func validateConfig(config *Config) error {
	m := config.Model

	if m.TapeLength < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTapeLength, m.TapeLength)
	}

	if !positive(m.EditRate) {
		return fmt.Errorf("%w: %g", ErrInvalidEditRate, m.EditRate)
	}

	if m.Missingness.Enabled && (m.Missingness.LossRate < 0 ||
		m.Missingness.TipProbability < 0 || m.Missingness.TipProbability >= 1) {
		return fmt.Errorf("%w: loss %g, tip %g", ErrInvalidMissingness, m.Missingness.LossRate, m.Missingness.TipProbability)
	}

	if !positive(config.Clock.Rate) {
		return fmt.Errorf("%w: %g", ErrInvalidClockRate, config.Clock.Rate)
	}

	if config.Clock.Categories <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCategories, config.Clock.Categories)
	}

	if config.Clock.GammaShape < 0 {
		return fmt.Errorf("%w: %g", ErrInvalidGammaShape, config.Clock.GammaShape)
	}

	if config.Likelihood.Origin < 0 {
		return fmt.Errorf("%w: %g", ErrNegativeOrigin, config.Likelihood.Origin)
	}

	if th := config.Likelihood.ScalingThreshold; th <= 0 || th > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidThreshold, th)
	}

	return validateRun(config)
}

func validateRun(config *Config) error {
	b := config.Bench

	if b.Iterations <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIterations, b.Iterations)
	}

	if b.Chains <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChains, b.Chains)
	}

	if b.ScaleWindow <= 0 || b.ScaleWindow >= 1 {
		return fmt.Errorf("%w: %g", ErrInvalidWindow, b.ScaleWindow)
	}

	if _, err := report.CodecFor(b.ReportFormat); err != nil {
		return err
	}

	if _, err := config.Logging.SlogLevel(); err != nil {
		return err
	}

	if f := config.Logging.Format; f != "text" && f != "json" {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, f)
	}

	if r := config.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidSampleRatio, r)
	}

	return nil
}

// SlogLevel parses Level into a slog level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(l.Level))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}

	return level, nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
