package config

// Model defaults.
const (
	DefaultTapeLength       = 0
	DefaultEditRate         = 1.0
	DefaultPerCategoryRate  = false
	DefaultPositionalPrefix = false
)

// Clock defaults.
const (
	DefaultClockRate  = 1.0
	DefaultCategories = 1
)

// DefaultScalingThreshold matches the likelihood engine's own default.
const DefaultScalingThreshold = 1e-100

// Bench defaults.
const (
	DefaultBenchIterations  = 1000
	DefaultBenchChains      = 1
	DefaultBenchSeed        = 1
	DefaultBenchScaleWindow = 0.1
)
