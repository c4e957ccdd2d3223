// Package scheduler runs background generation jobs on a bounded worker pool.
package scheduler

// Job kinds with their own concurrency limits.
const (
	KindGenerate   = "generate"
	KindRegenerate = "regenerate"
)

// Config defines the scheduler configuration.
type Config struct {
	// GlobalMax is the maximum number of concurrent jobs across all kinds.
	GlobalMax int `yaml:"global_max"`
	// ByKind defines per-kind concurrency limits.
	ByKind map[string]int `yaml:"by_kind"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		GlobalMax: 10,
		ByKind: map[string]int{
			KindGenerate:   4,
			KindRegenerate: 4,
		},
	}
}

// KindLimit returns the concurrency limit for a job kind.
func (c *Config) KindLimit(kind string) int {
	if limit, ok := c.ByKind[kind]; ok {
		return limit
	}
	// Default limit if not specified
	return 1
}
