// Package config loads stream-fusion settings from ~/.stream-fusion/config.yaml
// with STREAM_FUSION_ environment overrides and converts each section into
// the owning package's Config.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/stream-fusion/internal/fastpath"
	"github.com/rcliao/stream-fusion/internal/fusion"
	"github.com/rcliao/stream-fusion/internal/memory"
	"github.com/rcliao/stream-fusion/internal/pipeline"
	"github.com/rcliao/stream-fusion/internal/slowpath"
)

// EnvPrefix prefixes environment overrides, e.g. STREAM_FUSION_MEMORY_MAX_ITEMS.
const EnvPrefix = "STREAM_FUSION"

// Config holds all settings. Durations are whole milliseconds or seconds as
// the key suffix says.
type Config struct {
	Memory   MemoryConfig   `mapstructure:"memory" yaml:"memory"`
	FastPath FastPathConfig `mapstructure:"fast_path" yaml:"fast_path"`
	SlowPath SlowPathConfig `mapstructure:"slow_path" yaml:"slow_path"`
	Fusion   FusionConfig   `mapstructure:"fusion" yaml:"fusion"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
}

// MemoryConfig tunes the associative store: capacity, recall, decay and pruning.
type MemoryConfig struct {
	MaxItems                    int     `mapstructure:"max_items" yaml:"max_items"`
	SimilarityThreshold         float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	TopK                        int     `mapstructure:"top_k" yaml:"top_k"`
	TemporalWindowSec           int     `mapstructure:"temporal_window_sec" yaml:"temporal_window_sec"`
	ResonanceBandwidth          float64 `mapstructure:"resonance_bandwidth" yaml:"resonance_bandwidth"`
	AssociativeDepth            int     `mapstructure:"associative_depth" yaml:"associative_depth"`
	DecayRate                   float64 `mapstructure:"decay_rate" yaml:"decay_rate"`
	DecayIntervalSec            int     `mapstructure:"decay_interval_sec" yaml:"decay_interval_sec"`
	AccessDecayReduction        float64 `mapstructure:"access_decay_reduction" yaml:"access_decay_reduction"`
	CompressDecayThreshold      float64 `mapstructure:"compress_decay_threshold" yaml:"compress_decay_threshold"`
	CompressImportanceThreshold float64 `mapstructure:"compress_importance_threshold" yaml:"compress_importance_threshold"`
	PruneImportanceThreshold    float64 `mapstructure:"prune_importance_threshold" yaml:"prune_importance_threshold"`
	PruneDecayThreshold         float64 `mapstructure:"prune_decay_threshold" yaml:"prune_decay_threshold"`
	PruneFraction               float64 `mapstructure:"prune_fraction" yaml:"prune_fraction"`
	SummaryWords                int     `mapstructure:"summary_words" yaml:"summary_words"`
	AnchorImportance            float64 `mapstructure:"anchor_importance" yaml:"anchor_importance"`
}

// FastPathConfig tunes the fast path's ring buffer, batch aggregation and
// response thresholds.
type FastPathConfig struct {
	BufferSize          int     `mapstructure:"buffer_size" yaml:"buffer_size"`
	BatchSize           int     `mapstructure:"batch_size" yaml:"batch_size"`
	AggregateIntervalMs int     `mapstructure:"aggregate_interval_ms" yaml:"aggregate_interval_ms"`
	UrgencyThreshold    float64 `mapstructure:"urgency_threshold" yaml:"urgency_threshold"`
	EmpathyThreshold    float64 `mapstructure:"empathy_threshold" yaml:"empathy_threshold"`
	ComplexityThreshold int     `mapstructure:"complexity_threshold" yaml:"complexity_threshold"`
}

// SlowPathConfig tunes the per-item timeout and convergence thresholds.
type SlowPathConfig struct {
	ItemTimeoutMs      int     `mapstructure:"item_timeout_ms" yaml:"item_timeout_ms"`
	VarianceThreshold  float64 `mapstructure:"variance_threshold" yaml:"variance_threshold"`
	HighCoherence      float64 `mapstructure:"high_coherence" yaml:"high_coherence"`
	InsightThreshold   float64 `mapstructure:"insight_threshold" yaml:"insight_threshold"`
	ResonanceBandwidth float64 `mapstructure:"resonance_bandwidth" yaml:"resonance_bandwidth"`
}

// FusionConfig sets the temporal window, record buffer and merge-tier thresholds.
type FusionConfig struct {
	WindowMs            int     `mapstructure:"window_ms" yaml:"window_ms"`
	BufferSize          int     `mapstructure:"buffer_size" yaml:"buffer_size"`
	BlendCoherence      float64 `mapstructure:"blend_coherence" yaml:"blend_coherence"`
	BlendSimilarity     float64 `mapstructure:"blend_similarity" yaml:"blend_similarity"`
	SequentialCoherence float64 `mapstructure:"sequential_coherence" yaml:"sequential_coherence"`
}

// PipelineConfig is the skip policy deciding when the slow path runs.
type PipelineConfig struct {
	MinLength           int      `mapstructure:"min_length" yaml:"min_length"`
	MaxTokens           int      `mapstructure:"max_tokens" yaml:"max_tokens"`
	ImportanceThreshold float64  `mapstructure:"importance_threshold" yaml:"importance_threshold"`
	DeepKeywords        []string `mapstructure:"deep_keywords" yaml:"deep_keywords"`
	MinSignals          int      `mapstructure:"min_signals" yaml:"min_signals"`
}

// LoggingConfig selects level (debug, info, warn, error), human-readable
// console output and an optional log file.
type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Console bool   `mapstructure:"console" yaml:"console"`
	File    string `mapstructure:"file" yaml:"file"`
}

// StorageConfig locates the SQLite snapshot.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// Default returns the stock settings.
func Default() *Config {
	mem := memory.DefaultConfig()
	fp := fastpath.DefaultConfig()
	sp := slowpath.DefaultConfig()
	fu := fusion.DefaultConfig()
	pl := pipeline.DefaultConfig()

	return &Config{
		Memory: MemoryConfig{
			MaxItems:                    mem.MaxItems,
			SimilarityThreshold:         mem.SimilarityThreshold,
			TopK:                        mem.TopK,
			TemporalWindowSec:           int(mem.TemporalWindow / time.Second),
			ResonanceBandwidth:          mem.ResonanceBandwidth,
			AssociativeDepth:            mem.AssociativeDepth,
			DecayRate:                   mem.DecayRate,
			DecayIntervalSec:            int(mem.DecayInterval / time.Second),
			AccessDecayReduction:        mem.AccessDecayReduction,
			CompressDecayThreshold:      mem.CompressDecayThreshold,
			CompressImportanceThreshold: mem.CompressImportanceThreshold,
			PruneImportanceThreshold:    mem.PruneImportanceThreshold,
			PruneDecayThreshold:         mem.PruneDecayThreshold,
			PruneFraction:               mem.PruneFraction,
			SummaryWords:                mem.SummaryWords,
			AnchorImportance:            mem.AnchorImportance,
		},
		FastPath: FastPathConfig{
			BufferSize:          fp.BufferSize,
			BatchSize:           fp.BatchSize,
			AggregateIntervalMs: int(fp.AggregateInterval / time.Millisecond),
			UrgencyThreshold:    fp.UrgencyThreshold,
			EmpathyThreshold:    fp.EmpathyThreshold,
			ComplexityThreshold: fp.ComplexityThreshold,
		},
		SlowPath: SlowPathConfig{
			ItemTimeoutMs:      int(sp.ItemTimeout / time.Millisecond),
			VarianceThreshold:  sp.VarianceThreshold,
			HighCoherence:      sp.HighCoherence,
			InsightThreshold:   sp.InsightThreshold,
			ResonanceBandwidth: sp.ResonanceBandwidth,
		},
		Fusion: FusionConfig{
			WindowMs:            int(fu.Window / time.Millisecond),
			BufferSize:          fu.BufferSize,
			BlendCoherence:      fu.Policy.BlendCoherence,
			BlendSimilarity:     fu.Policy.BlendSimilarity,
			SequentialCoherence: fu.Policy.SequentialCoherence,
		},
		Pipeline: PipelineConfig{
			MinLength:           pl.MinLength,
			MaxTokens:           pl.MaxTokens,
			ImportanceThreshold: pl.ImportanceThreshold,
			DeepKeywords:        pl.DeepKeywords,
			MinSignals:          pl.MinSignals,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(DataDir(), "memory.db"),
		},
	}
}

// DataDir returns ~/.stream-fusion.
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".stream-fusion")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Load reads the config from DefaultPath.
func Load() (*Config, error) {
	return LoadFromPath(DefaultPath())
}

// LoadFromPath layers the file at path (when it exists) and environment
// overrides over the defaults. A missing file is not an error.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	base, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}

	// STREAM_FUSION_SLOW_PATH_ITEM_TIMEOUT_MS=5000
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Storage.DBPath = expandPath(cfg.Storage.DBPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveToPath writes the config as YAML, creating the directory.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks ranges the components cannot repair on their own.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}
	if c.Memory.PruneFraction < 0 || c.Memory.PruneFraction > 1 {
		return fmt.Errorf("memory.prune_fraction must be between 0 and 1")
	}
	if c.Memory.SimilarityThreshold < 0 || c.Memory.SimilarityThreshold > 1 {
		return fmt.Errorf("memory.similarity_threshold must be between 0 and 1")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path cannot be empty")
	}
	return nil
}

func (m MemoryConfig) MemoryConfig() memory.Config {
	return memory.Config{
		MaxItems:                    m.MaxItems,
		SimilarityThreshold:         m.SimilarityThreshold,
		TopK:                        m.TopK,
		TemporalWindow:              time.Duration(m.TemporalWindowSec) * time.Second,
		ResonanceBandwidth:          m.ResonanceBandwidth,
		AssociativeDepth:            m.AssociativeDepth,
		DecayRate:                   m.DecayRate,
		DecayInterval:               time.Duration(m.DecayIntervalSec) * time.Second,
		AccessDecayReduction:        m.AccessDecayReduction,
		CompressDecayThreshold:      m.CompressDecayThreshold,
		CompressImportanceThreshold: m.CompressImportanceThreshold,
		PruneImportanceThreshold:    m.PruneImportanceThreshold,
		PruneDecayThreshold:         m.PruneDecayThreshold,
		PruneFraction:               m.PruneFraction,
		SummaryWords:                m.SummaryWords,
		AnchorImportance:            m.AnchorImportance,
	}
}

func (f FastPathConfig) FastPathConfig() fastpath.Config {
	return fastpath.Config{
		BufferSize:          f.BufferSize,
		BatchSize:           f.BatchSize,
		AggregateInterval:   time.Duration(f.AggregateIntervalMs) * time.Millisecond,
		UrgencyThreshold:    f.UrgencyThreshold,
		EmpathyThreshold:    f.EmpathyThreshold,
		ComplexityThreshold: f.ComplexityThreshold,
	}
}

func (s SlowPathConfig) SlowPathConfig() slowpath.Config {
	return slowpath.Config{
		ItemTimeout:        time.Duration(s.ItemTimeoutMs) * time.Millisecond,
		VarianceThreshold:  s.VarianceThreshold,
		HighCoherence:      s.HighCoherence,
		InsightThreshold:   s.InsightThreshold,
		ResonanceBandwidth: s.ResonanceBandwidth,
	}
}

func (f FusionConfig) FusionConfig() fusion.Config {
	return fusion.Config{
		Window:     time.Duration(f.WindowMs) * time.Millisecond,
		BufferSize: f.BufferSize,
		Policy: fusion.Policy{
			BlendCoherence:      f.BlendCoherence,
			BlendSimilarity:     f.BlendSimilarity,
			SequentialCoherence: f.SequentialCoherence,
		},
	}
}

func (p PipelineConfig) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		MinLength:           p.MinLength,
		MaxTokens:           p.MaxTokens,
		ImportanceThreshold: p.ImportanceThreshold,
		DeepKeywords:        p.DeepKeywords,
		MinSignals:          p.MinSignals,
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
