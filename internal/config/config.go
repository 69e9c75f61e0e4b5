// Package config handles configuration loading for the scatter-LOD server.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Store    StoreConfig              `yaml:"store"`
	Cache    CacheConfig              `yaml:"cache"`
	LOD      LODConfig                `yaml:"lod"`
	Datasets map[string]DatasetConfig `yaml:"datasets"`
	Default  string                   `yaml:"default_dataset"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// StoreConfig contains persisted-ladder settings.
type StoreConfig struct {
	// Path is the directory holding the manifest database and level files.
	Path string `yaml:"path"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ResultSizeMB   int `yaml:"result_size_mb"`
	TTLMinutes     int `yaml:"ttl_minutes"`
	QueryCacheSize int `yaml:"query_cache_size"`
}

// LODConfig contains downsampling settings.
type LODConfig struct {
	// MinPoints is the default viewport point budget.
	MinPoints int `yaml:"min_points"`
	// MinLevelSize is the target size of the coarsest ladder level.
	MinLevelSize int `yaml:"min_level_size"`
	// Strategy selects the downsampler: exact, simple or streaming.
	Strategy string `yaml:"strategy"`
	// BuildMode selects ladder construction: cascading or direct.
	BuildMode string `yaml:"build_mode"`
	// MaxCategories caps per-category ladder cardinality.
	MaxCategories int `yaml:"max_categories"`
}

// DatasetConfig describes one point-cloud dataset.
type DatasetConfig struct {
	Path string `yaml:"path"`
	// Format is "csv" (default, gzip-transparent delimited text) or
	// "tiledb" (requires a build with -tags tiledb).
	Format         string `yaml:"format"`
	XColumn        string `yaml:"x_column"`
	YColumn        string `yaml:"y_column"`
	RankColumn     string `yaml:"rank_column"`
	IDColumn       string `yaml:"id_column"`
	CategoryColumn string `yaml:"category_column"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "Scatter-LOD",
		},
		Store: StoreConfig{
			Path: "./data/ladders",
		},
		Cache: CacheConfig{
			ResultSizeMB:   256,
			TTLMinutes:     10,
			QueryCacheSize: 1000,
		},
		LOD: LODConfig{
			MinPoints:     20000,
			MinLevelSize:  20000,
			Strategy:      "exact",
			BuildMode:     "cascading",
			MaxCategories: 32,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaults.Store.Path
	}
	if cfg.Cache.ResultSizeMB == 0 {
		cfg.Cache.ResultSizeMB = defaults.Cache.ResultSizeMB
	}
	if cfg.Cache.TTLMinutes == 0 {
		cfg.Cache.TTLMinutes = defaults.Cache.TTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.LOD.MinPoints == 0 {
		cfg.LOD.MinPoints = defaults.LOD.MinPoints
	}
	if cfg.LOD.MinLevelSize == 0 {
		cfg.LOD.MinLevelSize = defaults.LOD.MinLevelSize
	}
	if cfg.LOD.Strategy == "" {
		cfg.LOD.Strategy = defaults.LOD.Strategy
	}
	if cfg.LOD.BuildMode == "" {
		cfg.LOD.BuildMode = defaults.LOD.BuildMode
	}
	if cfg.LOD.MaxCategories == 0 {
		cfg.LOD.MaxCategories = defaults.LOD.MaxCategories
	}

	for id, ds := range cfg.Datasets {
		if ds.Format == "" {
			ds.Format = "csv"
		}
		if ds.XColumn == "" {
			ds.XColumn = "x"
		}
		if ds.YColumn == "" {
			ds.YColumn = "y"
		}
		if ds.RankColumn == "" {
			ds.RankColumn = "intensity"
		}
		cfg.Datasets[id] = ds
	}

	if cfg.Default == "" && len(cfg.Datasets) > 0 {
		cfg.Default = cfg.DatasetIDs()[0]
	}
}

func (cfg *Config) validate() error {
	for id, ds := range cfg.Datasets {
		if ds.Path == "" {
			return fmt.Errorf("dataset %q has no path", id)
		}
	}
	if cfg.Default != "" {
		if _, ok := cfg.Datasets[cfg.Default]; !ok {
			return fmt.Errorf("default dataset %q is not configured", cfg.Default)
		}
	}
	return nil
}

// DatasetIDs returns configured dataset IDs, sorted for stable ordering.
func (cfg *Config) DatasetIDs() []string {
	ids := make([]string, 0, len(cfg.Datasets))
	for id := range cfg.Datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
