package config

import (
	"path/filepath"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/syncotter/pkg/errors"
)

const (
	// DefaultConfigPath is where `syncotter` looks for its configuration when
	// no path is given.
	DefaultConfigPath = "syncotter.yaml"

	// DefaultCachePath is the default location of the fingerprint store.
	DefaultCachePath = "~/.syncotter/fingerprints.json"

	// DefaultMaxCacheEntries bounds the fingerprint store when the config
	// doesn't.
	DefaultMaxCacheEntries = 1000

	// InitialConfigVersion is the first version of the SyncOtter config.
	// Config files that do not specify a version will default to this
	// version.
	InitialConfigVersion = "v1alpha1"

	// SupportedConfigVersion is the config version understood by this binary.
	SupportedConfigVersion = "v1alpha1"

	// envPrefix is prepended to the `env` tags of Config.
	envPrefix = "SYNCOTTER_"
)

// Mocked out for unit testing.
var (
	fs            = afero.NewOsFs()
	homedirExpand = homedir.Expand
)

// Config describes one synchronization: where files come from, where they go,
// and how aggressively to copy them.
type Config struct {
	Version string `json:"version,omitempty"`

	SourceDirectory string `json:"sourceDirectory" env:"SOURCE_DIRECTORY"`
	TargetDirectory string `json:"targetDirectory" env:"TARGET_DIRECTORY"`

	// ExcludeDirectories are directory names skipped wherever they appear in
	// the tree.
	ExcludeDirectories []string `json:"excludeDirectories,omitempty" env:"EXCLUDE_DIRECTORIES"`

	// ExcludePatterns are wildcard patterns matched against file names.
	ExcludePatterns []string `json:"excludePatterns,omitempty" env:"EXCLUDE_PATTERNS"`

	// ParallelCopies is the number of concurrent transfers. Zero lets the
	// network profile decide.
	ParallelCopies int `json:"parallelCopies,omitempty" env:"PARALLEL_COPIES"`

	// RateLimitBytesPerSec throttles large file transfers. Zero disables
	// throttling.
	RateLimitBytesPerSec int64 `json:"rateLimitBytesPerSec,omitempty" env:"RATE_LIMIT_BYTES_PER_SEC"`

	CachePath       string `json:"cachePath,omitempty" env:"CACHE_PATH"`
	MaxCacheEntries int    `json:"maxCacheEntries,omitempty" env:"MAX_CACHE_ENTRIES"`

	// StrictFingerprints also compares a hash of each file's first bytes, so
	// that changes that preserve the size and modification time are caught.
	StrictFingerprints bool `json:"strictFingerprints,omitempty" env:"STRICT_FINGERPRINTS"`

	// VerifyUnchanged compares the contents of files that look unchanged with
	// their copy in the target, and copies them again if they differ.
	VerifyUnchanged bool `json:"verifyUnchanged,omitempty" env:"VERIFY_UNCHANGED"`

	// Resumable continues interrupted copies from where they stopped rather
	// than rewriting the whole file.
	Resumable bool `json:"resumable,omitempty" env:"RESUMABLE"`

	// ExecuteAfterSync is a program launched once the sync completes.
	ExecuteAfterSync string `json:"executeAfterSync,omitempty" env:"EXECUTE_AFTER_SYNC"`

	// Only populated and consumed by SyncOtter. Never set by user.
	path string
}

// GetPath returns the filepath that the config was parsed from. A getter
// method is used rather than making the field public so that it can't get set
// by the yaml Unmarshalling.
func (c Config) GetPath() string {
	return c.path
}

func (c Config) getVersion() string {
	return c.Version
}

// Parse reads the config at `path`, applies SYNCOTTER_* environment
// overrides, and resolves the paths in it.
func Parse(path string) (Config, error) {
	config := Config{
		path:    path,
		Version: InitialConfigVersion,
	}
	if err := parseConfig(path, &config, SupportedConfigVersion); err != nil {
		return Config{}, errors.WithContext(err, "parse")
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, errors.WithContext(err, "environment overrides")
	}

	if err := config.resolvePaths(filepath.Dir(path)); err != nil {
		return Config{}, err
	}
	return config.withDefaults(), nil
}

// FromEnvironment builds a config purely from SYNCOTTER_* environment
// variables. It's used when there's no config file.
func FromEnvironment() (Config, error) {
	config := Config{Version: SupportedConfigVersion}
	if err := env.ParseWithOptions(&config, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, errors.WithContext(err, "environment overrides")
	}

	if err := config.resolvePaths("."); err != nil {
		return Config{}, err
	}
	return config.withDefaults(), nil
}

// Merge returns `c` with every non-zero field of `overrides` applied on top.
func (c Config) Merge(overrides Config) (Config, error) {
	merged := c
	if err := mergo.Merge(&merged, overrides, mergo.WithOverride); err != nil {
		return Config{}, errors.WithContext(err, "merge")
	}
	merged.path = c.path

	if err := merged.resolvePaths("."); err != nil {
		return Config{}, err
	}
	return merged, nil
}

// Validate checks the fields that a sync can't run without.
func (c Config) Validate() error {
	if c.SourceDirectory == "" {
		return errors.ConfigError{Reason: errors.MissingFieldError{Field: "sourceDirectory"}.Error()}
	}
	if c.TargetDirectory == "" {
		return errors.ConfigError{Reason: errors.MissingFieldError{Field: "targetDirectory"}.Error()}
	}
	if c.ParallelCopies < 0 {
		return errors.ConfigError{Reason: "parallelCopies must not be negative"}
	}
	if c.RateLimitBytesPerSec < 0 {
		return errors.ConfigError{Reason: "rateLimitBytesPerSec must not be negative"}
	}
	return nil
}

func (c *Config) resolvePaths(relativeTo string) error {
	for _, field := range []*string{&c.SourceDirectory, &c.TargetDirectory, &c.CachePath} {
		if *field == "" {
			continue
		}

		expanded, err := homedirExpand(*field)
		if err != nil {
			return errors.WithContext(err, "expand homedir")
		}

		// Network share paths are absolute even though filepath doesn't know
		// about them on every platform.
		if !filepath.IsAbs(expanded) && !isShare(expanded) {
			expanded = filepath.Join(relativeTo, expanded)
		}
		*field = expanded
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.MaxCacheEntries <= 0 {
		c.MaxCacheEntries = DefaultMaxCacheEntries
	}
	return c
}

// ResolvedCachePath returns the fingerprint store location, falling back to
// DefaultCachePath.
func (c Config) ResolvedCachePath() (string, error) {
	if c.CachePath != "" {
		return c.CachePath, nil
	}
	return homedirExpand(DefaultCachePath)
}

// Write writes the given config to `path`.
func Write(path string, cfg Config) error {
	cfg.Version = SupportedConfigVersion
	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

func isShare(path string) bool {
	return len(path) > 2 && (path[:2] == `\\` || path[:2] == "//")
}
