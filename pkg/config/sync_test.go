package config

import (
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/syncotter/pkg/errors"
)

func TestParse(t *testing.T) {
	path := "/home/otter/syncotter.yaml"

	tests := []struct {
		name      string
		input     string
		expConfig Config
		expError  error
		errSubstr string
	}{
		{
			name: "EmptyVersion",
			input: "sourceDirectory: /data\n" +
				"targetDirectory: backup\n",
			expConfig: Config{
				Version:         InitialConfigVersion,
				SourceDirectory: "/data",
				TargetDirectory: "/home/otter/backup",
				MaxCacheEntries: DefaultMaxCacheEntries,
				path:            path,
			},
		},
		{
			name: "FullConfig",
			input: fmt.Sprintf("version: %s\n", SupportedConfigVersion) +
				"sourceDirectory: //fileserver/projects\n" +
				"targetDirectory: /mnt/usb\n" +
				"excludeDirectories: [node_modules, .git]\n" +
				"excludePatterns: ['*.tmp']\n" +
				"parallelCopies: 6\n" +
				"rateLimitBytesPerSec: 1048576\n" +
				"cachePath: cache/fingerprints.json\n" +
				"maxCacheEntries: 50\n" +
				"strictFingerprints: true\n",
			expConfig: Config{
				Version:              SupportedConfigVersion,
				SourceDirectory:      "//fileserver/projects",
				TargetDirectory:      "/mnt/usb",
				ExcludeDirectories:   []string{"node_modules", ".git"},
				ExcludePatterns:      []string{"*.tmp"},
				ParallelCopies:       6,
				RateLimitBytesPerSec: 1048576,
				CachePath:            "/home/otter/cache/fingerprints.json",
				MaxCacheEntries:      50,
				StrictFingerprints:   true,
				path:                 path,
			},
		},
		{
			name:  "IncorrectVersion",
			input: "version: v0\nsourceDirectory: /data\n",
			expError: errors.WithContext(incompatibleVersionError{
				path:   path,
				exp:    SupportedConfigVersion,
				actual: "v0",
			}, "parse"),
		},
		{
			name:      "ExtraField",
			input:     fmt.Sprintf("version: %s\nextra: field\n", SupportedConfigVersion),
			errSubstr: `unknown field "extra"`,
		},
		{
			name:      "WrongType",
			input:     "parallelCopies: lots\n",
			errSubstr: "Configuration file could not be parsed",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			fs = afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, path, []byte(test.input), 0644))

			cfg, err := Parse(path)
			switch {
			case test.errSubstr != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), test.errSubstr)
			default:
				assert.Equal(t, test.expError, err)
				assert.Equal(t, test.expConfig, cfg)
			}
		})
	}
}

func TestParseMissingFile(t *testing.T) {
	fs = afero.NewMemMapFs()

	_, err := Parse("/missing.yaml")
	assert.Equal(t, errors.FileNotFound{Path: "/missing.yaml"}, errors.RootCause(err))
}

func TestParseEnvironmentOverrides(t *testing.T) {
	fs = afero.NewMemMapFs()
	path := "/etc/syncotter.yaml"
	require.NoError(t, afero.WriteFile(fs, path,
		[]byte("sourceDirectory: /data\ntargetDirectory: /backup\nparallelCopies: 2\n"), 0644))

	t.Setenv("SYNCOTTER_PARALLEL_COPIES", "12")
	t.Setenv("SYNCOTTER_TARGET_DIRECTORY", "/mnt/nas")
	t.Setenv("SYNCOTTER_EXCLUDE_PATTERNS", "*.bak,~*")

	cfg, err := Parse(path)
	require.NoError(t, err)
	assert.Equal(t, "/data", cfg.SourceDirectory)
	assert.Equal(t, "/mnt/nas", cfg.TargetDirectory)
	assert.Equal(t, 12, cfg.ParallelCopies)
	assert.Equal(t, []string{"*.bak", "~*"}, cfg.ExcludePatterns)
}

func TestParseEnvironmentInvalid(t *testing.T) {
	fs = afero.NewMemMapFs()
	path := "/etc/syncotter.yaml"
	require.NoError(t, afero.WriteFile(fs, path, []byte("sourceDirectory: /data\n"), 0644))

	t.Setenv("SYNCOTTER_PARALLEL_COPIES", "many")

	_, err := Parse(path)
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	base := Config{
		Version:         SupportedConfigVersion,
		SourceDirectory: "/data",
		TargetDirectory: "/backup",
		ParallelCopies:  2,
		ExcludePatterns: []string{"*.tmp"},
		path:            "/etc/syncotter.yaml",
	}

	merged, err := base.Merge(Config{
		TargetDirectory: "/mnt/usb",
		ParallelCopies:  8,
		Resumable:       true,
	})
	require.NoError(t, err)

	assert.Equal(t, Config{
		Version:         SupportedConfigVersion,
		SourceDirectory: "/data",
		TargetDirectory: "/mnt/usb",
		ParallelCopies:  8,
		ExcludePatterns: []string{"*.tmp"},
		Resumable:       true,
		path:            "/etc/syncotter.yaml",
	}, merged)

	// The receiver is left untouched.
	assert.Equal(t, "/backup", base.TargetDirectory)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		expErr error
	}{
		{
			name:   "Valid",
			config: Config{SourceDirectory: "/a", TargetDirectory: "/b"},
		},
		{
			name:   "MissingSource",
			config: Config{TargetDirectory: "/b"},
			expErr: errors.ConfigError{Reason: "missing required field: sourceDirectory"},
		},
		{
			name:   "MissingTarget",
			config: Config{SourceDirectory: "/a"},
			expErr: errors.ConfigError{Reason: "missing required field: targetDirectory"},
		},
		{
			name:   "NegativeParallelism",
			config: Config{SourceDirectory: "/a", TargetDirectory: "/b", ParallelCopies: -1},
			expErr: errors.ConfigError{Reason: "parallelCopies must not be negative"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expErr, test.config.Validate())
		})
	}
}

func TestWriteThenParse(t *testing.T) {
	fs = afero.NewMemMapFs()
	path := "/etc/syncotter.yaml"

	exp := Config{
		SourceDirectory:    "/data",
		TargetDirectory:    "/backup",
		ExcludeDirectories: []string{".git"},
		ParallelCopies:     3,
	}
	require.NoError(t, Write(path, exp))

	actual, err := Parse(path)
	require.NoError(t, err)

	exp.Version = SupportedConfigVersion
	exp.MaxCacheEntries = DefaultMaxCacheEntries
	exp.path = path
	assert.Equal(t, exp, actual)
}

func TestResolvedCachePath(t *testing.T) {
	oldExpand := homedirExpand
	homedirExpand = func(path string) (string, error) {
		return "/home/otter" + path[1:], nil
	}
	defer func() { homedirExpand = oldExpand }()

	path, err := Config{}.ResolvedCachePath()
	require.NoError(t, err)
	assert.Equal(t, "/home/otter/.syncotter/fingerprints.json", path)

	path, err = Config{CachePath: "/var/cache/otter.json"}.ResolvedCachePath()
	require.NoError(t, err)
	assert.Equal(t, "/var/cache/otter.json", path)
}
