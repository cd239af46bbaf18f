// Package config resolves launch parameters from the environment and
// the optional .pymatrix file in the source tree.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/SamHausmann/pymatrix/internal/runtimes"
)

// Defaults applied when the environment leaves a knob unset.
const (
	DefaultEndpoint    = "https://reports.pymatrix.dev/v1/runs"
	DefaultConcurrency = 4
	DefaultTimeout     = 10 * time.Minute
	DefaultMaxOutput   = 1 << 20 // 1 MB
)

// envPrefix is the prefix for all environment parameters,
// e.g. PYMATRIX_API_KEY.
const envPrefix = "PYMATRIX"

// Config holds the fully resolved run configuration. Everything is
// validated before any runtime probing begins.
type Config struct {
	APIKey   string // reporting credential
	Source   string // path of the source tree under test
	User     string // identity used for attribution
	Label    string // version/tag label attached to the report
	Endpoint string // collector URL

	Concurrency int
	Timeout     time.Duration // per-task budget
	MaxOutput   int           // bytes of output kept per task
	ReportDir   string        // local report copies; empty means temp dir

	Matrix    []runtimes.Spec
	StyleArgs []string
	TestArgs  []string
}

// DefaultStyleArgs invoke the style checker under each interpreter;
// its diff-style correction lands on stdout and is captured bounded.
func DefaultStyleArgs() []string { return []string{"-m", "pep8", "--diff", "."} }

// DefaultTestArgs run the project's test suite under each interpreter.
func DefaultTestArgs() []string { return []string{"setup.py", "test"} }

// matrixFile is the optional per-project override read from the
// source tree root.
type matrixFile struct {
	Runtimes []runtimes.Spec `yaml:"runtimes"`
	Style    struct {
		Args []string `yaml:"args"`
	} `yaml:"style"`
	Test struct {
		Args []string `yaml:"args"`
	} `yaml:"test"`
}

// Load resolves the configuration from PYMATRIX_* environment
// variables and the optional .pymatrix file. Missing required
// parameters produce one descriptive error before any work starts.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("source", ".")
	v.SetDefault("endpoint", DefaultEndpoint)
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("timeout", DefaultTimeout.String())
	v.SetDefault("max_output", DefaultMaxOutput)
	v.SetDefault("report_dir", "")

	cfg := &Config{
		APIKey:      v.GetString("api_key"),
		Source:      v.GetString("source"),
		User:        v.GetString("user"),
		Label:       v.GetString("label"),
		Endpoint:    v.GetString("endpoint"),
		Concurrency: v.GetInt("concurrency"),
		MaxOutput:   v.GetInt("max_output"),
		ReportDir:   v.GetString("report_dir"),
		Matrix:      runtimes.DefaultMatrix(),
		StyleArgs:   DefaultStyleArgs(),
		TestArgs:    DefaultTestArgs(),
	}

	var missing []string
	for _, p := range []struct{ key, value string }{
		{"API_KEY", cfg.APIKey},
		{"USER", cfg.User},
		{"LABEL", cfg.Label},
	} {
		if p.value == "" {
			missing = append(missing, envPrefix+"_"+p.key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	timeout, err := time.ParseDuration(v.GetString("timeout"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid %s_TIMEOUT %q", envPrefix, v.GetString("timeout"))
	}
	cfg.Timeout = timeout

	if info, err := os.Stat(cfg.Source); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("source %q is not a directory", cfg.Source)
	}

	if err := cfg.applyMatrixFile(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyMatrixFile overlays the optional .pymatrix file from the source
// tree. Absence is not an error.
func (c *Config) applyMatrixFile() error {
	path := filepath.Join(c.Source, ".pymatrix")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var mf matrixFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if len(mf.Runtimes) > 0 {
		for i, s := range mf.Runtimes {
			if s.Name == "" || s.Binary == "" {
				return fmt.Errorf("%s: runtime entry %d needs name and binary", path, i)
			}
		}
		c.Matrix = mf.Runtimes
	}
	if len(mf.Style.Args) > 0 {
		c.StyleArgs = mf.Style.Args
	}
	if len(mf.Test.Args) > 0 {
		c.TestArgs = mf.Test.Args
	}
	return nil
}
