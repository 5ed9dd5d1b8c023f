package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/johnsaigle/zombie-detector/pkg/cache"
	"github.com/johnsaigle/zombie-detector/pkg/formatter"
	"github.com/johnsaigle/zombie-detector/pkg/health"
	"github.com/johnsaigle/zombie-detector/pkg/metadata"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultManifest is scanned when no path is given.
const DefaultManifest = "requirements.txt"

// Config is the validated configuration of one run.
type Config struct {
	Manifest        string
	Token           string
	GitLabToken     string
	CacheFile       string
	CacheTTL        time.Duration
	RetryTTL        time.Duration
	NoCache         bool
	ThresholdDays   int
	Workers         int
	MaxRetries      int
	Timeout         time.Duration
	Format          string
	Verbose         bool
	NoExitCode      bool
	IncludeIndirect bool

	GitHubURL    string
	GitLabURL    string
	BitbucketURL string
	PyPIURL      string
	GoProxy      string
}

// configureViper sets names, env mapping and defaults on v.
func configureViper(v *viper.Viper) {
	v.SetConfigName(".zombie-detector")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")

	v.SetEnvPrefix("ZOMBIE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("token", "ZOMBIE_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("gitlab-token", "ZOMBIE_GITLAB_TOKEN", "GITLAB_TOKEN")

	v.SetDefault("cache-ttl", cache.DefaultTTL)
	v.SetDefault("retry-ttl", cache.DefaultRetryTTL)
	v.SetDefault("threshold-days", health.DefaultThresholdDays)
	v.SetDefault("workers", 4)
	v.SetDefault("max-retries", 3)
	v.SetDefault("timeout", 10*time.Second)
	v.SetDefault("format", "console")
	v.SetDefault("pypi-url", metadata.DefaultPyPIURL)
}

// readConfig loads .env and the config file. A missing config file is fine.
func readConfig(v *viper.Viper) error {
	_ = godotenv.Load()

	if configFile := v.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return usageError(fmt.Errorf("error reading config file: %w", err))
		}
	}
	return nil
}

// loadConfig resolves flags, env, config file and defaults into a Config.
func loadConfig(v *viper.Viper, args []string) (Config, error) {
	cfg := Config{
		Manifest:        DefaultManifest,
		Token:           strings.TrimSpace(v.GetString("token")),
		GitLabToken:     strings.TrimSpace(v.GetString("gitlab-token")),
		CacheFile:       v.GetString("cache-file"),
		CacheTTL:        v.GetDuration("cache-ttl"),
		RetryTTL:        v.GetDuration("retry-ttl"),
		NoCache:         v.GetBool("no-cache"),
		ThresholdDays:   v.GetInt("threshold-days"),
		Workers:         v.GetInt("workers"),
		MaxRetries:      v.GetInt("max-retries"),
		Timeout:         v.GetDuration("timeout"),
		Format:          v.GetString("format"),
		Verbose:         v.GetBool("verbose"),
		NoExitCode:      v.GetBool("no-exit-code"),
		IncludeIndirect: v.GetBool("include-indirect"),
		GitHubURL:       v.GetString("github-api-url"),
		GitLabURL:       v.GetString("gitlab-api-url"),
		BitbucketURL:    v.GetString("bitbucket-api-url"),
		PyPIURL:         v.GetString("pypi-url"),
		GoProxy:         goProxy(v.GetString("goproxy")),
	}
	if len(args) == 1 {
		cfg.Manifest = args[0]
	}

	if cfg.CacheFile == "" {
		path, err := cache.DefaultPath()
		if err != nil {
			return cfg, usageError(fmt.Errorf("cannot determine cache location: %w", err))
		}
		cfg.CacheFile = path
	}
	return cfg, cfg.Validate()
}

// Validate rejects values no run can use.
func (c Config) Validate() error {
	switch {
	case c.ThresholdDays <= 0:
		return usageError(fmt.Errorf("threshold-days must be positive, got %d", c.ThresholdDays))
	case c.Workers <= 0:
		return usageError(fmt.Errorf("workers must be positive, got %d", c.Workers))
	case c.MaxRetries <= 0:
		return usageError(fmt.Errorf("max-retries must be at least 1, got %d", c.MaxRetries))
	case c.CacheTTL <= 0 || c.RetryTTL <= 0:
		return usageError(errors.New("cache-ttl and retry-ttl must be positive"))
	case c.Timeout <= 0:
		return usageError(errors.New("timeout must be a positive duration"))
	}
	if _, err := formatter.New(c.Format, formatter.Options{}); err != nil {
		return usageError(err)
	}
	return nil
}

// goProxy picks the first usable entry of a GOPROXY-style list.
func goProxy(value string) string {
	if value == "" {
		value = os.Getenv("GOPROXY")
	}
	for _, p := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == '|' }) {
		if p = strings.TrimSpace(p); p != "direct" && p != "off" && p != "" {
			return p
		}
	}
	return metadata.DefaultGoProxy
}
