// Package cmd defines the command-line interface for zombie-detector.
package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/johnsaigle/zombie-detector/pkg/analyzer"
	"github.com/johnsaigle/zombie-detector/pkg/cache"
	"github.com/johnsaigle/zombie-detector/pkg/formatter"
	"github.com/johnsaigle/zombie-detector/pkg/github"
	"github.com/johnsaigle/zombie-detector/pkg/health"
	"github.com/johnsaigle/zombie-detector/pkg/logging"
	"github.com/johnsaigle/zombie-detector/pkg/metadata"
	"github.com/johnsaigle/zombie-detector/pkg/parser"
	"github.com/johnsaigle/zombie-detector/pkg/providers"
	"github.com/johnsaigle/zombie-detector/pkg/resolver"
	"github.com/johnsaigle/zombie-detector/pkg/retry"
	"github.com/johnsaigle/zombie-detector/pkg/types"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Set by the linker at release time.
var version = "dev"

// Execute executes the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the command tree with its own configuration instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	configureViper(v)

	rootCmd := &cobra.Command{
		Use:   "zombie-detector [manifest]",
		Short: "Find dependencies whose source repository has gone quiet.",
		Long: `zombie-detector reads a dependency manifest (requirements.txt, pyproject.toml
or go.mod), finds each package's source repository and reports how long it has
been since anything happened there. Packages idle for two years or more are
flagged.

Repository lookups are cached for 24 hours. Set GITHUB_TOKEN to raise the
GitHub API limit from 60 to 5000 requests per hour.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return readConfig(v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, v, args)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to config file")
	pf.String("cache-file", "", "Cache file location (default $XDG_CACHE_HOME/zombie-detector/github_cache.json)")
	pf.Duration("cache-ttl", cache.DefaultTTL, "How long a repository lookup stays fresh")
	pf.Duration("retry-ttl", cache.DefaultRetryTTL, "How long a rate-limited or failed lookup is kept before retrying")
	pf.BoolP("verbose", "v", false, "Enable debug logging and extra report columns")

	f := rootCmd.Flags()
	f.String("token", "", "GitHub token (or GITHUB_TOKEN)")
	f.String("gitlab-token", "", "GitLab token (or GITLAB_TOKEN)")
	f.Bool("no-cache", false, "Do not read or write the cache file")
	f.Int("threshold-days", health.DefaultThresholdDays, "Days without activity before a dependency is flagged")
	f.IntP("workers", "w", 4, "Number of dependencies checked concurrently")
	f.Int("max-retries", 3, "Attempts per request for transient failures")
	f.Duration("timeout", github.DefaultTimeout, "Timeout per HTTP request")
	f.StringP("format", "f", "console", "Output format: console, json, github-actions, golangci-lint")
	f.Bool("no-exit-code", false, "Always exit 0 when the scan completes")
	f.Bool("include-indirect", false, "Include // indirect requirements from go.mod")
	f.String("github-api-url", "", "GitHub API base URL")
	f.String("gitlab-api-url", "", "GitLab API base URL")
	f.String("bitbucket-api-url", "", "Bitbucket API base URL")
	f.String("pypi-url", metadata.DefaultPyPIURL, "PyPI base URL")
	f.String("goproxy", "", "Go module proxy (default from GOPROXY, then proxy.golang.org)")
	for _, name := range []string{"github-api-url", "gitlab-api-url", "bitbucket-api-url"} {
		_ = f.MarkHidden(name)
	}

	_ = v.BindPFlags(pf)
	_ = v.BindPFlags(f)

	rootCmd.AddCommand(newCacheCmd(v))
	return rootCmd
}

func newLogger(cmd *cobra.Command, verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return logging.New(cmd.ErrOrStderr(), level)
}

// openCache returns the configured cache. With no-cache the cache lives in
// memory only, so the pipeline runs unchanged.
func openCache(cfg Config, logger *log.Logger) *cache.Cache {
	var backend cache.Backend = cache.NewFileBackend(cfg.CacheFile)
	if cfg.NoCache {
		backend = cache.NewMemoryBackend(nil)
	}
	c := cache.Open(backend,
		cache.WithTTL(cfg.CacheTTL),
		cache.WithRetryTTL(cfg.RetryTTL),
		cache.WithLogger(logger),
	)
	if err := c.LoadErr(); err != nil {
		logger.Warn("could not load cache, starting empty", "path", cfg.CacheFile, "err", err)
	}
	return c
}

func runScan(cmd *cobra.Command, v *viper.Viper, args []string) error {
	cfg, err := loadConfig(v, args)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg.Verbose)
	ctx := logging.WithLogger(cmd.Context(), logger)

	if cfg.Token == "" {
		logger.Warn("No GitHub token found. Using unauthenticated requests (60 requests/hour). " +
			"Set GITHUB_TOKEN for 5000 requests/hour.")
	}

	logger.Info("Parsing manifest", "path", cfg.Manifest)
	deps, err := parser.ParseFile(cfg.Manifest, parser.Options{
		IncludeIndirect: cfg.IncludeIndirect,
		Logger:          logger,
	})
	if err != nil {
		return usageError(err)
	}
	if len(deps) == 0 {
		logger.Warn("No packages found in manifest")
	} else {
		logger.Info(fmt.Sprintf("Found %d package(s) to analyze", len(deps)))
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: logging.Transport(nil, logger),
	}
	policy := retry.Default().WithAttempts(cfg.MaxRetries)

	gh, err := github.NewClient(cfg.Token,
		github.WithHTTPClient(httpClient),
		github.WithRetry(policy),
		github.WithBaseURL(cfg.GitHubURL),
		github.WithLogger(logger),
	)
	if err != nil {
		return usageError(err)
	}
	if err := gh.ValidateToken(ctx); err != nil {
		return usageError(err)
	}

	providerCfg := providers.Config{HTTPClient: httpClient, Retry: policy, Logger: logger}
	gitlabCfg, bitbucketCfg := providerCfg, providerCfg
	gitlabCfg.BaseURL, gitlabCfg.Token = cfg.GitLabURL, cfg.GitLabToken
	bitbucketCfg.BaseURL = cfg.BitbucketURL
	fetcher := providers.NewMulti(
		gh,
		providers.NewGitLabProvider(gitlabCfg),
		providers.NewBitbucketProvider(bitbucketCfg),
	)

	meta, err := metadata.NewMemo(metadata.Multi{
		types.EcosystemPyPI: metadata.NewPyPI(cfg.PyPIURL, httpClient, policy),
		types.EcosystemGo:   metadata.NewGoModules(cfg.GoProxy, httpClient, policy),
	}, 0)
	if err != nil {
		return err
	}

	res := resolver.New(lo.Filter(resolver.DefaultHosts, func(h string, _ int) bool {
		return fetcher.SupportsHost(h)
	})...)

	c := openCache(cfg, logger)
	an := analyzer.New(meta, res, c, fetcher,
		analyzer.WithWorkers(cfg.Workers),
		analyzer.WithClassifier(health.New(cfg.ThresholdDays)),
		analyzer.WithLogger(logger),
		analyzer.WithQuota(func(ctx context.Context) (int, error) {
			q, err := gh.Quota(ctx)
			return q.Remaining, err
		}),
	)

	logger.Debug("starting scan", "fetchers", fetcher.Name(), "workers", cfg.Workers, "cache", cfg.CacheFile)
	results, err := an.Evaluate(ctx, deps)
	if err != nil {
		return err
	}

	out, err := formatter.New(cfg.Format, formatter.Options{
		Verbose:    cfg.Verbose,
		NoExitCode: cfg.NoExitCode,
		Manifest:   cfg.Manifest,
	})
	if err != nil {
		return usageError(err)
	}
	if err := out.Format(cmd.OutOrStdout(), results, analyzer.Summarize(results)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if code := out.ShouldExit(results); code != ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}
