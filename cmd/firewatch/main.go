package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/firewatch/internal/channel"
	"github.com/ternarybob/firewatch/internal/client"
	"github.com/ternarybob/firewatch/internal/common"
	"github.com/ternarybob/firewatch/internal/interfaces"
	"github.com/ternarybob/firewatch/internal/models"
	"github.com/ternarybob/firewatch/internal/tracker"
	"github.com/ternarybob/firewatch/internal/view"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	backendURL   = flag.String("url", "", "Backend base URL (overrides config)")
	apiKey       = flag.String("key", "", "Backend API key (overrides config)")
	cancelJob    = flag.Bool("cancel", false, "Request job cancellation, then keep tracking until terminal status")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Firewatch version %s\n", common.GetVersion())
		os.Exit(0)
	}

	jobID := flag.Arg(0)
	if jobID == "" {
		fmt.Fprintln(os.Stderr, "Usage: firewatch [flags] <job-id>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("firewatch.toml"); err == nil {
			configFiles = append(configFiles, "firewatch.toml")
		}
	}

	// 1. Load configuration (defaults -> files -> env)
	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	// 2. Apply command-line flag overrides (highest priority)
	common.ApplyFlagOverrides(config, *backendURL, *apiKey)

	// 3. Initialize logger with final configuration
	logger = common.InitLogger(config)

	// 4. Print banner
	common.PrintBanner(common.GetVersion())

	logger.Debug().
		Str("backend_url", config.Backend.BaseURL).
		Str("poll_interval", config.Tracker.PollInterval).
		Int("page_size", config.Tracker.PageSize).
		Msg("Resolved configuration")

	backend := client.NewClient(&config.Backend, logger)

	cache := tracker.NewHydrationCache(backend, logger, nil)
	resultView := view.NewResultView(cache, os.Stdout, logger)

	manager := tracker.NewManager(backend,
		func() interfaces.LiveChannel {
			return channel.NewWebSocketChannel(&config.Backend, logger)
		},
		&config.Tracker, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// done is closed when tracking reaches a terminal status
	done := make(chan struct{})
	var closeDone = func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}

	err = manager.Start(ctx, jobID, func(snap models.JobSnapshot) {
		resultView.Render(snap)
		if snap.Job.Status.IsTerminal() {
			closeDone()
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Str("job_id", jobID).Msg("Failed to start tracking")
		os.Exit(1)
	}

	if *cancelJob {
		if err := manager.Cancel(ctx); err != nil {
			logger.Warn().Err(err).Str("job_id", jobID).Msg("Cancel request failed")
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case <-done:
		job := manager.Job()
		if job.Status == models.JobStatusFailed {
			logger.Error().Str("job_id", jobID).Str("error", job.Error).Msg("Job failed")
		} else {
			logger.Info().Str("job_id", jobID).Str("status", string(job.Status)).Msg("Job finished")
		}
	}

	manager.Stop()
}
