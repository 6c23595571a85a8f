package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanq16/parcel/internal/checkpoint"
	"github.com/tanq16/parcel/internal/config"
	"github.com/tanq16/parcel/internal/output"
	"github.com/tanq16/parcel/internal/scheduler"
	"github.com/tanq16/parcel/internal/sources"
	"github.com/tanq16/parcel/internal/utils"
)

var ParcelVersion = "dev"

var (
	configFile   string
	showSegments bool
)

// flagKeys maps config keys to the persistent flags that override them.
var flagKeys = map[string]string{
	"connections":         "connections",
	"min_segment_size":    "min-segment",
	"workers":             "workers",
	"timeout":             "timeout",
	"keep_alive_timeout":  "keep-alive-timeout",
	"user_agent":          "user-agent",
	"proxy":               "proxy",
	"proxy_username":      "proxy-username",
	"proxy_password":      "proxy-password",
	"headers":             "header",
	"bearer_token":        "bearer-token",
	"retry.attempts":      "retries",
	"retry.base_delay":    "retry-delay",
	"retry.max_delay":     "max-retry-delay",
	"max_restarts":        "max-restarts",
	"restart_segments":    "restart-segments",
	"checkpoint.backend":  "checkpoint-backend",
	"checkpoint.dir":      "checkpoint-dir",
	"checkpoint.ttl":      "checkpoint-ttl",
	"checkpoint.interval": "checkpoint-interval",
	"aws_profile":         "aws-profile",
	"azure_endpoint":      "azure-endpoint",
	"debug":               "debug",
}

var rootCmd = &cobra.Command{
	Use:     "parcel [LOCATOR]",
	Short:   "Parcel is a segmented, resumable download manager",
	Version: ParcelVersion,
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			cmd.Help()
			return
		}
		outputPath, _ := cmd.Flags().GetString("output")
		os.Exit(runJobs(cmd, []utils.Job{{Source: args[0], OutputPath: outputPath}}))
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate("parcel {{.Version}}\n")
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default $HOME/.config/parcel/config.yaml)")
	flags.IntP("connections", "c", 8, "Number of connections per download (above 5 enables high-thread-mode)")
	flags.String("min-segment", "1MiB", "Smallest segment worth its own connection (eg. 512KiB, 4MB)")
	flags.IntP("workers", "w", 1, "Number of downloads to run in parallel")
	flags.DurationP("timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	flags.DurationP("keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	flags.StringP("user-agent", "a", utils.ToolUserAgent, "User agent (\"randomize\" picks a browser agent)")
	flags.StringP("proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	flags.String("proxy-username", "", "Proxy username (if not provided in proxy URL)")
	flags.String("proxy-password", "", "Proxy password (if not provided in proxy URL)")
	flags.StringArrayP("header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	flags.String("bearer-token", "", "OAuth2 bearer token sent with HTTP requests")
	flags.Int("retries", 5, "Attempts per segment before giving up")
	flags.Duration("retry-delay", 500*time.Millisecond, "Initial retry backoff")
	flags.Duration("max-retry-delay", 30*time.Second, "Maximum retry backoff")
	flags.Int("max-restarts", 3, "Restarts allowed when the remote resource changes mid-transfer")
	flags.Bool("restart-segments", false, "Restart interrupted segments from their start instead of resuming them")
	flags.String("checkpoint-backend", checkpoint.BackendFile, "Checkpoint store: file or badger")
	flags.String("checkpoint-dir", "", "Checkpoint directory (default: user cache dir)")
	flags.Duration("checkpoint-ttl", 7*24*time.Hour, "Ignore checkpoints older than this")
	flags.Duration("checkpoint-interval", 2*time.Second, "How often in-flight progress is checkpointed")
	flags.String("aws-profile", "", "AWS profile for s3:// locators")
	flags.String("azure-endpoint", "", "Blob endpoint for azblob:// locators, %s is replaced by the account (eg. http://127.0.0.1:10000/%s)")
	flags.Bool("debug", false, "Enable debug logging")
	flags.BoolVar(&showSegments, "segments", false, "Show per-segment progress")

	rootCmd.Flags().StringP("output", "o", "", "Output file path (parcel infers file name if not provided)")

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newCleanCmd())
}

// loadConfig layers defaults, config file, environment and the flags of cmd,
// then initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.NewViper(configFile)
	if err != nil {
		return nil, err
	}
	for key, name := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("error binding flag %s: %w", name, err)
			}
		}
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	utils.InitLogger(cfg.Debug)
	return cfg, nil
}

func openStore(cfg *config.Config) (checkpoint.Store, error) {
	store, err := checkpoint.Open(cfg.Checkpoint.Backend, cfg.CheckpointDir())
	if err != nil {
		return nil, fmt.Errorf("error opening checkpoint store: %w", err)
	}
	return store, nil
}

// runJobs runs the jobs to completion or interruption and returns the exit
// code. SIGINT and SIGTERM pause the transfers with their checkpoints kept.
func runJobs(cmd *cobra.Command, jobs []utils.Job) int {
	cfg, err := loadConfig(cmd)
	if err != nil {
		output.PrintError(err.Error())
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		output.PrintError(err.Error())
		return 1
	}
	defer store.Close()

	opts, err := cfg.EngineOptions()
	if err != nil {
		output.PrintError(err.Error())
		return 1
	}
	registry := sources.NewRegistry(sources.Config{
		HTTP:          cfg.HTTPClientConfig(),
		AWSProfile:    cfg.AWSProfile,
		AzureEndpoint: cfg.AzureEndpoint,
	})
	out := output.NewManager()
	out.ShowSegments(showSegments)
	if out.Interactive() {
		logFile, err := utils.OpenLogFile()
		if err == nil {
			defer logFile.Close()
		}
	}
	results := scheduler.New(registry, store, opts, out).Run(ctx, jobs, cfg.Workers)
	return scheduler.ExitCode(results)
}
