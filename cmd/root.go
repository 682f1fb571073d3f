package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"terabot/bot"
	"terabot/downloader"
	"terabot/internal"
	"terabot/store"
	"terabot/utils"
)

var (
	outputDir string
	rateLimit string
	quiet     bool
	debug     bool
	logLevel  string
	logFile   string
	config    *internal.Config
)

var rootCmd = &cobra.Command{
	Use:     "terabot",
	Short:   "Telegram bot that fetches TeraBox share links and delivers the videos",
	Version: "v1.0.0",
	Long: `TeraBot resolves TeraBox share links through public resolver endpoints,
downloads the files (through an aria2 daemon when configured, or an
in-process engine otherwise) and sends them back over Telegram.

Examples:
  terabot run
  terabot fetch https://terabox.com/s/1AbC123
  terabot fetch -o /tmp -r 5M https://1024terabox.com/s/1AbC123

Environment Variables:
  TERABOT_TOKEN               Telegram bot token
  TERABOT_MONGO_URI           MongoDB connection string
  TERABOT_ADMIN_IDS           Comma-separated admin user IDs
  TERABOT_FORCE_SUB_IDS       Channels users must join
  TERABOT_DUMP_CHAT_IDS       Chats that receive mirror copies
  TERABOT_RESOLVER_ENDPOINTS  Comma-separated resolver URLs
  TERABOT_ARIA2_RPC_URL       aria2 JSON-RPC endpoint (optional)
  TERABOT_SHORTLINK_URL       Shortener service for verification links`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loadConfiguration()
		if err := internal.InitLogger(config); err != nil {
			return fmt.Errorf("failed to initialize logger: %v", err)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Telegram bot",
	Long: `Connect to MongoDB and Telegram, then serve updates until interrupted.

Examples:
  terabot run
  TERABOT_DEBUG=1 terabot run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ValidateConfig(); err != nil {
			return fmt.Errorf("configuration error: %v", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		internal.LogInfo("Connecting to MongoDB")
		st, err := store.Connect(ctx, config.MongoURI, config.DatabaseName)
		if err != nil {
			return fmt.Errorf("storage connection failed: %w", err)
		}
		defer func() {
			if err := st.Close(context.Background()); err != nil {
				internal.LogWarn("Storage shutdown error: %v", err)
			}
		}()

		b, err := bot.New(config, st)
		if err != nil {
			return err
		}

		internal.LogInfo("TeraBot starting up")
		if err := b.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		internal.LogInfo("Shutdown complete")
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <URL>",
	Short: "Resolve and download a single share link to disk",
	Long: `Fetch runs the same resolve and download path the bot uses, without
Telegram or MongoDB, and stores the file locally.

Examples:
  terabot fetch https://terabox.com/s/1AbC123
  terabot fetch -o /data/videos -r 5M https://terabox.com/s/1AbC123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ValidateForFetch(); err != nil {
			return fmt.Errorf("configuration error: %v", err)
		}
		return executeFetch(args[0])
	},
}

// loadConfiguration builds the effective config from defaults, environment
// and CLI flags. Flags win.
func loadConfiguration() {
	config = internal.DefaultConfig()
	config.LoadFromEnv()

	if debug {
		config.EnableDebug = true
		config.LogLevel = "debug"
	}
	if quiet {
		config.QuietMode = true
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	if logFile != "" {
		config.LogFile = logFile
	}
	if outputDir != "" {
		config.DownloadDir = outputDir
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		internal.LogInfo("Received signal %v, shutting down...", sig)
		cancel()
	}()
	return ctx, cancel
}

// executeFetch drives a one-shot resolve and download with a terminal
// progress bar.
func executeFetch(shareURL string) error {
	ctx, cancel := signalContext()
	defer cancel()

	var rateLimitBytes int64
	if rateLimit != "" {
		var err error
		rateLimitBytes, err = utils.ParseRateLimit(rateLimit)
		if err != nil {
			return fmt.Errorf("invalid rate limit format: %v\n\nSupported formats:\n  - 1M (1 MB/s)\n  - 500K (500 KB/s)\n  - 1024 (1024 bytes/s)", err)
		}
	}

	httpClient := utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		Timeout: time.Duration(config.DefaultTimeout) * time.Second,
	})
	resolver := downloader.NewAPIResolver(config.ResolverEndpoints,
		time.Duration(config.ResolverTimeout)*time.Second, httpClient)

	if !quiet {
		fmt.Printf("🔍 Resolving: %s\n", shareURL)
	}

	var manager internal.DownloadManager
	if config.Aria2RPCURL != "" {
		manager = downloader.NewAria2Manager(config.Aria2RPCURL, config.Aria2Secret, httpClient)
	} else {
		manager = downloader.NewLocalEngine(httpClient)
	}
	orchestrator := downloader.NewOrchestrator(resolver, manager, httpClient, config.MaxRetries)

	job := &internal.DownloadJob{
		OutputDir: config.DownloadDir,
		Referer:   "https://www.terabox.com/",
		RateLimit: rateLimitBytes,
		Quiet:     quiet,
	}
	if len(config.UserAgentList) > 0 {
		job.UserAgent = config.UserAgentList[0]
	}

	var tracker *utils.ProgressTracker
	progress := func(st *internal.TransferStatus) {
		if tracker == nil && st.Total > 0 {
			tracker = utils.NewProgressTracker(st.Total, quiet)
		}
		if tracker != nil {
			tracker.Update(st.Completed)
		}
	}

	result, err := orchestrator.Fetch(ctx, shareURL, job, progress)
	if tracker != nil {
		tracker.SetFilename(job.FileName)
		tracker.Finish()
	}
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	if !quiet {
		fmt.Printf("📁 File saved to: %s", result.LocalPath)
		if result.SizeText != "" {
			fmt.Printf(" (%s)", result.SizeText)
		}
		fmt.Println()
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(fetchCmd)

	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (env: TERABOT_DEBUG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error) (env: TERABOT_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr (env: TERABOT_LOG_FILE)")

	fetchCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (env: TERABOT_DOWNLOAD_DIR)")
	fetchCmd.Flags().StringVarP(&rateLimit, "limit-rate", "r", "", "Bandwidth limit (e.g., 5M for 5MB/s)")
}

func Execute() error {
	return rootCmd.Execute()
}
