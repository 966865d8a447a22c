package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/blingtien/rag-system-sub000/internal/config"
	"github.com/blingtien/rag-system-sub000/internal/coordinator"
	"github.com/blingtien/rag-system-sub000/internal/faults"
	"github.com/blingtien/rag-system-sub000/internal/home"
	"github.com/blingtien/rag-system-sub000/internal/locks"
	"github.com/blingtien/rag-system-sub000/internal/pipeline"
	"github.com/blingtien/rag-system-sub000/internal/pool"
	"github.com/blingtien/rag-system-sub000/internal/progress"
	"github.com/blingtien/rag-system-sub000/internal/resolve"
	"github.com/blingtien/rag-system-sub000/internal/server"
	"github.com/blingtien/rag-system-sub000/internal/store"
	"github.com/blingtien/rag-system-sub000/internal/svcctx"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ragsys server",
	Long: `Start the ragsys HTTP server.

The server accepts batch submissions, runs document processing with
bounded concurrency, streams per-batch progress over websockets, and
persists batch history to SQLite under the ragsys home directory.

A default config file is written to {home}/config.yaml on first run and
hot-reloaded on change.

Examples:
  ragsys serve                    # Start on default port 8280
  ragsys serve --port 3000        # Start on custom port
  ragsys serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Home directory first: config and data live under it.
		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		configPath := cfgFile
		if configPath == "" {
			if !h.ConfigExists() {
				if err := config.WriteDefault(h.ConfigPath()); err != nil {
					return err
				}
			}
			configPath = h.ConfigPath()
		}

		cm, err := config.NewManager(configPath)
		if err != nil {
			return err
		}
		cfg := cm.Get()

		logger, closeLog := config.SetupLogger(cfg.Log.File, config.ParseLevel(cfg.Log.Level))
		defer closeLog()

		// Batch history store and its write-behind sink
		storePath := cfg.Store.Path
		if storePath == "" {
			storePath = h.DataPath()
		}
		st, err := store.Open(storePath)
		if err != nil {
			return err
		}
		defer st.Close()

		sink := store.NewSink(store.SinkConfig{
			Store:         st,
			BatchSize:     cfg.Store.BatchSize,
			FlushInterval: time.Duration(cfg.Store.FlushIntervalMS) * time.Millisecond,
			Logger:        logger,
		})
		sink.Start(ctx)
		defer sink.Stop()

		docRoot := cfg.Documents.Root
		if docRoot == "" {
			docRoot = h.DocumentsPath()
		}
		resolver := resolve.NewFS(docRoot)

		var processor pipeline.Processor
		if cfg.Pipeline.URL != "" {
			processor = pipeline.NewHTTPProcessor(
				cfg.Pipeline.URL,
				time.Duration(cfg.Pipeline.TimeoutSeconds)*time.Second,
			)
		} else {
			logger.Warn("no pipeline service configured, using the built-in local processor")
			processor = pipeline.NewLocalProcessor()
		}

		hub := progress.NewHub(progress.HubConfig{
			Buffer: cfg.Progress.Buffer,
			Logger: logger,
		})

		coord := coordinator.New(coordinator.Config{
			Resolver:  resolver,
			Processor: processor,
			Pool: pool.New(pool.Config{
				Workers:     cfg.Pool.Workers,
				TaskTimeout: time.Duration(cfg.Pool.TaskTimeoutSeconds) * time.Second,
				Logger:      logger,
			}),
			Hub: hub,
			Retrier: faults.NewRetrier(faults.RetrierConfig{
				Attempts: uint(cfg.Retry.Attempts),
				Delay:    time.Duration(cfg.Retry.DelayMS) * time.Millisecond,
				MaxDelay: time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
				Logger:   logger,
			}),
			Locks:  locks.New(),
			Sink:   sink,
			Logger: logger,
		})

		cm.OnChange(func(c *config.Config) {
			// Pool and server settings only apply on restart; log so
			// operators know the reload happened.
			logger.Info("configuration reloaded",
				"log_level", c.Log.Level,
				"workers", c.Pool.Workers)
		})
		cm.WatchConfig()

		host := serveHost
		if host == "" {
			host = cfg.Server.Host
		}
		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv, err := server.New(server.Config{
			Host: host,
			Port: port,
			Services: &svcctx.Services{
				Coordinator:   coord,
				Store:         st,
				Sink:          sink,
				Hub:           hub,
				ConfigManager: cm,
				Logger:        logger,
				Home:          h,
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from config)")

	rootCmd.AddCommand(serveCmd)
}
