package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farm-log-indexer-go/internal/client"
	"farm-log-indexer-go/internal/config"
	"farm-log-indexer-go/internal/farm"
	"farm-log-indexer-go/internal/indexer"
	"farm-log-indexer-go/internal/logger"
	"farm-log-indexer-go/internal/source"
	"farm-log-indexer-go/internal/storage"
	"farm-log-indexer-go/internal/storage/postgres"
)

const Version = "0.3.0"

// CLI flags
var (
	configFile = flag.String("config", "", "Path to config file")
	envFile    = flag.String("env", "", "Path to .env file")
	network    = flag.String("network", "", "Network to use (mainnet/devnet)")
	logLevel   = flag.String("log-level", "", "Log level (debug/info/warn/error)")

	fromSlot   = flag.Uint64("from", 0, "First slot to index")
	toSlot     = flag.Uint64("to", 0, "Last slot to index (0 = current slot)")
	signatures = flag.String("signatures", "", "Comma-separated transaction signatures to process as one batch")
	recent     = flag.Int("recent", 0, "Process the N most recent Farm program transactions as one batch")
	follow     = flag.Bool("follow", false, "Follow Farm program logs live")

	grouping = flag.String("grouping", "", "Log attribution mode (context/substring)")
	sinkType = flag.String("sink", "", "Event sink (jsonl/postgres)")
	outPath  = flag.String("out", "", "JSONL output path")

	showVersion = flag.Bool("version", false, "Print version and exit")
)

// App wires the indexer components together
type App struct {
	config   *config.Config
	logger   *logger.Logger
	rpc      *client.Client
	source   *source.BlockSource
	sink     storage.Sink
	store    *postgres.Store
	pipeline *indexer.Pipeline
	ctx      context.Context
	cancel   context.CancelFunc
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("farm-indexer v%s\n", Version)
		return
	}

	cfg := loadConfigurationWithOverrides()
	log := initializeLogger(cfg)
	defer log.Close()

	app, err := NewApp(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create application")
	}

	if err := app.Run(); err != nil {
		app.shutdown(err.Error())
		log.Close()
		os.Exit(1)
	}
	app.shutdown("completed")
}

func loadConfigurationWithOverrides() *config.Config {
	cfg, err := config.LoadConfig(*configFile, *envFile)
	if err != nil {
		fmt.Printf("Warning: Failed to load YAML config (%v), using environment variables only\n", err)
		cfg = config.GetConfigFromEnv(*envFile)
	}

	applyCliOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	return cfg
}

func applyCliOverrides(cfg *config.Config) {
	if *network != "" {
		cfg.Network = *network
		cfg.RPCUrl = config.GetRPCEndpoint(*network)
		cfg.WSUrl = config.GetWSEndpoint(*network)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *fromSlot != 0 {
		cfg.Source.FromSlot = *fromSlot
	}
	if *toSlot != 0 {
		cfg.Source.ToSlot = *toSlot
	}
	if *signatures != "" {
		cfg.Source.Signatures = config.SplitList(*signatures)
	}
	if *follow {
		cfg.Source.Follow = true
	}
	if *grouping != "" {
		cfg.Farm.LogGrouping = *grouping
	}
	if *sinkType != "" {
		cfg.Output.Sink = *sinkType
	}
	if *outPath != "" {
		cfg.Output.Path = *outPath
	}
}

func initializeLogger(cfg *config.Config) *logger.Logger {
	log, err := logger.NewLogger(logger.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		LogToFile:   cfg.Logging.LogToFile,
		LogFilePath: cfg.Logging.LogFilePath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return log
}

// NewApp builds the RPC client, sink and processing pipeline
func NewApp(cfg *config.Config, log *logger.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	rpcClient := client.NewClient(client.ClientConfig{
		RPCEndpoint: cfg.RPCUrl,
		APIKey:      cfg.RPCAPIKey,
		Commitment:  cfg.Source.Commitment,
		Timeout:     cfg.GetRPCTimeout(),
	}, log.Logger)

	app := &App{
		config: cfg,
		logger: log,
		rpc:    rpcClient,
		source: source.NewBlockSource(rpcClient, cfg.Farm.ProgramID, log.Logger),
		ctx:    ctx,
		cancel: cancel,
	}

	switch cfg.Output.Sink {
	case config.SinkPostgres:
		store, err := postgres.NewStore(ctx, cfg.Output.PostgresDSN)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			cancel()
			return nil, err
		}
		app.store = store
		app.sink = store
	default:
		app.sink = storage.NewJsonlSink(cfg.Output.Path)
	}

	grouper := farm.NewLogGrouper(cfg.Farm.LogGrouping, cfg.Farm.ProgramID)
	processor := farm.NewProcessor(cfg.Farm.ProgramID, grouper, log.WithComponent("farm"))
	app.pipeline = indexer.NewPipeline(processor, app.sink, log, app.retryConfig())

	return app, nil
}

func (a *App) retryConfig() indexer.RetryConfig {
	return indexer.RetryConfig{
		MaxRetries:   a.config.Advanced.MaxRetries,
		RetryBackoff: a.config.GetRetryDelay(),
	}
}

// Run selects the mode from the configuration and blocks until it finishes or a signal arrives
func (a *App) Run() error {
	a.logger.LogStartup(Version, a.config.Network, a.config.RPCUrl, a.config.Farm.ProgramID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			a.logger.WithField("signal", sig.String()).Info("Received shutdown signal")
			a.cancel()
		case <-a.ctx.Done():
		}
	}()

	if err := a.testConnections(); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}

	start := time.Now()
	var err error
	switch {
	case a.config.Source.Follow:
		err = a.runFollow()
	case *recent > 0:
		err = a.runRecent(*recent)
	case len(a.config.Source.Signatures) > 0:
		err = a.newRunner().RunSignatures(a.ctx, a.config.Source.Signatures)
	default:
		err = a.newRunner().Run(a.ctx)
	}

	snap := a.pipeline.Stats().Snapshot()
	a.logger.LogThroughput("transactions", snap.Transactions, time.Since(start))

	if err != nil && a.ctx.Err() == nil {
		a.logger.LogError("app", "run", err, nil)
		return err
	}
	return nil
}

func (a *App) newRunner() *indexer.Runner {
	var checkpoint indexer.Checkpointer
	if a.config.Checkpoint.Enabled {
		if a.store != nil {
			checkpoint = indexer.NewStateCheckpoint(a.store, "farm:"+a.config.Farm.ProgramID)
		} else {
			checkpoint = indexer.NewFileCheckpoint(a.config.Checkpoint.Path, a.config.Farm.ProgramID, true)
		}
	}

	return indexer.NewRunner(indexer.RunConfig{
		FromSlot: a.config.Source.FromSlot,
		ToSlot:   a.config.Source.ToSlot,
		Retry:    a.retryConfig(),
	}, a.source, a.rpc, a.pipeline, checkpoint, a.logger)
}

func (a *App) runRecent(limit int) error {
	sigs, err := a.source.RecentSignatures(a.ctx, a.config.Farm.ProgramID, limit)
	if err != nil {
		return err
	}
	if len(sigs) == 0 {
		a.logger.Info("No recent Farm program transactions")
		return nil
	}
	return a.newRunner().RunSignatures(a.ctx, sigs)
}

func (a *App) runFollow() error {
	ws := client.NewWSClient(a.config.WSUrl, a.logger.Logger)
	if err := ws.Connect(a.ctx); err != nil {
		return err
	}
	defer ws.Disconnect()

	a.logger.LogConnection("websocket", "connected", a.config.WSUrl)

	follower := indexer.NewFollower(indexer.FollowConfig{
		ProgramID:  a.config.Farm.ProgramID,
		Commitment: a.config.Source.Commitment,
		Retry:      a.retryConfig(),
	}, ws, a.source, a.pipeline, a.logger)

	statsTicker := time.NewTicker(60 * time.Second)
	defer statsTicker.Stop()
	go func() {
		for {
			select {
			case <-a.ctx.Done():
				return
			case <-statsTicker.C:
				a.logger.WithFields(a.pipeline.Stats().Snapshot().Fields()).Info("📊 Follower statistics")
			}
		}
	}()

	return follower.Run(a.ctx)
}

// testConnections tests network connectivity
func (a *App) testConnections() error {
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()

	slot, err := a.rpc.GetSlot(ctx)
	if err != nil {
		return fmt.Errorf("RPC connection test failed: %w", err)
	}

	a.logger.WithField("slot", slot).Info("✅ RPC connection test passed")
	return nil
}

func (a *App) shutdown(reason string) {
	a.logger.LogShutdown(reason)
	a.cancel()

	a.logger.WithFields(a.pipeline.Stats().Snapshot().Fields()).Info("📊 Final statistics")

	if err := a.sink.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close sink")
	}
	if err := a.rpc.Close(); err != nil {
		a.logger.WithError(err).Debug("Failed to close RPC client")
	}

	a.logger.Info("✅ Shutdown complete")
}
