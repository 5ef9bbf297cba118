package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runnerr0/procedura/internal/background"
	"github.com/runnerr0/procedura/internal/badge"
	"github.com/runnerr0/procedura/internal/browser"
	"github.com/runnerr0/procedura/internal/capture"
	"github.com/runnerr0/procedura/internal/config"
	"github.com/runnerr0/procedura/internal/log"
	"github.com/runnerr0/procedura/internal/privacy"
	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/runnerr0/procedura/internal/recording"
	"github.com/runnerr0/procedura/internal/remote"
	"github.com/runnerr0/procedura/internal/storage"
	"github.com/runnerr0/procedura/internal/syncer"
	"github.com/runnerr0/procedura/internal/transport"
	"github.com/runnerr0/procedura/internal/types"
)

// connectivityInterval is how often the remote store is probed.
const connectivityInterval = 30 * time.Second

var errNoBrowser = errors.New("no browser attached")

// detachedTabs stands in for the browser under --no-browser.
type detachedTabs struct{}

func (detachedTabs) Inject(context.Context, int) error { return errNoBrowser }

func (detachedTabs) Notify(context.Context, int, protocol.Request) error { return errNoBrowser }

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	cfg := loadConfig(c.globals)
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	logger := log.InitializeDefaultLogger(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextWithLogger(ctx, logger)

	store, db, err := openStore(c.globals)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()

	return c.run(ctx, cfg, store)
}

func (c *ServeCommand) run(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) error {
	logger := log.LoggerFromContext(ctx)
	logger.Info("starting procedura", slog.String("version", c.version))

	settings, err := applySettings(ctx, store, cfg.Recording)
	if err != nil {
		return err
	}

	conn, err := transport.Connect(cfg.Transport, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	client := remote.New(cfg.Remote, cfg.Sync.Bucket, store, logger)
	if cfg.Remote.URL == "" {
		logger.Warn("remote.url is not set, recordings will stay in the offline queue")
	}

	var tabs recording.Tabs = detachedTabs{}
	var host *browser.Host
	if !c.NoBrowser {
		engineCfg := capture.Config{
			InputDebounce: cfg.Recording.InputDebounce(),
			CaptureDelay:  time.Duration(settings.CaptureDelay) * time.Millisecond,
			ShowIndicator: cfg.Recording.ShowIndicator,
			SensitiveURLs: privacy.NewURLMatcher(cfg.Privacy.SensitiveURLPatterns),
			Logger:        logger,
		}
		host, err = browser.Connect(ctx, cfg.Browser, engineCfg, logger)
		if err != nil {
			return err
		}
		defer host.Close()
		host.SetCompression(settings.CompressScreenshots)
		tabs = host
	}

	var d *background.Dispatcher
	pipeline := syncer.New(cfg.Sync, client, client, store,
		syncer.DropNotifierFunc(func(ctx context.Context, rec types.QueuedRecording) {
			d.RecordingDropped(ctx, rec)
		}),
		logger)
	defer pipeline.Close()

	deps := background.Deps{
		Recorder:     recording.New(store, tabs, logger),
		Sync:         pipeline,
		Tabs:         tabs,
		Auth:         client,
		Badge:        badge.NewTerminal(os.Stdout),
		Broadcaster:  transport.NewBroadcaster(conn),
		Auditor:      store,
		Settings:     store,
		DefaultTitle: cfg.Recording.DefaultTitle,
		Logger:       logger,
	}
	if host != nil {
		deps.Browser = host
	}
	d = background.New(deps)

	if host != nil {
		host.SetMessenger(d.Messenger)
		host.OnNavigate(d.TabUpdated)
	}

	if err := d.Init(ctx); err != nil {
		return fmt.Errorf("init background: %w", err)
	}

	server := transport.NewServer(conn, d)
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer server.Stop()
	if err := server.OnConnectivity(func(online bool) {
		pipeline.SetOnline(ctx, online)
	}); err != nil {
		return err
	}

	if cfg.Remote.URL != "" {
		go background.WatchConnectivity(ctx, client, pipeline, connectivityInterval, logger)
	}

	logger.Info("procedura ready", slog.String("subject", conn.Subjects().Request()))
	<-ctx.Done()
	logger.Info("shutting down")
	d.Wait()
	return nil
}

// applySettings folds the recording section of the config into the stored
// settings and returns the result.
func applySettings(ctx context.Context, store *storage.SQLiteStore, rc config.RecordingConfig) (types.Settings, error) {
	settings, err := store.LoadSettings(ctx)
	if err != nil {
		return settings, fmt.Errorf("load settings: %w", err)
	}
	if rc.MaxSteps > 0 {
		settings.MaxStepsPerRecording = rc.MaxSteps
	}
	settings.ShowRecordingIndicator = rc.ShowIndicator
	if err := store.SaveSettings(ctx, settings); err != nil {
		return settings, fmt.Errorf("save settings: %w", err)
	}
	return settings, nil
}
