// Package bootstrap assembles the process: configuration, storage, the
// gateway session, the engine, and the background loops, wired in dependency
// order and torn down in reverse.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"guildguard/internal/backup"
	"guildguard/internal/bot"
	"guildguard/internal/config"
	"guildguard/internal/database"
	"guildguard/internal/engine"
	"guildguard/internal/incident"
	"guildguard/internal/metrics"
	"guildguard/internal/neutralize"
	"guildguard/internal/notifier"
	"guildguard/internal/platform"
	"guildguard/internal/quarantine"
	"guildguard/internal/quota"
	"guildguard/internal/repair"
	"guildguard/internal/restore"
	"guildguard/internal/snapshot"
	"guildguard/internal/watchdog"
)

// Watchdog component names and their stall thresholds.
const (
	componentSnapshotLoop = "snapshot_refresh"
	componentBackupLoop   = "backup_writer"
	componentSweepLoop    = "quota_sweep"
)

type App struct {
	Config   *config.Config
	Log      *zap.Logger
	DB       *database.DB
	Session  *bot.Session
	Engine   *engine.Service
	Snaps    *snapshot.Store
	Backups  *backup.Store
	Adapter  *platform.Adapter
	Watchdog *watchdog.Watchdog
	Metrics  *metrics.Metrics

	metricsServer *http.Server
	cancel        context.CancelFunc
}

// New wires every component. The gateway is not yet connected; call Run.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	guilds := config.NewGuildStore()
	if err := db.SyncGuildStore(guilds); err != nil {
		db.Close()
		return nil, fmt.Errorf("hydrate guild store: %w", err)
	}

	session, err := bot.NewSession(cfg.Bot.Token, log.Named("bot"))
	if err != nil {
		db.Close()
		return nil, err
	}
	selfID, err := session.FetchSelf()
	if err != nil {
		db.Close()
		return nil, err
	}

	adapter := platform.NewAdapter(session.Discord(), cfg.Platform.MutationsPerSecond, log.Named("platform"))
	snaps := snapshot.NewStore(log.Named("snapshot"))
	backups := backup.NewStore(db, log.Named("backup"))
	repairLock := repair.NewLock()
	mets := metrics.New()
	bus := notifier.NewBus()

	restorer := restore.NewEngine(snaps, backups, adapter, restore.Options{
		WarnAge:        cfg.Backup.WarnAge,
		RejectAge:      cfg.Backup.RejectAge,
		SweepWindow:    cfg.Detection.SweepWindow,
		ChannelCeiling: cfg.Platform.ChannelCeiling,
	}, log.Named("restore"))
	restorer.MarkSelf = repairLock.MarkSelfAction

	eng := engine.NewService(engine.Deps{
		SelfID:           selfID,
		DetectionEnabled: cfg.Detection.Enabled,
		Guilds:           guilds,
		Quota:            quota.NewTracker(),
		Repair:           repairLock,
		Snapshots:        snaps,
		Quarantine:       quarantine.NewController(adapter, log.Named("quarantine")),
		Neutralizer:      neutralize.NewNeutralizer(adapter, log.Named("neutralize")),
		Restorer:         restorer,
		Ledger:           incident.NewLedger(db, log.Named("incident")),
		Profiles:         db,
		Lister:           adapter,
		Roles:            adapter,
		Metrics:          mets,
		Bus:              bus,
		Alerter:          notifier.NewDiscord(session.Discord(), log.Named("notifier")),
		Log:              log.Named("engine"),
	})

	session.Bind(eng, snaps, adapter)

	wd := watchdog.New(30*time.Second, log.Named("watchdog"))
	wd.Register(componentSnapshotLoop, 3*cfg.Snapshot.RefreshInterval)
	wd.Register(componentBackupLoop, 3*cfg.Backup.Interval)
	wd.Register(componentSweepLoop, 5*time.Minute)

	return &App{
		Config:   cfg,
		Log:      log,
		DB:       db,
		Session:  session,
		Engine:   eng,
		Snaps:    snaps,
		Backups:  backups,
		Adapter:  adapter,
		Watchdog: wd,
		Metrics:  mets,
	}, nil
}

// Run connects the gateway and starts the background loops. It returns once
// everything is started; Shutdown stops it.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Session.SetupHandlers()
	if err := a.Session.Connect(); err != nil {
		cancel()
		return err
	}
	if err := a.Session.RegisterCommands(); err != nil {
		a.Log.Warn("command registration failed", zap.Error(err))
	}

	go a.Snaps.RunRefreshLoop(ctx, a.Config.Snapshot.RefreshInterval, a.Adapter,
		a.Watchdog.Beat(componentSnapshotLoop))
	go a.Backups.RunWriteLoop(ctx, a.Config.Backup.Interval, a.Snaps,
		a.Watchdog.Beat(componentBackupLoop))
	go a.Engine.RunSweeps(ctx, 15*time.Second, a.Watchdog.Beat(componentSweepLoop))
	go a.Watchdog.Run(ctx)

	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		a.metricsServer = &http.Server{Addr: addr, Handler: a.Metrics.Handler()}
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.Log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	a.Log.Info("started",
		zap.Duration("snapshot_refresh", a.Config.Snapshot.RefreshInterval),
		zap.Duration("backup_interval", a.Config.Backup.Interval),
		zap.Bool("detection_enabled", a.Config.Detection.Enabled))
	return nil
}

// Shutdown stops loops, disconnects the gateway, and closes storage.
func (a *App) Shutdown() {
	a.Log.Info("shutting down")
	if a.cancel != nil {
		a.cancel()
	}
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.Log.Warn("metrics server shutdown", zap.Error(err))
		}
		cancel()
	}
	if err := a.Session.Close(); err != nil {
		a.Log.Warn("gateway close", zap.Error(err))
	}
	if err := a.DB.Close(); err != nil {
		a.Log.Warn("database close", zap.Error(err))
	}
	a.Log.Info("shutdown complete")
}
