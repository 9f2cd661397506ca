// Package daemon runs the long-lived warden process: the intake watcher, the
// periodic SLA sweep, metrics collection, and quarantine recovery loops, plus
// the IPC surface used by the CLI.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/apiforge/warden/internal/events"
	"github.com/apiforge/warden/internal/ipc"
	"github.com/apiforge/warden/internal/lock"
	"github.com/apiforge/warden/internal/model"
	"github.com/apiforge/warden/internal/monitor"
	"github.com/apiforge/warden/internal/notify"
	"github.com/apiforge/warden/internal/quality"
	"github.com/apiforge/warden/internal/quarantine"
	"github.com/apiforge/warden/internal/sla"
	"github.com/apiforge/warden/internal/store"
)

// Daemon is the main warden daemon process.
type Daemon struct {
	wardenDir string
	config    model.Config
	logLevel  model.LogLevel
	logger    *log.Logger
	logFile   io.Closer

	fileLock *lock.FileLock
	server   *ipc.Server
	watcher  *fsnotify.Watcher

	sweepTicker   *time.Ticker
	collectTicker *time.Ticker
	recoverTicker *time.Ticker

	engine     *quality.Engine
	quarantine *quarantine.Manager
	store      *store.Store
	slaService *sla.Service
	monitor    *monitor.Monitor
	bus        *events.Bus
	handler    *events.Handler
	intake     *IntakeHandler

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// New creates a new Daemon instance.
func New(wardenDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(wardenDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(wardenDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(wardenDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	level := model.ParseLogLevel(cfg.Logging.Level)
	logger := log.New(w, "", 0)

	engine := quality.NewEngine(cfg.Quality)
	st := store.New(filepath.Join(wardenDir, "state"))
	qm := quarantine.NewManager(resolvePath(wardenDir, cfg.Quarantine.Root),
		cfg.Quarantine.MaxRecoveryAttempts, engine, logger, level)

	fanout := notify.NewFanout(buildSenders(cfg.Notify, logger),
		time.Duration(cfg.Notify.WebhookTimeout)*time.Second, logger, level)
	slaService := sla.NewService(st, fanout, logger, level)

	audit, err := events.NewAuditLogger(filepath.Join(wardenDir, "audit"), 0)
	if err != nil {
		cancel()
		return nil, err
	}
	handler, err := events.NewHandler(slaService, st, audit, logger, level)
	if err != nil {
		cancel()
		return nil, err
	}

	d := &Daemon{
		wardenDir:     wardenDir,
		config:        cfg,
		logLevel:      level,
		logger:        logger,
		logFile:       closer,
		fileLock:      lock.NewFileLock(filepath.Join(wardenDir, "locks", "daemon.lock")),
		server:        ipc.NewServer(filepath.Join(wardenDir, ipc.DefaultSocketName), logger, level),
		sweepTicker:   time.NewTicker(time.Duration(cfg.Sla.SweepIntervalMin) * time.Minute),
		collectTicker: time.NewTicker(time.Duration(cfg.Monitor.CollectIntervalMin) * time.Minute),
		recoverTicker: time.NewTicker(time.Duration(cfg.Sla.RecoveryIntervalMin) * time.Minute),
		engine:        engine,
		quarantine:    qm,
		store:         st,
		slaService:    slaService,
		monitor:       monitor.New(engine, qm, st, resolvePath(wardenDir, cfg.Quality.CollectionDir), logger, level),
		bus:           events.NewBus(100),
		handler:       handler,
		ctx:           ctx,
		cancel:        cancel,
	}
	d.intake = NewIntakeHandler(
		resolvePath(wardenDir, cfg.Quality.IntakeDir),
		resolvePath(wardenDir, cfg.Quality.CollectionDir),
		engine, qm, d.bus, logger, level,
	)

	return d, nil
}

// resolvePath anchors relative config paths at the warden data directory.
func resolvePath(wardenDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(wardenDir, p)
}

func buildSenders(cfg model.NotifyConfig, logger *log.Logger) []notify.Sender {
	var senders []notify.Sender
	if cfg.LogEnabled {
		senders = append(senders, notify.NewLogSender(logger))
	}
	if cfg.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.WebhookURL, time.Duration(cfg.WebhookTimeout)*time.Second))
	}
	if cfg.DesktopEnabled {
		senders = append(senders, notify.NewDesktopSender())
	}
	if len(senders) == 0 {
		senders = append(senders, notify.NewLogSender(logger))
	}
	return senders
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	// Step 1: Acquire file lock
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(model.LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	if err := d.store.EnsureLayout(); err != nil {
		d.cleanup()
		return err
	}
	if err := d.quarantine.EnsureLayout(); err != nil {
		d.cleanup()
		return err
	}

	// Step 2: Init fsnotify watcher over the intake directory
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	for _, dir := range []string{d.intake.intakeDir, d.intake.collectionDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			d.cleanup()
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}
	if err := watcher.Add(d.intake.intakeDir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", d.intake.intakeDir, err)
	}

	// Step 3: Attach the SLA event handler to the bus
	detach := d.handler.AttachTo(d.bus)
	defer detach()

	// Step 4: Register IPC handlers and start the server
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start IPC server: %w", err)
	}

	// Step 5: Start background loops
	d.wg.Add(2)
	go d.fsnotifyLoop()
	go d.tickerLoop()

	// Step 6: Sweep anything already sitting in intake
	d.intake.ScanIntake(d.ctx)
	d.log(model.LogLevelInfo, "daemon ready")

	// Step 7: Wait for signals
	d.waitSignals()

	return nil
}

// registerHandlers registers IPC request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle(ipc.CommandPing, func(req *ipc.Request) *ipc.Response {
		return ipc.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle(ipc.CommandSweep, func(req *ipc.Request) *ipc.Response {
		transitions, err := d.slaService.CheckBreaches(d.ctx)
		if err != nil {
			return ipc.ErrorResponse(ipc.ErrCodeInternal, err.Error())
		}
		return ipc.SuccessResponse(map[string]any{"transitions": transitions})
	})

	d.server.Handle(ipc.CommandCollect, func(req *ipc.Request) *ipc.Response {
		snap, err := d.monitor.Collect(d.ctx)
		if err != nil {
			return ipc.ErrorResponse(ipc.ErrCodeInternal, err.Error())
		}
		return ipc.SuccessResponse(snap)
	})

	d.server.Handle(ipc.CommandRecover, func(req *ipc.Request) *ipc.Response {
		report, err := d.runRecovery()
		if err != nil {
			return ipc.ErrorResponse(ipc.ErrCodeInternal, err.Error())
		}
		return ipc.SuccessResponse(report)
	})

	d.server.Handle(ipc.CommandStats, func(req *ipc.Request) *ipc.Response {
		stats, err := d.quarantine.Stats()
		if err != nil {
			return ipc.ErrorResponse(ipc.ErrCodeInternal, err.Error())
		}
		return ipc.SuccessResponse(stats)
	})

	d.server.Handle(ipc.CommandReport, func(req *ipc.Request) *ipc.Response {
		report, err := d.monitor.GenerateReport(d.ctx, "week")
		if err != nil {
			return ipc.ErrorResponse(ipc.ErrCodeInternal, err.Error())
		}
		return ipc.SuccessResponse(report)
	})

	d.server.Handle(ipc.CommandShutdown, func(req *ipc.Request) *ipc.Response {
		d.log(model.LogLevelInfo, "shutdown requested via IPC")
		go d.Shutdown()
		return ipc.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

// fsnotifyLoop processes intake filesystem events.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.log(model.LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				d.intake.HandleFileEvent(d.ctx, event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(model.LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// tickerLoop drives the periodic SLA sweep, metrics collection, and
// quarantine recovery. Each pass tolerates failure by logging and
// continuing; the loop itself never exits on error.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.sweepTicker.C:
			transitions, err := d.slaService.CheckBreaches(d.ctx)
			if err != nil {
				d.log(model.LogLevelError, "sla_sweep_failed error=%v", err)
				continue
			}
			if len(transitions) > 0 {
				d.log(model.LogLevelInfo, "sla_sweep transitions=%d", len(transitions))
			}
		case <-d.collectTicker.C:
			if _, err := d.monitor.Collect(d.ctx); err != nil {
				d.log(model.LogLevelError, "metrics_collect_failed error=%v", err)
			}
		case <-d.recoverTicker.C:
			if _, err := d.runRecovery(); err != nil {
				d.log(model.LogLevelError, "recovery_pass_failed error=%v", err)
			}
		}
	}
}

// runRecovery executes one quarantine recovery pass and persists the run
// report.
func (d *Daemon) runRecovery() (*quarantine.BatchReport, error) {
	report, err := d.quarantine.ProcessQuarantined(d.ctx)
	if report != nil {
		saveErr := d.store.AppendRecoveryReport(model.RecoveryRunReport{
			Timestamp:    time.Now().UTC(),
			Processed:    report.Processed,
			Recovered:    report.Recovered,
			Failed:       report.Failed,
			ManualReview: report.ManualReview,
		})
		if saveErr != nil {
			d.log(model.LogLevelWarn, "recovery_report_save_failed error=%v", saveErr)
		}
	}
	return report, err
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.log(model.LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// A second signal skips the graceful drain.
	go func() {
		<-sigCh
		d.log(model.LogLevelWarn, "received second signal, forcing exit")
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(model.LogLevelInfo, "shutdown started")

		// 1. Cancel context (stops accepting new work)
		d.cancel()

		// 2. Stop producers
		d.sweepTicker.Stop()
		d.collectTicker.Stop()
		d.recoverTicker.Stop()
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}
		d.bus.Close()

		// 3. Drain in-flight with timeout
		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 30
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(model.LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(model.LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		// 4. Cleanup
		d.cleanup()
		d.log(model.LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	os.Remove(filepath.Join(d.wardenDir, ipc.DefaultSocketName))
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level model.LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), level, msg)
}
