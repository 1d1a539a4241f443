package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/nextranet/gateway/acs/config"
	"github.com/nextranet/gateway/acs/internal/connreq"
	appContext "github.com/nextranet/gateway/acs/internal/context"
	"github.com/nextranet/gateway/acs/internal/cwmp"
	"github.com/nextranet/gateway/acs/internal/database"
	"github.com/nextranet/gateway/acs/internal/groups"
	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/provision"
	"github.com/nextranet/gateway/acs/internal/sbi"
	"github.com/nextranet/gateway/acs/internal/sbi/producer"
	"github.com/nextranet/gateway/acs/internal/store"
	"github.com/nextranet/gateway/acs/internal/workflow"
	"github.com/nextranet/gateway/acs/pkg/factory"
)

// App represents the main application
type App struct {
	cfg        *config.Config
	ctx        context.Context
	cancel     context.CancelFunc
	servers    errgroup.Group
	cwmpServer *http.Server
	sbiServer  *http.Server
	db         *gorm.DB
	jobs       *cron.Cron
	appContext *appContext.Context

	scheduler *workflow.Scheduler
	reaper    *workflow.Reaper
}

// New creates a new App instance
func New(cfgPath string) (*App, error) {
	// Load configuration
	cfg, err := factory.InitConfigFactory(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	if err := logger.InitLogger(&logger.Config{
		Level:           cfg.Logger.Level,
		ReportCaller:    cfg.Logger.ReportCaller,
		File:            cfg.Logger.File,
		RotationCount:   cfg.Logger.RotationCount,
		RotationMaxAge:  cfg.Logger.RotationMaxAge,
		RotationMaxSize: cfg.Logger.RotationMaxSize,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Create context
	ctx, cancel := context.WithCancel(context.Background())

	// Get application context
	appCtx := appContext.GetContext()
	appCtx.SetConfig(cfg)

	app := &App{
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		appContext: appCtx,
	}

	return app, nil
}

// Start starts the application services
func (a *App) Start() error {
	logger.InitLog.Info("Starting Nextranet ACS services...")

	db, err := database.Open(a.cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	a.db = db
	a.appContext.SetDatabaseHealthy(true)

	// Stores and domain services
	devices := store.NewDeviceStore(db)
	tasks := store.NewTaskStore(db)
	sessions := store.NewSessionStore(db)
	groupStore := store.NewGroupStore(db)
	workflows := store.NewWorkflowStore(db)
	matcher := groups.NewMatcher(db, groupStore)
	dispatcher := connreq.NewHTTPDispatcher(a.cfg.ConnReq)
	collector := cwmp.NewCollector(tasks)
	bootstrapper := provision.NewBootstrapper(tasks)

	handler := cwmp.NewHandler(a.cfg.CWMP, cwmp.NewCodec(),
		devices, tasks, sessions, workflows, collector, bootstrapper)

	executor := workflow.NewExecutor(tasks, workflows, devices, dispatcher)
	a.scheduler = workflow.NewScheduler(a.cfg.Scheduler, workflows, devices, matcher, executor)
	a.reaper = workflow.NewReaper(a.cfg.Reaper, tasks, workflows)

	processor := producer.NewProcessor(devices, tasks, sessions, groupStore, workflows, matcher, dispatcher)

	// Background jobs
	if err := a.startJobs(); err != nil {
		return fmt.Errorf("failed to start background jobs: %w", err)
	}

	// Start CWMP server
	a.servers.Go(func() error {
		if err := a.startCWMP(handler); err != nil && err != http.ErrServerClosed {
			logger.InitLog.Errorf("CWMP server error: %v", err)
			return err
		}
		return nil
	})

	// Start SBI server
	a.servers.Go(func() error {
		if err := a.startSBI(processor); err != nil && err != http.ErrServerClosed {
			logger.InitLog.Errorf("SBI server error: %v", err)
			return err
		}
		return nil
	})

	logger.InitLog.Info("All services started successfully")

	// Setup signal handling
	a.setupSignalHandling()

	return nil
}

// startJobs schedules the workflow control loop, the two task sweeps,
// and the database health probe.
func (a *App) startJobs() error {
	// Jobs that outlast their interval are skipped, not stacked.
	a.jobs = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	_, err := a.jobs.AddFunc("@every "+a.cfg.Scheduler.Interval.String(), func() {
		err := a.scheduler.Tick(a.ctx)
		a.appContext.NoteSchedulerRun(err)
	})
	if err != nil {
		return err
	}
	_, err = a.jobs.AddFunc("@every "+a.cfg.Reaper.Interval.String(), func() {
		err := a.reaper.ReapSent(a.ctx)
		a.appContext.NoteReaperRun(err)
	})
	if err != nil {
		return err
	}
	_, err = a.jobs.AddFunc("@every "+a.cfg.Reaper.PendingInterval.String(), func() {
		err := a.reaper.ReapPending(a.ctx)
		a.appContext.NoteReaperRun(err)
	})
	if err != nil {
		return err
	}
	_, err = a.jobs.AddFunc("@every 30s", func() {
		a.appContext.SetDatabaseHealthy(database.Health(a.db) == nil)
	})
	if err != nil {
		return err
	}

	a.jobs.Start()
	return nil
}

// startCWMP starts the device-facing session endpoint
func (a *App) startCWMP(handler *cwmp.Handler) error {
	logger.InitLog.Info("Starting CWMP server...")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.POST(a.cfg.CWMP.Path, handler.Handle)

	bindAddr := fmt.Sprintf("%s:%d", a.cfg.CWMP.BindingIPv4, a.cfg.CWMP.Port)
	if a.cfg.CWMP.BindingIPv6 != "" {
		bindAddr = fmt.Sprintf("[%s]:%d", a.cfg.CWMP.BindingIPv6, a.cfg.CWMP.Port)
	}

	a.cwmpServer = &http.Server{
		Addr:         bindAddr,
		Handler:      router,
		ReadTimeout:  a.cfg.CWMP.ReadTimeout,
		WriteTimeout: a.cfg.CWMP.WriteTimeout,
	}

	logger.InitLog.Infof("CWMP server listening on %s", bindAddr)

	if a.cfg.CWMP.Scheme == "https" && a.cfg.CWMP.TLS != nil {
		return a.cwmpServer.ListenAndServeTLS(a.cfg.CWMP.TLS.Cert, a.cfg.CWMP.TLS.Key)
	}
	return a.cwmpServer.ListenAndServe()
}

// startSBI starts the operator-facing API server
func (a *App) startSBI(processor *producer.Processor) error {
	logger.InitLog.Info("Starting SBI server...")

	if a.cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(sbi.LoggerMiddleware())
	router.Use(sbi.CORSMiddleware())
	router.Use(sbi.RequestIDMiddleware())
	router.Use(sbi.ErrorHandlerMiddleware())

	sbi.InitRouter(router, a.appContext, processor)

	bindAddr := fmt.Sprintf("%s:%d", a.cfg.SBI.BindingIPv4, a.cfg.SBI.Port)
	if a.cfg.SBI.BindingIPv6 != "" {
		bindAddr = fmt.Sprintf("[%s]:%d", a.cfg.SBI.BindingIPv6, a.cfg.SBI.Port)
	}

	a.sbiServer = &http.Server{
		Addr:         bindAddr,
		Handler:      router,
		ReadTimeout:  a.cfg.SBI.ReadTimeout,
		WriteTimeout: a.cfg.SBI.WriteTimeout,
	}

	logger.InitLog.Infof("SBI server listening on %s", bindAddr)

	if a.cfg.SBI.Scheme == "https" && a.cfg.SBI.TLS != nil {
		return a.sbiServer.ListenAndServeTLS(a.cfg.SBI.TLS.Cert, a.cfg.SBI.TLS.Key)
	}
	return a.sbiServer.ListenAndServe()
}

// Stop gracefully stops the application
func (a *App) Stop() {
	logger.InitLog.Info("Stopping application...")

	// Cancel context to stop background tasks
	a.cancel()

	if a.jobs != nil {
		<-a.jobs.Stop().Done()
	}

	// Shutdown HTTP servers with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if a.cwmpServer != nil {
		logger.InitLog.Info("Shutting down CWMP server...")
		if err := a.cwmpServer.Shutdown(shutdownCtx); err != nil {
			logger.InitLog.Errorf("CWMP server shutdown error: %v", err)
		}
	}

	if a.sbiServer != nil {
		logger.InitLog.Info("Shutting down SBI server...")
		if err := a.sbiServer.Shutdown(shutdownCtx); err != nil {
			logger.InitLog.Errorf("SBI server shutdown error: %v", err)
		}
	}

	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			logger.InitLog.Errorf("Database close error: %v", err)
		}
	}

	// Wait for all goroutines to finish
	done := make(chan struct{})
	go func() {
		_ = a.servers.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InitLog.Info("All services stopped gracefully")
	case <-time.After(35 * time.Second):
		logger.InitLog.Warn("Timeout waiting for services to stop")
	}
}

// setupSignalHandling sets up signal handling for graceful shutdown
func (a *App) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.InitLog.Infof("Received signal: %v", sig)

	a.Stop()
}

// Wait blocks until the application is stopped
func (a *App) Wait() {
	_ = a.servers.Wait()
}

// GetConfig returns the application configuration
func (a *App) GetConfig() *config.Config {
	return a.cfg
}

// GetContext returns the application context
func (a *App) GetContext() *appContext.Context {
	return a.appContext
}
