// One-shot workflow scheduler pass. Useful for operating the control
// loop by hand: run it with -dry-run to see what the next tick would
// dispatch without creating any tasks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nextranet/gateway/acs/internal/connreq"
	"github.com/nextranet/gateway/acs/internal/database"
	"github.com/nextranet/gateway/acs/internal/groups"
	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/store"
	"github.com/nextranet/gateway/acs/internal/workflow"
	"github.com/nextranet/gateway/acs/pkg/factory"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		dryRun     = flag.Bool("dry-run", false, "Report what would be dispatched without writing")
	)
	flag.Parse()

	cfg, err := factory.InitConfigFactory(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.SetLogLevel(cfg.Logger.Level)

	db, err := database.Open(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close(db)

	if *dryRun {
		cfg.Scheduler.DryRun = true
	}

	devices := store.NewDeviceStore(db)
	tasks := store.NewTaskStore(db)
	workflows := store.NewWorkflowStore(db)
	matcher := groups.NewMatcher(db, store.NewGroupStore(db))
	executor := workflow.NewExecutor(tasks, workflows, devices, connreq.NewHTTPDispatcher(cfg.ConnReq))
	scheduler := workflow.NewScheduler(cfg.Scheduler, workflows, devices, matcher, executor)

	if err := scheduler.Tick(context.Background()); err != nil {
		logger.SchedulerLog.Errorf("Scheduler pass failed: %v", err)
		os.Exit(1)
	}
}
