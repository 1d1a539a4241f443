// One-shot task sweep. Runs both the sent-task and pending-task reapers
// once; -dry-run reports what would be failed without writing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nextranet/gateway/acs/internal/database"
	"github.com/nextranet/gateway/acs/internal/logger"
	"github.com/nextranet/gateway/acs/internal/store"
	"github.com/nextranet/gateway/acs/internal/workflow"
	"github.com/nextranet/gateway/acs/pkg/factory"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		dryRun     = flag.Bool("dry-run", false, "Report what would be failed without writing")
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
		cfg.Reaper.DryRun = true
	}

	reaper := workflow.NewReaper(cfg.Reaper, store.NewTaskStore(db), store.NewWorkflowStore(db))

	ctx := context.Background()
	if err := reaper.ReapSent(ctx); err != nil {
		logger.ReaperLog.Errorf("Sent-task sweep failed: %v", err)
		os.Exit(1)
	}
	if err := reaper.ReapPending(ctx); err != nil {
		logger.ReaperLog.Errorf("Pending-task sweep failed: %v", err)
		os.Exit(1)
	}
}
