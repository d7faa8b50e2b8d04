// file-cleanup-worker deletes the image files queued by resets. Run it from
// cron; each run claims up to --limit pending jobs.
//
// Individual file failures are recorded on the job and do not change the exit
// code. The worker exits 1 only when it cannot reach its own infrastructure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmdatafocus/shop_backend/config"
	"github.com/mmdatafocus/shop_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	limit := flag.Int("limit", config.FileCleanupBatchLimit(), "Max jobs to claim in this run")
	reapStale := flag.Bool("reap-stale", true, "Fail jobs stuck in processing longer than FILE_CLEANUP_LEASE_SECONDS")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	worker, closeWorker, err := workflow.NewFileCleanupWorker(ctx, db, nil)
	if err != nil {
		config.LogError(logger, "file-cleanup-worker", "main", "NewFileCleanupWorker", nil, err)
		os.Exit(1)
	}
	defer closeWorker()

	if *reapStale {
		reaped, err := worker.ReapStaleJobs(ctx, config.FileCleanupLease())
		if err != nil {
			config.LogError(logger, "file-cleanup-worker", "main", "ReapStaleJobs", nil, err)
			closeWorker()
			os.Exit(1)
		}
		if len(reaped) > 0 {
			logger.WithFields(logrus.Fields{"reaped": len(reaped)}).Warn("failed stale file deletion jobs")
		}
	}

	outcomes, err := worker.ProcessPendingJobs(ctx, *limit)
	if err != nil {
		config.LogError(logger, "file-cleanup-worker", "main", "ProcessPendingJobs", nil, err)
		closeWorker()
		os.Exit(1)
	}

	var failed int
	for _, o := range outcomes {
		if !o.Success {
			failed++
		}
	}
	logger.WithFields(logrus.Fields{
		"processed": len(outcomes),
		"failed":    failed,
	}).Info("file cleanup run finished")
}
