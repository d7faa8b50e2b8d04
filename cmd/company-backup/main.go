// company-backup exports one company's tenant tables to an xlsx workbook in
// the configured storage (GCS when GCS_BUCKET is set, LOCAL_STORAGE_ROOT otherwise).
//
// Usage:
//
//	go run ./cmd/company-backup --company-id=42 --admin-user-id=1
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/mmdatafocus/shop_backend/config"
	"github.com/mmdatafocus/shop_backend/models"
	"github.com/mmdatafocus/shop_backend/utils"
	"github.com/mmdatafocus/shop_backend/workflow"
)

func main() {
	companyID := flag.Uint("company-id", 0, "Required: company id")
	adminUserID := flag.Uint("admin-user-id", 0, "Required: id of the system admin taking the backup")
	flag.Parse()

	if *companyID == 0 || *adminUserID == 0 {
		fmt.Fprintln(os.Stderr, "--company-id and --admin-user-id are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	if _, err := models.GetSystemAdmin(ctx, db, *adminUserID); err != nil {
		fmt.Fprintf(os.Stderr, "admin user %d: %v\n", *adminUserID, err)
		os.Exit(1)
	}

	backup, closeBackup, err := workflow.NewBackupWorkflow(ctx, db, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup storage: %v\n", err)
		os.Exit(1)
	}
	defer closeBackup()

	outcome, err := backup.BackupCompanyData(ctx, *companyID, *adminUserID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		closeBackup()
		os.Exit(1)
	}

	fmt.Printf("Admin action: #%d\n", outcome.AdminActionId)
	fmt.Printf("Reference: %s\n", outcome.Reference)
	tables := make([]string, 0, len(outcome.Counts))
	for t := range outcome.Counts {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Printf("  %s: %d\n", t, outcome.Counts[t])
	}
}
