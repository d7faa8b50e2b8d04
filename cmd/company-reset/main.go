// company-reset removes one company's operational data and keeps the company,
// its users, categories and brands. Every run is recorded in admin_actions.
//
// Usage:
//
//	go run ./cmd/company-reset --company-id=42 --admin-user-id=1
//	go run ./cmd/company-reset --company-id=42 --admin-user-id=1 --dry-run=false --confirm=RESET --delete-files
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mmdatafocus/shop_backend/config"
	"github.com/mmdatafocus/shop_backend/models"
	"github.com/mmdatafocus/shop_backend/utils"
	"github.com/mmdatafocus/shop_backend/workflow"
)

func main() {
	companyID := flag.Uint("company-id", 0, "Required: company id")
	adminUserID := flag.Uint("admin-user-id", 0, "Required: id of the system admin running the reset")
	dryRun := flag.Bool("dry-run", true, "Show counts only (no writes besides the audit record)")
	confirm := flag.String("confirm", "", "Type RESET to proceed when dry-run=false")
	deleteFiles := flag.Bool("delete-files", false, "Queue referenced image files for deletion")
	backupFirst := flag.Bool("backup-first", false, "Export the company to a workbook before deleting")
	backupRef := flag.String("backup-reference", "", "Reference of a backup taken elsewhere")
	flag.Parse()

	if *companyID == 0 {
		fmt.Fprintln(os.Stderr, "--company-id is required")
		os.Exit(1)
	}
	if *adminUserID == 0 {
		fmt.Fprintln(os.Stderr, "--admin-user-id is required")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "RESET" {
		fmt.Fprintln(os.Stderr, "set --confirm=RESET to proceed")
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
	config.ConnectRedis(ctx, 3)
	defer config.CloseRedis()
	logger := config.GetLogger()

	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	if _, err := models.GetSystemAdmin(ctx, db, *adminUserID); err != nil {
		fmt.Fprintf(os.Stderr, "admin user %d: %v\n", *adminUserID, err)
		os.Exit(1)
	}

	notifier := workflow.NewDefaultNotifier(logger)
	engine := workflow.NewResetEngine(db, notifier)
	if *backupFirst && !*dryRun {
		backup, closeBackup, err := workflow.NewBackupWorkflow(ctx, db, notifier)
		if err != nil {
			fmt.Fprintf(os.Stderr, "backup storage: %v\n", err)
			os.Exit(1)
		}
		defer closeBackup()
		engine.Backup = backup
	}

	outcome, err := engine.ResetCompanyData(ctx, *companyID, workflow.ResetOptions{
		DryRun:          *dryRun,
		DeleteFiles:     *deleteFiles,
		AdminUserId:     *adminUserID,
		BackupFirst:     *backupFirst,
		BackupReference: strings.TrimSpace(*backupRef),
	})
	if outcome != nil {
		printJSON(outcome)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reset failed: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
