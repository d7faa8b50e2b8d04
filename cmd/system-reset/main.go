// system-reset removes every company, every company user and all tenant data.
// System admins (users without a company) are kept.
//
// Usage:
//
//	go run ./cmd/system-reset --admin-user-id=1
//	go run ./cmd/system-reset --admin-user-id=1 --dry-run=false --confirm=RESET-ALL
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
	adminUserID := flag.Uint("admin-user-id", 0, "Required: id of the system admin running the reset")
	dryRun := flag.Bool("dry-run", true, "Show counts only (no writes besides the audit record)")
	confirm := flag.String("confirm", "", "Type RESET-ALL to proceed when dry-run=false")
	deleteFiles := flag.Bool("delete-files", false, "Queue referenced image files for deletion")
	backupRef := flag.String("backup-reference", "", "Reference of a backup taken elsewhere")
	flag.Parse()

	if *adminUserID == 0 {
		fmt.Fprintln(os.Stderr, "--admin-user-id is required")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "RESET-ALL" {
		fmt.Fprintln(os.Stderr, "set --confirm=RESET-ALL to proceed")
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

	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	if _, err := models.GetSystemAdmin(ctx, db, *adminUserID); err != nil {
		fmt.Fprintf(os.Stderr, "admin user %d: %v\n", *adminUserID, err)
		os.Exit(1)
	}

	engine := workflow.NewResetEngine(db, nil)
	outcome, err := engine.ResetSystemData(ctx, workflow.ResetOptions{
		DryRun:          *dryRun,
		DeleteFiles:     *deleteFiles,
		AdminUserId:     *adminUserID,
		BackupReference: strings.TrimSpace(*backupRef),
	})
	if outcome != nil {
		out, _ := json.MarshalIndent(outcome, "", "  ")
		fmt.Println(string(out))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "system reset failed: %v\n", err)
		os.Exit(1)
	}

	if !*dryRun {
		admins, err := models.CountSystemAdmins(ctx, db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "count system admins: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("System admins remaining: %d\n", admins)
	}
}
