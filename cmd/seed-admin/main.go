// seed-admin creates or updates a system admin (a user without a company).
// Resets never delete these users.
//
// Usage:
//
//	ADMIN_USERNAME=root ADMIN_PASSWORD=... go run ./cmd/seed-admin
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/shop_backend/config"
	"github.com/mmdatafocus/shop_backend/models"
	"github.com/mmdatafocus/shop_backend/utils"
	"gorm.io/gorm"
)

func main() {
	ctx := context.Background()
	username := strings.TrimSpace(os.Getenv("ADMIN_USERNAME"))
	password := os.Getenv("ADMIN_PASSWORD")
	name := strings.TrimSpace(os.Getenv("ADMIN_NAME"))
	if username == "" || password == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_USERNAME and ADMIN_PASSWORD are required")
		os.Exit(1)
	}
	if name == "" {
		name = "System Admin"
	}
	var phone string
	if raw := strings.TrimSpace(os.Getenv("ADMIN_PHONE")); raw != "" {
		normalized, err := utils.NormalizePhoneE164(raw, os.Getenv("ADMIN_NOTIFY_REGION"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid ADMIN_PHONE: %v\n", err)
			os.Exit(1)
		}
		phone = normalized
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if err := models.MigrateTable(ctx, db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}

	active := true
	existing, err := models.GetUserByUsername(ctx, db, username)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			Username: username,
			Name:     name,
			Phone:    phone,
			Password: hashed,
			Role:     models.UserRoleSystemAdmin,
			IsActive: &active,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				fmt.Fprintf(os.Stderr, "username or email %q is already taken; rerun to update it\n", username)
				os.Exit(2)
			}
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created system admin: username=%q id=%d\n", username, u.ID)
		return
	}

	// An existing company user is promoted by detaching it from its company.
	if err := db.WithContext(ctx).Model(&models.User{}).Where("id = ?", existing.ID).Updates(map[string]any{
		"password":   hashed,
		"name":       name,
		"phone":      phone,
		"is_active":  true,
		"company_id": nil,
		"role":       models.UserRoleSystemAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated system admin: username=%q id=%d\n", username, existing.ID)
}
