package models

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/shop_backend/utils"
	"gorm.io/gorm"
)

// foreignKeys back the child-before-parent order of the reset table list.
var foreignKeys = []struct {
	Name, Table, Column, RefTable string
}{
	{"fk_users_company", "users", "company_id", "companies"},
	{"fk_products_company", "products", "company_id", "companies"},
	{"fk_customers_company", "customers", "company_id", "companies"},
	{"fk_product_images_product", "product_images", "product_id", "products"},
	{"fk_stock_movements_product", "stock_movements", "product_id", "products"},
	{"fk_pos_sales_customer", "pos_sales", "customer_id", "customers"},
	{"fk_pos_sale_items_sale", "pos_sale_items", "pos_sale_id", "pos_sales"},
	{"fk_pos_sale_items_product", "pos_sale_items", "product_id", "products"},
	{"fk_swaps_customer", "swaps", "customer_id", "customers"},
	{"fk_swapped_items_swap", "swapped_items", "swap_id", "swaps"},
	{"fk_repairs_customer", "repairs", "customer_id", "customers"},
	{"fk_repair_attachments_repair", "repair_attachments", "repair_id", "repairs"},
	{"fk_reset_jobs_admin_action", "reset_jobs", "admin_action_id", "admin_actions"},
}

func MigrateTable(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).AutoMigrate(
		&Company{}, &User{},
		&Category{}, &Brand{},
		&Product{}, &ProductImage{}, &StockMovement{},
		&Customer{}, &Supplier{},
		&PosSale{}, &PosSaleItem{},
		&Swap{}, &SwappedItem{},
		&Repair{}, &RepairAttachment{},
		&Expense{}, &SmsLog{},
		&AdminAction{}, &ResetJob{},
	)
	if err != nil {
		return err
	}

	for _, fk := range foreignKeys {
		stmt := fmt.Sprintf("ALTER TABLE `%s` ADD CONSTRAINT `%s` FOREIGN KEY (`%s`) REFERENCES `%s` (`id`)",
			fk.Table, fk.Name, fk.Column, fk.RefTable)
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil && !utils.IsIgnorableMySQLError(err) {
			return fmt.Errorf("add foreign key %s: %w", fk.Name, err)
		}
	}

	// The worker claims with status = ? ORDER BY id.
	if err := db.WithContext(ctx).Exec("CREATE INDEX `idx_reset_jobs_status_id` ON `reset_jobs` (`status`, `id`)").Error; err != nil && !utils.IsIgnorableMySQLError(err) {
		return fmt.Errorf("create reset job claim index: %w", err)
	}
	return nil
}
