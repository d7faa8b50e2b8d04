package workflow

import (
	"fmt"
	"strings"

	"github.com/mmdatafocus/shop_backend/config"
)

// TenantTablesVersion changes whenever TenantTables or SystemTables change.
const TenantTablesVersion = 3

// TableScope is one table a reset touches. Counting, file collection and
// deleting all build their WHERE clause from the same scope.
type TableScope struct {
	Table string
	// Filter is ANDed with the company predicate. Empty means no extra filter.
	Filter string
}

// predicate returns the WHERE clause for companyId, or for every tenant when
// companyId is nil.
func (s TableScope) predicate(companyId *uint) (string, []interface{}) {
	var parts []string
	var args []interface{}
	if companyId != nil {
		parts = append(parts, "company_id = ?")
		args = append(args, *companyId)
	}
	if s.Filter != "" {
		parts = append(parts, s.Filter)
	}
	if len(parts) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(parts, " AND "), args
}

func (s TableScope) countSQL(where string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM `%s` WHERE %s", s.Table, where)
}

func (s TableScope) deleteSQL(where string) string {
	return fmt.Sprintf("DELETE FROM `%s` WHERE %s LIMIT ?", s.Table, where)
}

// TenantTables lists every tenant-scoped table, children before parents.
// It is never derived from the live schema: a new tenant table is only reset
// once it is added here.
var TenantTables = []TableScope{
	{Table: "pos_sale_items"},
	{Table: "pos_sales"},
	{Table: "swapped_items"},
	{Table: "swaps"},
	{Table: "repair_attachments"},
	{Table: "repairs"},
	{Table: "stock_movements"},
	{Table: "product_images"},
	{Table: "products"},
	{Table: "customers"},
	{Table: "suppliers"},
	{Table: "expenses"},
	{Table: "sms_logs"},
}

func init() {
	names := make([]string, 0, len(TenantTables))
	for _, s := range TenantTables {
		names = append(names, s.Table)
	}
	config.RegisterTenantTables(names...)
}

// SystemTables run after TenantTables in a system reset only.
// System admins have no company_id and are never matched.
var SystemTables = []TableScope{
	{Table: "users", Filter: "company_id IS NOT NULL"},
	{Table: "companies"},
}

// PreservedTables must never appear in TenantTables. companies and users are
// only cleared through SystemTables.
var PreservedTables = []string{
	"companies",
	"users",
	"categories",
	"brands",
	"admin_actions",
	"reset_jobs",
}

// FileSource is a tenant table whose rows point at stored files.
type FileSource struct {
	Table      string
	PathColumn string
	KindColumn string
}

var FileSources = map[string]FileSource{
	"product_images":     {Table: "product_images", PathColumn: "path", KindColumn: "storage_kind"},
	"repair_attachments": {Table: "repair_attachments", PathColumn: "path", KindColumn: "storage_kind"},
}

func (f FileSource) selectSQL(where string) string {
	return fmt.Sprintf("SELECT `%s` AS path, `%s` AS storage_kind FROM `%s` WHERE %s ORDER BY id",
		f.PathColumn, f.KindColumn, f.Table, where)
}
