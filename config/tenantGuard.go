package config

import (
	"context"
	"strings"
	"sync"

	"github.com/mmdatafocus/shop_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const TenantGuardPluginName = "tenant_guard"

var tenantTables sync.Map

// RegisterTenantTables marks tables as company scoped for statements that
// carry no model, e.g. db.Table("products").
func RegisterTenantTables(names ...string) {
	for _, n := range names {
		tenantTables.Store(n, struct{}{})
	}
}

// TenantGuardPlugin adds `<table>.company_id = ?` to queries, rows, updates
// and deletes when the context carries a company id and the statement targets
// a tenant table (a registered table name or a model with a company_id field).
//
// NOTE: Raw SQL is never rewritten. The reset engine builds its own predicates
// and runs with the skip flag.
type TenantGuardPlugin struct{}

func NewTenantGuardPlugin() *TenantGuardPlugin { return &TenantGuardPlugin{} }

func (p *TenantGuardPlugin) Name() string { return TenantGuardPluginName }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Query().Before("gorm:query").Register("tenant_guard:query", scopeToCompany); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("tenant_guard:row", scopeToCompany); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("tenant_guard:update", scopeToCompany); err != nil {
		return err
	}
	return cb.Delete().Before("gorm:delete").Register("tenant_guard:delete", scopeToCompany)
}

// HasTenantGuard reports whether db was opened with the guard installed.
func HasTenantGuard(db *gorm.DB) bool {
	if db == nil || db.Config == nil {
		return false
	}
	_, ok := db.Plugins[TenantGuardPluginName]
	return ok
}

func scopeToCompany(db *gorm.DB) {
	stmt := db.Statement
	if stmt == nil || stmt.Context == nil {
		return
	}
	companyId, ok := scopedCompany(stmt.Context)
	if !ok || !isTenantStatement(stmt) {
		return
	}
	if where, ok := stmt.Clauses["WHERE"].Expression.(clause.Where); ok && filtersCompany(where.Exprs) {
		return
	}
	stmt.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: stmt.Table, Name: "company_id"}, Value: companyId},
	}})
}

// scopedCompany returns the company a statement must be limited to. The skip
// flag wins over any company id.
func scopedCompany(ctx context.Context) (uint, bool) {
	if skip, _ := appctx.GetBool(ctx, appctx.ContextKeySkipTenantScope); skip {
		return 0, false
	}
	id, ok := appctx.GetUint(ctx, appctx.ContextKeyCompanyId)
	return id, ok && id != 0
}

func isTenantStatement(stmt *gorm.Statement) bool {
	if stmt.Schema != nil {
		_, ok := stmt.Schema.FieldsByDBName["company_id"]
		return ok
	}
	if stmt.Table == "" {
		return false
	}
	_, ok := tenantTables.Load(stmt.Table)
	return ok
}

func filtersCompany(exprs []clause.Expression) bool {
	for _, e := range exprs {
		switch v := e.(type) {
		case clause.Eq:
			if isCompanyColumn(v.Column) {
				return true
			}
		case clause.IN:
			if isCompanyColumn(v.Column) {
				return true
			}
		case clause.AndConditions:
			if filtersCompany(v.Exprs) {
				return true
			}
		case clause.Expr:
			if strings.Contains(strings.ToLower(v.SQL), "company_id") {
				return true
			}
		}
	}
	return false
}

func isCompanyColumn(col interface{}) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, "company_id")
	case clause.Column:
		return strings.EqualFold(c.Name, "company_id")
	}
	return false
}
