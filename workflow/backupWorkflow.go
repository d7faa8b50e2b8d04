package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/shop_backend/config"
	"github.com/mmdatafocus/shop_backend/models"
	"github.com/mmdatafocus/shop_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// BackupWorkflow exports one company's tenant tables to an xlsx workbook,
// one sheet per table.
type BackupWorkflow struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	Notifier    Notifier
	Store       utils.ObjectStore
	StorageKind models.StorageKind
	Now         func() time.Time

	tables []TableScope
}

type BackupOutcome struct {
	AdminActionId uint             `json:"admin_action_id"`
	Reference     string           `json:"reference"`
	Counts        map[string]int64 `json:"counts"`
}

// NewBackupWorkflow writes to GCS or to LOCAL_STORAGE_ROOT depending on
// STORAGE_PROVIDER. The returned func releases the storage client.
func NewBackupWorkflow(ctx context.Context, db *gorm.DB, notifier Notifier) (*BackupWorkflow, func(), error) {
	logger := config.GetLogger()
	if notifier == nil {
		notifier = NewDefaultNotifier(logger)
	}
	b := &BackupWorkflow{DB: db, Logger: logger, Notifier: notifier, Now: time.Now}
	switch provider := utils.GetStorageProvider(); provider {
	case utils.StorageProviderGCS:
		gcs, err := utils.NewGCSStorage(ctx, "")
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs storage: %w", err)
		}
		b.Store = gcs
		b.StorageKind = models.StorageKindRemote
		return b, func() { _ = gcs.Close() }, nil
	case utils.StorageProviderLocal:
		b.Store = utils.NewLocalStorage(config.LocalStorageRoot())
		b.StorageKind = models.StorageKindLocal
		return b, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported STORAGE_PROVIDER %q", provider)
	}
}

func (b *BackupWorkflow) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *BackupWorkflow) logger() *logrus.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return config.GetLogger()
}

func (b *BackupWorkflow) tenantTables() []TableScope {
	if b.tables != nil {
		return b.tables
	}
	return TenantTables
}

// BackupObjectKey is where the workbook of companyId taken at t is stored.
func BackupObjectKey(companyId uint, t time.Time) string {
	return fmt.Sprintf("backups/%d/%s.xlsx", companyId, t.UTC().Format("20060102T150405Z"))
}

// ParseBackupReference splits a reference written by BackupCompanyData.
func ParseBackupReference(ref string) (models.StorageKind, string, bool) {
	kind, key, ok := strings.Cut(ref, ":")
	if !ok || key == "" || !models.StorageKind(kind).IsValid() {
		return "", "", false
	}
	return models.StorageKind(kind), key, true
}

// BackupCompanyData records a backup admin action and returns the stored
// reference as "<storage_kind>:<key>".
func (b *BackupWorkflow) BackupCompanyData(ctx context.Context, companyId uint, adminUserId uint) (*BackupOutcome, error) {
	if companyId == 0 || adminUserId == 0 {
		return nil, fmt.Errorf("%w: company id and admin user id are required", ErrInvalidOptions)
	}
	if b.Store == nil {
		return nil, errors.New("backup store is not configured")
	}
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	if _, err := models.GetCompany(ctx, b.DB, companyId); err != nil {
		return nil, err
	}

	start := b.now()
	correlationId := utils.CorrelationIdFromContextOrNew(ctx)
	fields := logrus.Fields{
		"action_type":    models.AdminActionTypeBackup,
		"company_id":     companyId,
		"admin_user_id":  adminUserId,
		"correlation_id": correlationId,
	}

	action := &models.AdminAction{
		ActionType:      models.AdminActionTypeBackup,
		TargetCompanyId: &companyId,
		AdminUserId:     adminUserId,
		CorrelationId:   correlationId,
	}
	if err := models.CreateAdminAction(ctx, b.DB, action); err != nil {
		return nil, fmt.Errorf("%w: create admin action: %w", ErrAuditWrite, err)
	}
	log := b.logger().WithFields(fields).WithField("admin_action_id", action.ID)
	if err := models.MarkAdminActionRunning(ctx, b.DB, action.ID, b.now()); err != nil {
		return nil, fmt.Errorf("%w: mark admin action running: %w", ErrAuditWrite, err)
	}

	outcome := &BackupOutcome{AdminActionId: action.ID}
	reference, counts, err := b.export(ctx, companyId, start)
	// The audit writes below outlive a cancelled caller.
	detached := context.WithoutCancel(ctx)
	if err == nil {
		outcome.Reference = reference
		outcome.Counts = counts
		err = models.CompleteAdminAction(detached, b.DB, action.ID, counts, &reference, b.now())
		if err != nil {
			err = fmt.Errorf("%w: complete admin action: %w", ErrAuditWrite, err)
		}
	}
	if err != nil {
		config.LogError(b.logger(), "BackupWorkflow", "BackupCompanyData", "backup failed", fields, err)
		if failErr := models.FailAdminAction(detached, b.DB, action.ID, err.Error(), counts, b.now()); failErr != nil {
			config.LogError(b.logger(), "BackupWorkflow", "BackupCompanyData", "mark admin action failed", fields, failErr)
		}
		observeAdminAction(models.AdminActionTypeBackup, false, models.AdminActionStatusFailed, b.now().Sub(start))
		b.notify(detached, action.ID, log)
		return outcome, err
	}

	log.WithFields(logrus.Fields{"reference": reference, "counts": counts}).Info("backup completed")
	observeAdminAction(models.AdminActionTypeBackup, false, models.AdminActionStatusCompleted, b.now().Sub(start))
	b.notify(detached, action.ID, log)
	return outcome, nil
}

func (b *BackupWorkflow) notify(ctx context.Context, actionId uint, log *logrus.Entry) {
	if b.Notifier == nil {
		return
	}
	notifyAdminAction(ctx, b.DB, b.Notifier, actionId, log)
}

// export reads every sheet in one read-only transaction so the workbook is a
// single snapshot. The tenant guard limits each read to companyId.
func (b *BackupWorkflow) export(ctx context.Context, companyId uint, at time.Time) (string, map[string]int64, error) {
	if !config.HasTenantGuard(b.DB) {
		return "", nil, errors.New("tenant guard is not installed; refusing to export")
	}
	f := excelize.NewFile()
	defer f.Close()

	scoped := utils.SetSkipTenantScopeInContext(utils.SetCompanyIdInContext(ctx, companyId), false)
	counts := make(map[string]int64, len(b.tenantTables()))
	err := b.DB.WithContext(scoped).Transaction(func(tx *gorm.DB) error {
		for i, scope := range b.tenantTables() {
			if i == 0 {
				if err := f.SetSheetName("Sheet1", scope.Table); err != nil {
					return err
				}
			} else if _, err := f.NewSheet(scope.Table); err != nil {
				return err
			}
			n, err := writeSheet(tx, f, scope)
			if err != nil {
				return fmt.Errorf("export %s: %w", scope.Table, err)
			}
			counts[scope.Table] = n
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return "", counts, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", counts, err
	}
	key := BackupObjectKey(companyId, at)
	if err := b.Store.Put(ctx, key, buf.Bytes(), xlsxContentType); err != nil {
		return "", counts, fmt.Errorf("store backup %s: %w", key, err)
	}
	return string(b.StorageKind) + ":" + key, counts, nil
}

// writeSheet copies the table's rows visible through tx, header first.
func writeSheet(tx *gorm.DB, f *excelize.File, scope TableScope) (int64, error) {
	query := tx.Table(scope.Table)
	if scope.Filter != "" {
		query = query.Where(scope.Filter)
	}
	rows, err := query.Order("id").Rows()
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, err
	}
	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(scope.Table, "A1", &header); err != nil {
		return 0, err
	}

	var n int64
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return n, err
		}
		for i, v := range values {
			values[i] = cellValue(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, int(n)+2)
		if err != nil {
			return n, err
		}
		if err := f.SetSheetRow(scope.Table, cell, &values); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

func cellValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case sql.RawBytes:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return x
	}
}
