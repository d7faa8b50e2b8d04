package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mmdatafocus/shop_backend/models"
	"github.com/mmdatafocus/shop_backend/utils"
	"github.com/xuri/excelize/v2"
)

type failingStore struct{}

func (failingStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return errors.New("bucket not writable")
}

func (failingStore) Delete(ctx context.Context, key string) error { return nil }

func TestBackupCompanyData_WritesWorkbook(t *testing.T) {
	db, mock := newGuardedMockDB(t)
	root := t.TempDir()
	b := &BackupWorkflow{
		DB:          db,
		Logger:      quietLogger(),
		Store:       utils.NewLocalStorage(root),
		StorageKind: models.StorageKindLocal,
		Now:         func() time.Time { return fixedNow },
		tables:      []TableScope{{Table: "products"}, {Table: "customers"}},
	}

	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT * FROM `products` WHERE `products`.`company_id` = ? ORDER BY id")).
		WithArgs(uint(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "name"}).
			AddRow(1, 42, "iPhone 12").
			AddRow(2, 42, "Galaxy S21"))
	mock.ExpectQuery(q("SELECT * FROM `customers` WHERE `customers`.`company_id` = ? ORDER BY id")).
		WithArgs(uint(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "name"}).AddRow(1, 42, "Aung"))
	mock.ExpectCommit()
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := b.BackupCompanyData(context.Background(), 42, 1)
	if err != nil {
		t.Fatalf("BackupCompanyData: %v", err)
	}
	key := BackupObjectKey(42, fixedNow)
	if out.Reference != "local:"+key {
		t.Fatalf("unexpected reference %q", out.Reference)
	}
	if out.Counts["products"] != 2 || out.Counts["customers"] != 1 || out.AdminActionId != 12 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	f, err := excelize.OpenFile(filepath.Join(root, filepath.FromSlash(key)))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	if got := strings.Join(f.GetSheetList(), ","); got != "products,customers" {
		t.Fatalf("unexpected sheets %s", got)
	}
	rows, err := f.GetRows("products")
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}
	if len(rows) != 3 || rows[0][2] != "name" || rows[2][2] != "Galaxy S21" {
		t.Fatalf("unexpected products sheet %v", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBackupCompanyData_StoreFailureFailsAction(t *testing.T) {
	db, mock := newGuardedMockDB(t)
	b := &BackupWorkflow{
		DB:          db,
		Logger:      quietLogger(),
		Store:       failingStore{},
		StorageKind: models.StorageKindRemote,
		Now:         func() time.Time { return fixedNow },
		tables:      []TableScope{{Table: "products"}},
	}

	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(13, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT * FROM `products` WHERE `products`.`company_id` = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id"}))
	mock.ExpectCommit()
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := b.BackupCompanyData(context.Background(), 42, 1)
	if err == nil || !strings.Contains(err.Error(), "bucket not writable") {
		t.Fatalf("expected store error, got %v", err)
	}
	if out == nil || out.AdminActionId != 13 || out.Reference != "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResetCompanyData_BackupFirstFailureWritesNoResetAudit(t *testing.T) {
	db, mock := newGuardedMockDB(t)
	e := newTestEngine(db, nil)
	e.Backup = &BackupWorkflow{
		DB:          db,
		Logger:      quietLogger(),
		Store:       failingStore{},
		StorageKind: models.StorageKindRemote,
		Now:         func() time.Time { return fixedNow },
		tables:      []TableScope{{Table: "products"}},
	}

	expectCompanyLookup(mock, 42)
	// backup action only
	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(14, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT * FROM `products`")).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := e.ResetCompanyData(context.Background(), 42, ResetOptions{AdminUserId: 1, BackupFirst: true})
	if err == nil || out != nil {
		t.Fatalf("expected backup failure to abort the reset, got %+v %v", out, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

type blockingStore struct{}

func (blockingStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingStore) Delete(ctx context.Context, key string) error { return nil }

func TestBackupCompanyData_CancelledUploadStillRecordsFailure(t *testing.T) {
	db, mock := newGuardedMockDB(t)
	notifier := &recordingNotifier{}
	b := &BackupWorkflow{
		DB:          db,
		Logger:      quietLogger(),
		Notifier:    notifier,
		Store:       blockingStore{},
		StorageKind: models.StorageKindRemote,
		Now:         func() time.Time { return fixedNow },
		tables:      []TableScope{{Table: "products"}},
	}

	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(18, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT * FROM `products` WHERE `products`.`company_id` = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id"}).AddRow(1, 42))
	mock.ExpectCommit()
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	expectAdminActionReload(mock, 18, models.AdminActionTypeBackup, models.AdminActionStatusFailed)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	out, err := b.BackupCompanyData(ctx, 42, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the upload deadline, got %v", err)
	}
	if out == nil || out.AdminActionId != 18 || out.Reference != "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(notifier.actions) != 1 || notifier.actions[0].Status != models.AdminActionStatusFailed {
		t.Fatalf("expected a failed notification, got %+v", notifier.actions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("the failure must be recorded after cancellation: %v", err)
	}
}

func TestBackupCompanyData_RequiresTenantGuard(t *testing.T) {
	db, mock := newMockDB(t)
	root := t.TempDir()
	b := &BackupWorkflow{
		DB:          db,
		Logger:      quietLogger(),
		Store:       utils.NewLocalStorage(root),
		StorageKind: models.StorageKindLocal,
		Now:         func() time.Time { return fixedNow },
		tables:      []TableScope{{Table: "products"}},
	}

	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(19, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := b.BackupCompanyData(context.Background(), 42, 1)
	if err == nil || !strings.Contains(err.Error(), "tenant guard") {
		t.Fatalf("expected an unscoped export to be refused, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no tenant rows may be read: %v", err)
	}
}

func TestParseBackupReference(t *testing.T) {
	kind, key, ok := ParseBackupReference("remote:" + BackupObjectKey(42, fixedNow))
	if !ok || kind != models.StorageKindRemote || key != "backups/42/20240501T100000Z.xlsx" {
		t.Fatalf("unexpected parse %q %q %v", kind, key, ok)
	}
	for _, ref := range []string{"", "s3:backups/1.xlsx", "local:", "ticket-123"} {
		if _, _, ok := ParseBackupReference(ref); ok {
			t.Errorf("%q should not parse", ref)
		}
	}
}
