package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqlerr "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/shop_backend/models"
)

// tenant 42: 5 products, 3 customers, 1 swap, 1 sale.
var tenant42Rows = map[string]int64{
	"products":  5,
	"customers": 3,
	"swaps":     1,
	"pos_sales": 1,
}

func TestResetCompanyData_DryRunOnlyCounts(t *testing.T) {
	db, mock := newMockDB(t)
	notifier := &recordingNotifier{}
	e := newTestEngine(db, notifier)

	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	for _, scope := range TenantTables {
		mock.ExpectQuery(q("SELECT COUNT(*) FROM `" + scope.Table + "` WHERE company_id = ?")).
			WithArgs(uint(42)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tenant42Rows[scope.Table]))
	}
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectAdminActionReload(mock, 7, models.AdminActionTypeCompanyReset, models.AdminActionStatusCompleted)

	out, err := e.ResetCompanyData(context.Background(), 42, ResetOptions{DryRun: true, DeleteFiles: true, AdminUserId: 1})
	if err != nil {
		t.Fatalf("ResetCompanyData: %v", err)
	}
	if !out.Success || !out.DryRun || out.AdminActionId != 7 || out.JobId != nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	for table, want := range tenant42Rows {
		if out.Counts[table] != want {
			t.Fatalf("%s: got %d want %d", table, out.Counts[table], want)
		}
	}
	if len(out.Counts) != len(TenantTables) {
		t.Fatalf("expected a count for every tenant table, got %v", out.Counts)
	}
	if len(notifier.actions) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.actions))
	}
	// No DELETE, GET_LOCK or job insert was expected; any of them would fail here.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResetCompanyData_DeletesInOrderAndEnqueuesFiles(t *testing.T) {
	db, mock := newMockDB(t)
	e := newTestEngine(db, nil)

	rows := map[string]int64{}
	for k, v := range tenant42Rows {
		rows[k] = v
	}
	rows["product_images"] = 2

	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT GET_LOCK(?, ?)")).WithArgs("reset:company:42", 1).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectBegin()
	expectCompanyRowLock(mock, 42)
	for _, scope := range TenantTables {
		n := rows[scope.Table]
		mock.ExpectQuery(q("SELECT COUNT(*) FROM `" + scope.Table + "`")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
		if scope.Table == "product_images" {
			mock.ExpectQuery(q("SELECT `path` AS path, `storage_kind` AS storage_kind FROM `product_images`")).
				WillReturnRows(sqlmock.NewRows([]string{"path", "storage_kind"}).
					AddRow("products/1.jpg", "local").
					AddRow("products/2.jpg", "remote"))
		}
		mock.ExpectExec(q("DELETE FROM `"+scope.Table+"` WHERE company_id = ? LIMIT ?")).
			WithArgs(uint(42), 5000).
			WillReturnResult(sqlmock.NewResult(0, n))
	}
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO `reset_jobs`")).WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec(q("UPDATE `admin_actions` SET `file_cleanup_status`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(q("SELECT RELEASE_LOCK(?)")).WithArgs("reset:company:42").
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))

	out, err := e.ResetCompanyData(context.Background(), 42, ResetOptions{DeleteFiles: true, AdminUserId: 1})
	if err != nil {
		t.Fatalf("ResetCompanyData: %v", err)
	}
	if !out.Success || out.DryRun {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.JobId == nil || *out.JobId != 11 {
		t.Fatalf("expected job 11, got %v", out.JobId)
	}
	for table, want := range rows {
		if out.Counts[table] != want {
			t.Fatalf("%s: got %d want %d", table, out.Counts[table], want)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResetCompanyData_SecondRunReportsZero(t *testing.T) {
	db, mock := newMockDB(t)
	e := newTestEngine(db, nil)

	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT GET_LOCK(?, ?)")).WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectBegin()
	expectCompanyRowLock(mock, 42)
	for _, scope := range TenantTables {
		mock.ExpectQuery(q("SELECT COUNT(*) FROM `" + scope.Table + "`")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(q("DELETE FROM `" + scope.Table + "`")).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(q("SELECT RELEASE_LOCK(?)")).WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))

	out, err := e.ResetCompanyData(context.Background(), 42, ResetOptions{DeleteFiles: true, AdminUserId: 1})
	if err != nil {
		t.Fatalf("ResetCompanyData: %v", err)
	}
	if !out.Success || out.JobId != nil {
		t.Fatalf("expected success without a job, got %+v", out)
	}
	for table, n := range out.Counts {
		if n != 0 {
			t.Fatalf("%s: expected 0, got %d", table, n)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResetCompanyData_FailureOnThirdTableRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	notifier := &recordingNotifier{}
	e := newTestEngine(db, notifier)
	e.tables = TenantTables[:3]

	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT GET_LOCK(?, ?)")).WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectBegin()
	expectCompanyRowLock(mock, 42)
	for i, scope := range e.tables {
		mock.ExpectQuery(q("SELECT COUNT(*) FROM `" + scope.Table + "`")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		if i < 2 {
			mock.ExpectExec(q("DELETE FROM `" + scope.Table + "`")).WillReturnResult(sqlmock.NewResult(0, 2))
			continue
		}
		mock.ExpectExec(q("DELETE FROM `" + scope.Table + "`")).WillReturnError(errors.New("injected delete failure"))
	}
	mock.ExpectRollback()
	mock.ExpectQuery(q("SELECT RELEASE_LOCK(?)")).WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	expectAdminActionReload(mock, 9, models.AdminActionTypeCompanyReset, models.AdminActionStatusFailed)

	out, err := e.ResetCompanyData(context.Background(), 42, ResetOptions{AdminUserId: 1})
	if err == nil {
		t.Fatalf("expected error")
	}
	if out == nil || out.Success || out.AdminActionId != 9 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !strings.Contains(out.Error, "injected delete failure") || !strings.Contains(out.Error, "swapped_items") {
		t.Fatalf("error should name the table and cause, got %q", out.Error)
	}
	if len(out.Counts) != 0 {
		t.Fatalf("a failed run must not report counts, got %v", out.Counts)
	}
	if len(notifier.actions) != 1 || notifier.actions[0].Status != models.AdminActionStatusFailed {
		t.Fatalf("expected a failed notification, got %+v", notifier.actions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResetCompanyData_ValidationWritesNoAudit(t *testing.T) {
	db, mock := newMockDB(t)
	e := newTestEngine(db, nil)

	if _, err := e.ResetCompanyData(context.Background(), 42, ResetOptions{}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
	if _, err := e.ResetCompanyData(context.Background(), 0, ResetOptions{AdminUserId: 1}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions for company 0, got %v", err)
	}

	mock.ExpectQuery(q("SELECT * FROM `companies`")).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err := e.ResetCompanyData(context.Background(), 404, ResetOptions{AdminUserId: 1})
	if !errors.Is(err, models.ErrCompanyNotFound) {
		t.Fatalf("expected ErrCompanyNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResetCompanyData_LockHeldFailsTheAction(t *testing.T) {
	db, mock := newMockDB(t)
	e := newTestEngine(db, nil)

	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT GET_LOCK(?, ?)")).WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(0))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := e.ResetCompanyData(context.Background(), 42, ResetOptions{AdminUserId: 1})
	if !errors.Is(err, ErrResetLocked) {
		t.Fatalf("expected ErrResetLocked, got %v", err)
	}
	if out == nil || out.Success || out.AdminActionId != 3 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResetCompanyData_AuditCompletionFailureRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	e := newTestEngine(db, nil)
	e.tables = TenantTables[:1]

	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT GET_LOCK(?, ?)")).WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectBegin()
	expectCompanyRowLock(mock, 42)
	mock.ExpectQuery(q("SELECT COUNT(*) FROM `pos_sale_items`")).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(q("DELETE FROM `pos_sale_items`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()
	mock.ExpectQuery(q("SELECT RELEASE_LOCK(?)")).WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := e.ResetCompanyData(context.Background(), 42, ResetOptions{AdminUserId: 1})
	if !errors.Is(err, ErrAuditWrite) {
		t.Fatalf("expected ErrAuditWrite, got %v", err)
	}
	if out.Success {
		t.Fatalf("reset must not succeed without its audit record")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResetSystemData_KeepsSystemAdmins(t *testing.T) {
	db, mock := newMockDB(t)
	e := newTestEngine(db, nil)

	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(5, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT GET_LOCK(?, ?)")).WithArgs("reset:system", 1).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT id FROM `companies` FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	for _, scope := range TenantTables {
		mock.ExpectQuery(q("SELECT COUNT(*) FROM `" + scope.Table + "` WHERE 1 = 1")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectExec(q("DELETE FROM `" + scope.Table + "` WHERE 1 = 1 LIMIT ?")).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectQuery(q("SELECT COUNT(*) FROM `users` WHERE company_id IS NOT NULL")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec(q("DELETE FROM `users` WHERE company_id IS NOT NULL LIMIT ?")).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectQuery(q("SELECT COUNT(*) FROM `companies` WHERE 1 = 1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(q("DELETE FROM `companies` WHERE 1 = 1 LIMIT ?")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(q("SELECT RELEASE_LOCK(?)")).WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))

	out, err := e.ResetSystemData(context.Background(), ResetOptions{AdminUserId: 1})
	if err != nil {
		t.Fatalf("ResetSystemData: %v", err)
	}
	if out.Counts["users"] != 4 || out.Counts["companies"] != 2 {
		t.Fatalf("unexpected counts %v", out.Counts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResetSystemData_RejectsBackupFirst(t *testing.T) {
	db, mock := newMockDB(t)
	e := newTestEngine(db, nil)
	if _, err := e.ResetSystemData(context.Background(), ResetOptions{AdminUserId: 1, BackupFirst: true}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteInBatches_RepeatsUntilShortBatch(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec(q("DELETE FROM `products` WHERE company_id = ? LIMIT ?")).WithArgs(uint(42), 2).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("DELETE FROM `products` WHERE company_id = ? LIMIT ?")).WithArgs(uint(42), 2).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(q("DELETE FROM `products` WHERE company_id = ? LIMIT ?")).WithArgs(uint(42), 2).WillReturnResult(sqlmock.NewResult(0, 1))

	scope := TableScope{Table: "products"}
	companyId := uint(42)
	where, args := scope.predicate(&companyId)
	n, err := deleteInBatches(db, scope.deleteSQL(where), args, 2)
	if err != nil {
		t.Fatalf("deleteInBatches: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 rows, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResetCompanyData_CancelledCallerStillRecordsFailure(t *testing.T) {
	db, mock := newMockDB(t)
	notifier := &recordingNotifier{}
	e := newTestEngine(db, notifier)

	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(15, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT GET_LOCK(?, ?)")).
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	expectAdminActionReload(mock, 15, models.AdminActionTypeCompanyReset, models.AdminActionStatusFailed)

	// The client goes away while the reset waits for its lock.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	out, err := e.ResetCompanyData(ctx, 42, ResetOptions{AdminUserId: 1})
	if err == nil {
		t.Fatalf("expected the cancelled reset to fail")
	}
	if out == nil || out.Success || out.AdminActionId != 15 || out.Error == "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(notifier.actions) != 1 || notifier.actions[0].Status != models.AdminActionStatusFailed {
		t.Fatalf("expected a failed notification, got %+v", notifier.actions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("the failure must be recorded after cancellation: %v", err)
	}
}

func TestResetCompanyData_CompanyRowLockTimeoutIsLockContention(t *testing.T) {
	db, mock := newMockDB(t)
	e := newTestEngine(db, nil)

	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(16, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT GET_LOCK(?, ?)")).WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectBegin()
	// A system reset holds every company row.
	mock.ExpectQuery(q("SELECT id FROM `companies` WHERE id = ? FOR SHARE")).
		WithArgs(uint(42)).
		WillReturnError(&mysqlerr.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded; try restarting transaction"})
	mock.ExpectRollback()
	mock.ExpectQuery(q("SELECT RELEASE_LOCK(?)")).WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := e.ResetCompanyData(context.Background(), 42, ResetOptions{AdminUserId: 1})
	if !errors.Is(err, ErrResetLocked) {
		t.Fatalf("expected ErrResetLocked, got %v", err)
	}
	if out == nil || out.Success || len(out.Counts) != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResetCompanyData_CompanyRemovedBeforeLock(t *testing.T) {
	db, mock := newMockDB(t)
	e := newTestEngine(db, nil)

	expectCompanyLookup(mock, 42)
	mock.ExpectExec(q("INSERT INTO `admin_actions`")).WillReturnResult(sqlmock.NewResult(17, 1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("SELECT GET_LOCK(?, ?)")).WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectQuery(q("SELECT id FROM `companies` WHERE id = ? FOR SHARE")).
		WithArgs(uint(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()
	mock.ExpectQuery(q("SELECT RELEASE_LOCK(?)")).WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(1))
	mock.ExpectExec(q("UPDATE `admin_actions`")).WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := e.ResetCompanyData(context.Background(), 42, ResetOptions{AdminUserId: 1}); !errors.Is(err, models.ErrCompanyNotFound) {
		t.Fatalf("expected ErrCompanyNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
