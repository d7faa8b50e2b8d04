package workflow

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mmdatafocus/shop_backend/config"
	"github.com/mmdatafocus/shop_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	return db, mock
}

// newGuardedMockDB opens through config.OpenWithDialector so the tenant guard
// is installed like in production.
func newGuardedMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := config.OpenWithDialector(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}))
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	return db, mock
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu      sync.Mutex
	actions []*models.AdminAction
}

func (n *recordingNotifier) NotifyAdminAction(ctx context.Context, action *models.AdminAction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.actions = append(n.actions, action)
	return nil
}

func expectCompanyLookup(mock sqlmock.Sqlmock, companyId uint) {
	mock.ExpectQuery(q("SELECT * FROM `companies`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(companyId, "Shop"))
}

func expectCompanyRowLock(mock sqlmock.Sqlmock, companyId uint) {
	mock.ExpectQuery(q("SELECT id FROM `companies` WHERE id = ? FOR SHARE")).
		WithArgs(companyId).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(companyId))
}

func expectAdminActionReload(mock sqlmock.Sqlmock, id uint, actionType models.AdminActionType, status models.AdminActionStatus) {
	mock.ExpectQuery(q("SELECT * FROM `admin_actions`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "action_type", "admin_user_id", "status"}).
			AddRow(id, string(actionType), 1, string(status)))
}

func newTestEngine(db *gorm.DB, notifier Notifier) *ResetEngine {
	return &ResetEngine{
		DB:          db,
		Logger:      quietLogger(),
		Notifier:    notifier,
		Now:         func() time.Time { return fixedNow },
		BatchSize:   5000,
		LockTimeout: time.Second,
	}
}
