package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/shop_backend/config"
	"github.com/mmdatafocus/shop_backend/models"
	"github.com/mmdatafocus/shop_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var ErrResetLocked = errors.New("another reset holds the lock")

const systemResetLockName = "reset:system"

// redisResetLockTTL only bounds the Redis hint. Correctness comes from GET_LOCK.
const redisResetLockTTL = 15 * time.Minute

func companyResetLockName(companyId uint) string {
	return fmt.Sprintf("reset:company:%d", companyId)
}

// acquireResetLock takes the MySQL advisory lock.
// NOTE: GET_LOCK is connection-scoped, so conn must be the pinned connection
// that runs the reset transaction.
func acquireResetLock(conn *gorm.DB, name string, timeout time.Duration) error {
	seconds := int(timeout / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	var ok int
	if err := conn.Raw("SELECT GET_LOCK(?, ?)", name, seconds).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("%w: %s", ErrResetLocked, name)
	}
	return nil
}

func releaseResetLock(conn *gorm.DB, name string) {
	var released int
	if err := conn.Raw("SELECT RELEASE_LOCK(?)", name).Scan(&released).Error; err != nil || released != 1 {
		config.GetLogger().WithField("lock", name).Warn("reset lock was not released by this session")
	}
}

// lockCompanyRows runs first in a non-dry reset transaction. A company reset
// holds its company row in share mode and a system reset holds every company
// row exclusively, so the two wait for each other until commit while company
// resets of different companies still run side by side.
func lockCompanyRows(tx *gorm.DB, companyId *uint) error {
	var ids []uint
	var err error
	if companyId == nil {
		err = tx.Raw("SELECT id FROM `companies` FOR UPDATE").Scan(&ids).Error
	} else {
		err = tx.Raw("SELECT id FROM `companies` WHERE id = ? FOR SHARE", *companyId).Scan(&ids).Error
	}
	if err != nil {
		if n := utils.MySQLErrorNumber(err); n == utils.MySQLErrLockWaitTimeout || n == utils.MySQLErrDeadlock {
			return fmt.Errorf("%w: companies row lock: %v", ErrResetLocked, err)
		}
		return fmt.Errorf("lock companies: %w", err)
	}
	if companyId != nil && len(ids) == 0 {
		return models.ErrCompanyNotFound
	}
	return nil
}

// obtainRedisResetLock is best-effort. A lock held elsewhere fails fast with
// ErrResetLocked; Redis being down or unset only logs and returns nil.
func obtainRedisResetLock(ctx context.Context, locker *redislock.Client, logger *logrus.Entry, name string) (*redislock.Lock, error) {
	if locker == nil {
		return nil, nil
	}
	lock, err := locker.Obtain(ctx, "lock:"+name, redisResetLockTTL, nil)
	if err == redislock.ErrNotObtained {
		return nil, fmt.Errorf("%w: %s", ErrResetLocked, name)
	}
	if err != nil {
		logger.WithField("lock", name).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
		return nil, nil
	}
	return lock, nil
}

func releaseRedisResetLock(ctx context.Context, lock *redislock.Lock, logger *logrus.Entry) {
	if lock == nil {
		return
	}
	if err := lock.Release(ctx); err != nil && err != redislock.ErrLockNotHeld {
		logger.Warn("failed to release redis lock: " + err.Error())
	}
}
