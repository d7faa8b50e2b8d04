package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	ErrAdminActionNotFound     = errors.New("admin action not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// AdminAction is the append-only audit record of one reset or backup invocation.
// Nothing in this package deletes rows from admin_actions.
type AdminAction struct {
	ID                uint               `gorm:"primary_key" json:"id"`
	ActionType        AdminActionType    `gorm:"size:20;not null;index" json:"action_type"`
	TargetCompanyId   *uint              `gorm:"index" json:"target_company_id"`
	AdminUserId       uint               `gorm:"not null;index" json:"admin_user_id"`
	DryRun            bool               `gorm:"not null;default:false" json:"dry_run"`
	Status            AdminActionStatus  `gorm:"size:20;not null;index;default:pending" json:"status"`
	RowCountsJSON     []byte             `gorm:"type:json" json:"-"`
	ErrorMessage      *string            `gorm:"type:text" json:"error_message"`
	BackupReference   *string            `gorm:"size:512" json:"backup_reference"`
	FileCleanupStatus *FileCleanupStatus `gorm:"size:20" json:"file_cleanup_status"`
	CorrelationId     string             `gorm:"size:64;index" json:"correlation_id"`
	StartedAt         *time.Time         `json:"started_at"`
	CompletedAt       *time.Time         `json:"completed_at"`
	CreatedAt         time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// RowCounts decodes the table -> row count mapping. It is empty until the
// action has left pending.
func (a *AdminAction) RowCounts() (map[string]int64, error) {
	counts := map[string]int64{}
	if a == nil || len(a.RowCountsJSON) == 0 || string(a.RowCountsJSON) == "null" {
		return counts, nil
	}
	if err := json.Unmarshal(a.RowCountsJSON, &counts); err != nil {
		return nil, fmt.Errorf("decode row counts of admin action %d: %w", a.ID, err)
	}
	return counts, nil
}

func (a *AdminAction) IsSystemWide() bool {
	return a.TargetCompanyId == nil
}

// CreateAdminAction inserts the record as pending regardless of the Status passed in.
func CreateAdminAction(ctx context.Context, db *gorm.DB, action *AdminAction) error {
	if action == nil {
		return errors.New("admin action is nil")
	}
	if !action.ActionType.IsValid() {
		return fmt.Errorf("invalid admin action type %q", action.ActionType)
	}
	action.Status = AdminActionStatusPending
	action.StartedAt = nil
	action.CompletedAt = nil
	return db.WithContext(ctx).Create(action).Error
}

// MarkAdminActionRunning moves pending -> running.
func MarkAdminActionRunning(ctx context.Context, db *gorm.DB, id uint, now time.Time) error {
	return transitionAdminAction(ctx, db, id, []AdminActionStatus{AdminActionStatusPending}, map[string]interface{}{
		"status":     AdminActionStatusRunning,
		"started_at": now,
	})
}

// CompleteAdminAction moves running -> completed and stores the row counts.
// backupRef is only written when non-nil.
func CompleteAdminAction(ctx context.Context, db *gorm.DB, id uint, counts map[string]int64, backupRef *string, now time.Time) error {
	if counts == nil {
		counts = map[string]int64{}
	}
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{
		"status":          AdminActionStatusCompleted,
		"row_counts_json": countsJSON,
		"error_message":   nil,
		"completed_at":    now,
	}
	if backupRef != nil {
		updates["backup_reference"] = *backupRef
	}
	return transitionAdminAction(ctx, db, id, []AdminActionStatus{AdminActionStatusRunning}, updates)
}

// FailAdminAction moves running -> failed. Partial counts may be attached so the
// audit trail shows how far the run got before the rollback.
func FailAdminAction(ctx context.Context, db *gorm.DB, id uint, errMsg string, counts map[string]int64, now time.Time) error {
	if errMsg == "" {
		errMsg = "unknown error"
	}
	updates := map[string]interface{}{
		"status":        AdminActionStatusFailed,
		"error_message": errMsg,
		"completed_at":  now,
	}
	if counts != nil {
		countsJSON, err := json.Marshal(counts)
		if err != nil {
			return err
		}
		updates["row_counts_json"] = countsJSON
	}
	return transitionAdminAction(ctx, db, id, []AdminActionStatus{AdminActionStatusRunning}, updates)
}

func transitionAdminAction(ctx context.Context, db *gorm.DB, id uint, from []AdminActionStatus, updates map[string]interface{}) error {
	res := db.WithContext(ctx).Model(&AdminAction{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: admin action %d is not in %v", ErrInvalidStatusTransition, id, from)
	}
	return nil
}

// SetAdminActionFileCleanupStatus records the outcome of the linked file job.
// It never touches Status, which is already terminal by the time files are handled.
func SetAdminActionFileCleanupStatus(ctx context.Context, db *gorm.DB, id uint, status FileCleanupStatus) error {
	return db.WithContext(ctx).Model(&AdminAction{}).
		Where("id = ?", id).
		Update("file_cleanup_status", status).Error
}

func GetAdminAction(ctx context.Context, db *gorm.DB, id uint) (*AdminAction, error) {
	var action AdminAction
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&action).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAdminActionNotFound
		}
		return nil, err
	}
	return &action, nil
}

type AdminActionFilter struct {
	ActionType      *AdminActionType
	TargetCompanyId *uint
	Status          *AdminActionStatus
	Limit           int
	Offset          int
}

// ListAdminActions returns newest first. Limit defaults to 50 and is capped at 500.
func ListAdminActions(ctx context.Context, db *gorm.DB, filter AdminActionFilter) ([]*AdminAction, error) {
	q := db.WithContext(ctx).Model(&AdminAction{})
	if filter.ActionType != nil {
		q = q.Where("action_type = ?", *filter.ActionType)
	}
	if filter.TargetCompanyId != nil {
		q = q.Where("target_company_id = ?", *filter.TargetCompanyId)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	var actions []*AdminAction
	err := q.Order("id DESC").Limit(limit).Offset(filter.Offset).Find(&actions).Error
	return actions, err
}
