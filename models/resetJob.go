package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrResetJobNotFound = errors.New("reset job not found")

// FileRef is one entry of a file-deletion payload.
type FileRef struct {
	Path        string      `json:"path"`
	StorageKind StorageKind `json:"storage_kind"`
}

// ResetJob is a durable unit of deferred work owned by one AdminAction.
// PayloadJSON is written once at insert and never updated.
type ResetJob struct {
	ID            uint           `gorm:"primary_key" json:"id"`
	AdminActionId uint           `gorm:"not null;index" json:"admin_action_id"`
	JobType       ResetJobType   `gorm:"size:30;not null" json:"job_type"`
	PayloadJSON   []byte         `gorm:"type:json;not null" json:"-"`
	Status        ResetJobStatus `gorm:"size:20;not null;index;default:pending" json:"status"`
	ErrorMessage  *string        `gorm:"type:text" json:"error_message"`
	WorkerId      *string        `gorm:"size:100" json:"worker_id"`
	StartedAt     *time.Time     `gorm:"index" json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// Files decodes the payload in its original order.
func (j *ResetJob) Files() ([]FileRef, error) {
	var files []FileRef
	if j == nil || len(j.PayloadJSON) == 0 {
		return files, nil
	}
	if err := json.Unmarshal(j.PayloadJSON, &files); err != nil {
		return nil, fmt.Errorf("decode payload of reset job %d: %w", j.ID, err)
	}
	return files, nil
}

// CreateResetJob persists a pending file-deletion job. File existence is not
// checked here; the worker checks at processing time.
func CreateResetJob(ctx context.Context, db *gorm.DB, adminActionId uint, files []FileRef) (*ResetJob, error) {
	if adminActionId == 0 {
		return nil, errors.New("admin action id is required")
	}
	for i, f := range files {
		if strings.TrimSpace(f.Path) == "" {
			return nil, fmt.Errorf("file %d has an empty path", i)
		}
	}
	if files == nil {
		files = []FileRef{}
	}
	payload, err := json.Marshal(files)
	if err != nil {
		return nil, err
	}
	job := &ResetJob{
		AdminActionId: adminActionId,
		JobType:       ResetJobTypeFileDeletion,
		PayloadJSON:   payload,
		Status:        ResetJobStatusPending,
	}
	if err := db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimPendingResetJobs flips up to limit pending jobs to processing.
// Rows are locked with SKIP LOCKED and each flip is guarded by status = pending,
// so concurrent workers never receive the same job.
func ClaimPendingResetJobs(ctx context.Context, db *gorm.DB, limit int, workerId string, now time.Time) ([]*ResetJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	var claimed []*ResetJob
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []*ResetJob
		if err := tx.
			Where("status = ?", ResetJobStatusPending).
			Order("id ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&candidates).Error; err != nil {
			return err
		}
		for _, job := range candidates {
			res := tx.Model(&ResetJob{}).
				Where("id = ? AND status = ?", job.ID, ResetJobStatusPending).
				Updates(map[string]interface{}{
					"status":     ResetJobStatusProcessing,
					"worker_id":  workerId,
					"started_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			job.Status = ResetJobStatusProcessing
			job.WorkerId = &workerId
			startedAt := now
			job.StartedAt = &startedAt
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// FinishResetJob moves processing -> completed (success) or failed.
func FinishResetJob(ctx context.Context, db *gorm.DB, id uint, success bool, errMsg string, now time.Time) error {
	updates := map[string]interface{}{
		"status":        ResetJobStatusCompleted,
		"error_message": nil,
		"completed_at":  now,
	}
	if !success {
		if errMsg == "" {
			errMsg = "unknown error"
		}
		updates["status"] = ResetJobStatusFailed
		updates["error_message"] = errMsg
	}
	res := db.WithContext(ctx).Model(&ResetJob{}).
		Where("id = ? AND status = ?", id, ResetJobStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: reset job %d is not processing", ErrInvalidStatusTransition, id)
	}
	return nil
}

// FailStaleResetJobs marks jobs stuck in processing since before startedBefore
// as failed and returns them. A crashed worker leaves such rows behind.
func FailStaleResetJobs(ctx context.Context, db *gorm.DB, startedBefore time.Time, now time.Time) ([]*ResetJob, error) {
	var reaped []*ResetJob
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []*ResetJob
		if err := tx.
			Where("status = ? AND started_at IS NOT NULL AND started_at < ?", ResetJobStatusProcessing, startedBefore).
			Order("id ASC").
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&stale).Error; err != nil {
			return err
		}
		msg := "worker lease expired before the job finished"
		for _, job := range stale {
			res := tx.Model(&ResetJob{}).
				Where("id = ? AND status = ?", job.ID, ResetJobStatusProcessing).
				Updates(map[string]interface{}{
					"status":        ResetJobStatusFailed,
					"error_message": msg,
					"completed_at":  now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			job.Status = ResetJobStatusFailed
			job.ErrorMessage = &msg
			reaped = append(reaped, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reaped, nil
}

func GetResetJob(ctx context.Context, db *gorm.DB, id uint) (*ResetJob, error) {
	var job ResetJob
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResetJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func ListResetJobsByAdminAction(ctx context.Context, db *gorm.DB, adminActionId uint) ([]*ResetJob, error) {
	var jobs []*ResetJob
	err := db.WithContext(ctx).
		Where("admin_action_id = ?", adminActionId).
		Order("id ASC").
		Find(&jobs).Error
	return jobs, err
}
