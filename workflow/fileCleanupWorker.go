package workflow

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/shop_backend/config"
	"github.com/mmdatafocus/shop_backend/metrics"
	"github.com/mmdatafocus/shop_backend/models"
	"github.com/mmdatafocus/shop_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// FileRemover deletes one stored file. A file that does not exist must be
// reported as deleted (nil error).
type FileRemover interface {
	Delete(ctx context.Context, path string) error
}

type JobOutcome struct {
	JobId         uint     `json:"job_id"`
	AdminActionId uint     `json:"admin_action_id"`
	Success       bool     `json:"success"`
	Error         string   `json:"error,omitempty"`
	Deleted       int      `json:"deleted"`
	Failed        []string `json:"failed,omitempty"`
}

// EnqueueFileDeletionJob stores a pending file_deletion job. Files are not
// checked here. Pass the reset transaction as db to enqueue atomically.
func EnqueueFileDeletionJob(ctx context.Context, db *gorm.DB, adminActionId uint, files []models.FileRef) (uint, error) {
	job, err := models.CreateResetJob(ctx, db, adminActionId, files)
	if err != nil {
		return 0, err
	}
	return job.ID, nil
}

// FileCleanupWorker drains reset_jobs in bounded batches. It is meant to be
// invoked repeatedly by a scheduler.
type FileCleanupWorker struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Notifier Notifier
	Removers map[models.StorageKind]FileRemover
	Tracer   trace.Tracer
	Now      func() time.Time
	WorkerId string
}

// NewFileCleanupWorker registers local storage under LOCAL_STORAGE_ROOT and,
// when GCS_BUCKET is set, remote storage on that bucket.
func NewFileCleanupWorker(ctx context.Context, db *gorm.DB, notifier Notifier) (*FileCleanupWorker, func(), error) {
	logger := config.GetLogger()
	if notifier == nil {
		notifier = NewDefaultNotifier(logger)
	}
	removers := map[models.StorageKind]FileRemover{
		models.StorageKindLocal: utils.NewLocalStorage(config.LocalStorageRoot()),
	}
	cleanup := func() {}
	if strings.TrimSpace(os.Getenv("GCS_BUCKET")) != "" {
		gcs, err := utils.NewGCSStorage(ctx, "")
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs storage: %w", err)
		}
		removers[models.StorageKindRemote] = gcs
		cleanup = func() { _ = gcs.Close() }
	}
	return &FileCleanupWorker{
		DB:       db,
		Logger:   logger,
		Notifier: notifier,
		Removers: removers,
		Tracer:   otel.Tracer("shop-backend-file-cleanup"),
		Now:      time.Now,
		WorkerId: defaultWorkerId(),
	}, cleanup, nil
}

func defaultWorkerId() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

func (w *FileCleanupWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *FileCleanupWorker) logger() *logrus.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return config.GetLogger()
}

// ProcessPendingJobs claims up to limit pending jobs and resolves each one.
// Per-file and per-job failures end up in the outcomes; only a failed claim
// is returned as an error.
func (w *FileCleanupWorker) ProcessPendingJobs(ctx context.Context, limit int) ([]JobOutcome, error) {
	if limit <= 0 {
		limit = config.FileCleanupBatchLimit()
	}
	workerId := w.WorkerId
	if workerId == "" {
		workerId = defaultWorkerId()
	}
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	jobs, err := models.ClaimPendingResetJobs(ctx, w.DB, limit, workerId, w.now())
	if err != nil {
		config.LogError(w.logger(), "FileCleanupWorker", "ProcessPendingJobs", "claim reset jobs", map[string]interface{}{"limit": limit}, err)
		return nil, fmt.Errorf("claim reset jobs: %w", err)
	}

	outcomes := make([]JobOutcome, 0, len(jobs))
	for _, job := range jobs {
		outcomes = append(outcomes, w.processJob(ctx, job))
	}
	return outcomes, nil
}

func (w *FileCleanupWorker) processJob(ctx context.Context, job *models.ResetJob) JobOutcome {
	tracer := w.Tracer
	if tracer == nil {
		tracer = otel.Tracer("shop-backend-file-cleanup")
	}
	ctx, span := tracer.Start(ctx, "file_cleanup.job")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("job_id", int64(job.ID)),
		attribute.Int64("admin_action_id", int64(job.AdminActionId)),
	)

	log := w.logger().WithFields(logrus.Fields{
		"job_id":          job.ID,
		"admin_action_id": job.AdminActionId,
		"worker_id":       job.WorkerId,
	})
	outcome := JobOutcome{JobId: job.ID, AdminActionId: job.AdminActionId}

	var failures []string
	files, err := job.Files()
	if err != nil {
		failures = append(failures, err.Error())
	} else if job.JobType != models.ResetJobTypeFileDeletion {
		failures = append(failures, fmt.Sprintf("unsupported job type %q", job.JobType))
	} else {
		for _, f := range files {
			if f.StorageKind == "" {
				f.StorageKind = models.StorageKindLocal
			}
			if err := w.deleteFile(ctx, f); err != nil {
				metrics.ResetJobFilesTotal.WithLabelValues(string(f.StorageKind), "failed").Inc()
				outcome.Failed = append(outcome.Failed, f.Path)
				failures = append(failures, fmt.Sprintf("%s (%s): %v", f.Path, f.StorageKind, err))
				continue
			}
			metrics.ResetJobFilesTotal.WithLabelValues(string(f.StorageKind), "deleted").Inc()
			outcome.Deleted++
		}
	}

	outcome.Success = len(failures) == 0
	errMsg := ""
	if !outcome.Success {
		errMsg = fmt.Sprintf("%d file(s) failed: %s", len(failures), strings.Join(failures, "; "))
		outcome.Error = errMsg
	}

	// Files already removed stay removed; record that even if ctx was cancelled.
	detached := context.WithoutCancel(ctx)
	if err := models.FinishResetJob(detached, w.DB, job.ID, outcome.Success, errMsg, w.now()); err != nil {
		// The files are already handled; the job stays in processing until reaped.
		outcome.Success = false
		outcome.Error = strings.TrimPrefix(outcome.Error+"; ", "; ") + "finish job: " + err.Error()
		config.LogError(w.logger(), "FileCleanupWorker", "processJob", "finish reset job", job.ID, err)
		span.RecordError(err)
		return outcome
	}

	status := models.FileCleanupStatusCompleted
	jobStatus := models.ResetJobStatusCompleted
	if !outcome.Success {
		status = models.FileCleanupStatusFailed
		jobStatus = models.ResetJobStatusFailed
		log.WithField("failed", outcome.Failed).Warn("file cleanup job failed: " + errMsg)
	} else {
		log.WithField("deleted", outcome.Deleted).Info("file cleanup job completed")
	}
	metrics.ResetJobsTotal.WithLabelValues(string(jobStatus)).Inc()

	w.recordCleanupStatus(detached, job.AdminActionId, status, log)
	return outcome
}

func (w *FileCleanupWorker) deleteFile(ctx context.Context, f models.FileRef) error {
	remover, ok := w.Removers[f.StorageKind]
	if !ok || remover == nil {
		return fmt.Errorf("no remover for storage kind %q", f.StorageKind)
	}
	return remover.Delete(ctx, f.Path)
}

func (w *FileCleanupWorker) recordCleanupStatus(ctx context.Context, adminActionId uint, status models.FileCleanupStatus, log *logrus.Entry) {
	if err := models.SetAdminActionFileCleanupStatus(ctx, w.DB, adminActionId, status); err != nil {
		log.Warn("set file cleanup status: " + err.Error())
		return
	}
	if w.Notifier != nil {
		notifyAdminAction(ctx, w.DB, w.Notifier, adminActionId, log)
	}
}

// ReapStaleJobs fails jobs left in processing for longer than lease, which
// happens when a worker dies mid-job. The files are not retried.
func (w *FileCleanupWorker) ReapStaleJobs(ctx context.Context, lease time.Duration) ([]JobOutcome, error) {
	if lease <= 0 {
		lease = config.FileCleanupLease()
	}
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	now := w.now()
	reaped, err := models.FailStaleResetJobs(ctx, w.DB, now.Add(-lease), now)
	if err != nil {
		return nil, fmt.Errorf("reap stale reset jobs: %w", err)
	}
	outcomes := make([]JobOutcome, 0, len(reaped))
	for _, job := range reaped {
		log := w.logger().WithFields(logrus.Fields{"job_id": job.ID, "admin_action_id": job.AdminActionId})
		log.Warn("reaped stale file cleanup job")
		metrics.ResetJobsTotal.WithLabelValues(string(models.ResetJobStatusFailed)).Inc()
		w.recordCleanupStatus(ctx, job.AdminActionId, models.FileCleanupStatusFailed, log)

		msg := ""
		if job.ErrorMessage != nil {
			msg = *job.ErrorMessage
		}
		outcomes = append(outcomes, JobOutcome{JobId: job.ID, AdminActionId: job.AdminActionId, Error: msg})
	}
	return outcomes, nil
}
