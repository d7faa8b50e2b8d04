package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/shop_backend/config"
	"github.com/mmdatafocus/shop_backend/metrics"
	"github.com/mmdatafocus/shop_backend/models"
	"github.com/mmdatafocus/shop_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var (
	ErrInvalidOptions = errors.New("invalid reset options")
	ErrAuditWrite     = errors.New("audit write failed")
)

var validate = validator.New()

type ResetOptions struct {
	DryRun      bool `json:"dry_run"`
	DeleteFiles bool `json:"delete_files"`
	AdminUserId uint `json:"admin_user_id" validate:"required"`
	// BackupReference points at a backup taken outside this run.
	BackupReference string `json:"backup_reference" validate:"max=512"`
	// BackupFirst exports the company before deleting. Company resets only.
	BackupFirst bool `json:"backup_first"`
}

type ResetOutcome struct {
	Success         bool             `json:"success"`
	DryRun          bool             `json:"dry_run"`
	Counts          map[string]int64 `json:"counts"`
	AdminActionId   uint             `json:"admin_action_id"`
	JobId           *uint            `json:"job_id,omitempty"`
	BackupReference *string          `json:"backup_reference,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// ResetEngine deletes (or counts) tenant data over a fixed table list.
// Callers authorize the operator before calling it.
type ResetEngine struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	Notifier    Notifier
	RedisLock   *redislock.Client
	Backup      *BackupWorkflow
	Tracer      trace.Tracer
	Now         func() time.Time
	BatchSize   int
	LockTimeout time.Duration

	tables       []TableScope
	systemTables []TableScope
}

// NewResetEngine wires the engine from the process config.
func NewResetEngine(db *gorm.DB, notifier Notifier) *ResetEngine {
	logger := config.GetLogger()
	if notifier == nil {
		notifier = NewDefaultNotifier(logger)
	}
	return &ResetEngine{
		DB:          db,
		Logger:      logger,
		Notifier:    notifier,
		RedisLock:   config.GetRedisLock(),
		Tracer:      otel.Tracer("shop-backend-reset"),
		Now:         time.Now,
		BatchSize:   config.ResetDeleteBatchSize(),
		LockTimeout: config.ResetLockTimeout(),
	}
}

type resetTarget struct {
	actionType models.AdminActionType
	companyId  *uint
	tables     []TableScope
	lockName   string
}

func (e *ResetEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *ResetEngine) logger() *logrus.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return config.GetLogger()
}

func (e *ResetEngine) tracer() trace.Tracer {
	if e.Tracer != nil {
		return e.Tracer
	}
	return otel.Tracer("shop-backend-reset")
}

func (e *ResetEngine) batchSize() int {
	if e.BatchSize > 0 {
		return e.BatchSize
	}
	return 5000
}

func (e *ResetEngine) tenantTables() []TableScope {
	if e.tables != nil {
		return e.tables
	}
	return TenantTables
}

func (e *ResetEngine) systemTableList() []TableScope {
	if e.systemTables != nil {
		return e.systemTables
	}
	return SystemTables
}

func validateResetOptions(opts ResetOptions) error {
	if err := validate.Struct(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return nil
}

// ResetCompanyData removes every TenantTables row of one company. The company
// row, users, categories and brands survive.
func (e *ResetEngine) ResetCompanyData(ctx context.Context, companyId uint, opts ResetOptions) (*ResetOutcome, error) {
	if companyId == 0 {
		return nil, fmt.Errorf("%w: company id is required", ErrInvalidOptions)
	}
	if err := validateResetOptions(opts); err != nil {
		return nil, err
	}
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	if _, err := models.GetCompany(ctx, e.DB, companyId); err != nil {
		return nil, err
	}

	if opts.BackupFirst && !opts.DryRun {
		if e.Backup == nil {
			return nil, fmt.Errorf("%w: backup first requested but no backup store is configured", ErrInvalidOptions)
		}
		backup, err := e.Backup.BackupCompanyData(ctx, companyId, opts.AdminUserId)
		if err != nil {
			return nil, fmt.Errorf("backup before reset: %w", err)
		}
		opts.BackupReference = backup.Reference
	}

	return e.run(ctx, resetTarget{
		actionType: models.AdminActionTypeCompanyReset,
		companyId:  &companyId,
		tables:     e.tenantTables(),
		lockName:   companyResetLockName(companyId),
	}, opts)
}

// ResetSystemData removes every tenant's rows, every company user and every
// company. System admins have no company and are kept.
func (e *ResetEngine) ResetSystemData(ctx context.Context, opts ResetOptions) (*ResetOutcome, error) {
	if err := validateResetOptions(opts); err != nil {
		return nil, err
	}
	if opts.BackupFirst {
		return nil, fmt.Errorf("%w: backup first is only supported for company resets", ErrInvalidOptions)
	}
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	tables := append(append([]TableScope{}, e.tenantTables()...), e.systemTableList()...)
	return e.run(ctx, resetTarget{
		actionType: models.AdminActionTypeSystemReset,
		tables:     tables,
		lockName:   systemResetLockName,
	}, opts)
}

func (e *ResetEngine) run(ctx context.Context, target resetTarget, opts ResetOptions) (*ResetOutcome, error) {
	start := e.now()
	correlationId := utils.CorrelationIdFromContextOrNew(ctx)
	ctx = utils.SetCorrelationIdInContext(ctx, correlationId)

	ctx, span := e.tracer().Start(ctx, "reset."+string(target.actionType))
	defer span.End()
	span.SetAttributes(
		attribute.String("action_type", string(target.actionType)),
		attribute.Bool("dry_run", opts.DryRun),
		attribute.Bool("delete_files", opts.DeleteFiles),
	)

	fields := logrus.Fields{
		"action_type":    target.actionType,
		"dry_run":        opts.DryRun,
		"delete_files":   opts.DeleteFiles,
		"admin_user_id":  opts.AdminUserId,
		"correlation_id": correlationId,
	}
	if name, ok := utils.GetUserNameFromContext(ctx); ok && name != "" {
		fields["admin_user_name"] = name
	}
	if target.companyId != nil {
		fields["company_id"] = *target.companyId
		span.SetAttributes(attribute.Int64("company_id", int64(*target.companyId)))
	}
	log := e.logger().WithFields(fields)

	action := &models.AdminAction{
		ActionType:      target.actionType,
		TargetCompanyId: target.companyId,
		AdminUserId:     opts.AdminUserId,
		DryRun:          opts.DryRun,
		CorrelationId:   correlationId,
	}
	if opts.BackupReference != "" {
		ref := opts.BackupReference
		action.BackupReference = &ref
	}
	if err := models.CreateAdminAction(ctx, e.DB, action); err != nil {
		err = fmt.Errorf("%w: create admin action: %w", ErrAuditWrite, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		config.LogError(e.logger(), "ResetEngine", "run", "create admin action", fields, err)
		return nil, err
	}
	log = log.WithField("admin_action_id", action.ID)
	span.SetAttributes(attribute.Int64("admin_action_id", int64(action.ID)))

	outcome := &ResetOutcome{
		DryRun:          opts.DryRun,
		Counts:          map[string]int64{},
		AdminActionId:   action.ID,
		BackupReference: action.BackupReference,
	}

	if err := models.MarkAdminActionRunning(ctx, e.DB, action.ID, e.now()); err != nil {
		err = fmt.Errorf("%w: mark admin action running: %w", ErrAuditWrite, err)
		outcome.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		config.LogError(e.logger(), "ResetEngine", "run", "mark admin action running", fields, err)
		return outcome, err
	}
	log.Info("reset started")

	counts, jobId, err := e.execute(ctx, target, opts, action, log)
	if err != nil {
		if errors.Is(err, ErrResetLocked) {
			metrics.ResetLockContentionTotal.Inc()
		}
		outcome.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		config.LogError(e.logger(), "ResetEngine", "run", "reset rolled back", fields, err)

		// The data transaction is gone; record the failure on its own, even
		// when ctx was cancelled.
		detached := context.WithoutCancel(ctx)
		if failErr := models.FailAdminAction(detached, e.DB, action.ID, err.Error(), nil, e.now()); failErr != nil {
			config.LogError(e.logger(), "ResetEngine", "run", "mark admin action failed", fields, failErr)
		}
		e.observe(target.actionType, opts.DryRun, models.AdminActionStatusFailed, start, nil)
		e.notify(detached, action.ID, log)
		return outcome, err
	}

	outcome.Success = true
	outcome.Counts = counts
	outcome.JobId = jobId
	log.WithFields(logrus.Fields{
		"counts": counts,
		"job_id": jobId,
	}).Info("reset completed")

	e.observe(target.actionType, opts.DryRun, models.AdminActionStatusCompleted, start, counts)
	e.notify(context.WithoutCancel(ctx), action.ID, log)
	return outcome, nil
}

// execute holds the advisory lock on a pinned connection and runs every
// count and delete plus the completion audit write in one transaction.
func (e *ResetEngine) execute(ctx context.Context, target resetTarget, opts ResetOptions, action *models.AdminAction, log *logrus.Entry) (map[string]int64, *uint, error) {
	var (
		counts map[string]int64
		jobId  *uint
	)

	if !opts.DryRun {
		redisLock, err := obtainRedisResetLock(ctx, e.RedisLock, log, target.lockName)
		if err != nil {
			return nil, nil, err
		}
		defer releaseRedisResetLock(context.WithoutCancel(ctx), redisLock, log)
	}

	err := e.DB.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if !opts.DryRun {
			if err := acquireResetLock(conn, target.lockName, e.LockTimeout); err != nil {
				return err
			}
			defer releaseResetLock(conn.WithContext(context.WithoutCancel(ctx)), target.lockName)
		}

		return conn.Transaction(func(tx *gorm.DB) error {
			// Reset on every attempt so a failed run never reports partial counts.
			counts = make(map[string]int64, len(target.tables))
			jobId = nil

			if !opts.DryRun {
				if err := lockCompanyRows(tx, target.companyId); err != nil {
					return err
				}
			}

			var files []models.FileRef
			for _, scope := range target.tables {
				where, args := scope.predicate(target.companyId)

				var n int64
				if err := tx.Raw(scope.countSQL(where), args...).Scan(&n).Error; err != nil {
					return fmt.Errorf("count %s: %w", scope.Table, err)
				}
				if opts.DryRun {
					counts[scope.Table] = n
					continue
				}

				if src, ok := FileSources[scope.Table]; ok && opts.DeleteFiles && n > 0 {
					var refs []models.FileRef
					if err := tx.Raw(src.selectSQL(where), args...).Scan(&refs).Error; err != nil {
						return fmt.Errorf("collect files from %s: %w", scope.Table, err)
					}
					files = append(files, refs...)
				}

				affected, err := deleteInBatches(tx, scope.deleteSQL(where), args, e.batchSize())
				if err != nil {
					if utils.IsForeignKeyViolation(err) {
						return fmt.Errorf("delete %s: rows are still referenced from outside tenant tables v%d: %w", scope.Table, TenantTablesVersion, err)
					}
					return fmt.Errorf("delete %s: %w", scope.Table, err)
				}
				if affected != n {
					log.WithFields(logrus.Fields{
						"table":    scope.Table,
						"counted":  n,
						"affected": affected,
					}).Warn("affected rows differ from count")
				}
				counts[scope.Table] = affected
			}

			if err := models.CompleteAdminAction(ctx, tx, action.ID, counts, nil, e.now()); err != nil {
				return fmt.Errorf("%w: complete admin action: %w", ErrAuditWrite, err)
			}

			if opts.DryRun || !opts.DeleteFiles || len(files) == 0 {
				return nil
			}
			id, err := EnqueueFileDeletionJob(ctx, tx, action.ID, files)
			if err != nil {
				return fmt.Errorf("%w: enqueue file deletion: %w", ErrAuditWrite, err)
			}
			if err := models.SetAdminActionFileCleanupStatus(ctx, tx, action.ID, models.FileCleanupStatusPending); err != nil {
				return fmt.Errorf("%w: set file cleanup status: %w", ErrAuditWrite, err)
			}
			jobId = &id
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return counts, jobId, nil
}

// deleteInBatches repeats a DELETE ... LIMIT until a short batch comes back.
func deleteInBatches(tx *gorm.DB, stmt string, args []interface{}, batchSize int) (int64, error) {
	batchArgs := make([]interface{}, 0, len(args)+1)
	batchArgs = append(batchArgs, args...)
	batchArgs = append(batchArgs, batchSize)

	var total int64
	for {
		res := tx.Exec(stmt, batchArgs...)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
		if res.RowsAffected < int64(batchSize) {
			return total, nil
		}
	}
}

func (e *ResetEngine) observe(actionType models.AdminActionType, dryRun bool, status models.AdminActionStatus, start time.Time, counts map[string]int64) {
	observeAdminAction(actionType, dryRun, status, e.now().Sub(start))
	if dryRun {
		return
	}
	for table, n := range counts {
		metrics.ResetRowsTotal.WithLabelValues(table).Add(float64(n))
	}
}

func observeAdminAction(actionType models.AdminActionType, dryRun bool, status models.AdminActionStatus, elapsed time.Duration) {
	metrics.AdminActionsTotal.WithLabelValues(string(actionType), strconv.FormatBool(dryRun), string(status)).Inc()
	metrics.AdminActionDuration.WithLabelValues(string(actionType)).Observe(elapsed.Seconds())
}

// notify reloads the terminal record and hands it to the notifier. Failures
// are logged only; the reset result is already decided.
func (e *ResetEngine) notify(ctx context.Context, actionId uint, log *logrus.Entry) {
	if e.Notifier == nil {
		return
	}
	notifyAdminAction(ctx, e.DB, e.Notifier, actionId, log)
}

func notifyAdminAction(ctx context.Context, db *gorm.DB, notifier Notifier, actionId uint, log *logrus.Entry) {
	action, err := models.GetAdminAction(ctx, db, actionId)
	if err != nil {
		metrics.NotificationErrorsTotal.Inc()
		log.WithField("admin_action_id", actionId).Warn("load admin action for notification: " + err.Error())
		return
	}
	if err := notifier.NotifyAdminAction(ctx, action); err != nil {
		metrics.NotificationErrorsTotal.Inc()
		log.WithField("admin_action_id", actionId).Warn("notify admin action: " + err.Error())
	}
}
