package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/shop_backend/config"
	"github.com/mmdatafocus/shop_backend/models"
	"github.com/mmdatafocus/shop_backend/utils"
	"github.com/sirupsen/logrus"
)

const defaultAdminActionTopic = "admin-action-events"

// Notifier hands a terminal admin action to whoever tells the operators.
// Delivery (SMS, email) happens downstream.
type Notifier interface {
	NotifyAdminAction(ctx context.Context, action *models.AdminAction) error
}

// AdminActionEvent is the Pub/Sub payload consumed by the notification sender.
type AdminActionEvent struct {
	AdminActionId     uint                      `json:"admin_action_id"`
	ActionType        models.AdminActionType    `json:"action_type"`
	TargetCompanyId   *uint                     `json:"target_company_id"`
	AdminUserId       uint                      `json:"admin_user_id"`
	DryRun            bool                      `json:"dry_run"`
	Status            models.AdminActionStatus  `json:"status"`
	RowCounts         map[string]int64          `json:"row_counts"`
	ErrorMessage      *string                   `json:"error_message,omitempty"`
	BackupReference   *string                   `json:"backup_reference,omitempty"`
	FileCleanupStatus *models.FileCleanupStatus `json:"file_cleanup_status,omitempty"`
	CorrelationId     string                    `json:"correlation_id"`
	CompletedAt       *time.Time                `json:"completed_at,omitempty"`
	Report            string                    `json:"report"`
	Recipients        []string                  `json:"recipients,omitempty"`
}

func NewAdminActionEvent(action *models.AdminAction, recipients []string) (*AdminActionEvent, error) {
	if action == nil {
		return nil, errors.New("admin action is nil")
	}
	counts, err := action.RowCounts()
	if err != nil {
		return nil, err
	}
	return &AdminActionEvent{
		AdminActionId:     action.ID,
		ActionType:        action.ActionType,
		TargetCompanyId:   action.TargetCompanyId,
		AdminUserId:       action.AdminUserId,
		DryRun:            action.DryRun,
		Status:            action.Status,
		RowCounts:         counts,
		ErrorMessage:      action.ErrorMessage,
		BackupReference:   action.BackupReference,
		FileCleanupStatus: action.FileCleanupStatus,
		CorrelationId:     action.CorrelationId,
		CompletedAt:       action.CompletedAt,
		Report:            FormatAdminActionReport(action),
		Recipients:        recipients,
	}, nil
}

func actionTitle(t models.AdminActionType) string {
	switch t {
	case models.AdminActionTypeCompanyReset:
		return "Company reset"
	case models.AdminActionTypeSystemReset:
		return "System reset"
	case models.AdminActionTypeBackup:
		return "Backup"
	}
	return string(t)
}

// FormatAdminActionReport renders the message an operator receives.
func FormatAdminActionReport(action *models.AdminAction) string {
	if action == nil {
		return ""
	}
	var b strings.Builder

	target := "all companies"
	if action.TargetCompanyId != nil {
		target = "company #" + strconv.FormatUint(uint64(*action.TargetCompanyId), 10)
	}
	fmt.Fprintf(&b, "%s of %s %s", actionTitle(action.ActionType), target, action.Status)
	if action.DryRun {
		b.WriteString(" (dry run, nothing was deleted)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Action: #%d by admin user #%d\n", action.ID, action.AdminUserId)
	if action.CompletedAt != nil {
		fmt.Fprintf(&b, "Finished: %s\n", action.CompletedAt.UTC().Format(time.RFC3339))
	}

	counts, err := action.RowCounts()
	if err != nil {
		fmt.Fprintf(&b, "Rows: unreadable (%v)\n", err)
	} else if len(counts) > 0 {
		verb := "deleted"
		if action.DryRun {
			verb = "would be deleted"
		}
		if action.ActionType == models.AdminActionTypeBackup {
			verb = "exported"
		}
		tables := make([]string, 0, len(counts))
		var total int64
		for table, n := range counts {
			tables = append(tables, table)
			total += n
		}
		sort.Strings(tables)
		fmt.Fprintf(&b, "Rows %s: %d\n", verb, total)
		for _, table := range tables {
			fmt.Fprintf(&b, "  %s: %d\n", table, counts[table])
		}
	}
	if action.BackupReference != nil && *action.BackupReference != "" {
		fmt.Fprintf(&b, "Backup: %s\n", *action.BackupReference)
	}
	if action.FileCleanupStatus != nil {
		fmt.Fprintf(&b, "File cleanup: %s\n", *action.FileCleanupStatus)
	}
	if action.ErrorMessage != nil && *action.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", *action.ErrorMessage)
	}
	return strings.TrimRight(b.String(), "\n")
}

// LogNotifier writes the report to the structured log.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n *LogNotifier) NotifyAdminAction(ctx context.Context, action *models.AdminAction) error {
	if action == nil {
		return errors.New("admin action is nil")
	}
	logger := n.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	entry := logger.WithFields(logrus.Fields{
		"admin_action_id": action.ID,
		"action_type":     action.ActionType,
		"status":          action.Status,
		"dry_run":         action.DryRun,
		"correlation_id":  action.CorrelationId,
	})
	if action.Status == models.AdminActionStatusFailed {
		entry.Warn(FormatAdminActionReport(action))
	} else {
		entry.Info(FormatAdminActionReport(action))
	}
	return nil
}

// PublishFunc matches config.PublishJSON.
type PublishFunc func(ctx context.Context, topicName string, obj interface{}, attributes map[string]string) (string, error)

// PubSubNotifier publishes an AdminActionEvent for the SMS/email sender.
type PubSubNotifier struct {
	Topic      string
	Recipients []string
	Publish    PublishFunc
}

// NewPubSubNotifierFromEnv reads ADMIN_ACTION_TOPIC, ADMIN_NOTIFY_PHONE
// (comma separated) and ADMIN_NOTIFY_REGION. Numbers that do not parse are
// skipped with a warning.
func NewPubSubNotifierFromEnv(logger *logrus.Logger) *PubSubNotifier {
	topic := strings.TrimSpace(os.Getenv("ADMIN_ACTION_TOPIC"))
	if topic == "" {
		topic = defaultAdminActionTopic
	}
	region := strings.TrimSpace(os.Getenv("ADMIN_NOTIFY_REGION"))
	var recipients []string
	for _, raw := range strings.Split(os.Getenv("ADMIN_NOTIFY_PHONE"), ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		phone, err := utils.NormalizePhoneE164(raw, region)
		if err != nil {
			if logger != nil {
				logger.WithField("phone", raw).Warn("skipping admin notification recipient: " + err.Error())
			}
			continue
		}
		recipients = append(recipients, phone)
	}
	return &PubSubNotifier{Topic: topic, Recipients: recipients, Publish: config.PublishJSON}
}

func (n *PubSubNotifier) NotifyAdminAction(ctx context.Context, action *models.AdminAction) error {
	event, err := NewAdminActionEvent(action, n.Recipients)
	if err != nil {
		return err
	}
	publish := n.Publish
	if publish == nil {
		publish = config.PublishJSON
	}
	_, err = publish(ctx, n.Topic, event, map[string]string{
		"action_type":    string(action.ActionType),
		"status":         string(action.Status),
		"correlation_id": action.CorrelationId,
	})
	if err != nil {
		return fmt.Errorf("publish admin action %d to %s: %w", action.ID, n.Topic, err)
	}
	return nil
}

// MultiNotifier calls every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyAdminAction(ctx context.Context, action *models.AdminAction) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.NotifyAdminAction(ctx, action); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewDefaultNotifier always logs, and also publishes when Pub/Sub is configured.
func NewDefaultNotifier(logger *logrus.Logger) Notifier {
	notifiers := MultiNotifier{&LogNotifier{Logger: logger}}
	if config.PubSubConfigured() {
		notifiers = append(notifiers, NewPubSubNotifierFromEnv(logger))
	}
	return notifiers
}
