package models

type AdminActionType string

const (
	AdminActionTypeCompanyReset AdminActionType = "company_reset"
	AdminActionTypeSystemReset  AdminActionType = "system_reset"
	AdminActionTypeBackup       AdminActionType = "backup"
)

func (t AdminActionType) IsValid() bool {
	switch t {
	case AdminActionTypeCompanyReset, AdminActionTypeSystemReset, AdminActionTypeBackup:
		return true
	}
	return false
}

// AdminActionStatus moves forward only: pending -> running -> completed|failed.
type AdminActionStatus string

const (
	AdminActionStatusPending   AdminActionStatus = "pending"
	AdminActionStatusRunning   AdminActionStatus = "running"
	AdminActionStatusCompleted AdminActionStatus = "completed"
	AdminActionStatusFailed    AdminActionStatus = "failed"
)

func (s AdminActionStatus) IsTerminal() bool {
	return s == AdminActionStatusCompleted || s == AdminActionStatusFailed
}

// ResetJobStatus moves forward only: pending -> processing -> completed|failed.
type ResetJobStatus string

const (
	ResetJobStatusPending    ResetJobStatus = "pending"
	ResetJobStatusProcessing ResetJobStatus = "processing"
	ResetJobStatusCompleted  ResetJobStatus = "completed"
	ResetJobStatusFailed     ResetJobStatus = "failed"
)

func (s ResetJobStatus) IsTerminal() bool {
	return s == ResetJobStatusCompleted || s == ResetJobStatusFailed
}

type ResetJobType string

const (
	ResetJobTypeFileDeletion ResetJobType = "file_deletion"
)

// StorageKind says where a referenced file lives.
type StorageKind string

const (
	StorageKindLocal  StorageKind = "local"
	StorageKindRemote StorageKind = "remote"
)

func (k StorageKind) IsValid() bool {
	return k == StorageKindLocal || k == StorageKindRemote
}

// FileCleanupStatus mirrors the linked ResetJob on the owning AdminAction.
type FileCleanupStatus string

const (
	FileCleanupStatusPending   FileCleanupStatus = "pending"
	FileCleanupStatusCompleted FileCleanupStatus = "completed"
	FileCleanupStatusFailed    FileCleanupStatus = "failed"
)

type UserRole string

const (
	UserRoleSystemAdmin UserRole = "system_admin"
	UserRoleOwner       UserRole = "owner"
	UserRoleStaff       UserRole = "staff"
	UserRoleTechnician  UserRole = "technician"
)

type SwapStatus string

const (
	SwapStatusOpen      SwapStatus = "open"
	SwapStatusCompleted SwapStatus = "completed"
	SwapStatusCancelled SwapStatus = "cancelled"
)

type RepairStatus string

const (
	RepairStatusReceived   RepairStatus = "received"
	RepairStatusInProgress RepairStatus = "in_progress"
	RepairStatusReady      RepairStatus = "ready"
	RepairStatusDelivered  RepairStatus = "delivered"
)
