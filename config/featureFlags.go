package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ResetDeleteBatchSize caps rows removed per DELETE statement during a reset.
// Large tenants are deleted in several statements inside the same transaction.
//
// Set via env:
// - RESET_DELETE_BATCH_SIZE=5000
func ResetDeleteBatchSize() int {
	n := intFromEnv("RESET_DELETE_BATCH_SIZE", 5000)
	if n <= 0 {
		return 5000
	}
	return n
}

// ResetLockTimeout is how long a reset waits for the per-company advisory lock.
//
// Set via env:
// - RESET_LOCK_TIMEOUT_SECONDS=10
func ResetLockTimeout() time.Duration {
	return time.Duration(intFromEnv("RESET_LOCK_TIMEOUT_SECONDS", 10)) * time.Second
}

// FileCleanupBatchLimit is the default number of jobs claimed per worker run.
func FileCleanupBatchLimit() int {
	n := intFromEnv("FILE_CLEANUP_BATCH_LIMIT", 20)
	if n <= 0 {
		return 20
	}
	return n
}

// FileCleanupLease is how long a job may stay in processing before it is reaped.
func FileCleanupLease() time.Duration {
	return time.Duration(intFromEnv("FILE_CLEANUP_LEASE_SECONDS", 1800)) * time.Second
}

// LocalStorageRoot is the directory "local" storage paths are resolved against.
func LocalStorageRoot() string {
	root := strings.TrimSpace(os.Getenv("LOCAL_STORAGE_ROOT"))
	if root == "" {
		return "uploads"
	}
	return root
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
