package migration

import (
	"errors"
	"time"

	"github.com/flockmesh/flock/internal/retry"
)

// Code is one of the migration engine's enumerated failure codes
// (spec.md §4.4, §4.4.1-.5, §7). advancePhaseWithRetry and rollback both
// dispatch on Code, never on error-string substrings.
type Code string

const (
	CodeFreezeInvalidState           Code = "FREEZE_INVALID_STATE"
	CodeInternalStateInconsistency   Code = "INTERNAL_STATE_INCONSISTENCY"
	CodeFreezeAckTimeout             Code = "FREEZE_ACK_TIMEOUT"
	CodeSnapshotArchiveFailed        Code = "SNAPSHOT_ARCHIVE_FAILED"
	CodeSnapshotChecksumFailed       Code = "SNAPSHOT_CHECKSUM_FAILED"
	CodeSnapshotPortableSizeExceeded Code = "SNAPSHOT_PORTABLE_SIZE_EXCEEDED"
	CodeAuthTimeout                  Code = "AUTH_TIMEOUT"
	CodeTransferNetworkFailed        Code = "TRANSFER_NETWORK_FAILED"
	CodeTransferTimeout              Code = "TRANSFER_TIMEOUT"
	CodeVerifyAckTimeout             Code = "VERIFY_ACK_TIMEOUT"
	CodeVerifyChecksumMismatch       Code = "VERIFY_CHECKSUM_MISMATCH"
	CodeVerifySizeMismatch           Code = "VERIFY_SIZE_MISMATCH"
	CodeVerifyArchiveCorrupt         Code = "VERIFY_ARCHIVE_CORRUPT"
	CodeRehydrateExtractFailed       Code = "REHYDRATE_EXTRACT_FAILED"
	CodeRehydrateGitCloneFailed      Code = "REHYDRATE_GIT_CLONE_FAILED"
	CodeFinalizeNotificationFailed   Code = "FINALIZE_NOTIFICATION_FAILED"
	CodeFinalizeRegistryUpdateFailed Code = "FINALIZE_REGISTRY_UPDATE_FAILED"
)

// Error wraps a migration Code with a human-readable detail, the
// currency between advancePhase and advancePhaseWithRetry/rollback.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Detail
}

func newError(code Code, detail string) error {
	return &Error{Code: code, Detail: detail}
}

// CodeOf extracts the Code from err, if it (or something it wraps) is
// a *Error.
func CodeOf(err error) (Code, bool) {
	var me *Error
	if errors.As(err, &me) {
		return me.Code, true
	}
	return "", false
}

// networkClassCatalog is the retryable, longer-delay catalog (spec.md §4.4.5).
var networkClassCatalog = map[Code]bool{
	CodeAuthTimeout:                  true,
	CodeTransferNetworkFailed:        true,
	CodeTransferTimeout:              true,
	CodeVerifyAckTimeout:             true,
	CodeFinalizeNotificationFailed:   true,
	CodeFinalizeRegistryUpdateFailed: true,
	CodeRehydrateGitCloneFailed:      true,
}

// localClassCatalog is the retryable, shorter-delay catalog (spec.md §4.4.5).
var localClassCatalog = map[Code]bool{
	CodeFreezeAckTimeout:       true,
	CodeSnapshotArchiveFailed:  true,
	CodeSnapshotChecksumFailed: true,
	CodeVerifyChecksumMismatch: true,
	CodeVerifySizeMismatch:     true,
	CodeVerifyArchiveCorrupt:   true,
}

// networkClassPolicy: 3 attempts, base 30s, factor 2, cap 5 min.
var networkClassPolicy = retry.Policy{
	MaxAttempts:  3,
	BaseDelay:    30 * time.Second,
	MaxDelay:     5 * time.Minute,
	JitterFactor: 0.1,
}

// localClassPolicy: 2 attempts, base 5s.
var localClassPolicy = retry.Policy{
	MaxAttempts:  2,
	BaseDelay:    5 * time.Second,
	MaxDelay:     30 * time.Second,
	JitterFactor: 0.1,
}

// classify reports whether err is retryable and, if so, the policy to
// retry it under. Non-catalog codes (and non-migration errors) are
// non-retryable (spec.md §4.4.5: "All other codes -> non-retryable ->
// rollback").
func classify(err error) (retry.Policy, bool) {
	code, ok := CodeOf(err)
	if !ok {
		return retry.Policy{}, false
	}
	if networkClassCatalog[code] {
		return networkClassPolicy, true
	}
	if localClassCatalog[code] {
		return localClassPolicy, true
	}
	return retry.Policy{}, false
}
