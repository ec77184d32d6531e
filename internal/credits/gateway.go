package credits

import (
	"context"
	"fmt"
)

// Ledger is the external transactional credit ledger. Reserve and release are
// idempotent on the caller-supplied key: retrying the same logical action
// with the same key never double-applies.
type Ledger interface {
	Reserve(ctx context.Context, userID, jobID string, units int, idempotencyKey string) (balance int, err error)
	Release(ctx context.Context, userID, jobID string, units int, idempotencyKey string) error
}

// Idempotency keys derive deterministically from the job and phase, so a
// network retry of the same logical action reuses the same key. Financial
// operations are never retried with a fresh key.

func ReserveKey(jobID string) string {
	return fmt.Sprintf("reserve:%s", jobID)
}

func RetryReserveKey(jobID string, attempt int) string {
	return fmt.Sprintf("reserve:%s:retry:%d", jobID, attempt)
}

func CancelReleaseKey(jobID string) string {
	return fmt.Sprintf("release:%s:cancel", jobID)
}

func DispatchReleaseKey(jobID string) string {
	return fmt.Sprintf("release:%s:dispatch", jobID)
}

// SettleReleaseKey is round-scoped: each retry round settles its own
// reservation, so its leftover release must not be deduped against an
// earlier round's.
func SettleReleaseKey(jobID string, round int) string {
	return fmt.Sprintf("release:%s:settle:%d", jobID, round)
}
