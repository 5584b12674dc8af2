package locking

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotObtained is returned when a lock could not be acquired in time
var ErrNotObtained = errors.New("lock not obtained")

// Lock is a held lock
type Lock interface {
	Release(ctx context.Context) error
}

// Locker serializes ledger commits per key
type Locker interface {
	Obtain(ctx context.Context, key string) (Lock, error)
}

// StudentKey is the lock key guarding a student's ledger
func StudentKey(studentID uint) string {
	return fmt.Sprintf("ledger:student:%d", studentID)
}
