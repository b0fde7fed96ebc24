package retry

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind is the retry class of a storage error.
type Kind int

const (
	KindPermanent Kind = iota
	KindTransient
	KindUniqueness
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindUniqueness:
		return "uniqueness"
	default:
		return "permanent"
	}
}

var (
	// ErrTransient marks an error as a retryable conflict when no driver code is available.
	ErrTransient = errors.New("transient storage conflict")
	// ErrUniqueness marks a duplicate-key failure raised outside Postgres (e.g. the memory store).
	ErrUniqueness = errors.New("uniqueness violation")
)

// Postgres SQLSTATE codes
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// Classify maps an error onto the fixed decision table. Uniqueness wins over
// everything else so a duplicate-key write is never retried.
func Classify(err error) Kind {
	if err == nil {
		return KindPermanent
	}
	if errors.Is(err, ErrUniqueness) {
		return KindUniqueness
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindPermanent
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return KindUniqueness
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return KindTransient
		}
		return KindPermanent
	}

	if errors.Is(err, ErrTransient) {
		return KindTransient
	}
	if pgconn.SafeToRetry(err) {
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindPermanent
}

// IsUniqueViolation reports whether err is a duplicate-key failure.
func IsUniqueViolation(err error) bool {
	return Classify(err) == KindUniqueness
}

// IsTransient reports whether err is in the retryable class.
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}
