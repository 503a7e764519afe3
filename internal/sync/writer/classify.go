package writer

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// errorClass is the persistence failure taxonomy used to pick a commit outcome
type errorClass int

const (
	classFatal errorClass = iota
	classTransient
	classStoreUnavailable
	classForeignKey
)

func (c errorClass) String() string {
	switch c {
	case classTransient:
		return "transient"
	case classStoreUnavailable:
		return "store-unavailable"
	case classForeignKey:
		return "foreign-key"
	default:
		return "fatal"
	}
}

// classify maps an error raised while applying a batch to its class. For
// foreign-key violations the violated constraint name is returned as well.
func classify(err error) (errorClass, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code), pgErr.ConstraintName
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return classStoreUnavailable, ""
	}

	return classFatal, ""
}

func classifySQLState(code string) errorClass {
	switch code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03", // lock_not_available
		"57014": // query_canceled (statement_timeout)
		return classTransient
	case "57P01", // admin_shutdown
		"57P02", // crash_shutdown
		"57P03", // cannot_connect_now
		"53300": // too_many_connections
		return classStoreUnavailable
	case "23503": // foreign_key_violation
		return classForeignKey
	}

	// Class 08: connection exception
	if strings.HasPrefix(code, "08") {
		return classStoreUnavailable
	}
	return classFatal
}
