// Package shared provides small helpers used by more than one package.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import "strings"

// Markers modernc.org/sqlite puts in lock-contention errors.
var sqliteConflictMarkers = []string{
	"SQLITE_BUSY",
	"database is locked",
	"database table is locked",
}

// IsSQLiteConflictError reports whether err is a transient lock conflict
// that is worth retrying.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range sqliteConflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsSQLiteConstraintError reports whether err is a constraint violation,
// such as a duplicate primary key. These are never retried.
func IsSQLiteConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
