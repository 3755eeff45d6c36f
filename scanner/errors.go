package scanner

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

// MySQL error numbers reported for table failures. SQLite errors are mapped
// onto the same numbers so reports read the same for both drivers.
const (
	ErrCodeUnknown         = 1105
	ErrCodeNoSuchTable     = 1146
	ErrCodeBadField        = 1054
	ErrCodeParseError      = 1064
	ErrCodeDupEntry        = 1062
	ErrCodeBadNull         = 1048
	ErrCodeNoReferencedRow = 1452
	ErrCodeCheckConstraint = 3819
	ErrCodeLockTimeout     = 1205
	ErrCodeDeadlock        = 1213
	ErrCodeTooBigRowsize   = 1118
)

// ErrorCode extracts a MySQL-style error number from a driver error. It
// returns "" for errors that did not come from the database.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return strconv.Itoa(int(myErr.Number))
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return strconv.Itoa(mapSQLiteError(liteErr))
	}

	return ""
}

// Retryable reports lock timeouts and deadlocks
func Retryable(err error) bool {
	switch ErrorCode(err) {
	case strconv.Itoa(ErrCodeLockTimeout), strconv.Itoa(ErrCodeDeadlock):
		return true
	}
	return false
}

func mapSQLiteError(e sqlite3.Error) int {
	// Check extended codes first (more specific)
	switch e.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return ErrCodeDupEntry
	case sqlite3.ErrConstraintNotNull:
		return ErrCodeBadNull
	case sqlite3.ErrConstraintForeignKey:
		return ErrCodeNoReferencedRow
	case sqlite3.ErrConstraintCheck:
		return ErrCodeCheckConstraint
	}

	switch e.Code {
	case sqlite3.ErrBusy:
		return ErrCodeLockTimeout
	case sqlite3.ErrLocked:
		return ErrCodeDeadlock
	case sqlite3.ErrTooBig:
		return ErrCodeTooBigRowsize
	}

	return mapByMessage(e.Error())
}

func mapByMessage(msg string) int {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "no such table"):
		return ErrCodeNoSuchTable
	case strings.Contains(lower, "no such column"), strings.Contains(lower, "no column named"):
		return ErrCodeBadField
	case strings.Contains(lower, "syntax error"):
		return ErrCodeParseError
	case strings.Contains(lower, "unique constraint"):
		return ErrCodeDupEntry
	default:
		return ErrCodeUnknown
	}
}
