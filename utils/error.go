package utils

import (
	"errors"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

var ErrorRecordNotFound = errors.New("record not found")

// MySQL server error numbers that mean "the schema change is already applied".
// Anything not listed here is a real failure.
const (
	MySQLErrTableExists       uint16 = 1050
	MySQLErrDuplicateColumn   uint16 = 1060
	MySQLErrDuplicateKeyName  uint16 = 1061
	MySQLErrDuplicateFKName   uint16 = 1826
	MySQLErrDuplicateEntry    uint16 = 1062
	MySQLErrLockWaitTimeout   uint16 = 1205
	MySQLErrDeadlock          uint16 = 1213
	MySQLErrRowIsReferenced   uint16 = 1451
	MySQLErrNoReferencedRow   uint16 = 1452
	MySQLErrTableDoesNotExist uint16 = 1146
)

var ignorableMySQLErrors = map[uint16]bool{
	MySQLErrTableExists:      true,
	MySQLErrDuplicateColumn:  true,
	MySQLErrDuplicateKeyName: true,
	MySQLErrDuplicateFKName:  true,
}

// MySQLErrorNumber returns the server error number, or 0 for non-MySQL errors.
func MySQLErrorNumber(err error) uint16 {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number
	}
	return 0
}

// IsIgnorableMySQLError reports whether err is on the migration allow-list.
func IsIgnorableMySQLError(err error) bool {
	if err == nil {
		return false
	}
	return ignorableMySQLErrors[MySQLErrorNumber(err)]
}

func IsDuplicateKeyErr(err error) bool {
	return MySQLErrorNumber(err) == MySQLErrDuplicateEntry
}

// IsForeignKeyViolation is true when a delete hit a row still referenced by a
// table that is missing from (or misordered in) the reset table list.
func IsForeignKeyViolation(err error) bool {
	n := MySQLErrorNumber(err)
	return n == MySQLErrRowIsReferenced || n == MySQLErrNoReferencedRow
}
