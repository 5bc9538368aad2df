// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// service to distinguish between failure scenarios without inspecting
// driver errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrEmailExists is returned by UserRepo.Create when the unique email
// index rejects the insert.
var ErrEmailExists = errors.New("email already exists")

// ErrStaleToken is returned when a conditional token update matched no row:
// the presented token is not the one currently stored, has expired, or was
// already consumed.
var ErrStaleToken = errors.New("token is not current")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
