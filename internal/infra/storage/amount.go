package storage

import (
	"database/sql/driver"
	"fmt"
	"strconv"
)

// amount is a uint64 column stored as base-10 TEXT. database/sql refuses
// uint64 arguments with the high bit set, and an INTEGER column would cap
// balances and ratio terms at math.MaxInt64.
type amount uint64

// GormDataType maps the column to TEXT in migrations.
func (amount) GormDataType() string {
	return "text"
}

func (a amount) Value() (driver.Value, error) {
	return strconv.FormatUint(uint64(a), 10), nil
}

func (a *amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = 0
		return nil
	case string:
		return a.parse(v)
	case []byte:
		return a.parse(string(v))
	case int64:
		// Rows written before the column became TEXT
		if v < 0 {
			return fmt.Errorf("amount: negative value %d", v)
		}
		*a = amount(v)
		return nil
	default:
		return fmt.Errorf("amount: unsupported type %T", src)
	}
}

func (a *amount) parse(s string) error {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = amount(n)
	return nil
}
