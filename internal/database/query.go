package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Queryable is the union of the sqlx methods the stores require; both
// *sqlx.DB and *sqlx.Tx satisfy it, allowing store methods to run
// against a bare connection or inside a wrapped transaction.
type Queryable interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	Exec(query string, args ...interface{}) (sql.Result, error)
	NamedExec(query string, arg interface{}) (sql.Result, error)
	Rebind(query string) string
}

// JsonColumn is a container for a value which is stored in the database
// as a JSON/JSONB column. It handles the SQL scan/value conversions so
// stores can keep their models typed.
type JsonColumn[T any] struct {
	val *T
}

func NewJsonColumn[T any](val *T) JsonColumn[T] {
	return JsonColumn[T]{val: val}
}

func (col *JsonColumn[T]) Scan(src any) error {
	if src == nil {
		col.val = nil
		return nil
	}

	var raw []byte
	switch typed := src.(type) {
	case []byte:
		raw = typed
	case string:
		raw = []byte(typed)
	default:
		return fmt.Errorf("cannot scan JSON column from unsupported type %T", src)
	}

	target := new(T)
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON column: %w", err)
	}

	col.val = target
	return nil
}

func (col JsonColumn[T]) Value() (driver.Value, error) {
	if col.val == nil {
		return nil, nil
	}

	return json.Marshal(col.val)
}

// Get returns the contained value; nil when the column was NULL.
func (col *JsonColumn[T]) Get() *T {
	return col.val
}
