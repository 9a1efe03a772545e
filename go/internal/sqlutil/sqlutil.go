package sqlutil

import (
	"database/sql"
	"encoding/json"

	"github.com/sqlc-dev/pqtype"
)

// Helper functions for converting between Go types and nullable column types

// ToSqlString converts a Go string pointer to sql.NullString
func ToSqlString(val *string) sql.NullString {
	if val == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *val, Valid: true}
}

// ToNullJSON marshals val into a nullable jsonb value. A nil or empty slice is stored as NULL.
func ToNullJSON[T any](val []T) (pqtype.NullRawMessage, error) {
	if len(val) == 0 {
		return pqtype.NullRawMessage{Valid: false}, nil
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return pqtype.NullRawMessage{}, err
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}
