package sqlite

import (
	"strings"

	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// buildWhereClause translates a filter into a WHERE clause.
//
// json_each yields a single row for scalar fields and one row per element for
// arrays, so one EXISTS form covers both exact match and "array contains".
// Booleans are compared as 1/0, the way json_each reports them.
func buildWhereClause(filter *storage.Filter) (string, []interface{}) {
	if filter.IsEmpty() {
		return "", nil
	}

	conditions := make([]string, 0, len(filter.Must))
	args := make([]interface{}, 0, len(filter.Must)*2)

	for _, c := range filter.Must {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(payload, ?) WHERE json_each.value = ?)")

		value := c.Value()
		if b, ok := value.(bool); ok {
			if b {
				value = 1
			} else {
				value = 0
			}
		}
		args = append(args, "$."+c.Field(), value)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}
