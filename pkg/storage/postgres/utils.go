package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// buildConditions translates a filter into SQL conditions with parameters
// numbered from startIndex.
//
// Each condition holds when the addressed JSONB value equals the match value,
// or when it is an array containing it.
func buildConditions(filter *storage.Filter, startIndex int) ([]string, []interface{}) {
	if filter.IsEmpty() {
		return nil, nil
	}

	conditions := make([]string, 0, len(filter.Must))
	args := make([]interface{}, 0, len(filter.Must)*2)
	argIndex := startIndex

	for _, c := range filter.Must {
		value, _ := json.Marshal(c.Value())
		conditions = append(conditions, fmt.Sprintf(
			"(payload #> $%d::text[] = $%d::jsonb OR payload #> $%d::text[] @> jsonb_build_array($%d::jsonb))",
			argIndex, argIndex+1, argIndex, argIndex+1,
		))
		args = append(args, pathArray(c.Path()), string(value))
		argIndex += 2
	}

	return conditions, args
}

// whereClause joins conditions with AND.
func whereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conditions, " AND ")
}
