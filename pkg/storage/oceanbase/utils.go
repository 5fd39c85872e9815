package oceanbase

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// vectorToString converts a float64 slice to an OceanBase VECTOR format string.
// Example: [0.1, 0.2, 0.3] -> "[0.1,0.2,0.3]"
func vectorToString(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}

	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	return "[" + strings.Join(parts, ",") + "]"
}

// stringToVector converts a string to a float64 slice.
// Example: "[0.1,0.2,0.3]" -> [0.1, 0.2, 0.3]
func stringToVector(s string) ([]float64, error) {
	// Remove leading and trailing square brackets
	s = strings.Trim(s, "[]")
	if s == "" {
		return []float64{}, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))

	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		result[i] = val
	}

	return result, nil
}

// buildWhereClause builds a WHERE clause from a filter.
//
// JSON_CONTAINS holds both for an equal scalar and for an array containing
// the value. Exact-text conditions also match on the indexed hash column.
func buildWhereClause(filter *storage.Filter) (string, []interface{}) {
	if filter.IsEmpty() {
		return "", nil
	}

	conditions := []string{}
	args := []interface{}{}

	for _, c := range filter.Must {
		if c.Field() == storage.KeyText && c.Kind == storage.MatchKeyword {
			text, _ := c.Value().(string)
			conditions = append(conditions, "hash = ?", "document = ?")
			args = append(args, generateHash(text), text)
			continue
		}

		value, _ := json.Marshal(c.Value())
		conditions = append(conditions, "JSON_CONTAINS(JSON_EXTRACT(payload, ?), CAST(? AS JSON))")
		args = append(args, "$."+c.Field(), string(value))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// generateHash generates an MD5 hash for content.
func generateHash(content string) string {
	hash := md5.Sum([]byte(content))
	return hex.EncodeToString(hash[:])
}
