package sandbox

import (
	"fmt"
	"math/big"
	"time"
)

// normalizeRow converts one engine row into a column-name keyed mapping of
// JSON-safe values. Column order is the caller's concern; duplicate column
// names collapse in the mapping exactly as standard SQL leaves them to the
// candidate's aliasing.
func normalizeRow(columns []string, values []any) map[string]any {
	row := make(map[string]any, len(columns))
	for i, name := range columns {
		row[name] = normalizeValue(values[i])
	}
	return row
}

// normalizeValue maps engine-native values onto the fixed set of JSON-safe
// primitives. Temporal values become ISO-8601 text; DATE columns come back
// from DuckDB as midnight-UTC timestamps and keep the calendar-date form.
// Anything outside the known set (intervals, decimals, uuids) is rendered as
// text rather than leaked as a driver type.
func normalizeValue(value any) any {
	switch typed := value.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return typed
	case []byte:
		return string(typed)
	case time.Time:
		t := typed.UTC()
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format(time.RFC3339Nano)
	case *big.Int:
		if typed.IsInt64() {
			return typed.Int64()
		}
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}
