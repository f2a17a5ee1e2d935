package engine

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/joyent/pgstatsmon/pgbackend"
)

// numericValue converts a column value returned by pgx into a float64,
// following §3/§4.F's NaN/null handling rules. ok is false either because v
// is NULL (isNull will be true) or because it could not be parsed as a
// number (a NaN condition, per §7 NaNValue).
func numericValue(v interface{}) (value float64, ok bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return 0, false
		}
		return f.Float64, true
	default:
		return 0, false
	}
}

// isNull reports whether v is Postgres NULL, distinguishing NullValue (§7,
// not incremented anywhere) from NaNValue (incremented as pg_NaN_error).
func isNull(v interface{}) bool {
	return v == nil
}

// stringify renders a statkey column value as the string used to key
// last_rows, regardless of its underlying Go type.
func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// hasReset reports whether prev and new both carry a stats_reset column and
// new's is strictly later, per the Delta Recorder's reset detection rule.
func hasReset(prev, next pgbackend.Row) bool {
	pv, pok := prev["stats_reset"]
	nv, nok := next["stats_reset"]
	if !pok || !nok || pv == nil || nv == nil {
		return false
	}

	pt, ok1 := pv.(time.Time)
	nt, ok2 := nv.(time.Time)
	if !ok1 || !ok2 {
		return false
	}
	return nt.After(pt)
}
