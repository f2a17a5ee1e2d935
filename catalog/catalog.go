// Package catalog holds the declarative list of introspection queries
// pgstatsmon knows how to run against a Postgres backend, and the version
// dispatch that resolves each query down to the SQL string applicable to a
// given server.
package catalog

import (
	"fmt"
	"sort"
	"strconv"
)

// allVersionsKey is the sentinel version_to_sql key meaning "every version".
const allVersionsKey = "all"

// MetricDef describes one counter derived from a query result column.
type MetricDef struct {
	Attr string
	Help string
	Unit string
}

// GaugeDef describes one gauge derived from a query result column.
type GaugeDef struct {
	Attr           string
	Help           string
	Unit           string
	Expires        bool
	ExpiryPeriodMs int64
}

// Query is one entry in the catalog: a name, an optional row-identity
// column, the metadata columns used to build metric labels, a version-gated
// set of SQL variants, and the counters/gauges it produces.
type Query struct {
	Name            string
	Statkey         string
	MetadataColumns []string
	VersionToSQL    map[string]string
	Counters        []MetricDef
	Gauges          []GaugeDef
}

// ResolvedQuery is a Query with its version dispatch already settled: SQL
// holds the exact statement to run against the backend that resolved it.
type ResolvedQuery struct {
	Query
	SQL string
}

// ConfigError reports a catalog entry that violates the schema in §3: it is
// fatal at startup, never a per-tick condition.
type ConfigError struct {
	Query string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Query == "" {
		return fmt.Sprintf("catalog: %s", e.Msg)
	}
	return fmt.Sprintf("catalog: query %q: %s", e.Query, e.Msg)
}

// Validate checks every entry in queries against the schema: version_to_sql
// must either carry exactly one "all" key, or one or more keys that parse as
// integers, never both; name/statkey/version_to_sql presence
// rules hold; metric names built from a query's attrs must not collide.
func Validate(queries []Query) error {
	seenNames := make(map[string]bool, len(queries))

	for _, q := range queries {
		if q.Name == "" {
			return &ConfigError{Msg: "missing name"}
		}
		if seenNames[q.Name] {
			return &ConfigError{Query: q.Name, Msg: "duplicate query name"}
		}
		seenNames[q.Name] = true

		if len(q.VersionToSQL) == 0 {
			return &ConfigError{Query: q.Name, Msg: "version_to_sql must not be empty"}
		}

		if _, ok := q.VersionToSQL[allVersionsKey]; ok {
			if len(q.VersionToSQL) != 1 {
				return &ConfigError{Query: q.Name, Msg: `"all" must not be mixed with versioned keys`}
			}
		} else {
			for k := range q.VersionToSQL {
				if _, err := strconv.ParseInt(k, 10, 64); err != nil {
					return &ConfigError{Query: q.Name, Msg: fmt.Sprintf("version_to_sql key %q is neither \"all\" nor an integer", k)}
				}
			}
		}

		attrSeen := make(map[string]bool, len(q.Counters)+len(q.Gauges))
		for _, c := range q.Counters {
			if c.Attr == "" {
				return &ConfigError{Query: q.Name, Msg: "counter missing attr"}
			}
			if attrSeen[c.Attr] {
				return &ConfigError{Query: q.Name, Msg: fmt.Sprintf("attr %q reused across metrics", c.Attr)}
			}
			attrSeen[c.Attr] = true
		}
		for _, g := range q.Gauges {
			if g.Attr == "" {
				return &ConfigError{Query: q.Name, Msg: "gauge missing attr"}
			}
			if attrSeen[g.Attr] {
				return &ConfigError{Query: q.Name, Msg: fmt.Sprintf("attr %q reused across metrics", g.Attr)}
			}
			attrSeen[g.Attr] = true
		}
	}

	return nil
}

// MetricName is the <query.name>_<attr>[_<unit>] convention from §3.
func MetricName(queryName, attr, unit string) string {
	if unit == "" {
		return queryName + "_" + attr
	}
	return queryName + "_" + attr + "_" + unit
}

// GetApplicableQueries validates catalog against the schema, then resolves
// each entry's version dispatch against serverVersionNum: the tie-break for
// multiple matching thresholds is the maximum threshold <= serverVersionNum;
// a query with no matching threshold is omitted. Expiry periods on transient
// gauges are stamped to pollIntervalMs + 30_000.
func GetApplicableQueries(catalog []Query, serverVersionNum, pollIntervalMs int64) ([]ResolvedQuery, error) {
	if err := Validate(catalog); err != nil {
		return nil, err
	}

	resolved := make([]ResolvedQuery, 0, len(catalog))
	for _, q := range catalog {
		sql, ok := resolveSQL(q.VersionToSQL, serverVersionNum)
		if !ok {
			continue
		}

		rq := ResolvedQuery{Query: q, SQL: sql}
		rq.Gauges = make([]GaugeDef, len(q.Gauges))
		for i, g := range q.Gauges {
			if g.Expires {
				g.ExpiryPeriodMs = pollIntervalMs + 30_000
			}
			rq.Gauges[i] = g
		}
		resolved = append(resolved, rq)
	}

	return resolved, nil
}

func resolveSQL(versionToSQL map[string]string, serverVersionNum int64) (string, bool) {
	if sql, ok := versionToSQL[allVersionsKey]; ok {
		return sql, true
	}

	thresholds := make([]int64, 0, len(versionToSQL))
	for k := range versionToSQL {
		v, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		thresholds = append(thresholds, v)
	}
	sort.Slice(thresholds, func(i, j int) bool { return thresholds[i] > thresholds[j] })

	for _, t := range thresholds {
		if t <= serverVersionNum {
			return versionToSQL[strconv.FormatInt(t, 10)], true
		}
	}
	return "", false
}

// RowKey is the identity of one result row within a query's result set,
// either the value of query.statkey or a sentinel keyed by the query name
// when the query has no statkey.
func RowKey(statkey string, queryName string, rowStatkeyValue string) string {
	if statkey == "" {
		return queryName
	}
	return rowStatkeyValue
}
