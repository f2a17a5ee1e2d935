package engine

import (
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/joyent/pgstatsmon/catalog"
	"github.com/joyent/pgstatsmon/pgbackend"
)

// recordDelta is the Delta Recorder (§4.F): it replaces the backend's
// last-observed rows for this query, then emits one registry update per
// counter/gauge for every row that also existed on the previous tick.
func (e *Engine) recordDelta(bs *backendState, q catalog.ResolvedQuery, rows []pgbackend.Row) {
	prevRows := bs.previousRows(q.Name)

	newRows := make(map[string]pgbackend.Row, len(rows))
	for _, r := range rows {
		key := catalog.RowKey(q.Statkey, q.Name, stringify(r[q.Statkey]))
		newRows[key] = r
	}
	bs.storeRows(q.Name, newRows)

	for key, newRow := range newRows {
		prevRow, hadPrev := prevRows[key]

		if hadPrev && hasReset(prevRow, newRow) {
			log.Info("stats reset detected", zap.String("backend", bs.key), zap.String("query", q.Name), zap.String("row", key))
			continue
		}
		if !hadPrev {
			log.Debug("row detected, no prior observation to diff against",
				zap.String("backend", bs.key), zap.String("query", q.Name), zap.String("row", key))
			continue
		}

		labels := e.rowLabels(bs, q, newRow)

		for _, c := range q.Counters {
			e.applyCounter(bs, q, c, labels, prevRow, newRow)
		}
		for _, g := range q.Gauges {
			e.applyGauge(bs, q, g, labels, newRow)
		}
	}
}

// rowLabels builds a row's label set from the row's metadata_columns plus
// backend, per §9's "avoid reflective field access" guidance: the catalog
// enumerates exactly the columns needed.
func (e *Engine) rowLabels(bs *backendState, q catalog.ResolvedQuery, row pgbackend.Row) map[string]string {
	labels := make(map[string]string, len(q.MetadataColumns)+1)
	labels["backend"] = bs.backend.DisplayName
	for _, col := range q.MetadataColumns {
		labels[col] = stringify(row[col])
	}
	return labels
}

func (e *Engine) applyCounter(bs *backendState, q catalog.ResolvedQuery, c catalog.MetricDef, labels map[string]string, prevRow, newRow pgbackend.Row) {
	newVal, newOK := numericValue(newRow[c.Attr])
	if !newOK {
		if isNull(newRow[c.Attr]) {
			log.Debug("null counter value, skipping", zap.String("backend", bs.key), zap.String("query", q.Name), zap.String("attr", c.Attr))
			return
		}
		_ = e.registry.AddCounter("pg_NaN_error", "unparseable numeric columns", e.nanLabels(bs, q.Name, c.Attr), 1)
		return
	}

	oldVal, oldOK := numericValue(prevRow[c.Attr])
	if !oldOK {
		return
	}

	if oldVal > newVal {
		log.Info("implicit counter reset detected, skipping delta",
			zap.String("backend", bs.key), zap.String("query", q.Name), zap.String("attr", c.Attr))
		return
	}

	name := catalog.MetricName(q.Name, c.Attr, c.Unit)
	_ = e.registry.AddCounter(name, c.Help, labels, newVal-oldVal)
}

func (e *Engine) applyGauge(bs *backendState, q catalog.ResolvedQuery, g catalog.GaugeDef, labels map[string]string, newRow pgbackend.Row) {
	val, ok := numericValue(newRow[g.Attr])
	if !ok {
		if isNull(newRow[g.Attr]) {
			log.Debug("null gauge value, skipping", zap.String("backend", bs.key), zap.String("query", q.Name), zap.String("attr", g.Attr))
			return
		}
		_ = e.registry.AddCounter("pg_NaN_error", "unparseable numeric columns", e.nanLabels(bs, q.Name, g.Attr), 1)
		return
	}

	name := catalog.MetricName(q.Name, g.Attr, g.Unit)
	expiryPeriod := time.Duration(g.ExpiryPeriodMs) * time.Millisecond
	_ = e.registry.SetGauge(name, g.Help, labels, val, g.Expires, expiryPeriod)
}

func (e *Engine) nanLabels(bs *backendState, queryName, attr string) map[string]string {
	return map[string]string{"backend": bs.backend.DisplayName, "query": queryName, "name": attr}
}
