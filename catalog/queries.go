package catalog

// Catalog is the canonical list of statistics pgstatsmon knows how to
// derive. It is a data literal, not a builder: GetApplicableQueries is the
// only place that interprets it.
var Catalog = []Query{
	pgStatUserTables,
	pgStatioUserTables,
	pgStatioUserIndexes,
	pgStatReplication,
	pgRecovery,
	pgStatActivity,
	pgStatDatabase,
	pgRelationSize,
	pgStatBgwriter,
	pgVacuum,
	pgStatProgressVacuum,
}

var pgStatUserTables = Query{
	Name:            "pg_stat_user_tables",
	Statkey:         "relid",
	MetadataColumns: []string{"schemaname", "relname"},
	VersionToSQL: map[string]string{
		allVersionsKey: `
			SELECT
				relid, schemaname, relname,
				seq_scan, seq_tup_read, idx_scan, idx_tup_fetch,
				n_tup_ins, n_tup_upd, n_tup_del, n_tup_hot_upd,
				n_live_tup, n_dead_tup,
				vacuum_count, autovacuum_count, analyze_count, autoanalyze_count
			FROM pg_catalog.pg_stat_user_tables
		`,
	},
	Counters: []MetricDef{
		{Attr: "seq_scan", Help: "sequential scans initiated on this table"},
		{Attr: "seq_tup_read", Help: "live rows fetched by sequential scans"},
		{Attr: "idx_scan", Help: "index scans initiated on this table"},
		{Attr: "idx_tup_fetch", Help: "live rows fetched by index scans"},
		{Attr: "n_tup_ins", Help: "rows inserted"},
		{Attr: "n_tup_upd", Help: "rows updated"},
		{Attr: "n_tup_del", Help: "rows deleted"},
		{Attr: "n_tup_hot_upd", Help: "rows HOT updated"},
		{Attr: "vacuum_count", Help: "times this table has been manually vacuumed"},
		{Attr: "autovacuum_count", Help: "times this table has been vacuumed by autovacuum"},
		{Attr: "analyze_count", Help: "times this table has been manually analyzed"},
		{Attr: "autoanalyze_count", Help: "times this table has been analyzed by autoanalyze"},
	},
	Gauges: []GaugeDef{
		{Attr: "n_live_tup", Help: "estimated live rows"},
		{Attr: "n_dead_tup", Help: "estimated dead rows"},
	},
}

var pgStatioUserTables = Query{
	Name:            "pg_statio_user_tables",
	Statkey:         "relid",
	MetadataColumns: []string{"schemaname", "relname"},
	VersionToSQL: map[string]string{
		allVersionsKey: `
			SELECT
				relid, schemaname, relname,
				heap_blks_read, heap_blks_hit,
				idx_blks_read, idx_blks_hit,
				toast_blks_read, toast_blks_hit,
				tidx_blks_read, tidx_blks_hit
			FROM pg_catalog.pg_statio_user_tables
		`,
	},
	Counters: []MetricDef{
		{Attr: "heap_blks_read", Help: "disk blocks read from this table", Unit: "blocks"},
		{Attr: "heap_blks_hit", Help: "buffer hits in this table", Unit: "blocks"},
		{Attr: "idx_blks_read", Help: "disk blocks read from all indexes on this table", Unit: "blocks"},
		{Attr: "idx_blks_hit", Help: "buffer hits in all indexes on this table", Unit: "blocks"},
		{Attr: "toast_blks_read", Help: "disk blocks read from this table's TOAST table", Unit: "blocks"},
		{Attr: "toast_blks_hit", Help: "buffer hits in this table's TOAST table", Unit: "blocks"},
		{Attr: "tidx_blks_read", Help: "disk blocks read from this table's TOAST index", Unit: "blocks"},
		{Attr: "tidx_blks_hit", Help: "buffer hits in this table's TOAST index", Unit: "blocks"},
	},
}

var pgStatioUserIndexes = Query{
	Name:            "pg_statio_user_indexes",
	Statkey:         "indexrelid",
	MetadataColumns: []string{"schemaname", "relname", "indexrelname"},
	VersionToSQL: map[string]string{
		allVersionsKey: `
			SELECT
				indexrelid, schemaname, relname, indexrelname,
				idx_blks_read, idx_blks_hit
			FROM pg_catalog.pg_statio_user_indexes
		`,
	},
	Counters: []MetricDef{
		{Attr: "idx_blks_read", Help: "disk blocks read from this index", Unit: "blocks"},
		{Attr: "idx_blks_hit", Help: "buffer hits in this index", Unit: "blocks"},
	},
}

// pgStatReplication preserves v2 semantics (spec.md §9 Open Questions): WAL
// byte offsets since backend start are exposed as gauges, not counters,
// because they are absolute positions rather than per-interval deltas.
var pgStatReplication = Query{
	Name:            "pg_stat_replication",
	Statkey:         "pid",
	MetadataColumns: []string{"application_name", "sync_state"},
	VersionToSQL: map[string]string{
		"90400": `
			SELECT
				pid, application_name, sync_state,
				(sent_location - '0/0'::pg_lsn) AS wal_sent,
				(write_location - '0/0'::pg_lsn) AS replica_wal_written,
				(flush_location - '0/0'::pg_lsn) AS replica_wal_flushed,
				(replay_location - '0/0'::pg_lsn) AS replica_wal_replayed
			FROM public.get_stat_replication()
		`,
		"100000": `
			SELECT
				pid, application_name, sync_state,
				(sent_lsn - '0/0'::pg_lsn) AS wal_sent,
				(write_lsn - '0/0'::pg_lsn) AS replica_wal_written,
				(flush_lsn - '0/0'::pg_lsn) AS replica_wal_flushed,
				(replay_lsn - '0/0'::pg_lsn) AS replica_wal_replayed
			FROM public.get_stat_replication()
		`,
	},
	Gauges: []GaugeDef{
		{Attr: "wal_sent", Help: "WAL bytes sent to this replica", Unit: "bytes"},
		{Attr: "replica_wal_written", Help: "WAL bytes written by this replica", Unit: "bytes"},
		{Attr: "replica_wal_flushed", Help: "WAL bytes flushed by this replica", Unit: "bytes"},
		{Attr: "replica_wal_replayed", Help: "WAL bytes replayed by this replica", Unit: "bytes"},
	},
}

var pgRecovery = Query{
	Name:            "pg_recovery",
	MetadataColumns: []string{},
	VersionToSQL: map[string]string{
		allVersionsKey: `
			SELECT
				pg_is_in_recovery() AS in_recovery,
				CASE WHEN pg_is_in_recovery() THEN NULL
					ELSE (pg_current_wal_insert_lsn() - '0/0'::pg_lsn) END AS wal_insert,
				CASE WHEN pg_is_in_recovery() THEN NULL
					ELSE (pg_current_wal_flush_lsn() - '0/0'::pg_lsn) END AS wal_flush,
				CASE WHEN pg_is_in_recovery() THEN (pg_last_wal_replay_lsn() - '0/0'::pg_lsn)
					ELSE NULL END AS wal_replay,
				CASE WHEN pg_is_in_recovery() THEN (pg_last_wal_receive_lsn() - '0/0'::pg_lsn)
					ELSE NULL END AS wal_receive
		`,
	},
	Gauges: []GaugeDef{
		{Attr: "wal_insert", Help: "WAL insert position since start", Unit: "bytes"},
		{Attr: "wal_flush", Help: "WAL flush position since start", Unit: "bytes"},
		{Attr: "wal_replay", Help: "WAL replay position since start, standby only", Unit: "bytes"},
		{Attr: "wal_receive", Help: "WAL receive position since start, standby only", Unit: "bytes"},
	},
}

var pgStatActivity = Query{
	Name:            "pg_stat_activity",
	Statkey:         "row_key",
	MetadataColumns: []string{"datname", "state"},
	VersionToSQL: map[string]string{
		allVersionsKey: `
			SELECT d.datname || ':' || s.state AS row_key,
				d.datname, s.state, COALESCE(a.count, 0) AS connections
			FROM pg_catalog.pg_database d
			CROSS JOIN (VALUES
				('active'), ('idle'), ('idle in transaction'),
				('idle in transaction (aborted)'), ('fastpath function call'), ('disabled')
			) AS s(state)
			LEFT JOIN (
				SELECT datname, state, count(*) AS count
				FROM public.get_stat_activity()
				GROUP BY datname, state
			) a ON a.datname = d.datname AND a.state = s.state
			WHERE d.datname NOT LIKE 'template%'
		`,
	},
	Gauges: []GaugeDef{
		{Attr: "connections", Help: "backends in this state against this database"},
	},
}

var pgStatDatabase = Query{
	Name:            "pg_stat_database",
	Statkey:         "datname",
	MetadataColumns: []string{"datname"},
	VersionToSQL: map[string]string{
		allVersionsKey: `
			SELECT
				datname, numbackends, xact_commit, xact_rollback,
				blks_read, blks_hit, tup_returned, tup_fetched,
				tup_inserted, tup_updated, tup_deleted,
				conflicts, temp_files, temp_bytes, deadlocks, stats_reset
			FROM pg_catalog.pg_stat_database
			WHERE datname NOT IN ('postgres') AND datname NOT LIKE 'template%'
		`,
	},
	Counters: []MetricDef{
		{Attr: "xact_commit", Help: "transactions committed"},
		{Attr: "xact_rollback", Help: "transactions rolled back"},
		{Attr: "blks_read", Help: "disk blocks read", Unit: "blocks"},
		{Attr: "blks_hit", Help: "buffer hits", Unit: "blocks"},
		{Attr: "tup_returned", Help: "rows returned by scans"},
		{Attr: "tup_fetched", Help: "rows fetched by scans"},
		{Attr: "tup_inserted", Help: "rows inserted"},
		{Attr: "tup_updated", Help: "rows updated"},
		{Attr: "tup_deleted", Help: "rows deleted"},
		{Attr: "conflicts", Help: "queries cancelled due to recovery conflicts"},
		{Attr: "temp_files", Help: "temporary files created by queries"},
		{Attr: "temp_bytes", Help: "data written to temporary files", Unit: "bytes"},
		{Attr: "deadlocks", Help: "deadlocks detected"},
	},
	Gauges: []GaugeDef{
		{Attr: "numbackends", Help: "backends currently connected to this database"},
	},
}

var pgRelationSize = Query{
	Name:            "pg_relation_size",
	Statkey:         "relid",
	MetadataColumns: []string{"schemaname", "relname"},
	VersionToSQL: map[string]string{
		allVersionsKey: `
			SELECT
				c.oid AS relid, n.nspname AS schemaname, c.relname,
				c.reltuples AS estimated_row_count,
				pg_total_relation_size(c.oid) AS total_size,
				pg_indexes_size(c.oid) AS index_size,
				COALESCE(pg_total_relation_size(c.reltoastrelid), 0) AS toast_size
			FROM pg_catalog.pg_class c
			JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
			WHERE c.relkind IN ('r', 'm') AND n.nspname = ANY(current_schemas(false))
		`,
	},
	Gauges: []GaugeDef{
		{Attr: "estimated_row_count", Help: "planner row-count estimate for this relation"},
		{Attr: "total_size", Help: "total on-disk size of this relation", Unit: "bytes"},
		{Attr: "index_size", Help: "on-disk size of this relation's indexes", Unit: "bytes"},
		{Attr: "toast_size", Help: "on-disk size of this relation's TOAST table", Unit: "bytes"},
	},
}

var pgStatBgwriter = Query{
	Name:            "pg_stat_bgwriter",
	MetadataColumns: []string{},
	VersionToSQL: map[string]string{
		allVersionsKey: `
			SELECT
				checkpoints_timed, checkpoints_req,
				checkpoint_write_time, checkpoint_sync_time,
				buffers_checkpoint, buffers_clean, maxwritten_clean,
				buffers_backend, buffers_backend_fsync, buffers_alloc, stats_reset
			FROM pg_catalog.pg_stat_bgwriter
		`,
	},
	Counters: []MetricDef{
		{Attr: "checkpoints_timed", Help: "scheduled checkpoints performed"},
		{Attr: "checkpoints_req", Help: "requested checkpoints performed"},
		{Attr: "checkpoint_write_time", Help: "time spent writing checkpoint files", Unit: "ms"},
		{Attr: "checkpoint_sync_time", Help: "time spent syncing checkpoint files", Unit: "ms"},
		{Attr: "buffers_checkpoint", Help: "buffers written during checkpoints"},
		{Attr: "buffers_clean", Help: "buffers written by the background writer"},
		{Attr: "maxwritten_clean", Help: "times the background writer stopped a cleaning scan early"},
		{Attr: "buffers_backend", Help: "buffers written directly by a backend"},
		{Attr: "buffers_backend_fsync", Help: "fsync calls performed directly by a backend"},
		{Attr: "buffers_alloc", Help: "buffers allocated"},
	},
}

var pgVacuum = Query{
	Name:            "pg_vacuum",
	Statkey:         "relid",
	MetadataColumns: []string{"schemaname", "relname"},
	VersionToSQL: map[string]string{
		allVersionsKey: `
			SELECT
				c.oid AS relid, n.nspname AS schemaname, c.relname,
				age(c.relfrozenxid) AS xid_age,
				2147483647 - age(c.relfrozenxid) AS tx_until_wraparound_autovacuum
			FROM pg_catalog.pg_class c
			JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
			WHERE c.relkind IN ('r', 'm') AND n.nspname NOT IN ('pg_catalog', 'information_schema')
		`,
	},
	Gauges: []GaugeDef{
		{Attr: "xid_age", Help: "transaction IDs since this relation's last vacuum froze its oldest xid"},
		{Attr: "tx_until_wraparound_autovacuum", Help: "transactions remaining before forced wraparound autovacuum"},
	},
}

var pgStatProgressVacuum = Query{
	Name:            "pg_stat_progress_vacuum",
	Statkey:         "relid",
	MetadataColumns: []string{"datname", "relid", "phase"},
	VersionToSQL: map[string]string{
		"90600": `
			SELECT
				datname, relid, phase,
				heap_blks_total, heap_blks_scanned, heap_blks_vacuumed,
				index_vacuum_count, max_dead_tuples, num_dead_tuples
			FROM public.get_stat_progress_vacuum()
		`,
	},
	Gauges: []GaugeDef{
		{Attr: "heap_blks_total", Help: "total heap blocks in this vacuum's target relation", Expires: true},
		{Attr: "heap_blks_scanned", Help: "heap blocks scanned so far", Expires: true},
		{Attr: "heap_blks_vacuumed", Help: "heap blocks vacuumed so far", Expires: true},
		{Attr: "index_vacuum_count", Help: "completed index vacuum cycles", Expires: true},
		{Attr: "max_dead_tuples", Help: "dead tuples this vacuum can store before an index cleanup pass", Expires: true},
		{Attr: "num_dead_tuples", Help: "dead tuples collected since the last index cleanup pass", Expires: true},
	},
}
