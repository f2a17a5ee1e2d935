package bootstrap

// createRoleSQLTemplate is part of the external contract (§6): its exact
// privilege clauses are required, only the role name itself is templated.
const createRoleSQLTemplate = `CREATE ROLE %s WITH NOSUPERUSER NOCREATEDB NOCREATEROLE NOINHERIT NOREPLICATION CONNECTION LIMIT 2 LOGIN`

// GetStatActivityFunctionSQL installs the SECURITY DEFINER wrapper the
// pg_stat_activity query depends on, so the restricted monitoring role can
// see every backend's state without being granted superuser.
const GetStatActivityFunctionSQL = `CREATE OR REPLACE FUNCTION public.get_stat_activity() RETURNS SETOF pg_catalog.pg_stat_activity AS 'SELECT * FROM pg_catalog.pg_stat_activity;' LANGUAGE SQL VOLATILE SECURITY DEFINER;`

// GetStatReplicationFunctionSQL is the analogous wrapper for
// pg_stat_replication.
const GetStatReplicationFunctionSQL = `CREATE OR REPLACE FUNCTION public.get_stat_replication() RETURNS SETOF pg_catalog.pg_stat_replication AS 'SELECT * FROM pg_catalog.pg_stat_replication;' LANGUAGE SQL VOLATILE SECURITY DEFINER;`

// GetStatProgressVacuumFunctionSQL is the wrapper for
// pg_stat_progress_vacuum, only installed on servers new enough to have the
// underlying view (min version 9.6).
const GetStatProgressVacuumFunctionSQL = `CREATE OR REPLACE FUNCTION public.get_stat_progress_vacuum() RETURNS SETOF pg_catalog.pg_stat_progress_vacuum AS 'SELECT * FROM pg_catalog.pg_stat_progress_vacuum;' LANGUAGE SQL VOLATILE SECURITY DEFINER;`

const isInRecoverySQL = `SELECT pg_is_in_recovery() AS in_recovery`

const serverVersionNumSQL = `SHOW server_version_num`

// minVacuumProgressVersion is the server_version_num below which
// pg_stat_progress_vacuum does not exist.
const minVacuumProgressVersion = 90600
