// Package bootstrap implements the Backend Bootstrapper: the one-time (per
// backend, per needs_setup cycle) superuser handshake that detects standby
// status, creates the restricted monitoring role, installs the helper
// views, and hands back the version-applicable query set.
package bootstrap

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/joyent/pgstatsmon/catalog"
	"github.com/joyent/pgstatsmon/pgbackend"
)

// ErrInRecovery is returned when the target is a standby: bootstrap is
// considered complete, but the engine must not run primary-only queries
// against this backend (§4.E step 2, §9 Open Questions: full skip).
var ErrInRecovery = errors.New("postgres instance is in recovery")

// SuperuserConfig carries the credentials and timeouts for the temporary
// superuser connection, distinct from the monitoring user's credentials.
type SuperuserConfig struct {
	User           string
	Password       string
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
}

// Result is what a successful bootstrap hands back to the engine.
type Result struct {
	ServerVersionNum int64
	Queries          []catalog.ResolvedQuery
}

// Run executes the bootstrap algorithm against address:port/database using
// a temporary superuser connection, then tears it down. On ErrInRecovery the
// caller should treat this backend as a standby and skip collection until
// the next added event (§9 Open Questions).
func Run(
	ctx context.Context,
	address string,
	port int,
	database string,
	monitoringUser string,
	superuser SuperuserConfig,
	cat []catalog.Query,
	pollIntervalMs int64,
) (*Result, error) {
	connString := buildConnString(address, port, database, superuser.User, superuser.Password)
	client := pgbackend.New(connString)

	cctx, cancel := context.WithTimeout(ctx, superuser.ConnectTimeout)
	defer cancel()
	if err := client.Connect(cctx); err != nil {
		return nil, errors.Wrap(err, "open superuser connection")
	}
	defer func() { _ = client.Destroy(context.Background()) }()

	inRecovery, err := checkInRecovery(ctx, client, superuser.QueryTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "check pg_is_in_recovery")
	}
	if inRecovery {
		return nil, ErrInRecovery
	}

	serverVersionNum, err := fetchServerVersionNum(ctx, client, superuser.QueryTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "fetch server_version_num")
	}

	createRoleSQL := fmt.Sprintf(createRoleSQLTemplate, monitoringUser)
	if _, err := client.Query(ctx, createRoleSQL, superuser.QueryTimeout); err != nil && !isAlreadyExists(err) {
		return nil, errors.Wrap(err, "create monitoring role")
	}

	if _, err := client.Query(ctx, GetStatActivityFunctionSQL, superuser.QueryTimeout); err != nil {
		return nil, errors.Wrap(err, "install get_stat_activity wrapper")
	}

	if _, err := client.Query(ctx, GetStatReplicationFunctionSQL, superuser.QueryTimeout); err != nil {
		return nil, errors.Wrap(err, "install get_stat_replication wrapper")
	}

	if serverVersionNum >= minVacuumProgressVersion {
		if _, err := client.Query(ctx, GetStatProgressVacuumFunctionSQL, superuser.QueryTimeout); err != nil {
			log.Warn("skipping pg_stat_progress_vacuum wrapper, underlying view unavailable",
				zap.String("address", address), zap.Error(err))
		}
	}

	queries, err := catalog.GetApplicableQueries(cat, serverVersionNum, pollIntervalMs)
	if err != nil {
		return nil, errors.Wrap(err, "resolve applicable queries")
	}

	return &Result{ServerVersionNum: serverVersionNum, Queries: queries}, nil
}

func checkInRecovery(ctx context.Context, client *pgbackend.Client, timeout time.Duration) (bool, error) {
	rows, err := client.Query(ctx, isInRecoverySQL, timeout)
	if err != nil {
		return false, err
	}
	if len(rows) != 1 {
		return false, errors.New("pg_is_in_recovery returned no row")
	}
	v, ok := rows[0]["in_recovery"].(bool)
	if !ok {
		return false, errors.New("pg_is_in_recovery returned a non-boolean value")
	}
	return v, nil
}

func fetchServerVersionNum(ctx context.Context, client *pgbackend.Client, timeout time.Duration) (int64, error) {
	rows, err := client.Query(ctx, serverVersionNumSQL, timeout)
	if err != nil {
		return 0, err
	}
	if len(rows) != 1 {
		return 0, errors.New("server_version_num returned no row")
	}

	switch v := rows[0]["server_version_num"].(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	default:
		return 0, errors.Errorf("server_version_num has unexpected type %T", v)
	}
}

// isAlreadyExists reports whether err is Postgres' duplicate_object error
// (SQLSTATE 42710), the "role already exists" case §4.E step 4 treats as
// success.
func isAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42710"
	}
	return false
}

func buildConnString(address string, port int, database string, user, password string) string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%d", address, port),
		Path:   "/" + database,
	}
	return u.String()
}
