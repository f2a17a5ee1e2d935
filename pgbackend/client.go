// Package pgbackend implements the single-connection wrapper around a
// Postgres backend: connect, query-with-timeout, and destroy. It never pools
// connections itself — that is the pool package's job.
package pgbackend

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ErrQueryTimeout is returned when the wall-clock between issuing a query
// and its terminal event exceeds the caller-supplied timeout.
var ErrQueryTimeout = errors.New("query timeout")

// ErrDestroyed is returned by Query/Connect once Destroy has been called.
var ErrDestroyed = errors.New("client destroyed")

// ConnectError wraps a failure to establish the TCP+startup handshake.
type ConnectError struct {
	cause error
}

func (e *ConnectError) Error() string { return "connect: " + e.cause.Error() }
func (e *ConnectError) Unwrap() error { return e.cause }

// Row is one result row, keyed by column name.
type Row map[string]interface{}

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeSQL collapses runs of whitespace so the same logical query
// produces an identical string across backends for log correlation.
func normalizeSQL(sql string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(sql, " "))
}

// Client is a single-connection wrapper around one Postgres backend. It is
// not safe for concurrent use: a new Query may only be issued after the
// previous call has returned its terminal event, matching the server-side
// single-request-in-flight-per-connection protocol constraint.
type Client struct {
	connString string

	mu        sync.Mutex
	conn      *pgx.Conn
	destroyed bool
}

// New builds a Client that will dial connString on Connect.
func New(connString string) *Client {
	return &Client{connString: connString}
}

// Connect establishes the TCP+startup handshake. Fails with *ConnectError
// if the transport or handshake fails.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return ErrDestroyed
	}

	conn, err := pgx.Connect(ctx, c.connString)
	if err != nil {
		return &ConnectError{cause: err}
	}
	c.conn = conn
	return nil
}

// Query runs sql with a hard wall-clock deadline of timeout between issuing
// the query and its terminal event. Exactly one of (rows, nil) or (nil, err)
// is returned. On ErrQueryTimeout the connection is left open but the caller
// must treat it as "had_error" and destroy it (see pool).
func (c *Client) Query(ctx context.Context, sql string, timeout time.Duration) ([]Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil, ErrDestroyed
	}
	if c.conn == nil {
		return nil, errors.New("query issued before connect")
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := c.conn.Query(qctx, normalizeSQL(sql))
	if err != nil {
		if qctx.Err() != nil {
			return nil, ErrQueryTimeout
		}
		return nil, err
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		if qctx.Err() != nil {
			rows.Close()
			return nil, ErrQueryTimeout
		}

		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		row := make(Row, len(values))
		for i, fd := range rows.FieldDescriptions() {
			row[string(fd.Name)] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		if qctx.Err() != nil {
			return nil, ErrQueryTimeout
		}
		return nil, err
	}

	return results, nil
}

// IsDestroyed reports whether Destroy has already been called.
func (c *Client) IsDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// Destroy closes the underlying connection, if any, and marks the client
// unusable for any further Connect/Query calls.
func (c *Client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil
	}
	c.destroyed = true

	if c.conn == nil {
		return nil
	}
	return c.conn.Close(ctx)
}
