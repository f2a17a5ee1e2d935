package engine

import (
	"fmt"
	"net/url"
)

// buildConnString builds the monitoring user's connection string. The
// monitoring user's password is carried on the Engine's Config rather than
// threaded through every call site; callers needing the superuser instead
// use bootstrap.Run, which builds its own connection string.
func buildConnString(address string, port int, database, user, password string) string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%d", address, port),
		Path:   "/" + database,
	}
	return u.String()
}
