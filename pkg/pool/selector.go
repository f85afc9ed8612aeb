package pool

import (
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cascata/gateway/pkg/tenant"
)

// Endpoint addresses one of the platform's physical Postgres entry points
// (the transaction-mode pooler or the direct session-mode listener) together
// with the credentials used for internally managed tenant databases.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
}

// URL builds the connection string for dbName against this endpoint.
func (ep Endpoint) URL(dbName string) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)),
		Path:     "/" + dbName,
		RawQuery: "sslmode=disable",
	}
	if ep.User != "" {
		u.User = url.UserPassword(ep.User, ep.Password)
	}
	return u.String()
}

// Selection is the resolved (dbIdentifier, connectionURL, Config) triple a
// caller should pass to Registry.Get for a given project and request.
type Selection struct {
	DBIdentifier  string
	ConnectionURL string
	Config        Config
}

// Select resolves a (Project, Method) pair to a pool Selection. Rule: if the
// project has an external primary URL, use it; if the method is a read and a
// replica URL exists, use the replica; else use the internal pool for the
// tenant database.
func Select(p *tenant.Project, method string, pooler Endpoint, statementTimeoutMs int) Selection {
	cfg := Config{
		MaxConnections:     p.Metadata.MaxConnections,
		IdleMs:             p.Metadata.IdleTimeoutSeconds * 1000,
		StatementTimeoutMs: firstNonZero(p.Metadata.StatementTimeoutMs, statementTimeoutMs),
	}

	if p.IsExternal() {
		cfg.ConnectionString = p.Metadata.ExternalPrimaryURL
		return Selection{DBIdentifier: p.DBName, ConnectionURL: p.Metadata.ExternalPrimaryURL, Config: cfg}
	}

	if method == http.MethodGet && p.HasReplica() {
		cfg.ConnectionString = p.Metadata.ReplicaURL
		return Selection{DBIdentifier: p.DBName, ConnectionURL: p.Metadata.ReplicaURL, Config: cfg}
	}

	return Selection{DBIdentifier: p.DBName, ConnectionURL: pooler.URL(p.DBName), Config: cfg}
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}
