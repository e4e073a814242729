// Package sqlconn opens dedicated connections as database/sql pools.
package sqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/centraunit/dedicated"
)

// Driver families understood by DSN.
const (
	MySQL    = "mysql"
	Postgres = "pgx"
)

var driverAliases = map[string]string{
	"mysql":      MySQL,
	"mysqli":     MySQL,
	"pdo_mysql":  MySQL,
	"pgsql":      Postgres,
	"pgx":        Postgres,
	"postgres":   Postgres,
	"postgresql": Postgres,
	"pdo_pgsql":  Postgres,
}

// UnsupportedDriverError represents a configuration naming a driver DSN
// cannot format.
type UnsupportedDriverError struct {
	Driver string
}

func (e *UnsupportedDriverError) Error() string {
	return fmt.Sprintf("unsupported database driver: %q", e.Driver)
}

// DSN returns the database/sql driver name and data source name for cfg.
func DSN(cfg dedicated.ConnectionConfig) (string, string, error) {
	driver, ok := driverAliases[strings.ToLower(cfg.Driver)]
	if !ok {
		return "", "", &UnsupportedDriverError{Driver: cfg.Driver}
	}
	switch driver {
	case MySQL:
		return driver, mysqlDSN(cfg), nil
	default:
		return driver, postgresDSN(cfg), nil
	}
}

func hostPort(host string, port int) string {
	if port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func mysqlDSN(cfg dedicated.ConnectionConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.DBName = cfg.DBName
	if cfg.Host != "" {
		mc.Net = "tcp"
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		mc.Addr = hostPort(cfg.Host, port)
	}
	params := make(map[string]string, len(cfg.Options)+1)
	for k, v := range cfg.Options {
		params[k] = v
	}
	if cfg.Charset != "" {
		params["charset"] = cfg.Charset
	}
	if len(params) > 0 {
		mc.Params = params
	}
	return mc.FormatDSN()
}

func postgresDSN(cfg dedicated.ConnectionConfig) string {
	u := &url.URL{
		Scheme: "postgres",
		Host:   hostPort(cfg.Host, cfg.Port),
		Path:   "/" + cfg.DBName,
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	q := url.Values{}
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	if cfg.Charset != "" {
		q.Set("client_encoding", cfg.Charset)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Connector is a dedicated.Connector opening *sql.DB handles.
type Connector struct {
	// PingOnConnect verifies the connection before it is returned, so an
	// unreachable host or bad credentials fail Resolve instead of the first query.
	PingOnConnect bool

	// Open defaults to sql.Open.
	Open func(driverName, dsn string) (*sql.DB, error)
}

var _ dedicated.Connector = (*Connector)(nil)

// Connect opens a pool for cfg.
func (c *Connector) Connect(ctx context.Context, cfg dedicated.ConnectionConfig) (dedicated.Handle, error) {
	driver, dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	open := c.Open
	if open == nil {
		open = sql.Open
	}
	db, err := open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection to %s: %w", driver, cfg.DBName, err)
	}
	if c.PingOnConnect {
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping %s connection to %s: %w", driver, cfg.DBName, err)
		}
	}
	return db, nil
}
