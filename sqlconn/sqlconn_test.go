package sqlconn

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/centraunit/dedicated"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name       string
		cfg        dedicated.ConnectionConfig
		wantDriver string
		wantPrefix string
		wantParts  []string
	}{
		{
			name: "mysql",
			cfg: dedicated.ConnectionConfig{
				Driver: "pdo_mysql", Host: "db.internal", Port: 3307,
				DBName: "app_reports", User: "app", Password: "secret", Charset: "utf8mb4",
			},
			wantDriver: MySQL,
			wantPrefix: "app:secret@tcp(db.internal:3307)/app_reports",
			wantParts:  []string{"charset=utf8mb4"},
		},
		{
			name: "mysql default port",
			cfg: dedicated.ConnectionConfig{
				Driver: "mysql", Host: "db.internal", DBName: "app", User: "app",
			},
			wantDriver: MySQL,
			wantPrefix: "app@tcp(db.internal:3306)/app",
		},
		{
			name: "postgres",
			cfg: dedicated.ConnectionConfig{
				Driver: "pgsql", Host: "pg", Port: 5432, DBName: "app_audit",
				User: "app", Password: "secret", Charset: "UTF8",
				Options: map[string]string{"sslmode": "disable"},
			},
			wantDriver: Postgres,
			wantPrefix: "postgres://app:secret@pg:5432/app_audit?",
			wantParts:  []string{"client_encoding=UTF8", "sslmode=disable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn, err := DSN(tt.cfg)
			require.NoError(t, err)
			require.Equal(t, tt.wantDriver, driver)
			require.True(t, strings.HasPrefix(dsn, tt.wantPrefix), "dsn %q", dsn)
			for _, part := range tt.wantParts {
				require.Contains(t, dsn, part)
			}
		})
	}
}

func TestDSNUnsupportedDriver(t *testing.T) {
	_, _, err := DSN(dedicated.ConnectionConfig{Driver: "oci8"})
	var unsupported *UnsupportedDriverError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, "oci8", unsupported.Driver)
}

func TestConnectorOpensPoolWithoutPing(t *testing.T) {
	connector := &Connector{}
	h, err := connector.Connect(context.Background(), dedicated.ConnectionConfig{
		Driver: "mysql", Host: "127.0.0.1", Port: 1, DBName: "app_reports", User: "app",
	})
	require.NoError(t, err)
	db, ok := h.(*sql.DB)
	require.True(t, ok)
	require.NoError(t, db.Close())
}

func TestConnectorPassesDriverAndDSNToOpen(t *testing.T) {
	var gotDriver, gotDSN string
	openErr := errors.New("boom")
	connector := &Connector{Open: func(driverName, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driverName, dsn
		return nil, openErr
	}}

	_, err := connector.Connect(context.Background(), dedicated.ConnectionConfig{
		Driver: "postgres", Host: "pg", Port: 5432, DBName: "app_audit",
	})
	require.ErrorIs(t, err, openErr)
	require.Equal(t, Postgres, gotDriver)
	require.Equal(t, "postgres://pg:5432/app_audit", gotDSN)
}

func TestConnectorRejectsUnsupportedDriver(t *testing.T) {
	connector := &Connector{}
	_, err := connector.Connect(context.Background(), dedicated.ConnectionConfig{Driver: "sqlite"})
	var unsupported *UnsupportedDriverError
	require.ErrorAs(t, err, &unsupported)
}
