//go:build integration

package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	mysqlImage       = "mysql:8.0.36"
	postgresImage    = "postgres:16-alpine"
	testDatabase     = "ledgersync"
	testPassword     = "secret"
	containerStartup = 2 * time.Minute
)

// StartMySQL starts a disposable MySQL server and returns a go-sql-driver DSN.
// The test is skipped when no container runtime is available.
func StartMySQL(t *testing.T, ctx context.Context) string {
	t.Helper()

	port := nat.Port("3306/tcp")
	dsn := func(host string, port nat.Port) string {
		return fmt.Sprintf("root:%s@tcp(%s:%s)/%s?parseTime=true", testPassword, host, port.Port(), testDatabase)
	}

	req := testcontainers.ContainerRequest{
		Image:        mysqlImage,
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": testPassword,
			"MYSQL_DATABASE":      testDatabase,
		},
		WaitingFor: wait.ForSQL(port, "mysql", dsn).WithStartupTimeout(containerStartup),
	}

	host, mapped := start(t, ctx, req, port)
	return dsn(host, mapped)
}

// StartPostgres starts a disposable Postgres server and returns a URL DSN
func StartPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()

	port := nat.Port("5432/tcp")
	dsn := func(host string, port nat.Port) string {
		return fmt.Sprintf("postgres://postgres:%s@%s:%s/%s?sslmode=disable", testPassword, host, port.Port(), testDatabase)
	}

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"POSTGRES_PASSWORD": testPassword,
			"POSTGRES_DB":       testDatabase,
		},
		WaitingFor: wait.ForSQL(port, "pgx", dsn).WithStartupTimeout(containerStartup),
	}

	host, mapped := start(t, ctx, req, port)
	return dsn(host, mapped)
}

func start(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest, port nat.Port) (string, nat.Port) {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("resolve port: %v", err)
	}
	return host, mapped
}
