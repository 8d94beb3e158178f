package infra

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const postgresImage = "postgres:16"

type PGContainer struct {
	C *postgres.PostgresContainer
}

// StartPostgres16 starts a Postgres 16 container and returns a DSN. If overrideDSN or
// BOARD_TEST_PG_DSN is set, it reuses that database.
func StartPostgres16(ctx context.Context, overrideDSN string) (*PGContainer, string, error) {
	if overrideDSN != "" {
		return &PGContainer{}, overrideDSN, nil
	}
	if dsn := os.Getenv("BOARD_TEST_PG_DSN"); dsn != "" {
		return &PGContainer{}, dsn, nil
	}

	pgC, err := postgres.Run(ctx,
		postgresImage,
		postgres.WithDatabase("boardportal"),
		postgres.WithUsername("board"),
		postgres.WithPassword("board"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", err
	}
	return &PGContainer{C: pgC}, dsn, nil
}

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}

// DockerAvailable reports whether a docker daemon answers on this host.
func DockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

// ResolveDSN picks a database for integration tests: an explicit DSN, the
// BOARD_TEST_PG_DSN variable, or a fresh container. ok is false when none is
// reachable and the caller should skip.
func ResolveDSN(ctx context.Context, explicit string) (pg *PGContainer, dsn string, shared bool, ok bool, err error) {
	switch {
	case explicit != "":
		return &PGContainer{}, explicit, true, true, nil
	case os.Getenv("BOARD_TEST_PG_DSN") != "":
		return &PGContainer{}, os.Getenv("BOARD_TEST_PG_DSN"), true, true, nil
	case DockerAvailable(ctx):
		pg, dsn, err := StartPostgres16(ctx, "")
		if err != nil {
			return nil, "", false, false, err
		}
		return pg, dsn, false, true, nil
	}
	return nil, "", false, false, nil
}
