// Package testutil provides test helpers including container management
// and catalog fixtures.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
	"github.com/cory-johannsen/arena/migrations"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance.
type PostgresContainer struct {
	container testcontainers.Container
	Pool      *postgres.Pool
	RawPool   *pgxpool.Pool
	Config    config.DatabaseConfig
}

// NewPostgresContainer starts a PostgreSQL test container and returns
// a connected Pool. Tests are skipped under -short.
//
// Precondition: Docker must be available.
// Postcondition: Returns a running container with a connected pool,
// or fails the test.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()
	start := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "arena",
			"POSTGRES_PASSWORD": "arena",
			"POSTGRES_DB":       "arena_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v [%s]", err, time.Since(start))
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	dbCfg := config.DatabaseConfig{
		Host:            host,
		Port:            mappedPort.Int(),
		User:            "arena",
		Password:        "arena",
		Name:            "arena_test",
		SSLMode:         "disable",
		MaxConns:        8,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}

	pool, err := postgres.NewPool(ctx, dbCfg)
	if err != nil {
		t.Fatalf("connecting to test postgres: %v [%s]", err, time.Since(start))
	}
	t.Logf("postgres container started [%s]", time.Since(start))

	pc := &PostgresContainer{
		container: container,
		Pool:      pool,
		RawPool:   pool.DB(),
		Config:    dbCfg,
	}
	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})
	return pc
}

// ApplyMigrations runs the embedded schema migrations.
//
// Postcondition: Every table of the schema exists in the test database.
func (pc *PostgresContainer) ApplyMigrations(t *testing.T) {
	t.Helper()
	start := time.Now()
	if err := migrations.Up(pc.Config.DSN()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	t.Logf("migrations applied [%s]", time.Since(start))
}

// SpeciesFixture describes a species row.
type SpeciesFixture struct {
	Name          string
	BaseHP        int
	Attack        int
	Defence       int
	SpAttack      int
	SpDefence     int
	Speed         int
	PrimaryType   string
	SecondaryType string
}

// InsertSpecies inserts a species and returns its id.
func (pc *PostgresContainer) InsertSpecies(t *testing.T, s SpeciesFixture) int64 {
	t.Helper()
	var secondary *string
	if s.SecondaryType != "" {
		secondary = &s.SecondaryType
	}
	var id int64
	err := pc.RawPool.QueryRow(context.Background(),
		`INSERT INTO species (name, base_hp, attack, defence, sp_attack, sp_defence, speed, primary_type, secondary_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		s.Name, s.BaseHP, s.Attack, s.Defence, s.SpAttack, s.SpDefence, s.Speed, s.PrimaryType, secondary,
	).Scan(&id)
	if err != nil {
		t.Fatalf("inserting species %s: %v", s.Name, err)
	}
	return id
}

// InsertCreature inserts a creature instance and returns its id.
func (pc *PostgresContainer) InsertCreature(t *testing.T, ownerID, speciesID int64, nickname string, level int) int64 {
	t.Helper()
	var nick *string
	if nickname != "" {
		nick = &nickname
	}
	var id int64
	err := pc.RawPool.QueryRow(context.Background(),
		`INSERT INTO creature_instances (owner_id, species_id, nickname, level, experience)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		ownerID, speciesID, nick, level, level*level*level,
	).Scan(&id)
	if err != nil {
		t.Fatalf("inserting creature: %v", err)
	}
	return id
}

// InsertMove inserts a move, teaches it to speciesID at requiredLevel, and
// returns its id.
func (pc *PostgresContainer) InsertMove(t *testing.T, speciesID int64, name, typ, category string, power, requiredLevel int) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := pc.RawPool.QueryRow(ctx,
		`INSERT INTO moves (name, type, category, power) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET power = EXCLUDED.power
		 RETURNING id`,
		name, typ, category, power,
	).Scan(&id)
	if err != nil {
		t.Fatalf("inserting move %s: %v", name, err)
	}
	if _, err := pc.RawPool.Exec(ctx,
		`INSERT INTO species_moves (species_id, move_id, required_level) VALUES ($1, $2, $3)`,
		speciesID, id, requiredLevel,
	); err != nil {
		t.Fatalf("teaching move %s: %v", name, err)
	}
	return id
}

// DSN returns the connection string for the test database.
func (pc *PostgresContainer) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pc.Config.User, pc.Config.Password,
		pc.Config.Host, pc.Config.Port,
		pc.Config.Name, pc.Config.SSLMode,
	)
}
