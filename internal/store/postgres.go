package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sensorhub/sensor-server/internal/config"
	"sensorhub/sensor-server/internal/model"
)

// Postgres stores readings in PostgreSQL through a bounded connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

const postgresColumns = `id, temperature, humidity, source_device, "timestamp"`

// PoolConfig translates the database settings into a pgxpool configuration.
func PoolConfig(cfg config.Database) (*pgxpool.Config, error) {
	dsn := cfg.URL
	if dsn == "" {
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(cfg.User, cfg.Password),
			Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Path:   "/" + cfg.Name,
		}
		dsn = u.String()
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	pcfg.MinConns = int32(cfg.MinConns)
	pcfg.MaxConnLifetime = 30 * time.Minute
	pcfg.MaxConnIdleTime = 5 * time.Minute

	return pcfg, nil
}

// OpenPostgres builds the pool and verifies connectivity once.
func OpenPostgres(ctx context.Context, cfg config.Database) (*Postgres, error) {
	pcfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases every pooled connection.
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// Ping verifies the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the readings table when it does not exist yet and adds columns that older
// databases lack.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sensor_data (
			id BIGSERIAL PRIMARY KEY,
			temperature DOUBLE PRECISION,
			humidity DOUBLE PRECISION,
			source_device TEXT,
			"timestamp" TIMESTAMPTZ NOT NULL
		)`,
		`ALTER TABLE sensor_data ADD COLUMN IF NOT EXISTS source_device TEXT`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_data_timestamp ON sensor_data ("timestamp")`,
	}

	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// InsertReading appends one reading stamped with at and returns its id.
func (p *Postgres) InsertReading(ctx context.Context, in model.ReadingInput, at time.Time) (int64, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var id int64
	err = conn.QueryRow(
		ctx,
		`INSERT INTO sensor_data (temperature, humidity, source_device, "timestamp")
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		in.Temperature,
		in.Humidity,
		in.SourceDevice,
		ceilMicro(at.UTC()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	return id, nil
}

// ListReadings returns a window of readings ordered by timestamp descending.
func (p *Postgres) ListReadings(ctx context.Context, page model.Page) ([]model.SensorReading, error) {
	page = normalizePage(page)

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(
		ctx,
		`SELECT `+postgresColumns+`
		 FROM sensor_data
		 ORDER BY "timestamp" DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		page.Limit,
		page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}

	readings, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.SensorReading])
	if err != nil {
		return nil, fmt.Errorf("scan readings: %w", err)
	}
	for i := range readings {
		readings[i].Timestamp = readings[i].Timestamp.UTC()
	}
	return readings, nil
}

// LatestReading returns the newest reading or ErrNotFound on an empty table.
func (p *Postgres) LatestReading(ctx context.Context) (model.SensorReading, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(
		ctx,
		`SELECT `+postgresColumns+`
		 FROM sensor_data
		 ORDER BY "timestamp" DESC, id DESC
		 LIMIT 1`,
	)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("query latest reading: %w", err)
	}

	reading, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.SensorReading])
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SensorReading{}, ErrNotFound
	}
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("scan latest reading: %w", err)
	}
	reading.Timestamp = reading.Timestamp.UTC()
	return reading, nil
}

// ReadingByID returns the reading with the given id or ErrNotFound.
func (p *Postgres) ReadingByID(ctx context.Context, id int64) (model.SensorReading, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `SELECT `+postgresColumns+` FROM sensor_data WHERE id = $1`, id)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("query reading %d: %w", id, err)
	}

	reading, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.SensorReading])
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SensorReading{}, ErrNotFound
	}
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("scan reading %d: %w", id, err)
	}
	reading.Timestamp = reading.Timestamp.UTC()
	return reading, nil
}
