package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"sensorhub/sensor-server/internal/model"

	_ "modernc.org/sqlite"
)

// SQLite stores readings in a local SQLite file.
type SQLite struct {
	db *sqlx.DB
}

type sqliteRow struct {
	ID           int64    `db:"id"`
	Temperature  *float64 `db:"temperature"`
	Humidity     *float64 `db:"humidity"`
	SourceDevice *string  `db:"source_device"`
	Timestamp    string   `db:"timestamp"`
}

// sqliteColumns and sqliteNewestFirst are shared by every read. julianday normalises zone offsets
// and the space separated form to one instant; the text tie break orders canonical rows within the
// same millisecond.
const (
	sqliteColumns     = `id, temperature, humidity, source_device, timestamp`
	sqliteNewestFirst = `ORDER BY julianday(timestamp) DESC, timestamp DESC, id DESC`
)

func (r sqliteRow) reading() (model.SensorReading, error) {
	ts, err := parseTimestamp(r.Timestamp)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("parse timestamp of row %d: %w", r.ID, err)
	}
	return model.SensorReading{
		ID:           r.ID,
		Temperature:  r.Temperature,
		Humidity:     r.Humidity,
		SourceDevice: r.SourceDevice,
		Timestamp:    ts,
	}, nil
}

// OpenSQLite initializes the database handle, creating directories as needed.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// EnsureSchema creates the readings table when it does not exist yet and adds columns that older
// databases lack.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS sensor_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		temperature REAL,
		humidity REAL,
		source_device TEXT,
		timestamp TEXT NOT NULL
	);`); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	var deviceColumns int
	err := s.db.GetContext(
		ctx,
		&deviceColumns,
		`SELECT COUNT(*) FROM pragma_table_info('sensor_data') WHERE name = 'source_device';`,
	)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if deviceColumns == 0 {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE sensor_data ADD COLUMN source_device TEXT;`); err != nil {
			return fmt.Errorf("add source_device column: %w", err)
		}
	}

	if _, err := s.db.ExecContext(
		ctx,
		`CREATE INDEX IF NOT EXISTS idx_sensor_data_instant ON sensor_data(julianday(timestamp));`,
	); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// InsertReading appends one reading stamped with at and returns its id.
func (s *SQLite) InsertReading(ctx context.Context, in model.ReadingInput, at time.Time) (int64, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	res, err := conn.ExecContext(
		ctx,
		`INSERT INTO sensor_data (temperature, humidity, source_device, timestamp) VALUES (?, ?, ?, ?);`,
		in.Temperature,
		in.Humidity,
		in.SourceDevice,
		formatTimestamp(at),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted id: %w", err)
	}
	return id, nil
}

// ListReadings returns a window of readings ordered by timestamp descending.
func (s *SQLite) ListReadings(ctx context.Context, page model.Page) ([]model.SensorReading, error) {
	page = normalizePage(page)

	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	var rows []sqliteRow
	err = conn.SelectContext(
		ctx,
		&rows,
		`SELECT `+sqliteColumns+` FROM sensor_data `+sqliteNewestFirst+` LIMIT ? OFFSET ?;`,
		page.Limit,
		page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}

	readings := make([]model.SensorReading, 0, len(rows))
	for _, row := range rows {
		r, err := row.reading()
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// LatestReading returns the newest reading or ErrNotFound on an empty table.
func (s *SQLite) LatestReading(ctx context.Context) (model.SensorReading, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	var row sqliteRow
	err = conn.GetContext(
		ctx,
		&row,
		`SELECT `+sqliteColumns+` FROM sensor_data `+sqliteNewestFirst+` LIMIT 1;`,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SensorReading{}, ErrNotFound
	}
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("query latest reading: %w", err)
	}
	return row.reading()
}

// ReadingByID returns the reading with the given id or ErrNotFound.
func (s *SQLite) ReadingByID(ctx context.Context, id int64) (model.SensorReading, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	var row sqliteRow
	err = conn.GetContext(ctx, &row, `SELECT `+sqliteColumns+` FROM sensor_data WHERE id = ?;`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SensorReading{}, ErrNotFound
	}
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("query reading %d: %w", id, err)
	}
	return row.reading()
}
