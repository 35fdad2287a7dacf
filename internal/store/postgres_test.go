package store

import (
	"context"
	"os"
	"testing"
	"time"

	"sensorhub/sensor-server/internal/config"
	"sensorhub/sensor-server/internal/model"
)

// Runs only against a disposable database named by SENSOR_TEST_POSTGRES_URL.
func TestPostgresInsertAndList(t *testing.T) {
	dsn := os.Getenv("SENSOR_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("SENSOR_TEST_POSTGRES_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := OpenPostgres(ctx, config.Database{URL: dsn, MaxConns: 4})
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer p.Close()

	if err := p.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if _, err := p.pool.Exec(ctx, `TRUNCATE sensor_data`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	if _, err := p.LatestReading(ctx); err != ErrNotFound {
		t.Fatalf("LatestReading on empty table = %v, want ErrNotFound", err)
	}

	older := time.Now().UTC()
	newer := older.Add(time.Second)
	if _, err := p.InsertReading(ctx, model.ReadingInput{Temperature: float(21)}, older); err != nil {
		t.Fatalf("InsertReading: %v", err)
	}
	device := "greenhouse-2"
	id, err := p.InsertReading(ctx, model.ReadingInput{Temperature: float(22), Humidity: float(55), SourceDevice: &device}, newer)
	if err != nil {
		t.Fatalf("InsertReading: %v", err)
	}

	readings, err := p.ListReadings(ctx, model.Page{Limit: 10})
	if err != nil {
		t.Fatalf("ListReadings: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("len = %d, want 2", len(readings))
	}
	if *readings[0].Temperature != 22 || readings[1].Humidity != nil {
		t.Errorf("unexpected rows: %+v", readings)
	}
	if readings[1].Timestamp.Before(older) {
		t.Errorf("stored %v earlier than receipt %v", readings[1].Timestamp, older)
	}

	got, err := p.ReadingByID(ctx, id)
	if err != nil {
		t.Fatalf("ReadingByID: %v", err)
	}
	if got.SourceDevice == nil || *got.SourceDevice != device {
		t.Errorf("source_device = %v, want %q", got.SourceDevice, device)
	}
	if _, err := p.ReadingByID(ctx, id+1000); err != ErrNotFound {
		t.Errorf("ReadingByID(missing) = %v, want ErrNotFound", err)
	}
}
