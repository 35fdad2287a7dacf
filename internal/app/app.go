package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/grandcat/zeroconf"

	"sensorhub/sensor-server/internal/config"
	"sensorhub/sensor-server/internal/model"
	"sensorhub/sensor-server/internal/mqttsub"
	"sensorhub/sensor-server/internal/store"
)

// ReadingStore is the storage the HTTP and MQTT ingestion paths depend on.
type ReadingStore interface {
	EnsureSchema(ctx context.Context) error
	InsertReading(ctx context.Context, in model.ReadingInput, at time.Time) (int64, error)
	ListReadings(ctx context.Context, page model.Page) ([]model.SensorReading, error)
	LatestReading(ctx context.Context) (model.SensorReading, error)
	ReadingByID(ctx context.Context, id int64) (model.SensorReading, error)
	Ping(ctx context.Context) error
	Close() error
}

// App wires together the sensor server services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	store  ReadingStore
	now    func() time.Time
	mdns   *zeroconf.Server
	mqtt   *mqttsub.Subscriber
}

// Option customizes an App.
type Option func(*App)

// WithStore makes the App use s instead of opening the configured database.
func WithStore(s ReadingStore) Option {
	return func(a *App) { a.store = s }
}

// WithClock replaces the clock used to stamp readings.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) *App {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.PageMax <= 0 {
		cfg.PageMax = 1000
	}
	if cfg.PageDefault <= 0 || cfg.PageDefault > cfg.PageMax {
		cfg.PageDefault = min(100, cfg.PageMax)
	}

	a := &App{cfg: cfg, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.store == nil {
		s, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		a.store = s
	}

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	if a.cfg.Database.InitSchema {
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := a.store.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			return err
		}
	}

	if a.cfg.MQTT.Enabled() {
		sub := mqttsub.New(a.cfg.MQTT, a.logger, a.handleMQTTReading)
		if err := sub.Start(); err != nil {
			return err
		}
		a.mqtt = sub
		defer a.mqtt.Stop()
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if a.cfg.MDNSEnabled {
		hostname, _ := os.Hostname()
		ad, err := newAdvertisement(hostname, a.cfg.HTTPPort, a.cfg.MQTT)
		if err == nil {
			err = a.advertise(ad)
		}
		if err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.withdraw()
	}

	httpErrCh := make(chan error, 1)

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr, "driver", a.cfg.Database.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		a.logger.Info("http server stopped")
		return nil
	case err := <-httpErrCh:
		return err
	}
}

func (a *App) openStore(ctx context.Context) (ReadingStore, error) {
	switch a.cfg.Database.Driver {
	case config.DriverPostgres:
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return store.OpenPostgres(openCtx, a.cfg.Database)
	case config.DriverSQLite:
		return store.OpenSQLite(a.cfg.Database.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", a.cfg.Database.Driver)
	}
}

// ingest stores one reading stamped with the time it was received.
func (a *App) ingest(ctx context.Context, in model.ReadingInput, receivedAt time.Time) (int64, error) {
	storeCtx, cancel := context.WithTimeout(ctx, a.cfg.QueryTimeout)
	defer cancel()

	return a.store.InsertReading(storeCtx, in, receivedAt)
}

func (a *App) handleMQTTReading(ctx context.Context, msg mqttsub.Message) {
	receivedAt := a.now().UTC()

	in, err := decodeReading(msg.Payload)
	if err != nil {
		a.logger.Warn("mqtt payload decode failed", "topic", msg.Topic, "error", err)
		return
	}
	// The topic names the publishing device; the payload field only fills in when it does not.
	device, err := deviceName(&msg.Device)
	if err != nil {
		a.logger.Warn("mqtt topic device rejected", "topic", msg.Topic, "error", err)
		return
	}
	if device != nil {
		in.SourceDevice = device
	}

	a.logger.Info("received sensor data",
		"source", "mqtt",
		"device", optional(in.SourceDevice),
		"temperature", optional(in.Temperature),
		"humidity", optional(in.Humidity),
	)

	id, err := a.ingest(ctx, in, receivedAt)
	if err != nil {
		a.logger.Error("failed to persist reading", "source", "mqtt", "topic", msg.Topic, "error", err)
		return
	}

	a.logger.Debug("stored reading", "id", id, "source", "mqtt")
}
