package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"sensorhub/sensor-server/internal/model"
	"sensorhub/sensor-server/internal/store"
)

const (
	maxBodyBytes  = 64 << 10
	maxDeviceRune = 128
)

var errNotObject = errors.New("payload must be a JSON object")

type listResponse struct {
	Status string                `json:"status"`
	Count  int                   `json:"count"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
	Data   []model.SensorReading `json:"data"`
}

func (a *App) routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.RedirectTrailingSlash = false
	if err := r.SetTrustedProxies(nil); err != nil {
		a.logger.Warn("trusted proxies not applied", "error", err)
	}
	r.Use(requestID(), a.requestLogger(), gin.CustomRecovery(a.recoverPanic))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": codeNotFound})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": codeMethodNotAllowed})
	})

	r.GET("/healthz", a.handleHealthz)
	r.GET("/readyz", a.handleReadyz)

	r.POST("/sensor_data", a.handleCreateReading)
	r.GET("/sensor_data", a.handleListReadings)
	r.GET("/sensor_data/latest", a.handleLatestReading)
	r.GET("/sensor_data/:id", a.handleGetReading)

	return r
}

func (a *App) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *App) handleReadyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.cfg.QueryTimeout)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("readiness check failed", "request_id", requestIDFrom(c), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (a *App) handleCreateReading(c *gin.Context) {
	receivedAt := a.now().UTC()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		a.fail(c, http.StatusBadRequest, codeInvalidPayload, fmt.Errorf("read body: %w", err))
		return
	}
	if len(body) > maxBodyBytes {
		a.fail(c, http.StatusBadRequest, codeInvalidPayload, fmt.Errorf("body exceeds %d bytes", maxBodyBytes))
		return
	}

	in, err := decodeReading(body)
	if err != nil {
		a.fail(c, http.StatusBadRequest, codeInvalidPayload, err)
		return
	}

	a.logger.Info("received sensor data",
		"source", "http",
		"request_id", requestIDFrom(c),
		"device", optional(in.SourceDevice),
		"temperature", optional(in.Temperature),
		"humidity", optional(in.Humidity),
	)

	id, err := a.ingest(c.Request.Context(), in, receivedAt)
	if err != nil {
		a.fail(c, http.StatusInternalServerError, codeStorage, err)
		return
	}

	a.logger.Debug("stored reading", "id", id, "request_id", requestIDFrom(c))
	c.JSON(http.StatusCreated, gin.H{"message": "Data stored successfully"})
}

func (a *App) handleListReadings(c *gin.Context) {
	page, err := a.parsePage(c)
	if err != nil {
		a.fail(c, http.StatusBadRequest, codeInvalidQuery, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.cfg.QueryTimeout)
	defer cancel()

	readings, err := a.store.ListReadings(ctx, page)
	if err != nil {
		a.fail(c, http.StatusInternalServerError, codeStorage, err)
		return
	}
	if readings == nil {
		readings = []model.SensorReading{}
	}

	c.JSON(http.StatusOK, listResponse{
		Status: "success",
		Count:  len(readings),
		Limit:  page.Limit,
		Offset: page.Offset,
		Data:   readings,
	})
}

func (a *App) handleLatestReading(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.cfg.QueryTimeout)
	defer cancel()

	reading, err := a.store.LatestReading(ctx)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": codeNotFound})
		return
	}
	if err != nil {
		a.fail(c, http.StatusInternalServerError, codeStorage, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": reading})
}

func (a *App) handleGetReading(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		a.fail(c, http.StatusBadRequest, codeInvalidQuery, fmt.Errorf("invalid id %q", c.Param("id")))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), a.cfg.QueryTimeout)
	defer cancel()

	reading, err := a.store.ReadingByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": codeNotFound})
		return
	}
	if err != nil {
		a.fail(c, http.StatusInternalServerError, codeStorage, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": reading})
}

// parsePage reads limit and offset, applying the configured default and clamping to the maximum.
func (a *App) parsePage(c *gin.Context) (model.Page, error) {
	page := model.Page{Limit: a.cfg.PageDefault}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return model.Page{}, fmt.Errorf("invalid limit %q", v)
		}
		page.Limit = min(n, a.cfg.PageMax)
	}

	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return model.Page{}, fmt.Errorf("invalid offset %q", v)
		}
		page.Offset = n
	}

	return page, nil
}

// decodeReading parses a device payload. Unknown fields are ignored; absent ones stay nil.
func decodeReading(data []byte) (model.ReadingInput, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return model.ReadingInput{}, errNotObject
	}

	var in model.ReadingInput
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return model.ReadingInput{}, fmt.Errorf("decode payload: %w", err)
	}

	device, err := deviceName(in.SourceDevice)
	if err != nil {
		return model.ReadingInput{}, err
	}
	in.SourceDevice = device
	return in, nil
}

// deviceName trims a reported device identifier. Blank identifiers are treated as absent.
func deviceName(device *string) (*string, error) {
	if device == nil {
		return nil, nil
	}
	name := strings.TrimSpace(*device)
	if name == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(name) > maxDeviceRune {
		return nil, fmt.Errorf("source_device exceeds %d characters", maxDeviceRune)
	}
	return &name, nil
}

func optional[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}
