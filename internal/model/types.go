package model

import "time"

// ReadingInput is the payload a device submits. Absent fields stay nil and are stored as NULL.
type ReadingInput struct {
	Temperature  *float64 `json:"temperature"`
	Humidity     *float64 `json:"humidity"`
	SourceDevice *string  `json:"source_device"`
}

// SensorReading is a stored row of the sensor_data table.
type SensorReading struct {
	ID           int64     `json:"id" db:"id"`
	Temperature  *float64  `json:"temperature" db:"temperature"`
	Humidity     *float64  `json:"humidity" db:"humidity"`
	SourceDevice *string   `json:"source_device" db:"source_device"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// Page selects a window of readings ordered newest first.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
