package store

import (
	"errors"
	"time"

	"sensorhub/sensor-server/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// timestampLayout is fixed width so that lexical order of stored text equals chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// foreignLayouts are the other text forms SQLite's date functions understand. Rows written by
// other tools use them; values without a zone are UTC.
var foreignLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(timestampLayout, s)
	if err == nil {
		return ts, nil
	}
	for _, layout := range foreignLayouts {
		if ts, ferr := time.Parse(layout, s); ferr == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, err
}

// ceilMicro rounds t up to the next microsecond so that storage with microsecond precision never
// records a time earlier than t.
func ceilMicro(t time.Time) time.Time {
	truncated := t.Truncate(time.Microsecond)
	if truncated.Equal(t) {
		return t
	}
	return truncated.Add(time.Microsecond)
}

func normalizePage(p model.Page) model.Page {
	if p.Limit < 1 {
		p.Limit = 1
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
