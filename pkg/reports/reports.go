// Package reports renders recorded usage history for export.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/quotabar/quotabar/pkg/store"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Params narrows a report to a provider and time range. A zero Since
// means everything the store retained.
type Params struct {
	Provider string
	Since    time.Time
	Limit    int
}

// EventSource is the slice of the store reports read from.
type EventSource interface {
	EventsSince(ctx context.Context, since time.Time, limit int) ([]*store.Event, error)
}

// Row is one exported usage observation, one window per row.
type Row struct {
	Timestamp   time.Time `json:"timestamp"`
	Provider    string    `json:"provider"`
	Window      string    `json:"window"`
	UsedPercent float64   `json:"used_percent"`
	ResetsAt    string    `json:"resets_at,omitempty"`
	Source      string    `json:"source,omitempty"`
}

// Generator turns stored usage_observed events into export rows.
type Generator struct {
	Source EventSource
}

// Rows collects and flattens the usage history selected by params.
func (g *Generator) Rows(ctx context.Context, params Params) ([]Row, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 10000
	}
	events, err := g.Source.EventsSince(ctx, params.Since, limit)
	if err != nil {
		return nil, fmt.Errorf("reports: read events: %w", err)
	}

	var rows []Row
	for _, ev := range events {
		if ev.Type != store.EventTypeUsageObserved {
			continue
		}
		if params.Provider != "" && ev.Provider != params.Provider {
			continue
		}
		source := gjson.GetBytes(ev.Payload, "source").String()
		gjson.GetBytes(ev.Payload, "windows").ForEach(func(_, w gjson.Result) bool {
			rows = append(rows, Row{
				Timestamp:   ev.TsEvent,
				Provider:    ev.Provider,
				Window:      w.Get("label").String(),
				UsedPercent: w.Get("used_percent").Float(),
				ResetsAt:    w.Get("resets_at").String(),
				Source:      source,
			})
			return true
		})
	}
	return rows, nil
}

// Generate renders the selected history in the requested format.
func (g *Generator) Generate(ctx context.Context, params Params, format Format) (io.Reader, error) {
	rows, err := g.Rows(ctx, params)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	switch format {
	case FormatJSON:
		if err := json.NewEncoder(buf).Encode(rows); err != nil {
			return nil, err
		}
	case FormatCSV, "":
		w := csv.NewWriter(buf)
		if err := w.Write([]string{"timestamp", "provider", "window", "used_percent", "resets_at", "source"}); err != nil {
			return nil, err
		}
		for _, row := range rows {
			record := []string{
				row.Timestamp.UTC().Format(time.RFC3339),
				row.Provider,
				row.Window,
				strconv.FormatFloat(row.UsedPercent, 'f', 2, 64),
				row.ResetsAt,
				row.Source,
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("reports: unknown format %q", format)
	}
	return buf, nil
}
