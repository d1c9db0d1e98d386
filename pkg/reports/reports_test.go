package reports

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/quotabar/quotabar/pkg/store"
)

type staticSource struct {
	events []*store.Event
}

func (s *staticSource) EventsSince(ctx context.Context, since time.Time, limit int) ([]*store.Event, error) {
	var out []*store.Event
	for _, e := range s.events {
		if e.TsIngest.After(since) {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func usageEvent(providerID string, ts time.Time, payload string) *store.Event {
	return &store.Event{
		EventID:  providerID + ts.String(),
		Type:     store.EventTypeUsageObserved,
		Provider: providerID,
		TsEvent:  ts,
		TsIngest: ts,
		Payload:  []byte(payload),
	}
}

func testSource(base time.Time) *staticSource {
	return &staticSource{events: []*store.Event{
		usageEvent("claude", base,
			`{"source":"claude cli","windows":[{"label":"session","used_percent":42.5,"resets_at":"2026-03-01T12:00:00Z"},{"label":"weekly","used_percent":10}]}`),
		usageEvent("codex", base.Add(time.Minute),
			`{"source":"codex oauth","windows":[{"label":"session","used_percent":80}]}`),
		{
			EventID:  "failure",
			Type:     store.EventTypeFetchFailed,
			Provider: "claude",
			TsEvent:  base.Add(2 * time.Minute),
			TsIngest: base.Add(2 * time.Minute),
			Payload:  []byte(`{"error":"timeout"}`),
		},
	}}
}

func TestRowsFlattensWindows(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g := &Generator{Source: testSource(base)}

	rows, err := g.Rows(context.Background(), Params{})
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	// Two windows from claude, one from codex; the failure event is not
	// a usage row.
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Window != "session" || rows[0].UsedPercent != 42.5 {
		t.Errorf("first row wrong: %+v", rows[0])
	}
	if rows[0].ResetsAt != "2026-03-01T12:00:00Z" {
		t.Errorf("resets_at lost: %+v", rows[0])
	}
	if rows[2].Provider != "codex" || rows[2].Source != "codex oauth" {
		t.Errorf("codex row wrong: %+v", rows[2])
	}
}

func TestRowsProviderFilter(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g := &Generator{Source: testSource(base)}

	rows, err := g.Rows(context.Background(), Params{Provider: "codex"})
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Provider != "codex" {
		t.Errorf("filter leaked: %+v", rows)
	}
}

func TestGenerateCSV(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g := &Generator{Source: testSource(base)}

	out, err := g.Generate(context.Background(), Params{}, FormatCSV)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	records, err := csv.NewReader(out).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header + 3 rows, got %d records", len(records))
	}
	if records[0][0] != "timestamp" || records[0][3] != "used_percent" {
		t.Errorf("header wrong: %v", records[0])
	}
	if records[1][1] != "claude" || records[1][3] != "42.50" {
		t.Errorf("first data row wrong: %v", records[1])
	}
}

func TestGenerateJSON(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	g := &Generator{Source: testSource(base)}

	out, err := g.Generate(context.Background(), Params{}, FormatJSON)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	var rows []Row
	if err := json.NewDecoder(out).Decode(&rows); err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected 3 rows, got %d", len(rows))
	}
}

func TestGenerateUnknownFormat(t *testing.T) {
	g := &Generator{Source: &staticSource{}}
	_, err := g.Generate(context.Background(), Params{}, "xml")
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("expected unknown format error, got %v", err)
	}
}

func TestGenerateEmptyHistory(t *testing.T) {
	g := &Generator{Source: &staticSource{}}
	out, err := g.Generate(context.Background(), Params{}, FormatCSV)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	records, err := csv.NewReader(out).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("empty history should still render the header, got %v", records)
	}
}
