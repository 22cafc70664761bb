package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"taxifleet/internal/model"
	"taxifleet/internal/store"
)

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	run := model.Run{ID: "r1", Status: model.RunCompleted, Summary: &model.Summary{FleetSize: 2, EmptyMiles: 12.5}}
	report(&buf, run, []model.Checkpoint{{Seq: 1, Name: "ingest", Stations: 2, Taxis: 3}, {Seq: 5, Name: "cycled", Stations: 2, Taxis: 2}})
	out := buf.String()
	for _, want := range []string{"1 ingest", "5 cycled", "fleet 2", "empty miles 12.5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestAllItinerariesPages(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	run, _ := st.CreateRun(ctx, model.Run{})
	items := make([]model.Itinerary, 1203)
	for i := range items {
		items[i].Seq = i + 1
	}
	if err := st.SaveItineraries(ctx, run.ID, items); err != nil {
		t.Fatal(err)
	}
	got, err := allItineraries(ctx, st, run.ID)
	if err != nil || len(got) != 1203 || got[1202].Seq != 1203 {
		t.Fatalf("got %d itineraries, err %v", len(got), err)
	}
}
