package csvfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"taxifleet/internal/config"
)

func row(dep string) string {
	cols := make([]string, 25)
	for i := range cols {
		cols[i] = "0"
	}
	cols[0], cols[3], cols[4] = "R", dep, "1"
	cols[6], cols[8], cols[17], cols[18], cols[21] = "4", "1", "1", "2.4", "R"
	return strings.Join(cols, ",") + "\n"
}

func TestAdapterConcatenatesTripFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	spec := config.SourceSpec{
		Name:     "weekday",
		Stations: write("stations.txt", "0,0\n10,0\n"),
		Trips:    []string{write("a.csv", "h\n"+row("100")), write("b.csv", "h\n"+row("200")+row("300"))},
	}
	a := New(spec, 6)
	if a.Name() != "weekday" {
		t.Fatalf("name %q", a.Name())
	}
	st, err := a.Stations(context.Background())
	if err != nil || len(st) != 2 {
		t.Fatalf("stations: %v %+v", err, st)
	}
	trips, stats, err := a.Trips(context.Background())
	if err != nil {
		t.Fatalf("trips: %v", err)
	}
	if len(trips) != 3 || stats.Rows != 3 || trips[2].DepartSec != 300 {
		t.Fatalf("trips %d stats %+v", len(trips), stats)
	}
}

func TestAdapterHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := New(config.SourceSpec{Trips: []string{"x"}}, 6).Trips(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}
