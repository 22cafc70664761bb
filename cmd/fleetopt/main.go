// Command fleetopt runs one fleet optimization from station and trip files
// and prints the checkpoint report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"taxifleet/internal/api"
	"taxifleet/internal/buildinfo"
	"taxifleet/internal/config"
	"taxifleet/internal/ingest"
	"taxifleet/internal/ingest/csvfile"
	"taxifleet/internal/model"
	"taxifleet/internal/store"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "YAML config file (default $FLEET_CONFIG)")
		region   = flag.String("region", "", "county code inside the study area (overrides config)")
		stations = flag.String("stations", "", "station file, one \"x, y\" per line")
		trips    = flag.String("trips", "", "comma-separated trip CSV files")
		source   = flag.String("source", "", "named source from the config file")
		dsn      = flag.String("db", "", "Postgres DSN to persist the run (default: not persisted)")
		asJSON   = flag.Bool("json", false, "print the run, checkpoints and itineraries as JSON")
		verbose  = flag.Bool("v", false, "log phase rounds to stderr")
		version  = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()
	if *version {
		fmt.Println(buildinfo.String())
		return
	}
	if !*verbose {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("config: %v", err)
	}
	if *region != "" {
		cfg.Region = *region
	}
	cfg.Region = strings.ToUpper(strings.TrimSpace(cfg.Region))
	if cfg.Region == "" {
		fatalf("a region is required (-region or config region)")
	}

	var src ingest.Source
	switch {
	case *source != "":
		spec, ok := cfg.Source(*source)
		if !ok {
			fatalf("unknown source %q", *source)
		}
		src = csvfile.New(spec, cfg.Optimizer.MaxRiders)
	case *stations != "" && *trips != "":
		src = csvfile.New(config.SourceSpec{Name: "cli", Stations: *stations, Trips: strings.Split(*trips, ",")}, cfg.Optimizer.MaxRiders)
	default:
		fmt.Fprintln(os.Stderr, "usage: fleetopt -region CODE (-source NAME | -stations FILE -trips FILE[,FILE...])")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pts, err := src.Stations(ctx)
	if err != nil {
		fatalf("stations: %v", err)
	}
	recs, stats, err := src.Trips(ctx)
	if err != nil {
		fatalf("trips: %v", err)
	}
	if !*asJSON {
		fmt.Printf("Read %d trip rows, kept %d, filtered %d over %d riders\n", stats.Rows, stats.Kept, stats.Filtered, cfg.Optimizer.MaxRiders)
	}

	var st store.Store = store.NewMemory()
	if *dsn != "" {
		pg, err := store.NewPostgres(*dsn)
		if err != nil {
			fatalf("db: %v", err)
		}
		defer pg.Close()
		if cfg.Migrate {
			if err := pg.MigrateDir(cfg.MigrationsDir); err != nil {
				fatalf("migrate: %v", err)
			}
		}
		st = pg
	}

	p := cfg.Optimizer
	req := model.RunRequest{Region: cfg.Region, Source: src.Name(), Params: &p}
	run, err := api.NewRunner(st, nil, nil).Submit(ctx, req, pts, recs, true)
	if err != nil {
		fatalf("run: %v", err)
	}
	cps, err := st.ListCheckpoints(ctx, run.ID)
	if err != nil {
		fatalf("checkpoints: %v", err)
	}

	if *asJSON {
		itins, err := allItineraries(ctx, st, run.ID)
		if err != nil {
			fatalf("itineraries: %v", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"run": run, "checkpoints": cps, "itineraries": itins})
	} else {
		report(os.Stdout, run, cps)
	}
	if run.Status != model.RunCompleted {
		os.Exit(1)
	}
}

func report(w io.Writer, run model.Run, cps []model.Checkpoint) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "checkpoint\tstations\toriginal trips\ttaxis\tdeparture nodes\tarrival nodes\tempty miles\tmerges\trounds\t")
	for _, cp := range cps {
		fmt.Fprintf(tw, "%d %s\t%d\t%d\t%d\t%d\t%d\t%.1f\t%d\t%d\t\n",
			cp.Seq, cp.Name, cp.Stations, cp.OriginalTrips, cp.Taxis, cp.DepartureNodes, cp.ArrivalNodes, cp.EmptyMiles, cp.Merges, cp.Rounds)
	}
	_ = tw.Flush()
	if run.Status != model.RunCompleted {
		fmt.Fprintf(w, "\nrun %s %s: %s\n", run.ID, run.Status, run.Error)
		return
	}
	s := run.Summary
	fmt.Fprintf(w, "\nrun %s: fleet %d, empty miles %.1f, trip miles %.1f, external taxis %d, skipped trips %d, %d ms\n",
		run.ID, s.FleetSize, s.EmptyMiles, s.TripMiles, s.ExternalTaxis, s.SkippedTrips, s.RunTimeMs)
}

func allItineraries(ctx context.Context, st store.Store, runID string) ([]model.Itinerary, error) {
	var out []model.Itinerary
	cursor := ""
	for {
		items, next, err := st.ListItineraries(ctx, runID, cursor, 500)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fleetopt: "+format+"\n", args...)
	os.Exit(1)
}
