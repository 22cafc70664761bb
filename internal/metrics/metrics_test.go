package metrics

import (
    "testing"
    "time"

    "github.com/prometheus/client_golang/prometheus/testutil"

    "taxifleet/internal/opt"
)

func TestObserveRun(t *testing.T) {
    RegisterDefault()
    RegisterDefault()
    var res opt.Result
    res.Final.Taxis = 12
    res.Final.EmptyMiles = 34.5
    res.Metrics.Merges[opt.PhaseConsolidate] = 3
    res.Metrics.Duration[opt.PhaseConsolidate] = 20 * time.Millisecond
    before := testutil.ToFloat64(Merges.WithLabelValues("consolidate"))
    ObserveRun(res)
    if got := testutil.ToFloat64(FleetSize); got != 12 {
        t.Fatalf("fleet gauge: %v", got)
    }
    if got := testutil.ToFloat64(EmptyMiles); got != 34.5 {
        t.Fatalf("empty miles gauge: %v", got)
    }
    if got := testutil.ToFloat64(Merges.WithLabelValues("consolidate")) - before; got != 3 {
        t.Fatalf("merges: %v", got)
    }
}
