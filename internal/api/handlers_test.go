package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"taxifleet/internal/config"
	"taxifleet/internal/model"
	"taxifleet/internal/opt"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Region = "R"
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func do(t *testing.T, h http.HandlerFunc, method, target string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

// demand is two stations with a commute out and back plus one trip leaving
// the region.
func demand() ([]opt.Pixel, []opt.TripRecord) {
	p := opt.DefaultParams()
	a, b := opt.Pixel{X: 0, Y: 0}, opt.Pixel{X: 10, Y: 0}
	trip := func(from, to opt.Pixel, dep float64, aCounty string) opt.TripRecord {
		miles := p.Miles(from, to)
		return opt.TripRecord{
			OriginCounty: "R", DestCounty: aCounty, Origin: from,
			Nodes:     []opt.Node{{Pixel: to, Riders: 1}},
			DepartSec: dep, ArriveSec: dep + p.DriveSeconds(miles), VehMiles: miles,
		}
	}
	return []opt.Pixel{a, b}, []opt.TripRecord{
		trip(a, b, 1000, "R"),
		trip(b, a, 3000, "R"),
		trip(a, opt.Pixel{X: 40, Y: 0}, 5000, "X"),
	}
}

func submit(t *testing.T, s *Server, wait bool) model.Run {
	t.Helper()
	stations, trips := demand()
	target := "/v1/runs"
	if wait {
		target += "?wait=true"
	}
	rr := do(t, s.RunsHandler, http.MethodPost, target, model.RunRequest{Region: "R", Stations: stations, Trips: trips})
	want := http.StatusAccepted
	if wait {
		want = http.StatusOK
	}
	if rr.Code != want {
		t.Fatalf("submit: got %d %s", rr.Code, rr.Body.String())
	}
	var run model.Run
	if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	return run
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestRunSyncAndResults(t *testing.T) {
	s := newTestServer(t)
	run := submit(t, s, true)
	if run.Status != model.RunCompleted || run.Summary == nil {
		t.Fatalf("run not completed: %+v", run)
	}
	if run.Summary.OriginalTrips != 3 || run.Summary.FleetSize > 3 || run.Summary.FleetSize < 1 {
		t.Fatalf("summary: %+v", run.Summary)
	}

	rr := do(t, s.RunByIDHandler, http.MethodGet, "/v1/runs/"+run.ID+"/checkpoints", nil)
	var cps struct{ Items []model.Checkpoint }
	_ = json.Unmarshal(rr.Body.Bytes(), &cps)
	if rr.Code != 200 || len(cps.Items) != 5 || cps.Items[0].Name != "ingest" || cps.Items[4].Seq != 5 {
		t.Fatalf("checkpoints: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, s.RunByIDHandler, http.MethodGet, "/v1/runs/"+run.ID+"/itineraries?limit=1", nil)
	var page struct{ Items []model.Itinerary }
	_ = json.Unmarshal(rr.Body.Bytes(), &page)
	if rr.Code != 200 || len(page.Items) != 1 || page.Items[0].Seq != 1 || len(page.Items[0].Legs) == 0 {
		t.Fatalf("itineraries: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, s.RunByIDHandler, http.MethodGet, "/v1/runs/"+run.ID+"/metrics", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), `"phase":"consolidate"`) {
		t.Fatalf("metrics: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, s.RunsHandler, http.MethodGet, "/v1/runs", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), run.ID) {
		t.Fatalf("list: %d %s", rr.Code, rr.Body.String())
	}
}

func TestRunAsync(t *testing.T) {
	s := newTestServer(t)
	s.Runner.Start()
	defer s.Runner.Stop()
	run := submit(t, s, false)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rr := do(t, s.RunByIDHandler, http.MethodGet, "/v1/runs/"+run.ID, nil)
		var cur model.Run
		_ = json.Unmarshal(rr.Body.Bytes(), &cur)
		if cur.Status == model.RunCompleted {
			return
		}
		if cur.Status == model.RunFailed {
			t.Fatalf("run failed: %s", cur.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not complete")
}

func TestRunValidation(t *testing.T) {
	s := newTestServer(t)
	stations, trips := demand()
	bad := trips[0]
	bad.VehMiles = 0
	cases := map[string]model.RunRequest{
		"no stations":   {Region: "R"},
		"bad trip":      {Region: "R", Stations: stations, Trips: []opt.TripRecord{bad}},
		"bad params":    {Region: "R", Stations: stations, Params: &opt.Params{MaxCircuity: -1}},
		"source+inline": {Region: "R", Source: "x", Stations: stations},
		"unknown src":   {Region: "R", Source: "nope"},
	}
	for name, req := range cases {
		rr := do(t, s.RunsHandler, http.MethodPost, "/v1/runs", req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: got %d %s", name, rr.Code, rr.Body.String())
		}
	}
	rr := do(t, s.RunByIDHandler, http.MethodGet, "/v1/runs/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing run: %d", rr.Code)
	}
}

func TestRunFailsOnDuplicateStations(t *testing.T) {
	s := newTestServer(t)
	req := model.RunRequest{Region: "R", Stations: []opt.Pixel{{X: 1, Y: 1}, {X: 1, Y: 1}}}
	rr := do(t, s.RunsHandler, http.MethodPost, "/v1/runs?wait=true", req)
	var run model.Run
	_ = json.Unmarshal(rr.Body.Bytes(), &run)
	if rr.Code != 200 || run.Status != model.RunFailed || !strings.Contains(run.Error, "duplicate") {
		t.Fatalf("expected failed run, got %d %+v", rr.Code, run)
	}
}

func TestRunNormalizesCounties(t *testing.T) {
	s := newTestServer(t)
	stations, trips := demand()
	for i := range trips {
		trips[i].OriginCounty = strings.ToLower(trips[i].OriginCounty)
		trips[i].DestCounty = " " + strings.ToLower(trips[i].DestCounty)
	}
	req := model.RunRequest{Region: "r", Stations: stations, Trips: trips}
	rr := do(t, s.RunsHandler, http.MethodPost, "/v1/runs?wait=true", req)
	var run model.Run
	_ = json.Unmarshal(rr.Body.Bytes(), &run)
	if rr.Code != 200 || run.Status != model.RunCompleted || run.Summary == nil {
		t.Fatalf("run: %d %s", rr.Code, rr.Body.String())
	}
	if run.Summary.SkippedTrips != 0 || run.Summary.OriginalTrips != 3 {
		t.Fatalf("counties not matched to region: %+v", run.Summary)
	}
}

func TestRunFromSource(t *testing.T) {
	dir := t.TempDir()
	st := filepath.Join(dir, "stations.txt")
	tr := filepath.Join(dir, "trips.csv")
	if err := os.WriteFile(st, []byte("0,0\n10,0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cols := make([]string, 25)
	for i := range cols {
		cols[i] = "0"
	}
	cols[0], cols[3], cols[4], cols[6], cols[8], cols[17], cols[18], cols[21], cols[24] = "R-1", "100", "1", "10", "1", "1", "6", "R", "820"
	if err := os.WriteFile(tr, []byte("header\n"+strings.Join(cols, ",")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Region = "R"
	cfg.Sources = []config.SourceSpec{{Name: "demo", Stations: st, Trips: []string{tr}}}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	rr := do(t, s.SourcesHandler, http.MethodGet, "/v1/sources", nil)
	if !strings.Contains(rr.Body.String(), "demo") {
		t.Fatalf("sources: %s", rr.Body.String())
	}
	rr = do(t, s.RunsHandler, http.MethodPost, "/v1/runs?wait=true", map[string]any{"source": "demo"})
	var run model.Run
	_ = json.Unmarshal(rr.Body.Bytes(), &run)
	if rr.Code != 200 || run.Status != model.RunCompleted || run.Trips != 1 || run.Stations != 2 {
		t.Fatalf("source run: %d %s", rr.Code, rr.Body.String())
	}
}

func TestWriteRequiresRole(t *testing.T) {
	s := newTestServer(t)
	stations, _ := demand()
	req := model.RunRequest{Region: "R", Stations: stations}
	rr := do(t, s.RunsHandler, http.MethodPost, "/v1/runs", req, "Authorization", "Bearer ann:viewer")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer: got %d", rr.Code)
	}
	rr = do(t, s.RunsHandler, http.MethodPost, "/v1/runs?wait=true", req, "Authorization", "Bearer ann:analyst")
	if rr.Code != http.StatusOK {
		t.Fatalf("analyst: got %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", model.SubscriptionRequest{URL: "http://x", Events: []string{"run.completed"}}, "X-Role", "viewer")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("viewer header: got %d", rr.Code)
	}
}

func TestPlacement(t *testing.T) {
	s := newTestServer(t)
	req := model.PlacementRequest{Candidates: []opt.Pixel{{X: 0}, {X: 2}, {X: 5}}, ThresholdSec: 300}
	rr := do(t, s.PlacementHandler, http.MethodPost, "/v1/stations/placement", req)
	var res model.PlacementResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if rr.Code != 200 || len(res.Stations) != 2 {
		t.Fatalf("placement: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, s.PlacementHandler, http.MethodPost, "/v1/stations/placement", model.PlacementRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty placement: %d", rr.Code)
	}
}

func TestSubscriptionsLifecycle(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", model.SubscriptionRequest{URL: "https://hooks.example/run", Events: []string{"run.completed"}, Secret: "k"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	var sub model.Subscription
	_ = json.Unmarshal(rr.Body.Bytes(), &sub)

	rr = do(t, s.SubscriptionsHandler, http.MethodPost, "/v1/subscriptions", model.SubscriptionRequest{URL: "https://hooks.example/run", Events: []string{"route.updated"}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown event: %d", rr.Code)
	}

	// a completed run queues one delivery for the subscription
	submit(t, s, true)
	due, err := s.Store.FetchDueWebhookDeliveries(context.Background(), 10)
	if err != nil || len(due) != 1 || due[0].EventType != "run.completed" || due[0].SubscriptionID != sub.ID {
		t.Fatalf("deliveries: %v %+v", err, due)
	}

	rr = do(t, s.SubscriptionsHandler, http.MethodGet, "/v1/subscriptions", nil)
	if !strings.Contains(rr.Body.String(), sub.ID) {
		t.Fatalf("list: %s", rr.Body.String())
	}
	rr = do(t, s.SubscriptionByIDHandler, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	rr = do(t, s.SubscriptionByIDHandler, http.MethodDelete, "/v1/subscriptions/"+sub.ID, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rr.Code)
	}
}

func TestRunEventsWebSocketReplay(t *testing.T) {
	s := newTestServer(t)
	run := submit(t, s, true)
	ts := httptest.NewServer(http.HandlerFunc(s.RunByIDHandler))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/runs/" + run.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var types []string
	for {
		var evt model.Event
		if err := conn.ReadJSON(&evt); err != nil {
			break
		}
		types = append(types, evt.Type)
	}
	if len(types) != 6 || types[0] != "run.checkpoint" || types[5] != "run.completed" {
		t.Fatalf("events: %v", types)
	}
}
