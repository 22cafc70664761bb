package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"taxifleet/internal/ingest"
	"taxifleet/internal/model"
	"taxifleet/internal/opt"
	"taxifleet/internal/store"
	"taxifleet/internal/webhooks"
)

var errUnknownSource = errors.New("unknown source")

// RunsHandler handles POST/GET /v1/runs
func (s *Server) RunsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.requireWrite(w, r) {
			return
		}
		var req model.RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.Region == "" {
			req.Region = s.Cfg.Region
		}
		if req.Params == nil {
			p := s.Cfg.Optimizer
			req.Params = &p
		}
		if err := validateRunRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid run request", err.Error(), r.URL.Path)
			return
		}
		stations, trips := req.Stations, req.Trips
		if req.Source != "" {
			var err error
			stations, trips, err = s.loadSource(r.Context(), req.Source)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, errUnknownSource) || errors.Is(err, ingest.ErrMalformed) {
					status = http.StatusBadRequest
				}
				writeProblem(w, status, "Source unavailable", err.Error(), r.URL.Path)
				return
			}
		}
		wait := r.URL.Query().Get("wait") == "true"
		run, err := s.Runner.Submit(r.Context(), req, stations, trips, wait)
		if errors.Is(err, ErrQueueFull) {
			w.Header().Set("Retry-After", "5")
			writeProblem(w, http.StatusServiceUnavailable, "Run queue full", err.Error(), r.URL.Path)
			return
		}
		if errors.Is(err, ErrStopped) {
			writeProblem(w, http.StatusServiceUnavailable, "Server stopping", err.Error(), r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create run failed", err.Error(), r.URL.Path)
			return
		}
		if wait {
			writeJSON(w, http.StatusOK, run)
			return
		}
		w.Header().Set("Location", "/v1/runs/"+run.ID)
		writeJSON(w, http.StatusAccepted, run)
	case http.MethodGet:
		cursor, limit := page(r)
		items, next, err := s.Store.ListRuns(r.Context(), cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List runs failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) loadSource(ctx context.Context, name string) ([]opt.Pixel, []opt.TripRecord, error) {
	src, ok := s.Sources[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", errUnknownSource, name)
	}
	stations, err := src.Stations(ctx)
	if err != nil {
		return nil, nil, err
	}
	trips, _, err := src.Trips(ctx)
	if err != nil {
		return nil, nil, err
	}
	return stations, trips, nil
}

// RunByIDHandler handles GET /v1/runs/{id} and its sub-resources:
// itineraries, checkpoints, metrics and events (WebSocket).
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/runs/")
	if rest == path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	run, err := s.Store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Run not found", id, path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get run failed", err.Error(), path)
		return
	}
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}
	switch sub {
	case "":
		writeJSON(w, http.StatusOK, run)
	case "itineraries":
		cursor, limit := page(r)
		items, next, err := s.Store.ListItineraries(r.Context(), id, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List itineraries failed", err.Error(), path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	case "checkpoints":
		items, err := s.Store.ListCheckpoints(r.Context(), id)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List checkpoints failed", err.Error(), path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case "metrics":
		m, ok := opt.GetMetrics(id)
		if !ok {
			writeProblem(w, http.StatusNotFound, "Metrics not available", "metrics are kept in memory by the replica that executed the run", path)
			return
		}
		writeJSON(w, http.StatusOK, phaseMetrics(m))
	case "events":
		s.runEventsWS(w, r, run)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

type phaseMetric struct {
	Phase      string  `json:"phase"`
	Rounds     int     `json:"rounds"`
	Merges     int     `json:"merges"`
	DurationMs float64 `json:"durationMs"`
}

func phaseMetrics(m opt.Metrics) map[string]any {
	phases := make([]phaseMetric, 0, opt.NumPhases)
	for ph := opt.Phase(0); ph < opt.NumPhases; ph++ {
		phases = append(phases, phaseMetric{
			Phase:      ph.String(),
			Rounds:     m.Rounds[ph],
			Merges:     m.Merges[ph],
			DurationMs: float64(m.Duration[ph].Microseconds()) / 1000,
		})
	}
	return map[string]any{"phases": phases, "skippedTrips": m.Skipped}
}

// PlacementHandler handles POST /v1/stations/placement
func (s *Server) PlacementHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.PlacementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validatePlacementRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid placement request", err.Error(), r.URL.Path)
		return
	}
	p := s.Cfg.Optimizer
	if req.Params != nil {
		p = *req.Params
	}
	writeJSON(w, http.StatusOK, model.PlacementResponse{Stations: ingest.PlaceStations(req.Candidates, req.ThresholdSec, p)})
}

// SourcesHandler handles GET /v1/sources
func (s *Server) SourcesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	names := make([]string, 0, len(s.Sources))
	for name := range s.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{"items": names})
}

var knownEvents = map[string]bool{
	webhooks.EventRunCheckpoint: true,
	webhooks.EventRunCompleted:  true,
	webhooks.EventRunFailed:     true,
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.requireWrite(w, r) {
			return
		}
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url must be absolute http(s)", r.URL.Path)
			return
		}
		if len(req.Events) == 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", "events required", r.URL.Path)
			return
		}
		for _, e := range req.Events {
			if !knownEvents[e] {
				writeProblem(w, http.StatusBadRequest, "Invalid subscription", "unknown event "+e, r.URL.Path)
				return
			}
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		cursor, limit := page(r)
		items, next, err := s.Store.ListSubscriptions(r.Context(), cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireWrite(w, r) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	err := s.Store.DeleteSubscription(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Subscription not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WebhookDLQHandler handles GET /v1/webhooks/dlq for stores that keep dead
// letters in process.
func (s *Server) WebhookDLQHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	dl, ok := s.Store.(interface{ DeadLetters() []map[string]any })
	if !ok {
		writeProblem(w, http.StatusNotImplemented, "Not available", "query webhook_dlq directly", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": dl.DeadLetters()})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler pings the database when one is configured.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
