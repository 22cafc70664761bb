package model

import (
    "time"

    "taxifleet/internal/opt"
)

// Run status values.
const (
    RunQueued    = "queued"
    RunRunning   = "running"
    RunCompleted = "completed"
    RunFailed    = "failed"
)

// RunRequest is the body of POST /v1/runs. Inline stations and trips win over
// a named source.
type RunRequest struct {
    Region   string            `json:"region"`
    Source   string            `json:"source,omitempty"`
    Stations []opt.Pixel       `json:"stations,omitempty"`
    Trips    []opt.TripRecord  `json:"trips,omitempty"`
    Params   *opt.Params       `json:"params,omitempty"`
}

type Run struct {
    ID         string     `json:"id"`
    Region     string     `json:"region"`
    Source     string     `json:"source,omitempty"`
    Status     string     `json:"status"`
    Error      string     `json:"error,omitempty"`
    Stations   int        `json:"stations"`
    Trips      int        `json:"trips"`
    Params     opt.Params `json:"params"`
    Summary    *Summary   `json:"summary,omitempty"`
    CreatedAt  time.Time  `json:"createdAt"`
    StartedAt  *time.Time `json:"startedAt,omitempty"`
    FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Summary is the headline result of a finished run.
type Summary struct {
    FleetSize      int            `json:"fleetSize"`
    EmptyMiles     float64        `json:"emptyMiles"`
    TripMiles      float64        `json:"tripMiles"`
    OriginalTrips  int            `json:"originalTrips"`
    SkippedTrips   int            `json:"skippedTrips"`
    DepartureNodes int            `json:"departureNodes"`
    ArrivalNodes   int            `json:"arrivalNodes"`
    ExternalTaxis  int            `json:"externalTaxis"`
    RunTimeMs      int64          `json:"runTimeMs"`
    Merges         map[string]int `json:"merges,omitempty"`
    Rounds         map[string]int `json:"rounds,omitempty"`
}

type Checkpoint struct {
    Seq            int     `json:"seq"`
    Name           string  `json:"name"`
    Stations       int     `json:"stations"`
    OriginalTrips  int     `json:"originalTrips"`
    Taxis          int     `json:"taxis"`
    DepartureNodes int     `json:"departureNodes"`
    ArrivalNodes   int     `json:"arrivalNodes"`
    EmptyMiles     float64 `json:"emptyMiles"`
    Merges         int     `json:"merges"`
    Rounds         int     `json:"rounds"`
    ElapsedMs      int64   `json:"elapsedMs"`
}

// Itinerary is one surviving vehicle and its chained legs. Station fields are
// nil for vehicles that start or end outside the region.
type Itinerary struct {
    TaxiID         uint64  `json:"taxiId"`
    Seq            int     `json:"seq"`
    OriginStation  *int    `json:"originStation"`
    CurrentStation *int    `json:"currentStation"`
    DepartSec      float64 `json:"departSec"`
    AvailableSec   float64 `json:"availableSec"`
    EmptyMiles     float64 `json:"emptyMiles"`
    Riders         int     `json:"riders"`
    Nodes          int     `json:"nodes"`
    Legs           []Leg   `json:"legs"`
}

type Leg struct {
    OriginCounty string      `json:"originCounty"`
    DestCounty   string      `json:"destCounty"`
    DepartSec    float64     `json:"departSec"`
    ArriveSec    float64     `json:"arriveSec"`
    VehMiles     float64     `json:"vehMiles"`
    DelaySec     float64     `json:"delaySec"`
    Pickups      []opt.Pixel `json:"pickups"`
    Stops        []opt.Node  `json:"stops"`
}

// PlacementRequest asks for a station layout from candidate points.
type PlacementRequest struct {
    Candidates   []opt.Pixel `json:"candidates"`
    ThresholdSec float64     `json:"thresholdSec,omitempty"`
    Params       *opt.Params `json:"params,omitempty"`
}

type PlacementResponse struct {
    Stations []opt.Pixel `json:"stations"`
}

// Event is what run subscribers receive over WebSocket and webhooks.
type Event struct {
    ID    string         `json:"id"`
    Type  string         `json:"type"`
    RunID string         `json:"runId"`
    TS    time.Time      `json:"ts"`
    Data  map[string]any `json:"data,omitempty"`
}

// Webhooks

type SubscriptionRequest struct {
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret,omitempty"`
}

type Subscription struct {
    ID     string   `json:"id"`
    URL    string   `json:"url"`
    Events []string `json:"events"`
    Secret string   `json:"secret,omitempty"`
}
