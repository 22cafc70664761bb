package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"taxifleet/internal/metrics"
	"taxifleet/internal/model"
	"taxifleet/internal/opt"
	"taxifleet/internal/store"
	"taxifleet/internal/webhooks"
)

// ErrQueueFull is returned when too many runs are waiting.
var ErrQueueFull = errors.New("run queue full")

// ErrStopped marks runs that were still queued when the runner shut down.
var ErrStopped = errors.New("run cancelled: server stopping")

const runQueueSize = 32

type runJob struct {
	run      model.Run
	stations []opt.Pixel
	trips    []opt.TripRecord
}

// Runner executes optimization runs one at a time. Queued runs are drained by
// a single background goroutine; synchronous runs take the same lock.
type Runner struct {
	Store  store.Store
	Broker EventBroker
	Pub    *webhooks.Publisher

	mu     sync.Mutex // held for the duration of one run
	jobs   chan runJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(s store.Store, b EventBroker, pub *webhooks.Publisher) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{Store: s, Broker: b, Pub: pub, jobs: make(chan runJob, runQueueSize), ctx: ctx, cancel: cancel}
}

func (rn *Runner) Start() {
	rn.wg.Add(1)
	go func() {
		defer rn.wg.Done()
		for {
			select {
			case <-rn.ctx.Done():
				return
			case j := <-rn.jobs:
				rn.execute(rn.ctx, j)
			}
		}
	}()
}

// Stop cancels the run in progress, waits for the worker to exit and fails
// every run still waiting in the queue.
func (rn *Runner) Stop() {
	rn.cancel()
	rn.wg.Wait()
	for {
		select {
		case j := <-rn.jobs:
			rn.abandon(j.run)
		default:
			return
		}
	}
}

func (rn *Runner) abandon(run model.Run) {
	ctx := context.Background()
	finished := time.Now().UTC()
	run.Status = model.RunFailed
	run.Error = ErrStopped.Error()
	run.FinishedAt = &finished
	log.Printf("[runner] %s dropped: %v", run.ID, ErrStopped)
	rn.save(ctx, run)
	rn.emit(ctx, webhooks.EventRunFailed, run.ID, map[string]any{"error": run.Error})
}

// Submit records a queued run and either executes it inline (wait) or hands
// it to the worker.
func (rn *Runner) Submit(ctx context.Context, req model.RunRequest, stations []opt.Pixel, trips []opt.TripRecord, wait bool) (model.Run, error) {
	p := opt.DefaultParams()
	if req.Params != nil {
		p = req.Params.WithDefaults()
	}
	run := model.Run{
		ID:        uuid.NewString(),
		Region:    req.Region,
		Source:    req.Source,
		Status:    model.RunQueued,
		Stations:  len(stations),
		Trips:     len(trips),
		Params:    p,
		CreatedAt: time.Now().UTC(),
	}
	run, err := rn.Store.CreateRun(ctx, run)
	if err != nil {
		return model.Run{}, err
	}
	j := runJob{run: run, stations: stations, trips: trips}
	if wait {
		return rn.execute(ctx, j), nil
	}
	if rn.ctx.Err() != nil {
		rn.abandon(run)
		return run, ErrStopped
	}
	select {
	case rn.jobs <- j:
		return run, nil
	default:
		run.Status = model.RunFailed
		run.Error = ErrQueueFull.Error()
		_ = rn.Store.UpdateRun(ctx, run)
		return run, ErrQueueFull
	}
}

func (rn *Runner) execute(ctx context.Context, j runJob) model.Run {
	rn.mu.Lock()
	defer rn.mu.Unlock()

	run := j.run
	started := time.Now().UTC()
	run.Status = model.RunRunning
	run.StartedAt = &started
	rn.save(ctx, run)
	log.Printf("[runner] %s: %d stations, %d trips, region %s", run.ID, len(j.stations), len(j.trips), run.Region)

	eng := opt.NewEngine(run.Params, run.Region)
	eng.Logf = func(format string, args ...any) {
		log.Printf("[runner] "+run.ID+": "+format, args...)
	}
	eng.OnCheckpoint = func(cp opt.Checkpoint) {
		mc := model.FromCheckpoint(cp)
		if err := rn.Store.SaveCheckpoint(ctx, run.ID, mc); err != nil {
			log.Printf("[runner] %s: save checkpoint %d: %v", run.ID, mc.Seq, err)
		}
		rn.emit(ctx, webhooks.EventRunCheckpoint, run.ID, map[string]any{"seq": mc.Seq, "checkpoint": mc})
	}

	res, err := func() (opt.Result, error) {
		if err := eng.Load(j.stations, j.trips); err != nil {
			return opt.Result{}, err
		}
		return eng.Run(ctx)
	}()
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	if err != nil {
		run.Status = model.RunFailed
		run.Error = err.Error()
		metrics.ObserveFailure()
		log.Printf("[runner] %s failed: %v", run.ID, err)
		rn.save(context.WithoutCancel(ctx), run)
		rn.emit(context.WithoutCancel(ctx), webhooks.EventRunFailed, run.ID, map[string]any{"error": run.Error})
		return run
	}

	opt.RecordMetrics(run.ID, res.Metrics)
	metrics.ObserveRun(res)
	reg := eng.Registry()
	run.Summary = model.Summarize(res, reg.SkippedTrips(), len(reg.External()))
	if err := rn.Store.SaveItineraries(ctx, run.ID, model.Itineraries(res)); err != nil {
		log.Printf("[runner] %s: save itineraries: %v", run.ID, err)
	}
	run.Status = model.RunCompleted
	rn.save(ctx, run)
	log.Printf("[runner] %s completed: fleet %d, empty miles %.1f", run.ID, run.Summary.FleetSize, run.Summary.EmptyMiles)
	rn.emit(ctx, webhooks.EventRunCompleted, run.ID, map[string]any{"summary": run.Summary})
	return run
}

func (rn *Runner) save(ctx context.Context, run model.Run) {
	if err := rn.Store.UpdateRun(ctx, run); err != nil {
		log.Printf("[runner] %s: update run: %v", run.ID, err)
	}
}

func (rn *Runner) emit(ctx context.Context, typ, runID string, data map[string]any) {
	evt := model.Event{ID: uuid.NewString(), Type: typ, RunID: runID, TS: time.Now().UTC(), Data: data}
	if rn.Broker != nil {
		rn.Broker.Publish(runID, evt)
	}
	if rn.Pub != nil {
		rn.Pub.Emit(ctx, evt)
	}
}
