package api

import (
	"context"
	"errors"
	"testing"

	"taxifleet/internal/model"
	"taxifleet/internal/store"
	"taxifleet/internal/webhooks"
)

func TestStopFailsQueuedRuns(t *testing.T) {
	st := store.NewMemory()
	b := NewBroker()
	rn := NewRunner(st, b, nil)
	stations, trips := demand()
	req := model.RunRequest{Region: "R", Stations: stations, Trips: trips}

	var ids []string
	subs := map[string]chan model.Event{}
	for i := 0; i < 2; i++ {
		run, err := rn.Submit(context.Background(), req, stations, trips, false)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, run.ID)
		subs[run.ID] = b.Subscribe(run.ID)
	}
	rn.Stop()

	for _, id := range ids {
		run, err := st.GetRun(context.Background(), id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if run.Status != model.RunFailed || run.Error != ErrStopped.Error() || run.FinishedAt == nil {
			t.Fatalf("queued run left behind: %+v", run)
		}
		select {
		case evt := <-subs[id]:
			if evt.Type != webhooks.EventRunFailed {
				t.Fatalf("event for %s: %s", id, evt.Type)
			}
		default:
			t.Fatalf("no failure event for %s", id)
		}
	}

	run, err := rn.Submit(context.Background(), req, stations, trips, false)
	if !errors.Is(err, ErrStopped) || run.Status != model.RunFailed {
		t.Fatalf("submit after stop: %v %+v", err, run)
	}
}
