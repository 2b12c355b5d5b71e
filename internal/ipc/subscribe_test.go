package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rrf-io/sbcd/internal/model"
)

// TestPatchSubscriptionDeliversOnlyFilteredKeys is spec.md §8
// scenario 6: connect in Patch mode with filter ["state","status"],
// set state.status = "paused", expect exactly
// {"state":{"status":"paused"}} and nothing else.
func TestPatchSubscriptionDeliversOnlyFilteredKeys(t *testing.T) {
	store := model.New(map[string]interface{}{
		"state": map[string]interface{}{"status": "idle"},
		"move":  map[string]interface{}{"speed": 100.0},
	})

	docs := make(chan map[string]interface{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &SubscribeSession{
		Store:        store,
		Mode:         SubscriptionPatch,
		Filters:      []Filter{parseFilter(t, `["state","status"]`)},
		PollInterval: 20 * time.Millisecond,
		Send: func(doc map[string]interface{}) error {
			docs <- doc
			return nil
		},
	}

	go sess.Run(ctx)

	// Entry snapshot: filtered down to just state.status.
	select {
	case doc := <-docs:
		want := map[string]interface{}{"state": map[string]interface{}{"status": "idle"}}
		if diff := cmp.Diff(want, doc); diff != "" {
			t.Fatalf("entry snapshot mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for entry snapshot")
	}

	wg := store.AccessReadWrite()
	if err := wg.Set(model.Property, model.Path{model.Key("state"), model.Key("status")}, "paused"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := wg.Set(model.Property, model.Path{model.Key("move"), model.Key("speed")}, 50.0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	wg.Commit()

	select {
	case doc := <-docs:
		want := map[string]interface{}{"state": map[string]interface{}{"status": "paused"}}
		if diff := cmp.Diff(want, doc); diff != "" {
			t.Fatalf("patch mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for patch")
	}
}

func TestFullSubscriptionResendsWholeModelOnEveryWake(t *testing.T) {
	store := model.New(map[string]interface{}{"n": 0.0})
	docs := make(chan map[string]interface{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &SubscribeSession{
		Store:        store,
		Mode:         SubscriptionFull,
		PollInterval: 20 * time.Millisecond,
		Send: func(doc map[string]interface{}) error {
			docs <- doc
			return nil
		},
	}
	go sess.Run(ctx)

	<-docs // entry snapshot

	wg := store.AccessReadWrite()
	_ = wg.Set(model.Property, model.Path{model.Key("n")}, 1.0)
	wg.Commit()

	select {
	case doc := <-docs:
		if doc["n"] != 1.0 {
			t.Fatalf("got %v, want n=1", doc)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for full resend")
	}
}
