package model

import (
	"context"
	"testing"
	"time"
)

func TestReadWriteGuardRoundTrip(t *testing.T) {
	s := New(nil)

	wg := s.AccessReadWrite()
	if err := wg.Set(Property, Path{Key("state"), Key("status")}, "idle"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	wg.Commit()

	got := s.Get()
	state, _ := got["state"].(map[string]interface{})
	if state["status"] != "idle" {
		t.Fatalf("got %v, want status=idle", got)
	}
}

func TestWaitForUpdateWakesOnCommit(t *testing.T) {
	s := New(nil)
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- s.WaitForUpdate(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	wg := s.AccessReadWrite()
	wg.Commit()

	if err := <-done; err != nil {
		t.Fatalf("WaitForUpdate: %v", err)
	}
	if s.Generation() != 1 {
		t.Fatalf("generation = %d, want 1", s.Generation())
	}
}

func TestWaitForUpdateRespectsCancel(t *testing.T) {
	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.WaitForUpdate(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestObjectCollectionArraySet(t *testing.T) {
	s := New(nil)
	wg := s.AccessReadWrite()
	err := wg.Set(ObjectCollection, Path{Array("tools", 1, 2), Key("active")}, true)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	wg.Commit()

	tools, _ := s.Get()["tools"].([]interface{})
	if len(tools) != 2 {
		t.Fatalf("tools len = %d, want 2", len(tools))
	}
	if tools[0] != nil {
		t.Fatalf("tools[0] = %v, want nil (untouched slot)", tools[0])
	}
	tool1, _ := tools[1].(map[string]interface{})
	if tool1["active"] != true {
		t.Fatalf("tools[1] = %v, want active=true", tool1)
	}
}

func TestGrowingCollectionAppendsOnly(t *testing.T) {
	s := New(nil)
	wg := s.AccessReadWrite()
	err := wg.Set(GrowingCollection, Path{Key("messages")}, []interface{}{"booted"})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	wg.Commit()

	wg = s.AccessReadWrite()
	err = wg.Set(GrowingCollection, Path{Key("messages")}, []interface{}{"connected"})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	wg.Commit()

	msgs, _ := s.Get()["messages"].([]interface{})
	want := []interface{}{"booted", "connected"}
	if len(msgs) != len(want) {
		t.Fatalf("got %v, want %v", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("msgs[%d] = %v, want %v", i, msgs[i], want[i])
		}
	}
}

func TestSubscriptionReceivesChangesOnCommit(t *testing.T) {
	s := New(nil)
	sub := s.Subscribe(4)
	defer sub.Close()

	wg := s.AccessReadWrite()
	if err := wg.Set(Property, Path{Key("status")}, "printing"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	wg.Commit()

	select {
	case c := <-sub.Changes:
		if c.Kind != Property || c.Value != "printing" {
			t.Fatalf("unexpected change: %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestSubscriptionForcesFullResyncWhenBufferFull(t *testing.T) {
	s := New(nil)
	sub := s.Subscribe(1)
	defer sub.Close()

	for i := 0; i < 3; i++ {
		wg := s.AccessReadWrite()
		if err := wg.Set(Property, Path{Key("n")}, i); err != nil {
			t.Fatalf("Set: %v", err)
		}
		wg.Commit()
	}

	select {
	case <-sub.ForceFull:
	default:
		t.Fatal("expected a forced full-resync signal once the buffer filled")
	}
}
