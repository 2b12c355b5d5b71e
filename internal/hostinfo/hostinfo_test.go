package hostinfo

import (
	"testing"
	"time"

	"github.com/rrf-io/sbcd/internal/gcode"
	"github.com/rrf-io/sbcd/internal/model"
)

type fakeClock struct {
	now      time.Time
	hostname string
}

func (c *fakeClock) Now() time.Time           { return c.now }
func (c *fakeClock) Hostname() (string, error) { return c.hostname, nil }

func TestReconcileCollectionAppendsAndTruncates(t *testing.T) {
	store := model.New(nil)
	wg := store.AccessReadWrite()
	items := []interface{}{
		map[string]interface{}{"name": "eth0"},
		map[string]interface{}{"name": "wlan0"},
	}
	if err := reconcileCollection(wg, "networkInterfaces", items); err != nil {
		t.Fatalf("reconcileCollection: %v", err)
	}
	wg.Commit()

	ifaces, _ := store.Get()["networkInterfaces"].([]interface{})
	if len(ifaces) != 2 {
		t.Fatalf("got %d interfaces, want 2", len(ifaces))
	}

	wg = store.AccessReadWrite()
	if err := reconcileCollection(wg, "networkInterfaces", items[:1]); err != nil {
		t.Fatalf("reconcileCollection: %v", err)
	}
	wg.Commit()

	ifaces, _ = store.Get()["networkInterfaces"].([]interface{})
	if len(ifaces) != 1 {
		t.Fatalf("got %d interfaces after truncation, want 1", len(ifaces))
	}
}

func TestPruneMessagesDropsOldEntries(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := model.New(map[string]interface{}{
		"messages": []interface{}{
			map[string]interface{}{"time": clock.now.Add(-time.Hour).Format(time.RFC3339), "content": "old"},
			map[string]interface{}{"time": clock.now.Add(-time.Second).Format(time.RFC3339), "content": "fresh"},
		},
	})
	u := &Updater{Store: store, MaxMessageAge: time.Minute, clock: clock}

	wg := store.AccessReadWrite()
	u.pruneMessages(wg)
	wg.Commit()

	msgs, _ := store.Get()["messages"].([]interface{})
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	kept, _ := msgs[0].(map[string]interface{})
	if kept["content"] != "fresh" {
		t.Fatalf("kept %v, want the fresh message", kept)
	}
}

func TestCheckDriftSubmitsHostnameChangeTrigger(t *testing.T) {
	clock := &fakeClock{now: time.Now(), hostname: "duet0"}
	var submitted []*gcode.Code
	u := &Updater{
		clock:  clock,
		Submit: func(c *gcode.Code) error { submitted = append(submitted, c); return nil },
	}

	if err := u.checkDrift(); err != nil {
		t.Fatalf("checkDrift: %v", err)
	}
	if len(submitted) != 0 {
		t.Fatalf("expected no trigger on first observation, got %d", len(submitted))
	}

	clock.hostname = "duet1"
	if err := u.checkDrift(); err != nil {
		t.Fatalf("checkDrift: %v", err)
	}
	if len(submitted) != 1 {
		t.Fatalf("got %d triggers, want 1", len(submitted))
	}
	if submitted[0].MajorNumber != 550 || submitted[0].Channel != gcode.Trigger {
		t.Fatalf("unexpected trigger code: %+v", submitted[0])
	}
}
