// Package hostinfo implements the periodic host updater (spec.md
// §4.7, "T3"): network interfaces, volumes, hostname/clock drift,
// reconciled into the object-model store and, on drift, submitted as
// synthesized trigger-channel codes through the scheduler.
package hostinfo

import (
	"context"
	"os"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/rrf-io/sbcd/internal/gcode"
	"github.com/rrf-io/sbcd/internal/model"
	"github.com/rrf-io/sbcd/internal/obslog"
)

// CodeSubmitter enqueues a synthesized code for execution, satisfied
// by internal/scheduler.Scheduler.Enqueue without hostinfo needing to
// import the scheduler package.
type CodeSubmitter func(code *gcode.Code) error

// Updater runs T3: every Interval, it reconciles interfaces and
// volumes into Store, prunes messages older than MaxMessageAge, and
// checks for time/hostname drift.
type Updater struct {
	Store         *model.Store
	Submit        CodeSubmitter
	Interval      time.Duration
	MaxMessageAge time.Duration

	clock     Clock
	lastCheck time.Time
	lastHost  string
}

// Clock abstracts wall-clock and hostname reads so tests can inject
// drift without sleeping real time or renaming the host, the same
// injected-dependency shape jacobsa's timeutil.Clock uses for Now
// (grounded on samples/mount_hello/mount.go's timeutil.RealClock()),
// extended with Hostname since drift detection needs both.
type Clock interface {
	Now() time.Time
	Hostname() (string, error)
}

// systemClock is the default Clock: Now delegates to a real
// timeutil.Clock, Hostname to os.Hostname.
type systemClock struct {
	timeutil.Clock
}

func (systemClock) Hostname() (string, error) { return os.Hostname() }

// NewUpdater builds an Updater with the real system clock.
func NewUpdater(store *model.Store, submit CodeSubmitter, interval, maxMessageAge time.Duration) *Updater {
	return &Updater{
		Store:         store,
		Submit:        submit,
		Interval:      interval,
		MaxMessageAge: maxMessageAge,
		clock:         systemClock{Clock: timeutil.RealClock()},
	}
}

// Run loops until ctx is canceled, reconciling on every tick.
func (u *Updater) Run(ctx context.Context) {
	log := obslog.Debug("hostinfo")
	ticker := time.NewTicker(u.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := u.Tick(); err != nil {
				log.Printf("tick: %v", err)
			}
		}
	}
}

// Tick runs one reconciliation pass (spec.md §4.7).
func (u *Updater) Tick() error {
	ifaces, err := enumerateInterfaces()
	if err != nil {
		return err
	}
	vols, err := enumerateVolumes()
	if err != nil {
		return err
	}

	wg := u.Store.AccessReadWrite()
	if err := reconcileCollection(wg, "networkInterfaces", ifaces); err != nil {
		wg.Commit()
		return err
	}
	if err := reconcileCollection(wg, "volumes", vols); err != nil {
		wg.Commit()
		return err
	}
	u.pruneMessages(wg)
	wg.Commit()

	return u.checkDrift()
}

// reconcileCollection writes items into the model array called name by
// position, growing or truncating the array to len(items) (spec.md
// §4.7 "reconcile ... into the model by position (append new,
// truncate extra)").
func reconcileCollection(wg *model.WriteGuard, name string, items []interface{}) error {
	for i, item := range items {
		if err := wg.Set(model.ObjectCollection, model.Path{model.Array(name, i, len(items))}, item); err != nil {
			return err
		}
	}
	if len(items) == 0 {
		return wg.Set(model.Property, model.Path{model.Key(name)}, []interface{}{})
	}
	return nil
}

// pruneMessages drops messages older than MaxMessageAge (spec.md §9:
// "now - time > max_age" is the correct, un-reversed comparison).
func (u *Updater) pruneMessages(wg *model.WriteGuard) {
	if u.MaxMessageAge <= 0 {
		return
	}
	tree := wg.Tree()
	raw, _ := tree["messages"].([]interface{})
	if len(raw) == 0 {
		return
	}

	now := u.clock.Now()
	kept := make([]interface{}, 0, len(raw))
	for _, m := range raw {
		entry, ok := m.(map[string]interface{})
		if !ok {
			kept = append(kept, m)
			continue
		}
		ts, ok := entry["time"].(string)
		if !ok {
			kept = append(kept, m)
			continue
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			kept = append(kept, m)
			continue
		}
		if now.Sub(t) <= u.MaxMessageAge {
			kept = append(kept, m)
		}
	}
	if len(kept) != len(raw) {
		_ = wg.Set(model.Property, model.Path{model.Key("messages")}, kept)
	}
}

// checkDrift compares the daemon's last-observed time and hostname
// against the current values and, on a mismatch, synthesizes a
// trigger-channel code (spec.md §4.7).
func (u *Updater) checkDrift() error {
	now := u.clock.Now()
	if !u.lastCheck.IsZero() {
		elapsed := now.Sub(u.lastCheck)
		wallDelta := elapsed - u.Interval
		if wallDelta < 0 {
			wallDelta = -wallDelta
		}
		if wallDelta > u.Interval {
			if err := u.submitTimeDrift(now); err != nil {
				return err
			}
		}
	}
	u.lastCheck = now

	host, err := u.clock.Hostname()
	if err != nil {
		return nil
	}
	if u.lastHost != "" && u.lastHost != host {
		if err := u.Submit(hostnameDriftCode(host)); err != nil {
			return err
		}
	}
	u.lastHost = host
	return nil
}

func (u *Updater) submitTimeDrift(now time.Time) error {
	return u.Submit(timeDriftCode(now))
}

// timeDriftCode builds the M905 trigger code reporting a clock step.
func timeDriftCode(now time.Time) *gcode.Code {
	return &gcode.Code{
		Channel:     gcode.Trigger,
		Type:        gcode.TypeM,
		MajorNumber: 905,
		Parameters: []gcode.Parameter{
			{Letter: 'P', Value: now.Format("2006-01-02")},
			{Letter: 'S', Value: now.Format("15:04:05")},
		},
		Flags: gcode.FlagInternallyProcessed,
	}
}

// hostnameDriftCode builds the M550 trigger code reporting a hostname
// change.
func hostnameDriftCode(host string) *gcode.Code {
	return &gcode.Code{
		Channel:     gcode.Trigger,
		Type:        gcode.TypeM,
		MajorNumber: 550,
		Parameters: []gcode.Parameter{
			{Letter: 'P', Value: host},
		},
		Flags: gcode.FlagInternallyProcessed,
	}
}
