package ipc

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rrf-io/sbcd/internal/model"
)

// SubscribeSession drives one Subscribe-mode connection's processor
// loop (spec.md §4.6 "Subscribe mode"). It owns neither the socket nor
// the store; Send/RecvAcknowledge are injected so tests can drive the
// loop without a real connection.
type SubscribeSession struct {
	Store   *model.Store
	Mode    SubscriptionMode
	Filters []Filter

	// PollInterval is socket_poll_interval (spec.md §5 "Timeouts"): the
	// timeout wait_for_update is given between patch-batching wakeups.
	PollInterval time.Duration

	Send            func(doc map[string]interface{}) error
	RecvAcknowledge func() error
	// SocketAlive is polled on every wait_for_update timeout, in both
	// modes (spec.md §4.6: "on timeout, poll the socket liveness and
	// loop"); a false return ends the session.
	SocketAlive func() bool
}

// Run drives the session until ctx is canceled, Send/RecvAcknowledge
// report an error, or SocketAlive reports the peer is gone. On entry
// it always sends one snapshot (spec.md §4.6 "On entry ... serialize
// either the whole object model ... or the union of filtered
// subtrees; send; await client Acknowledge"); after that, Full mode
// resends a fresh snapshot every wake, while Patch mode accumulates
// changes and only sends once its patch is non-empty.
func (s *SubscribeSession) Run(ctx context.Context) error {
	sub := s.Store.Subscribe(64)
	defer sub.Close()

	if err := s.sendAndAck(snapshot(s.Store, s.Filters)); err != nil {
		return err
	}

	patch := map[string]interface{}{}
	for {
		if err := s.waitForWork(ctx, sub, &patch); err != nil {
			return err
		}

		if s.Mode == SubscriptionFull {
			if err := s.sendAndAck(snapshot(s.Store, s.Filters)); err != nil {
				return err
			}
			continue
		}
		if len(patch) > 0 {
			if err := s.sendAndAck(patch); err != nil {
				return err
			}
			patch = map[string]interface{}{}
		}
	}
}

// waitForWork blocks until either the store commits (draining any
// buffered Change records into patch first) or PollInterval elapses,
// in which case it checks socket liveness (spec.md §4.6).
func (s *SubscribeSession) waitForWork(ctx context.Context, sub *model.Subscription, patch *map[string]interface{}) error {
	timer := time.NewTimer(s.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case c := <-sub.Changes:
			if s.Mode == SubscriptionPatch && MatchesAny(s.Filters, c.Path) {
				if err := model.ApplyPatch(*patch, c); err != nil {
					continue
				}
			}
			// A patch-mode subscriber batches until the poll tick fires;
			// a full-mode subscriber just needed the wakeup to re-snapshot.
			if s.Mode == SubscriptionFull {
				return nil
			}

		case <-sub.ForceFull:
			// Changes were dropped: replace the accumulated patch with a
			// fresh (filtered) snapshot so a patch-mode client resyncs.
			*patch = snapshot(s.Store, s.Filters)
			return nil

		case <-timer.C:
			if s.SocketAlive != nil && !s.SocketAlive() {
				return io.ErrClosedPipe
			}
			if s.Mode == SubscriptionPatch && len(*patch) > 0 {
				return nil
			}
			timer.Reset(s.PollInterval)
		}
	}
}

func (s *SubscribeSession) sendAndAck(doc map[string]interface{}) error {
	if err := s.Send(doc); err != nil {
		return err
	}
	if s.RecvAcknowledge != nil {
		return s.RecvAcknowledge()
	}
	return nil
}

// snapshot serializes the whole store, or (when filters are set) the
// union of the filtered subtrees (spec.md §4.6 "On entry ... serialize
// either the whole object model ... or the union of filtered
// subtrees").
func snapshot(store *model.Store, filters []Filter) map[string]interface{} {
	g := store.AccessReadOnly()
	defer g.Release()
	tree := g.Get()

	if len(filters) == 0 {
		return cloneTree(tree)
	}

	out := map[string]interface{}{}
	for _, f := range filters {
		copyFilteredSubtree(tree, out, f)
	}
	return out
}

func copyFilteredSubtree(src, dst map[string]interface{}, f Filter) {
	cur := src
	curDst := dst
	for _, seg := range f {
		if seg.Wildcard {
			for k, v := range cur {
				curDst[k] = v
			}
			return
		}
		v, ok := cur[seg.Key]
		if !ok {
			return
		}
		if seg.IsArray {
			list, ok := v.([]interface{})
			if !ok {
				return
			}
			curDst[seg.Key] = list
			return
		}
		child, ok := v.(map[string]interface{})
		if !ok {
			curDst[seg.Key] = v
			return
		}
		nextDst, ok := curDst[seg.Key].(map[string]interface{})
		if !ok {
			nextDst = map[string]interface{}{}
			curDst[seg.Key] = nextDst
		}
		cur = child
		curDst = nextDst
	}
}

func cloneTree(src map[string]interface{}) map[string]interface{} {
	b, err := json.Marshal(src)
	if err != nil {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	_ = json.Unmarshal(b, &out)
	return out
}
