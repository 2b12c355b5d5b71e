// Package scheduler implements the per-channel code queues, busy-mask
// flow control, macro stacking, and reply routing described in
// spec.md §4.3 (C3). It is the hub between code producers (IPC, file
// interpreters, plugins), internal/protocol (the SPI state machine),
// and internal/model (the object model, for routing unaddressed
// replies into the message log).
package scheduler

import (
	"strings"

	"github.com/rrf-io/sbcd/internal/gcode"
	"github.com/rrf-io/sbcd/internal/protocol"
)

// QueueState is where a QueuedCode sits in its lifecycle (spec.md §3).
type QueueState int

const (
	Queued QueueState = iota
	Sent
	AwaitingReply
	Finished
	Failed
)

func (s QueueState) String() string {
	switch s {
	case Queued:
		return "Queued"
	case Sent:
		return "Sent"
	case AwaitingReply:
		return "AwaitingReply"
	case Finished:
		return "Finished"
	default:
		return "Failed"
	}
}

// QueuedCode wraps a gcode.Code with the scheduling state spec.md §3
// describes.
type QueuedCode struct {
	Code *gcode.Code

	State QueueState

	// PacketID is the in-flight packet id once State >= Sent, used to
	// match a ResendPacket request back to this code's bytes.
	PacketID uint16

	reply strings.Builder
	err   error
}

func newQueuedCode(c *gcode.Code) *QueuedCode {
	return &QueuedCode{Code: c, State: Queued}
}

// appendReply accumulates one CodeReply fragment (spec.md §4.2
// "Ordering guarantees": fragments are delivered in arrival order).
func (qc *QueuedCode) appendReply(text string) {
	if qc.reply.Len() > 0 {
		qc.reply.WriteByte('\n')
	}
	qc.reply.WriteString(text)
}

// finish transitions to Finished/Failed and resolves the code's
// completion handle, if any.
func (qc *QueuedCode) finish(state QueueState, err error) {
	qc.State = state
	qc.err = err
	if qc.Code.Completion != nil {
		qc.Code.Completion.Resolve(qc.reply.String(), err)
	}
}

// channelQueue is one channel's FIFO of queued codes plus its stack of
// active macro files (spec.md §4.3).
type channelQueue struct {
	pending []*QueuedCode // FIFO; index 0 is the head
	macros  []*macroFrame // stack; last element is innermost

	// inFlight is the code currently sent to the firmware and awaiting
	// its CodeReply, if any (spec.md §4.3 "one outstanding code per
	// channel").
	inFlight *QueuedCode

	// Last StackEvent reported for this channel, for internal/model.
	lastStackDepth int
	lastStackFlags protocol.StackFlags
	lastFeedrate   float64
}

func (q *channelQueue) head() *QueuedCode {
	if len(q.pending) == 0 {
		return nil
	}
	return q.pending[0]
}

func (q *channelQueue) popHead() {
	if len(q.pending) == 0 {
		return
	}
	q.pending = q.pending[1:]
}

func (q *channelQueue) push(qc *QueuedCode) {
	q.pending = append(q.pending, qc)
}

func (q *channelQueue) topMacro() *macroFrame {
	if len(q.macros) == 0 {
		return nil
	}
	return q.macros[len(q.macros)-1]
}
