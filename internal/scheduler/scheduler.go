package scheduler

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/rrf-io/sbcd/internal/gcode"
	"github.com/rrf-io/sbcd/internal/protocol"
)

var (
	errMacroStackFull = errors.New("scheduler: macro stack full")
	errUnknownChannel = errors.New("scheduler: channel out of range")
)

// evalWaiter is one outstanding SetVariable/EvaluateExpression request
// awaiting its firmware-side result (spec.md §4.3 "Expression
// evaluation is synchronous per channel").
type evalWaiter struct {
	done chan struct{}
	text string
	err  error
}

// Scheduler is the C3 hub: per-channel FIFOs, the macro stack, the
// busy-channels bitmask, and reply routing. It implements
// protocol.Handler so internal/protocol can drive it directly.
type Scheduler struct {
	mu       sync.Mutex
	channels []*channelQueue
	locks    map[string]*lockState

	busy atomic.Uint32

	opener Opener

	outbox []protocol.HostRequest

	pendingEvals []*evalWaiter

	generation atomic.Uint64
}

// New builds a Scheduler. opener resolves macro/file names to readers;
// cmd/sbcd supplies one that builds internal/interp Interpreters.
func New(opener Opener) *Scheduler {
	s := &Scheduler{
		opener:   opener,
		locks:    make(map[string]*lockState),
		channels: make([]*channelQueue, gcode.NumChannels()),
	}
	for i := range s.channels {
		s.channels[i] = &channelQueue{}
	}
	return s
}

func (s *Scheduler) queueFor(ch gcode.Channel) (*channelQueue, error) {
	if int(ch) < 0 || int(ch) >= len(s.channels) {
		return nil, fmt.Errorf("%w: %d", errUnknownChannel, ch)
	}
	return s.channels[ch], nil
}

// Enqueue submits a parsed code for execution on its channel's FIFO
// (spec.md §4.3 "Submission"). Returns the QueuedCode so the caller
// can await c.Code.Completion; a code submitted without one gets a
// fresh Completion attached.
func (s *Scheduler) Enqueue(c *gcode.Code) (*QueuedCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.queueFor(c.Channel)
	if err != nil {
		return nil, err
	}
	if c.Completion == nil {
		c.Completion = gcode.NewCompletion()
	}
	qc := newQueuedCode(c)
	q.push(qc)
	s.generation.Inc()
	return qc, nil
}

// Generation is a monotonic counter bumped on every state change
// visible to the object model (spec.md §5 "change notification"),
// exposed so internal/model can cheaply detect "nothing changed".
func (s *Scheduler) Generation() uint64 { return s.generation.Load() }

// BusyChannels returns the last bitmask the firmware reported.
func (s *Scheduler) BusyChannels() uint32 { return s.busy.Load() }

// PushMacro starts filename running on channel, stacked above whatever
// is currently active there (spec.md §4.3 "Macro stacking"). isFile
// marks a top-level print file as opposed to a triggered macro.
func (s *Scheduler) PushMacro(channel gcode.Channel, filename string, isFile bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.queueFor(channel)
	if err != nil {
		return err
	}
	if s.opener == nil {
		return fmt.Errorf("scheduler: no file opener configured")
	}
	if err := q.pushMacro(channel, filename, isFile, s.opener); err != nil {
		return err
	}
	s.generation.Inc()
	return nil
}

// AbortFile clears channel's entire macro stack, file included, and
// drops its pending FIFO (spec.md §4.3 "AbortFile").
func (s *Scheduler) AbortFile(channel gcode.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, err := s.queueFor(channel)
	if err != nil {
		return err
	}
	q.abortMacros()
	for _, qc := range q.pending {
		qc.finish(Failed, fmt.Errorf("scheduler: file aborted"))
	}
	q.pending = nil
	if q.inFlight != nil {
		q.inFlight.finish(Failed, fmt.Errorf("scheduler: file aborted"))
		q.inFlight = nil
	}
	s.generation.Inc()
	return nil
}

// EvaluateExpression blocks until the firmware resolves expr on
// channel's behalf (spec.md §4.3 "Expression evaluation is synchronous
// per channel", grounding the {expr} meta-gcode construct).
func (s *Scheduler) EvaluateExpression(channel gcode.Channel, expr string) (string, error) {
	w := &evalWaiter{done: make(chan struct{})}
	s.mu.Lock()
	s.pendingEvals = append(s.pendingEvals, w)
	s.outbox = append(s.outbox, protocol.HostRequest{
		Code:       protocol.ReqEvaluateExpression,
		Channel:    int(channel),
		Expression: expr,
	})
	s.mu.Unlock()

	<-w.done
	return w.text, w.err
}

// SetVariable requests the firmware assign name = expression
// (spec.md §4.3, the "global"/"var"/"set" meta-gcode keywords).
func (s *Scheduler) SetVariable(name, expression string) error {
	w := &evalWaiter{done: make(chan struct{})}
	s.mu.Lock()
	s.pendingEvals = append(s.pendingEvals, w)
	s.outbox = append(s.outbox, protocol.HostRequest{
		Code:         protocol.ReqSetVariable,
		VariableName: name,
		Expression:   expression,
	})
	s.mu.Unlock()

	<-w.done
	return w.err
}

// AcquireLock attempts to grant channel exclusive use of the named
// resource (spec.md §4.3 "Resource locks", e.g. the move queue during
// an M400-style exclusive section). Returns false if another channel
// already holds it; channel is then queued and will be retried as
// other holders release.
func (s *Scheduler) AcquireLock(resource string, channel gcode.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[resource]
	if !ok {
		l = &lockState{}
		s.locks[resource] = l
	}
	return l.tryAcquire(channel)
}

// ReleaseLock frees resource if channel holds it, and hands it to the
// next waiter (if any), which must still call AcquireLock itself to
// confirm the grant.
func (s *Scheduler) ReleaseLock(resource string, channel gcode.Channel) (next gcode.Channel, hasNext bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[resource]
	if !ok {
		return 0, false
	}
	return l.release(channel)
}

// HandleFirmwareRequest implements protocol.Handler.
func (s *Scheduler) HandleFirmwareRequest(req protocol.FirmwareRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Code {
	case protocol.ReqReportState:
		s.busy.Store(req.BusyChannels)

	case protocol.ReqCodeReply:
		s.routeReply(req.ReplyFlags, req.ReplyText)

	case protocol.ReqExecuteMacro:
		ch := gcode.Channel(req.Channel)
		q, err := s.queueFor(ch)
		if err != nil {
			return err
		}
		if err := q.pushMacro(ch, req.Filename, false, s.opener); err != nil {
			if req.ReportMissing {
				return err
			}
			// Missing macros are silently skipped unless the firmware
			// asked to be told (spec.md §4.3 "ExecuteMacro").
			s.outbox = append(s.outbox, protocol.HostRequest{
				Code:    protocol.ReqMacroCompleted,
				Channel: req.Channel,
				Error:   false,
			})
		}
		s.generation.Inc()

	case protocol.ReqAbortFile:
		ch := gcode.Channel(req.Channel)
		q, err := s.queueFor(ch)
		if err != nil {
			return err
		}
		q.abortMacros()
		s.generation.Inc()

	case protocol.ReqStackEvent:
		ch := gcode.Channel(req.Channel)
		q, err := s.queueFor(ch)
		if err != nil {
			return err
		}
		q.lastStackDepth = req.StackDepth
		q.lastStackFlags = req.Flags
		q.lastFeedrate = req.Feedrate
		s.generation.Inc()

	case protocol.ReqPrintPaused:
		s.generation.Inc()

	case protocol.ReqLocked:
		s.generation.Inc()

	case protocol.ReqVariableResult, protocol.ReqEvaluationResult:
		if len(s.pendingEvals) == 0 {
			return fmt.Errorf("scheduler: unexpected variable/evaluation result")
		}
		w := s.pendingEvals[0]
		s.pendingEvals = s.pendingEvals[1:]
		w.text = req.ResultText
		if req.ResultErr != "" {
			w.err = errors.New(req.ResultErr)
		}
		close(w.done)

	case protocol.ReqResendPacket, protocol.ReqObjectModel, protocol.ReqHeightMap:
		// Handled upstream (connection-level resend) or by
		// internal/model; nothing for the scheduler to do.

	default:
		return fmt.Errorf("scheduler: unhandled firmware request code %d", req.Code)
	}

	return nil
}

// routeReply appends text to whichever channels ReplyFlags addresses
// (spec.md §4.3 "Reply routing"), finishing each addressed code when
// the reply's Push flag is clear.
func (s *Scheduler) routeReply(flags protocol.ReplyFlags, text string) {
	mask := flags.ChannelMask()
	for i, q := range s.channels {
		if mask&(uint32(protocol.ReplyChannelBit0)<<uint(i)) == 0 {
			continue
		}
		target := q.inFlight
		if target == nil {
			continue
		}
		target.appendReply(text)
		if !flags.HasMore() {
			state := Finished
			if flags.IsError() {
				state = Failed
			}
			target.finish(state, nil)
			q.inFlight = nil
		}
	}
}

// NextHostRequests implements protocol.Handler: it drains the
// out-of-band outbox first, then advances each channel by one code if
// it isn't already waiting on a reply and the firmware hasn't marked
// it busy (spec.md §4.3 "Scheduling cycle").
func (s *Scheduler) NextHostRequests() []protocol.HostRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.outbox
	s.outbox = nil

	busy := s.busy.Load()
	for i, q := range s.channels {
		if busy&(1<<uint(i)) != 0 {
			continue
		}
		if q.inFlight != nil {
			continue
		}
		qc := s.nextCodeLocked(gcode.Channel(i), q)
		if qc == nil {
			continue
		}
		q.inFlight = qc
		qc.State = Sent
		out = append(out, protocol.HostRequest{
			Code:      protocol.ReqCode,
			Channel:   i,
			CodeBytes: []byte(qc.Code.String()),
		})
	}

	// nextCodeLocked may itself have queued MacroCompleted events
	// (exhausted/erroring frames); fold those in too.
	out = append(out, s.outbox...)
	s.outbox = nil
	return out
}

// nextCodeLocked picks the next code to run on channel i: the top
// macro frame takes priority over the plain FIFO (spec.md §4.3
// "Macro stacking precedence"). Popping an exhausted frame unwinds
// until either a code is found or the stack is empty.
func (s *Scheduler) nextCodeLocked(ch gcode.Channel, q *channelQueue) *QueuedCode {
	for {
		frame := q.topMacro()
		if frame == nil {
			break
		}
		c, err := frame.reader.ReadCode()
		if err != nil {
			q.popMacro()
			s.outbox = append(s.outbox, protocol.HostRequest{
				Code: protocol.ReqMacroCompleted, Channel: int(ch), Error: true,
			})
			continue
		}
		if c == nil {
			q.popMacro()
			s.outbox = append(s.outbox, protocol.HostRequest{
				Code: protocol.ReqMacroCompleted, Channel: int(ch), Error: false,
			})
			continue
		}
		c.Channel = ch
		return newQueuedCode(c)
	}
	if qc := q.head(); qc != nil {
		q.popHead()
		return qc
	}
	return nil
}
