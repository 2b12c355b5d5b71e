package scheduler

import (
	"testing"

	"github.com/rrf-io/sbcd/internal/gcode"
	"github.com/rrf-io/sbcd/internal/protocol"
)

type fakeReader struct {
	codes  []*gcode.Code
	idx    int
	closed bool
}

func (r *fakeReader) ReadCode() (*gcode.Code, error) {
	if r.idx >= len(r.codes) {
		return nil, nil
	}
	c := r.codes[r.idx]
	r.idx++
	return c, nil
}

func (r *fakeReader) Position() int64 { return int64(r.idx) }
func (r *fakeReader) Close() error    { r.closed = true; return nil }

func makeCode(major int) *gcode.Code {
	return &gcode.Code{Type: gcode.TypeG, MajorNumber: major}
}

func TestEnqueueAndReplyRouting(t *testing.T) {
	s := New(nil)
	qc, err := s.Enqueue(&gcode.Code{Channel: gcode.HTTP, Type: gcode.TypeG, MajorNumber: 28})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	reqs := s.NextHostRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 host request, got %d", len(reqs))
	}
	if reqs[0].Code != protocol.ReqCode || reqs[0].Channel != int(gcode.HTTP) {
		t.Fatalf("unexpected request %+v", reqs[0])
	}

	// No further code should be sent while awaiting the reply.
	if more := s.NextHostRequests(); len(more) != 0 {
		t.Fatalf("expected no requests while awaiting reply, got %+v", more)
	}

	flags := protocol.ReplyChannelBit0 << gcode.HTTP
	if err := s.HandleFirmwareRequest(protocol.FirmwareRequest{
		Code:       protocol.ReqCodeReply,
		ReplyFlags: flags,
		ReplyText:  "ok",
	}); err != nil {
		t.Fatalf("HandleFirmwareRequest: %v", err)
	}

	select {
	case <-qc.Code.Completion.Done():
	default:
		t.Fatal("completion not resolved")
	}
	reply, err := qc.Code.Completion.Result()
	if err != nil || reply != "ok" {
		t.Fatalf("Result() = %q, %v", reply, err)
	}
}

func TestMacroPushAndCompletion(t *testing.T) {
	reader := &fakeReader{codes: []*gcode.Code{makeCode(1), makeCode(2)}}
	opener := func(ch gcode.Channel, filename string) (FileReader, error) { return reader, nil }
	s := New(opener)

	if err := s.PushMacro(gcode.Trigger, "foo.g", false); err != nil {
		t.Fatalf("PushMacro: %v", err)
	}

	reqs := s.NextHostRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}

	if err := s.HandleFirmwareRequest(protocol.FirmwareRequest{
		Code:       protocol.ReqCodeReply,
		ReplyFlags: protocol.ReplyChannelBit0 << gcode.Trigger,
		ReplyText:  "",
	}); err != nil {
		t.Fatalf("HandleFirmwareRequest: %v", err)
	}

	reqs = s.NextHostRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected second code request, got %d", len(reqs))
	}

	if err := s.HandleFirmwareRequest(protocol.FirmwareRequest{
		Code:       protocol.ReqCodeReply,
		ReplyFlags: protocol.ReplyChannelBit0 << gcode.Trigger,
	}); err != nil {
		t.Fatalf("HandleFirmwareRequest: %v", err)
	}

	reqs = s.NextHostRequests()
	if len(reqs) != 1 || reqs[0].Code != protocol.ReqMacroCompleted {
		t.Fatalf("expected MacroCompleted, got %+v", reqs)
	}
	if reqs[0].Error {
		t.Fatal("expected clean macro completion")
	}
	if !reader.closed {
		t.Fatal("expected macro reader to be closed")
	}
}

func TestAbortFileClearsMacroStackAndQueue(t *testing.T) {
	reader := &fakeReader{codes: []*gcode.Code{makeCode(1)}}
	opener := func(ch gcode.Channel, filename string) (FileReader, error) { return reader, nil }
	s := New(opener)

	if err := s.PushMacro(gcode.File, "print.gcode", true); err != nil {
		t.Fatalf("PushMacro: %v", err)
	}
	qc, err := s.Enqueue(&gcode.Code{Channel: gcode.File, Type: gcode.TypeM, MajorNumber: 117})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := s.AbortFile(gcode.File); err != nil {
		t.Fatalf("AbortFile: %v", err)
	}

	if !reader.closed {
		t.Fatal("expected macro reader closed on abort")
	}
	select {
	case <-qc.Code.Completion.Done():
	default:
		t.Fatal("expected queued code to be resolved (failed) on abort")
	}
	if _, err := qc.Code.Completion.Result(); err == nil {
		t.Fatal("expected abort error on queued code")
	}
}

func TestEvaluateExpressionBlocksUntilResult(t *testing.T) {
	s := New(nil)

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := s.EvaluateExpression(gcode.HTTP, "1+1")
		done <- outcome{text, err}
	}()

	var reqs []protocol.HostRequest
	for i := 0; i < 100 && len(reqs) == 0; i++ {
		reqs = s.NextHostRequests()
	}
	if len(reqs) != 1 || reqs[0].Code != protocol.ReqEvaluateExpression {
		t.Fatalf("expected EvaluateExpression request, got %+v", reqs)
	}

	if err := s.HandleFirmwareRequest(protocol.FirmwareRequest{
		Code:       protocol.ReqEvaluationResult,
		ResultText: "2",
	}); err != nil {
		t.Fatalf("HandleFirmwareRequest: %v", err)
	}

	out := <-done
	if out.err != nil || out.text != "2" {
		t.Fatalf("got %q, %v", out.text, out.err)
	}
}

func TestLockAcquireRelease(t *testing.T) {
	s := New(nil)

	if !s.AcquireLock("move", gcode.File) {
		t.Fatal("expected first acquire to succeed")
	}
	if s.AcquireLock("move", gcode.Trigger) {
		t.Fatal("expected second channel to be queued, not granted")
	}
	next, ok := s.ReleaseLock("move", gcode.File)
	if !ok || next != gcode.Trigger {
		t.Fatalf("ReleaseLock: next=%v ok=%v", next, ok)
	}
	if !s.AcquireLock("move", gcode.Trigger) {
		t.Fatal("expected waiter to acquire after release")
	}
}
