package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"code.hybscloud.com/framer"
	"code.hybscloud.com/iox"
	"github.com/google/uuid"
	"github.com/rrf-io/sbcd/internal/model"
	"github.com/rrf-io/sbcd/internal/obslog"
)

// Server accepts IPC connections on a local stream socket (spec.md
// §4.6, §5 "T2"). One goroutine handles each connection's handshake
// and processor loop, the same accept-then-spawn shape as the
// teacher's fuse server.Serve (server.go).
type Server struct {
	Listener     net.Listener
	Store        *model.Store
	PollInterval time.Duration

	// Dispatch builds and runs the mode-specific processor for one
	// connection, after the version-gated handshake succeeds. It is
	// supplied by cmd/sbcd, which owns the scheduler/model wiring each
	// mode's CommandHandler needs.
	Dispatch func(ctx context.Context, conn net.Conn, init ClientInitMessage) error
}

// Serve accepts connections until ctx is canceled or the listener is
// closed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.Listener.Close()
	}()

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := obslog.Debug("ipc")

	init, err := s.handshake(conn)
	if err != nil {
		log.Printf("handshake failed: %v", err)
		return
	}

	if init.Mode == ModeSubscribe {
		sess := &SubscribeSession{
			Store:            s.Store,
			Mode:             init.SubscriptionMode,
			Filters:          init.Filters,
			PollInterval:     s.PollInterval,
			Send:             jsonSender(conn),
			RecvAcknowledge:  ackReceiver(conn),
			SocketAlive:      func() bool { return connAlive(conn) },
		}
		if err := sess.Run(ctx); err != nil && err != io.EOF {
			log.Printf("subscribe session ended: %v", err)
		}
		return
	}

	if s.Dispatch == nil {
		return
	}
	if err := s.Dispatch(ctx, conn, init); err != nil && err != io.EOF {
		log.Printf("session ended: %v", err)
	}
}

// handshake runs the line-delimited JSON init exchange and enforces
// the protocol version gate (spec.md §4.6 steps 1-3).
func (s *Server) handshake(conn net.Conn) (ClientInitMessage, error) {
	enc := json.NewEncoder(conn)
	if err := enc.Encode(ServerInitMessage{Id: uuid.NewString()}); err != nil {
		return ClientInitMessage{}, err
	}

	var init ClientInitMessage
	dec := json.NewDecoder(bufio.NewReader(conn))
	if err := dec.Decode(&init); err != nil {
		return ClientInitMessage{}, err
	}

	if init.Version < MinimumProtocolVersion || init.Version > CurrentProtocolVersion {
		apiErr := ErrIncompatibleVersion(init.Version)
		_ = enc.Encode(apiErr)
		return init, apiErr
	}
	return init, nil
}

// jsonSender returns a Send func that frames one JSON document per
// call through framer, per spec.md §6 "server-to-client messages are
// raw UTF-8 JSON object-model (or patch) documents". iox.ErrWouldBlock
// and iox.ErrMore are framer's non-blocking control-flow signals, not
// real failures; the writer just resumes where it left off.
func jsonSender(conn net.Conn) func(map[string]interface{}) error {
	w := framer.NewWriter(conn)
	return func(doc map[string]interface{}) error {
		b, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		for len(b) > 0 {
			n, err := w.Write(b)
			b = b[n:]
			if err == nil || errors.Is(err, iox.ErrWouldBlock) || errors.Is(err, iox.ErrMore) {
				continue
			}
			return err
		}
		return nil
	}
}

// ackReceiver returns a RecvAcknowledge func reading one framed
// Acknowledge envelope per call, retrying past framer's non-blocking
// iox.ErrWouldBlock/iox.ErrMore signals the same way jsonSender does.
func ackReceiver(conn net.Conn) func() error {
	r := framer.NewReader(conn)
	buf := make([]byte, 4096)
	return func() error {
		for {
			n, err := r.Read(buf)
			if err != nil {
				if errors.Is(err, iox.ErrWouldBlock) || errors.Is(err, iox.ErrMore) {
					continue
				}
				return err
			}
			var ack Acknowledge
			return json.Unmarshal(buf[:n], &ack)
		}
	}
}

// connAlive is the subscription "poll the socket liveness" fallback
// (spec.md §4.6). net.Conn exposes no portable not-reading liveness
// probe; a connection that hasn't errored yet is assumed alive, and
// the next Send/RecvAcknowledge in the session will surface a real
// disconnect.
func connAlive(conn net.Conn) bool {
	return conn != nil
}
