package protocol

import (
	"errors"
	"fmt"
	"log"

	"github.com/rrf-io/sbcd/internal/wire"
)

// State is the connection's place in the handshake/steady-state cycle
// (spec.md §4.2).
type State int

const (
	Disconnected State = iota
	Handshaking
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Handshaking:
		return "Handshaking"
	case Ready:
		return "Ready"
	default:
		return "Failed"
	}
}

// MinSupportedVersion is the oldest firmware protocol version this
// daemon will negotiate with (spec.md §4.2 "within the supported
// window").
const MinSupportedVersion = wire.CurrentProtocolVersion

// ErrVersionMismatch is returned by Handshake when the firmware's
// protocol version falls outside [MinSupportedVersion,
// wire.CurrentProtocolVersion].
var ErrVersionMismatch = errors.New("protocol: firmware protocol version unsupported")

// Handler receives decoded firmware requests and is asked to supply the
// next batch of outgoing host requests. It is implemented by
// internal/scheduler; protocol itself carries no scheduling state.
type Handler interface {
	HandleFirmwareRequest(req FirmwareRequest) error
	// NextHostRequests is called once per tick to fill the outgoing
	// buffer after any requests the handler queued out-of-band.
	NextHostRequests() []HostRequest
}

// Machine drives handshake and steady-state multiplexing on top of a
// wire.Connection.
type Machine struct {
	conn        *wire.Connection
	bufferSize  int
	state       State
	handler     Handler
	debugLogger *log.Logger

	firmwareVersion uint16
}

// NewMachine wraps a wire.Connection. debugLogger may be nil.
func NewMachine(conn *wire.Connection, bufferSize int, handler Handler, debugLogger *log.Logger) *Machine {
	return &Machine{
		conn:        conn,
		bufferSize:  bufferSize,
		state:       Disconnected,
		handler:     handler,
		debugLogger: debugLogger,
	}
}

func (m *Machine) State() State { return m.state }

func (m *Machine) debugf(format string, v ...interface{}) {
	if m.debugLogger != nil {
		m.debugLogger.Printf(format, v...)
	}
}

// Handshake performs the version-negotiation transfer that moves the
// machine from Disconnected to Ready (spec.md §4.2).
func (m *Machine) Handshake() error {
	m.state = Handshaking

	w := wire.NewPacketWriter(m.bufferSize)
	res, err := m.conn.PerformFullTransfer(w.Bytes())
	if err != nil {
		m.state = Failed
		return fmt.Errorf("protocol: handshake transfer: %w", err)
	}

	m.firmwareVersion = res.Header.ProtocolVersion
	if m.firmwareVersion < MinSupportedVersion || m.firmwareVersion > wire.CurrentProtocolVersion {
		m.state = Failed
		return fmt.Errorf("%w: firmware=%d supported=[%d,%d]", ErrVersionMismatch, m.firmwareVersion, MinSupportedVersion, wire.CurrentProtocolVersion)
	}

	m.state = Ready
	m.debugf("handshake complete, firmware protocol version %d", m.firmwareVersion)
	return nil
}

// Tick performs one steady-state transfer: it writes the handler's
// pending host requests, exchanges the buffer, and dispatches every
// firmware request found in the response (spec.md §4.3 scheduler cycle
// steps 1-3; the poll/data-ready wait itself is the caller's
// responsibility per step 4).
func (m *Machine) Tick(nextID func() uint16) error {
	if m.state != Ready {
		return fmt.Errorf("protocol: Tick called in state %v", m.state)
	}

	w := wire.NewPacketWriter(m.bufferSize - wireReservedHeaderBudget)
	for _, hr := range m.handler.NextHostRequests() {
		payload, err := EncodeHostRequest(hr)
		if err != nil {
			m.debugf("dropping host request %d: %v", hr.Code, err)
			continue
		}
		id := hr.ID
		if id == 0 {
			id = nextID()
		}
		if !w.WritePacket(hr.Code, id, payload) {
			// Overflow: fails softly, caller retries next tick
			// (spec.md §4.2 "Host-originated requests").
			break
		}
	}

	res, err := m.conn.PerformFullTransfer(w.Bytes())
	if err != nil {
		if errors.Is(err, wire.ErrLinkFailed) {
			m.state = Failed
		}
		return fmt.Errorf("protocol: tick transfer: %w", err)
	}

	if res.Duplicate {
		// Already processed this sequence id once; do not re-dispatch
		// (spec.md §8 "Idempotence").
		return nil
	}

	for _, p := range res.Packets {
		fr, err := DecodeFirmwareRequest(p.Header.Request, p.Payload)
		if err != nil {
			m.debugf("dropping malformed packet id=%d: %v", p.Header.ID, err)
			continue
		}
		if err := m.handler.HandleFirmwareRequest(fr); err != nil {
			m.debugf("handler error for request %d: %v", fr.Code, err)
		}
	}

	return nil
}

// wireReservedHeaderBudget leaves room for the transfer header itself
// inside the fixed-size buffer (spec.md §4.1).
const wireReservedHeaderBudget = 12
