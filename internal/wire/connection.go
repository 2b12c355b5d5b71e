package wire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// MaxResendRetries bounds how many times the same sequence id may be
// resent before the connection is declared failed (spec.md §4.1 "a
// resend is bounded by a retry count").
const MaxResendRetries = 3

// Duplex is the physical transport primitive the daemon assumes exists
// (spec.md §1): a blocking duplex exchange of two fixed-size buffers,
// plus a way to wait for the firmware's "data ready" edge signal.
// internal/wire/spidev implements this against a real /dev/spidevN.N;
// tests use an in-memory fake.
type Duplex interface {
	// Transfer exchanges tx for a same-length rx buffer.
	Transfer(tx []byte) (rx []byte, err error)
	// WaitDataReady blocks until the peer's data-ready edge fires, the
	// poll interval elapses, or ctx is done. It never returns an error
	// for a plain timeout.
	WaitDataReady(ctx context.Context, pollInterval time.Duration) error
}

// ErrLinkFailed is returned once the same sequence id has been resent
// MaxResendRetries times without success (spec.md §4.1, §7 "Fatal
// transport").
var ErrLinkFailed = errors.New("wire: link failed after exceeding resend budget")

// Connection drives one full-duplex SPI transfer cycle: building an
// outgoing payload from queued packets, exchanging it with the
// firmware, and iterating the packets found in the response. It owns
// no protocol semantics (that's internal/protocol) — only framing,
// CRCs, and resend bookkeeping.
type Connection struct {
	dev         Duplex
	bufferSize  int
	debugLogger *log.Logger

	sequenceID uint16

	// resendCounts tracks how many times we've resent each outstanding
	// sequence id, so a persistently malformed peer trips ErrLinkFailed
	// instead of looping forever.
	resendCounts map[uint16]int

	// lastAcceptedFirmwareSeq de-duplicates firmware-originated standalone
	// frames that get replayed after a resend (spec.md §8 "Idempotence").
	lastAcceptedFirmwareSeq uint16
	haveAcceptedFirmwareSeq bool
}

// NewConnection wraps dev. bufferSize is the fixed transfer buffer size
// (typically 8 KiB, spec.md §4.1). debugLogger may be nil.
func NewConnection(dev Duplex, bufferSize int, debugLogger *log.Logger) *Connection {
	return &Connection{
		dev:          dev,
		bufferSize:   bufferSize,
		debugLogger:  debugLogger,
		resendCounts: make(map[uint16]int),
	}
}

func (c *Connection) debugf(format string, v ...interface{}) {
	if c.debugLogger != nil {
		c.debugLogger.Printf(format, v...)
	}
}

// Result is what one successful transfer yielded.
type Result struct {
	Header   TransferHeader
	Packets  []Packet
	Duplicate bool // this sequence id was already processed once
}

// PerformFullTransfer exchanges outgoing (a payload built with
// PacketWriter) for the firmware's response, validates CRCs, and
// returns the decoded packets. On CRC failure it automatically issues
// a ResendPacket-class retry by re-sending the same outgoing buffer,
// bounded by MaxResendRetries, per spec.md §4.1 and §8 scenario 5.
func (c *Connection) PerformFullTransfer(outgoing []byte) (Result, error) {
	tx := make([]byte, c.bufferSize)

	var hdr TransferHeader
	hdr.FormatCode = FormatHost
	hdr.ProtocolVersion = CurrentProtocolVersion
	hdr.SequenceID = c.sequenceID
	c.sequenceID++
	hdr.PayloadLength = uint16(len(outgoing))
	hdr.DataCRC = CRC16(outgoing)
	if err := hdr.Encode(tx); err != nil {
		return Result{}, err
	}
	copy(tx[transferHeaderSize:], outgoing)

	for attempt := 0; ; attempt++ {
		rx, err := c.dev.Transfer(tx)
		if err != nil {
			return Result{}, fmt.Errorf("wire: duplex transfer: %w", err)
		}

		res, malformed := c.parseIncoming(rx)
		if !malformed {
			delete(c.resendCounts, hdr.SequenceID)
			return res, nil
		}

		c.resendCounts[hdr.SequenceID]++
		if c.resendCounts[hdr.SequenceID] > MaxResendRetries {
			return Result{}, ErrLinkFailed
		}
		c.debugf("malformed frame, resend attempt %d for sequence %d", c.resendCounts[hdr.SequenceID], hdr.SequenceID)
	}
}

// parseIncoming validates the transfer header and payload CRCs and
// decodes the packet stream. malformed is true when either CRC fails
// or a packet is structurally invalid; the caller must retry.
func (c *Connection) parseIncoming(rx []byte) (res Result, malformed bool) {
	if !HeaderCRCValid(rx) {
		c.debugf("header CRC mismatch")
		return Result{}, true
	}

	hdr, err := DecodeTransferHeader(rx)
	if err != nil {
		return Result{}, true
	}

	if hdr.FormatCode == FormatInvalid {
		return Result{Header: hdr}, false
	}

	if hdr.FormatCode != FormatFirmwareStandalone {
		c.debugf("unexpected format code 0x%02x", hdr.FormatCode)
		return Result{}, true
	}

	payloadEnd := transferHeaderSize + int(hdr.PayloadLength)
	if payloadEnd > len(rx) {
		return Result{}, true
	}
	payload := rx[transferHeaderSize:payloadEnd]

	if !DataCRCValid(hdr, payload) {
		c.debugf("data CRC mismatch")
		return Result{}, true
	}

	dup := c.haveAcceptedFirmwareSeq && hdr.SequenceID == c.lastAcceptedFirmwareSeq
	c.lastAcceptedFirmwareSeq = hdr.SequenceID
	c.haveAcceptedFirmwareSeq = true

	reader := NewPacketReader(payload)
	var packets []Packet
	for {
		p, ok, err := reader.Next()
		if err != nil {
			c.debugf("malformed packet: %v", err)
			return Result{}, true
		}
		if !ok {
			break
		}
		packets = append(packets, p)
	}

	return Result{Header: hdr, Packets: packets, Duplicate: dup}, false
}
