package wire

import (
	"context"
	"time"
)

// fakeDuplex is an in-memory Duplex used by tests. Each call to
// Transfer pops the next scripted response (optionally corrupting it)
// and records the bytes it was given.
type fakeDuplex struct {
	responses [][]byte
	corrupt   map[int]bool // response index -> flip a payload byte
	sent      [][]byte
	next      int
}

func (f *fakeDuplex) Transfer(tx []byte) ([]byte, error) {
	f.sent = append(f.sent, append([]byte(nil), tx...))

	idx := f.next
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	resp := append([]byte(nil), f.responses[idx]...)
	if f.corrupt[f.next] && len(resp) > transferHeaderSize {
		resp[transferHeaderSize] ^= 0xFF
	}
	f.next++
	return resp, nil
}

func (f *fakeDuplex) WaitDataReady(ctx context.Context, pollInterval time.Duration) error {
	return nil
}

// buildFirmwareFrame builds a valid firmware-standalone transfer frame
// carrying the given pre-encoded payload, sized to bufSize.
func buildFirmwareFrame(seq uint16, payload []byte, bufSize int) []byte {
	buf := make([]byte, bufSize)
	h := TransferHeader{
		FormatCode:      FormatFirmwareStandalone,
		ProtocolVersion: CurrentProtocolVersion,
		SequenceID:      seq,
		PayloadLength:   uint16(len(payload)),
		DataCRC:         CRC16(payload),
	}
	h.Encode(buf)
	copy(buf[transferHeaderSize:], payload)
	return buf
}
