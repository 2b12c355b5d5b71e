package wire

import (
	"testing"
)

func TestCRCRoundTrip(t *testing.T) {
	payload := []byte("hello firmware")
	buf := make([]byte, transferHeaderSize+len(payload))
	h := TransferHeader{
		FormatCode:      FormatHost,
		ProtocolVersion: CurrentProtocolVersion,
		SequenceID:      7,
		PayloadLength:   uint16(len(payload)),
		DataCRC:         CRC16(payload),
	}
	if err := h.Encode(buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	copy(buf[transferHeaderSize:], payload)

	if !HeaderCRCValid(buf) {
		t.Fatal("header CRC should be valid")
	}

	got, err := DecodeTransferHeader(buf)
	if err != nil {
		t.Fatalf("DecodeTransferHeader: %v", err)
	}
	if !DataCRCValid(got, buf[transferHeaderSize:]) {
		t.Fatal("data CRC should be valid")
	}

	// Flipping a payload byte must invalidate the data CRC.
	buf[transferHeaderSize] ^= 0xFF
	got2, _ := DecodeTransferHeader(buf)
	if DataCRCValid(got2, buf[transferHeaderSize:]) {
		t.Fatal("data CRC should be invalid after corruption")
	}
}

func TestPacketWriterReaderRoundTrip(t *testing.T) {
	w := NewPacketWriter(1024)
	if !w.WritePacket(1, 100, []byte("abc")) {
		t.Fatal("WritePacket should succeed")
	}
	if !w.WritePacket(2, 101, []byte("de")) {
		t.Fatal("WritePacket should succeed")
	}

	r := NewPacketReader(w.Bytes())
	p1, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("Next: %v, %v", ok, err)
	}
	if p1.Header.Request != 1 || p1.Header.ID != 100 || string(p1.Payload) != "abc" {
		t.Errorf("p1 = %+v", p1)
	}

	p2, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("Next: %v, %v", ok, err)
	}
	if p2.Header.Request != 2 || string(p2.Payload) != "de" {
		t.Errorf("p2 = %+v", p2)
	}

	_, ok, err = r.Next()
	if err != nil || ok {
		t.Fatalf("expected exhausted reader, got ok=%v err=%v", ok, err)
	}
}

func TestPacketWriterOverflowFailsSoftly(t *testing.T) {
	w := NewPacketWriter(10)
	if w.WritePacket(1, 1, []byte("this payload is too long")) {
		t.Fatal("WritePacket should report failure on overflow")
	}
	if w.Len() != 0 {
		t.Fatal("writer must not be mutated on a failed write")
	}
}

func TestPerformFullTransferResendOnCorruption(t *testing.T) {
	const bufSize = 256
	payload := NewPacketWriter(64)
	payload.WritePacket(10, 1, []byte("FIRMWARE_NAME: test"))

	good := buildFirmwareFrame(1, payload.Bytes(), bufSize)

	dev := &fakeDuplex{
		responses: [][]byte{good, good, good},
		corrupt:   map[int]bool{0: true, 1: true}, // first two attempts corrupted
	}

	conn := NewConnection(dev, bufSize, nil)
	res, err := conn.PerformFullTransfer(nil)
	if err != nil {
		t.Fatalf("PerformFullTransfer: %v", err)
	}
	if len(res.Packets) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(res.Packets))
	}
	if len(dev.sent) != 3 {
		t.Fatalf("expected 3 attempts (2 resends + success), got %d", len(dev.sent))
	}
}

func TestPerformFullTransferFailsAfterBudget(t *testing.T) {
	const bufSize = 256
	bad := make([]byte, bufSize)
	bad[transferHeaderSize] = 0xFF // guaranteed-bad header given zeroed CRC

	dev := &fakeDuplex{
		responses: [][]byte{bad},
	}
	// Make every response distinct-but-always-malformed by reusing bad for
	// every call (index clamps to len-1 in fakeDuplex.Transfer).

	conn := NewConnection(dev, bufSize, nil)
	_, err := conn.PerformFullTransfer(nil)
	if err != ErrLinkFailed {
		t.Fatalf("expected ErrLinkFailed, got %v", err)
	}
	if len(dev.sent) != MaxResendRetries+1 {
		t.Fatalf("expected %d attempts, got %d", MaxResendRetries+1, len(dev.sent))
	}
}

func TestPerformFullTransferIdempotentOnDuplicateSequence(t *testing.T) {
	const bufSize = 256
	payload := NewPacketWriter(64)
	payload.WritePacket(10, 1, []byte("ok"))
	frame := buildFirmwareFrame(5, payload.Bytes(), bufSize)

	dev := &fakeDuplex{responses: [][]byte{frame, frame}}
	conn := NewConnection(dev, bufSize, nil)

	res1, err := conn.PerformFullTransfer(nil)
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	if res1.Duplicate {
		t.Fatal("first frame should not be flagged duplicate")
	}

	res2, err := conn.PerformFullTransfer(nil)
	if err != nil {
		t.Fatalf("second transfer: %v", err)
	}
	if !res2.Duplicate {
		t.Fatal("replayed sequence id should be flagged duplicate")
	}
}
