// Package wire implements the SPI transfer/packet framing described in
// spec.md §4.1 and §6: a fixed-size duplex buffer exchange, a
// TransferHeader, and a stream of 4-byte-aligned PacketHeader-prefixed
// packets inside the payload.
//
// The physical duplex primitive (spec.md §1, "assumed: a blocking
// duplex-transfer primitive ... with an external data-ready edge
// signal") is the Duplex interface; internal/wire/spidev provides a
// real Linux backend and tests use an in-memory fake.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Format codes distinguish host frames, firmware-standalone frames, and
// the "nothing new" sentinel (spec.md §6).
const (
	FormatHost           byte = 0x5F
	FormatFirmwareStandalone byte = 0x60
	FormatInvalid         byte = 0xC9
)

// CurrentProtocolVersion is the protocol version this daemon speaks
// (spec.md §4.2, §6).
const CurrentProtocolVersion uint16 = 5

// transferHeaderSize is the encoded size in bytes of TransferHeader.
const transferHeaderSize = 12

// packetHeaderSize is the encoded size in bytes of PacketHeader.
const packetHeaderSize = 8

// TransferHeader is the fixed header at the start of every duplex
// buffer (spec.md §6). Field order is fixed by the wire format.
type TransferHeader struct {
	FormatCode      byte
	Reserved        byte
	SequenceID      uint16
	ProtocolVersion uint16
	PayloadLength   uint16
	HeaderCRC       uint16
	DataCRC         uint16
}

// Encode writes h into the first transferHeaderSize bytes of buf.
// HeaderCRC is computed over the preceding bytes and DataCRC is taken
// from h.DataCRC (the caller must have already computed it over the
// payload).
func (h *TransferHeader) Encode(buf []byte) error {
	if len(buf) < transferHeaderSize {
		return fmt.Errorf("wire: buffer too small for transfer header: %d", len(buf))
	}
	buf[0] = h.FormatCode
	buf[1] = h.Reserved
	binary.LittleEndian.PutUint16(buf[2:4], h.SequenceID)
	binary.LittleEndian.PutUint16(buf[4:6], h.ProtocolVersion)
	binary.LittleEndian.PutUint16(buf[6:8], h.PayloadLength)
	h.HeaderCRC = CRC16(buf[:8])
	binary.LittleEndian.PutUint16(buf[8:10], h.HeaderCRC)
	binary.LittleEndian.PutUint16(buf[10:12], h.DataCRC)
	return nil
}

// DecodeTransferHeader reads a TransferHeader out of buf.
func DecodeTransferHeader(buf []byte) (TransferHeader, error) {
	var h TransferHeader
	if len(buf) < transferHeaderSize {
		return h, fmt.Errorf("wire: buffer too small for transfer header: %d", len(buf))
	}
	h.FormatCode = buf[0]
	h.Reserved = buf[1]
	h.SequenceID = binary.LittleEndian.Uint16(buf[2:4])
	h.ProtocolVersion = binary.LittleEndian.Uint16(buf[4:6])
	h.PayloadLength = binary.LittleEndian.Uint16(buf[6:8])
	h.HeaderCRC = binary.LittleEndian.Uint16(buf[8:10])
	h.DataCRC = binary.LittleEndian.Uint16(buf[10:12])
	return h, nil
}

// HeaderCRCValid reports whether buf's encoded header CRC matches the
// CRC of the covered bytes (spec.md §8 property 3).
func HeaderCRCValid(buf []byte) bool {
	if len(buf) < transferHeaderSize {
		return false
	}
	want := binary.LittleEndian.Uint16(buf[8:10])
	return CRC16(buf[:8]) == want
}

// DataCRCValid reports whether the payload's CRC matches the header's
// recorded DataCRC.
func DataCRCValid(h TransferHeader, payload []byte) bool {
	return CRC16(payload) == h.DataCRC
}

// PacketHeader prefixes each packet inside a transfer's payload
// (spec.md §6).
type PacketHeader struct {
	Request  uint16
	ID       uint16
	Length   uint16
	Reserved uint16
}

func (p *PacketHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], p.Request)
	binary.LittleEndian.PutUint16(buf[2:4], p.ID)
	binary.LittleEndian.PutUint16(buf[4:6], p.Length)
	binary.LittleEndian.PutUint16(buf[6:8], p.Reserved)
}

func DecodePacketHeader(buf []byte) (PacketHeader, error) {
	var p PacketHeader
	if len(buf) < packetHeaderSize {
		return p, fmt.Errorf("wire: buffer too small for packet header: %d", len(buf))
	}
	p.Request = binary.LittleEndian.Uint16(buf[0:2])
	p.ID = binary.LittleEndian.Uint16(buf[2:4])
	p.Length = binary.LittleEndian.Uint16(buf[4:6])
	p.Reserved = binary.LittleEndian.Uint16(buf[6:8])
	return p, nil
}

// align4 rounds n up to the next multiple of 4 (spec.md §6 "aligned to
// 4 bytes").
func align4(n int) int {
	return (n + 3) &^ 3
}
