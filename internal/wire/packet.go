package wire

import "fmt"

// PacketWriter packs PacketHeader-prefixed, 4-byte-aligned packets
// back to back into a payload buffer (spec.md §6).
type PacketWriter struct {
	buf []byte
	cap int
}

// NewPacketWriter returns a writer that will refuse to grow its buffer
// past capacity bytes (the transfer's payload budget).
func NewPacketWriter(capacity int) *PacketWriter {
	return &PacketWriter{cap: capacity}
}

// WritePacket appends one packet. It returns false (without mutating
// the buffer) if doing so would overflow the writer's capacity, per
// spec.md §4.2 "the code write fails softly and C3 retries next tick".
func (w *PacketWriter) WritePacket(request, id uint16, payload []byte) bool {
	aligned := align4(len(payload))
	need := packetHeaderSize + aligned
	if len(w.buf)+need > w.cap {
		return false
	}

	hdr := PacketHeader{Request: request, ID: id, Length: uint16(len(payload))}
	out := make([]byte, packetHeaderSize+aligned)
	hdr.Encode(out)
	copy(out[packetHeaderSize:], payload)

	w.buf = append(w.buf, out...)
	return true
}

// Len returns the number of bytes written so far.
func (w *PacketWriter) Len() int { return len(w.buf) }

// Bytes returns the accumulated payload.
func (w *PacketWriter) Bytes() []byte { return w.buf }

// Reset clears the writer for reuse.
func (w *PacketWriter) Reset() { w.buf = w.buf[:0] }

// Packet is one decoded request read from a transfer's payload.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketReader peels packets off a payload buffer one at a time. Any
// structurally invalid packet aborts the read (spec.md §4.1: "any
// structurally invalid packet aborts the current read and requests a
// full-frame resend").
type PacketReader struct {
	buf []byte
	off int
}

func NewPacketReader(payload []byte) *PacketReader {
	return &PacketReader{buf: payload}
}

// Next returns the next packet, or (Packet{}, false, nil) once the
// payload is exhausted. A non-nil error means the payload is malformed
// and the caller should treat the whole frame as malformed and resend.
func (r *PacketReader) Next() (Packet, bool, error) {
	if r.off >= len(r.buf) {
		return Packet{}, false, nil
	}
	if r.off+packetHeaderSize > len(r.buf) {
		return Packet{}, false, fmt.Errorf("wire: truncated packet header at offset %d", r.off)
	}

	hdr, err := DecodePacketHeader(r.buf[r.off:])
	if err != nil {
		return Packet{}, false, err
	}

	start := r.off + packetHeaderSize
	aligned := align4(int(hdr.Length))
	if start+aligned > len(r.buf) {
		return Packet{}, false, fmt.Errorf("wire: truncated packet payload at offset %d (need %d, have %d)", r.off, aligned, len(r.buf)-start)
	}

	payload := r.buf[start : start+int(hdr.Length)]
	r.off = start + aligned

	return Packet{Header: hdr, Payload: payload}, true, nil
}
