package protocol

import (
	"fmt"
	"io"

	"github.com/rrf-io/sbcd/internal/wire"
)

// iapChunkSize is the raw byte count per UpdateFirmware host request,
// chosen to leave headroom for base64 JSON inflation inside the fixed
// transfer buffer (spec.md §4.1 "8 KiB" nominal buffer size).
const iapChunkSize = 2048

// BeginFirmwareUpdate streams fw to the firmware as a sequence of
// UpdateFirmware host requests, one packet transfer per chunk. It only
// gets the image across the wire; bootloader handshaking and the
// IapTimeout/IapBootDelay/IapRebootDelay/FirmwareFinishedDelay timing
// around it are the caller's responsibility (spec.md §1 names IAP
// bootloader details out of scope).
func (m *Machine) BeginFirmwareUpdate(fw io.Reader) error {
	if m.state != Ready {
		return fmt.Errorf("protocol: BeginFirmwareUpdate called in state %v", m.state)
	}

	buf := make([]byte, iapChunkSize)
	id := uint16(1)
	for {
		n, err := io.ReadFull(fw, buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			payload, encErr := EncodeHostRequest(HostRequest{Code: ReqUpdateFirmware, FirmwareChunk: chunk})
			if encErr != nil {
				return fmt.Errorf("protocol: encode firmware chunk: %w", encErr)
			}

			w := wire.NewPacketWriter(m.bufferSize - wireReservedHeaderBudget)
			if !w.WritePacket(ReqUpdateFirmware, id, payload) {
				return fmt.Errorf("protocol: firmware chunk exceeds transfer buffer")
			}
			if _, terr := m.conn.PerformFullTransfer(w.Bytes()); terr != nil {
				return fmt.Errorf("protocol: firmware chunk transfer: %w", terr)
			}
			id++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return fmt.Errorf("protocol: read firmware image: %w", err)
		}
	}
	return nil
}
