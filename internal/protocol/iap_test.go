package protocol

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rrf-io/sbcd/internal/wire"
)

type countingDuplex struct {
	bufSize int
	seq     uint16
	calls   int
}

func (d *countingDuplex) Transfer(tx []byte) ([]byte, error) {
	d.calls++
	frame := buildFrame(d.seq, wire.FormatFirmwareStandalone, wire.CurrentProtocolVersion, nil, d.bufSize)
	d.seq++
	return frame, nil
}

func (d *countingDuplex) WaitDataReady(ctx context.Context, pollInterval time.Duration) error {
	return nil
}

func readyMachine(t *testing.T, bufSize int) (*Machine, *countingDuplex) {
	t.Helper()
	dev := &countingDuplex{bufSize: bufSize}
	conn := wire.NewConnection(dev, bufSize, nil)
	m := NewMachine(conn, bufSize, &fakeHandler{}, nil)
	m.state = Ready
	return m, dev
}

func TestBeginFirmwareUpdateChunksImage(t *testing.T) {
	const bufSize = 4096
	m, dev := readyMachine(t, bufSize)

	image := bytes.Repeat([]byte{0xAB}, iapChunkSize*3+17)
	if err := m.BeginFirmwareUpdate(bytes.NewReader(image)); err != nil {
		t.Fatalf("BeginFirmwareUpdate: %v", err)
	}

	if dev.calls != 4 {
		t.Fatalf("transfer calls = %d, want 4 (three full chunks + remainder)", dev.calls)
	}
}

func TestBeginFirmwareUpdateRequiresReadyState(t *testing.T) {
	const bufSize = 4096
	dev := &countingDuplex{bufSize: bufSize}
	conn := wire.NewConnection(dev, bufSize, nil)
	m := NewMachine(conn, bufSize, &fakeHandler{}, nil)

	err := m.BeginFirmwareUpdate(strings.NewReader("firmware"))
	if err == nil {
		t.Fatal("expected error calling BeginFirmwareUpdate before handshake")
	}
}
