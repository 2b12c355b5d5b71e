// Package spidev implements wire.Duplex against a real Linux
// /dev/spidevN.N character device using SPI_IOC_MESSAGE, the way
// github.com/daedaluz/goserial's spi package drives /dev/spidevN.N for
// a plain serial-over-SPI link. The data-ready edge signal is read off
// a GPIO line through github.com/daedaluz/fdev.
package spidev

import (
	"context"
	"fmt"
	"reflect"
	"syscall"
	"time"
	"unsafe"

	"github.com/daedaluz/fdev"
	ioctl "github.com/daedaluz/goioctl"
)

const spiIOCMagic = 'k'

type spiIOCTransfer struct {
	txBuf uint64
	rxBuf uint64

	length  uint32
	speedHz uint32

	delayUsecs     uint16
	bitsPerWord    uint8
	csChange       uint8
	txNbits        uint8
	rxNbits        uint8
	wordDelayUsecs uint8
	pad            uint8
}

var (
	spiIOCWrMode32      = ioctl.IOW(spiIOCMagic, 5, 4)
	spiIOCWrMaxSpeedHz  = ioctl.IOW(spiIOCMagic, 4, 4)
	spiIOCWrBitsPerWord = ioctl.IOW(spiIOCMagic, 3, 1)
	spiIOCMessage       = ioctl.IOW(spiIOCMagic, 0, unsafe.Sizeof(spiIOCTransfer{}))
)

// Config mirrors the handful of SPI mode knobs a RepRapFirmware board
// expects: mode 0, MSB first, a conservative clock, full-duplex.
type Config struct {
	DevicePath string
	GPIOChip   string // data-ready GPIO chip, e.g. "/dev/gpiochip0"
	GPIOLine   uint32
	SpeedHz    uint32
	BitsPerWord uint8
}

// Device is the Linux backend for wire.Duplex.
type Device struct {
	fd       int
	cfg      Config
	dataLine *fdev.Line
}

// Open configures and opens the SPI character device and the
// data-ready GPIO line.
func Open(cfg Config) (*Device, error) {
	fd, err := syscall.Open(cfg.DevicePath, syscall.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("spidev: open %s: %w", cfg.DevicePath, err)
	}

	if err := ioctl.Ioctl(fd, spiIOCWrMaxSpeedHz, uintptr(unsafe.Pointer(&cfg.SpeedHz))); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("spidev: set speed: %w", err)
	}
	bits := cfg.BitsPerWord
	if bits == 0 {
		bits = 8
	}
	if err := ioctl.Ioctl(fd, spiIOCWrBitsPerWord, uintptr(unsafe.Pointer(&bits))); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("spidev: set bits per word: %w", err)
	}
	var mode uint32
	if err := ioctl.Ioctl(fd, spiIOCWrMode32, uintptr(unsafe.Pointer(&mode))); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("spidev: set mode: %w", err)
	}

	d := &Device{fd: fd, cfg: cfg}

	if cfg.GPIOChip != "" {
		line, err := fdev.OpenLineForEvents(cfg.GPIOChip, cfg.GPIOLine)
		if err != nil {
			syscall.Close(fd)
			return nil, fmt.Errorf("spidev: open data-ready line: %w", err)
		}
		d.dataLine = line
	}

	return d, nil
}

// Transfer performs one full-duplex exchange via SPI_IOC_MESSAGE.
func (d *Device) Transfer(tx []byte) ([]byte, error) {
	rx := make([]byte, len(tx))

	txHeader := (*reflect.SliceHeader)(unsafe.Pointer(&tx))
	rxHeader := (*reflect.SliceHeader)(unsafe.Pointer(&rx))

	xfer := &spiIOCTransfer{
		txBuf:       uint64(txHeader.Data),
		rxBuf:       uint64(rxHeader.Data),
		length:      uint32(txHeader.Len),
		speedHz:     d.cfg.SpeedHz,
		bitsPerWord: d.cfg.BitsPerWord,
	}

	if err := ioctl.Ioctl(d.fd, spiIOCMessage, uintptr(unsafe.Pointer(xfer))); err != nil {
		return nil, fmt.Errorf("spidev: SPI_IOC_MESSAGE: %w", err)
	}
	return rx, nil
}

// WaitDataReady blocks for the GPIO edge, or the poll interval,
// whichever comes first.
func (d *Device) WaitDataReady(ctx context.Context, pollInterval time.Duration) error {
	if d.dataLine == nil {
		t := time.NewTimer(pollInterval)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}

	eventCh := d.dataLine.Events()
	t := time.NewTimer(pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-eventCh:
		return nil
	case <-t.C:
		return nil
	}
}

// Close releases the device and GPIO line.
func (d *Device) Close() error {
	if d.dataLine != nil {
		d.dataLine.Close()
	}
	return syscall.Close(d.fd)
}
