// Package spi implements ZeDMD's Raspberry Pi-only SPI transport: a
// /dev/spidevX.Y link that only ever carries ClearScreen, sent as a
// precomputed all-black RGB565 frame since SPI has no room for the
// USB/WiFi command set.
package spi

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/ppuc/go-zedmd/queue"
	"github.com/ppuc/go-zedmd/wire"
)

const (
	devicePath      = "/dev/spidev1.0"
	defaultSpeedHz  = 12_000_000
	defaultBufSize  = 4096
	bufSizeSysPath  = "/sys/module/spidev/parameters/bufsiz"
	deviceTreeModel = "/proc/device-tree/model"
)

// Transport drives one SPI-attached ZeDMD panel.
type Transport struct {
	Logger log.Interface

	dev       *Device
	bufSize   int
	width     int
	height    int
	allBlack  []byte
	framePause time.Duration
}

// New returns a Transport for a width x height RGB565 panel. framePause, if
// nonzero, is slept after every chunked write instead of the default
// 100-microsecond settle time.
func New(width, height int, framePause time.Duration) *Transport {
	return &Transport{
		Logger:     log.Log,
		width:      width,
		height:     height,
		allBlack:   make([]byte, width*height*2), // RGB565: 2 bytes/pixel, zero value is black
		framePause: framePause,
	}
}

// IsSupportedPlatform reports whether this host is a Raspberry Pi running
// Linux, the only platform with a working ZeDMD SPI wiring.
func IsSupportedPlatform() bool {
	data, err := os.ReadFile(deviceTreeModel)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "Raspberry Pi")
}

func kernelBufSize() int {
	data, err := os.ReadFile(bufSizeSysPath)
	if err != nil {
		return defaultBufSize
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n <= 0 {
		return defaultBufSize
	}
	return n
}

// Connect opens the SPI device and toggles it with a short dummy transfer
// to switch the firmware from loopback into SPI mode.
func (t *Transport) Connect() error {
	if !IsSupportedPlatform() {
		return fmt.Errorf("spi: unsupported platform, this transport only runs on Raspberry Pi with Linux")
	}

	dev, err := Open(devicePath, defaultSpeedHz)
	if err != nil {
		return fmt.Errorf("spi: couldn't open %s: %w", devicePath, err)
	}
	t.dev = dev
	t.bufSize = kernelBufSize()

	if err := t.sendChunks(make([]byte, 4)); err != nil {
		dev.Close()
		t.dev = nil
		return err
	}
	t.Logger.WithField("device", devicePath).Info("zedmd spi connected")
	return nil
}

func (t *Transport) Close() error {
	if t.dev == nil {
		return nil
	}
	err := t.dev.Close()
	t.dev = nil
	return err
}

func (t *Transport) sendChunks(data []byte) error {
	if t.dev == nil {
		return fmt.Errorf("spi: device not connected")
	}
	time.Sleep(10 * time.Microsecond)

	if err := t.dev.WriteChunks(data, t.bufSize); err != nil {
		time.Sleep(100 * time.Microsecond)
		return fmt.Errorf("spi: write failed: %w", err)
	}

	if t.framePause > 0 {
		time.Sleep(t.framePause)
	} else {
		time.Sleep(100 * time.Microsecond)
	}
	return nil
}

// Send handles ClearScreen by transmitting the all-black RGB565 buffer;
// every other command is silently dropped since SPI has no protocol
// headroom for the rest of the ZeDMD command set.
func (t *Transport) Send(frame queue.Frame) bool {
	if frame.Command != wire.ClearScreen {
		return true
	}
	if err := t.sendChunks(t.allBlack); err != nil {
		t.Logger.Warnf("spi send failed: %s", err)
		return false
	}
	return true
}

// Run drains q until stop is closed.
func (t *Transport) Run(stop <-chan struct{}, q *queue.Queue) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, ok := q.Pop()
		if !ok {
			time.Sleep(queue.PopSleep)
			continue
		}
		t.Send(frame)
	}
}
