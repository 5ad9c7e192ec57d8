// Package usb implements the ZeDMD USB-serial transport: device discovery,
// the compression/chunk/flow-control handshake, and the background send
// loop that drains a queue.Queue onto the wire.
package usb

import (
	"bytes"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/klauspost/compress/flate"

	"github.com/ppuc/go-zedmd/queue"
	"github.com/ppuc/go-zedmd/serial"
	"github.com/ppuc/go-zedmd/wire"
)

// IgnoredDevices lists device paths Connect should never probe during
// autodiscovery, e.g. a port known to belong to another peripheral.
type IgnoredDevices map[string]bool

// DiscoveryCandidates returns the /dev/ttyUSBn paths Connect tries, in
// order, skipping any path present in ignored.
func DiscoveryCandidates(ignored IgnoredDevices) []string {
	var out []string
	for i := 0; i < 7; i++ {
		path := fmt.Sprintf("/dev/ttyUSB%d", i)
		if ignored[path] {
			continue
		}
		out = append(out, path)
	}
	return out
}

// Transport owns one connected ZeDMD USB device: the serial port, the
// negotiated panel dimensions, and the flow-control counter value the
// firmware must send before each frame is written.
type Transport struct {
	Logger log.Interface

	port       *serial.Port
	width      int
	height     int
	flowCtr    byte
	compressor *flate.Writer
}

// New returns a Transport with no device connected yet.
func New() *Transport {
	return &Transport{Logger: log.Log}
}

// Width and Height report the panel dimensions the handshake discovered.
func (t *Transport) Width() int  { return t.width }
func (t *Transport) Height() int { return t.height }

// Connect autodiscovers a ZeDMD by probing DiscoveryCandidates in order and
// performing the handshake on the first device that answers correctly.
func (t *Transport) Connect(ignored IgnoredDevices) error {
	var lastErr error
	for _, path := range DiscoveryCandidates(ignored) {
		err := t.ConnectDevice(path)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("usb: no device found")
	}
	return lastErr
}

// ConnectDevice opens a specific device path and performs the handshake.
func (t *Transport) ConnectDevice(path string) error {
	opts := serial.NewOptions().SetReadTimeout(wire.SerialReadTimeMS * time.Millisecond)
	port, err := serial.Open(path, opts)
	if err != nil {
		return err
	}
	if err := port.ConfigureUSB(); err != nil {
		port.Close()
		return err
	}
	t.port = port

	t.resetLines()
	time.Sleep(1000 * time.Millisecond)
	t.drain()

	if err := t.handshake(path); err != nil {
		port.Close()
		t.port = nil
		return err
	}
	return nil
}

// resetLines toggles DTR/RTS the way the firmware expects on a fresh open,
// forcing an ESP32 reset before the handshake begins.
func (t *Transport) resetLines() {
	t.port.SetDTR(false)
	t.port.SetRTS(true)
	time.Sleep(200 * time.Millisecond)
	t.port.SetRTS(false)
	t.port.SetDTR(false)
	time.Sleep(200 * time.Millisecond)

	if lines, err := t.port.ModemLines(); err == nil {
		t.Logger.WithField("lines", lines).Debug("usb modem lines after reset")
	}
}

// drain discards whatever the firmware writes on its own before the host
// has sent anything, e.g. an ESP32's boot banner.
func (t *Transport) drain() {
	buf := make([]byte, 8)
	for {
		n, err := t.port.Available()
		if err != nil || n <= 0 {
			return
		}
		if _, err := t.port.Read(buf); err != nil {
			return
		}
	}
}

func (t *Transport) handshake(path string) error {
	if err := t.writeCommand(wire.Handshake); err != nil {
		return err
	}
	time.Sleep(wire.HandshakeSettleMS * time.Millisecond)

	header := make([]byte, 8)
	if err := t.readFull(header); err != nil {
		return err
	}
	if !bytes.Equal(header[:4], wire.Header[:4]) {
		return fmt.Errorf("usb: %s: unexpected handshake reply", path)
	}
	t.width = int(header[4]) + int(header[5])*256
	t.height = int(header[6]) + int(header[7])*256

	if t.readByte() != wire.Ready {
		return fmt.Errorf("usb: %s: device not ready", path)
	}

	if err := t.writeCommand(wire.Compression); err != nil {
		return err
	}
	time.Sleep(wire.AckSettleMS * time.Millisecond)
	if t.readByte() != wire.Ack || t.readByte() != wire.Ready {
		return fmt.Errorf("usb: %s: compression handshake failed", path)
	}

	if err := t.writeCommand(wire.Chunk, byte(wire.ChunkSize/256)); err != nil {
		return err
	}
	time.Sleep(wire.AckSettleMS * time.Millisecond)
	if t.readByte() != wire.Ack || t.readByte() != wire.Ready {
		return fmt.Errorf("usb: %s: chunk size handshake failed", path)
	}

	if err := t.writeCommand(wire.EnableFlowControl); err != nil {
		return err
	}
	time.Sleep(wire.AckSettleMS * time.Millisecond)
	if t.readByte() != wire.Ack {
		return fmt.Errorf("usb: %s: flow control handshake failed", path)
	}

	t.flowCtr = 1
	t.Logger.WithFields(log.Fields{
		"device": path,
		"width":  t.width,
		"height": t.height,
	}).Info("zedmd found")
	return nil
}

func (t *Transport) writeCommand(command wire.Command, extra ...byte) error {
	buf := append(append([]byte{}, wire.Header[:]...), byte(command))
	buf = append(buf, extra...)
	_, err := t.port.Write(buf)
	return err
}

func (t *Transport) readByte() byte {
	buf := make([]byte, 1)
	n, err := t.port.Read(buf)
	if err != nil || n == 0 {
		return 0
	}
	return buf[0]
}

func (t *Transport) readFull(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := t.port.Read(buf[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("usb: read timeout")
		}
		total += n
	}
	return nil
}

// Close releases the underlying serial port.
func (t *Transport) Close() error {
	if t.port == nil {
		return nil
	}
	return t.port.Close()
}

// Send encodes and transmits one frame, waiting for the firmware's
// flow-control counter before writing and requiring an 'A' acknowledgment
// after every chunk. It reports whether the send completed successfully;
// the caller is responsible for deciding whether to retry.
func (t *Transport) Send(frame queue.Frame) bool {
	wireData := t.encode(frame)

	var ctr byte
	for {
		ctr = t.readByte()
		if ctr == 0 || ctr == t.flowCtr {
			break
		}
	}
	if ctr != t.flowCtr {
		t.Logger.Warn("no ready signal")
		return false
	}

	success := true
	for pos := 0; pos < len(wireData) && success; pos += wire.ChunkSize {
		end := pos + wire.ChunkSize
		if end > len(wireData) {
			end = len(wireData)
		}
		if _, err := t.port.Write(wireData[pos:end]); err != nil {
			success = false
			break
		}

		var resp byte
		for {
			resp = t.readByte()
			if resp != t.flowCtr {
				break
			}
		}
		if resp != wire.Ack {
			success = false
			t.Logger.Warnf("write bytes failure: response=%c", resp)
		}
	}

	if t.flowCtr < 32 {
		t.flowCtr++
	} else {
		t.flowCtr = 1
	}
	return success
}

// encode builds the wire representation of frame: the 6-byte header, the
// command byte, and — for non-empty payloads — a 2-byte big-endian
// compressed-length prefix followed by the DEFLATE-compressed payload.
func (t *Transport) encode(frame queue.Frame) []byte {
	out := append([]byte{}, wire.Header[:]...)
	out = append(out, byte(frame.Command))
	if len(frame.Data) == 0 {
		return out
	}

	var compressed bytes.Buffer
	if t.compressor == nil {
		t.compressor, _ = flate.NewWriter(&compressed, flate.DefaultCompression)
	} else {
		t.compressor.Reset(&compressed)
	}
	t.compressor.Write(frame.Data)
	t.compressor.Close()

	size := compressed.Len()
	out = append(out, byte(size>>8&0xFF), byte(size&0xFF))
	out = append(out, compressed.Bytes()...)
	return out
}

// Run drains q until stop is closed, sending each frame and applying the
// command-sized single-retry policy: a frame smaller than
// wire.FrameSizeCommandLimit gets one more attempt after RetryDelayMS if
// the first attempt failed, since a failure there usually just means the
// wait for the (R)eady signal hit a timeout.
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

		success := t.Send(frame)
		if !success && frame.IsCommandSized() {
			time.Sleep(wire.RetryDelayMS * time.Millisecond)
			success = t.Send(frame)
		}
		if !success {
			time.Sleep(wire.BackoffDelayMS * time.Millisecond)
		}
	}
}
