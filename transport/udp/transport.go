// Package udp implements ZeDMD's WiFi/UDP transport: small command frames
// are sent three times for loss resilience, while zone-streaming frames are
// DEFLATE-compressed and sent once, sized to stay under the ESP32's rx
// buffer.
package udp

import (
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/apex/log"
	"github.com/klauspost/compress/flate"

	"github.com/ppuc/go-zedmd/queue"
	"github.com/ppuc/go-zedmd/wire"
)

// Transport sends frames to one ZeDMD device over UDP. It keeps no
// handshake state: unlike USB there is no flow-control counter to track,
// since the firmware never acknowledges a UDP datagram.
type Transport struct {
	Logger log.Interface

	conn          *net.UDPConn
	zoneChunkSize int // bytes per zone-index-prefixed zone, for the compressed-frame header byte
}

// New returns a Transport with a zone size matching zoneWidth x zoneHeight
// pixels of bytesPerPixel bytes, used to compute the zone count packed
// into a compressed frame's header byte.
func New(zoneWidth, zoneHeight, bytesPerPixel int) *Transport {
	return &Transport{
		Logger:        log.Log,
		zoneChunkSize: zoneWidth*zoneHeight*bytesPerPixel + 1,
	}
}

// Connect opens a UDP socket addressed at host:port. UDP is connectionless,
// so this only resolves the address and never fails because the device is
// unreachable.
func (t *Transport) Connect(host string, port int) error {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// Send transmits one frame. It always reports success: UDP sends never
// block on a peer response, so there is nothing for a caller to retry.
func (t *Transport) Send(frame queue.Frame) bool {
	if len(frame.Data) < wire.FrameSizeCommandLimit {
		t.sendCommand(frame)
	} else {
		t.sendCompressed(frame)
	}
	return true
}

func (t *Transport) sendCommand(frame queue.Frame) {
	data := make([]byte, 4+len(frame.Data))
	data[0] = byte(frame.Command)
	data[1] = 0
	data[2] = byte(len(frame.Data) >> 8 & 0xFF)
	data[3] = byte(len(frame.Data) & 0xFF)
	copy(data[4:], frame.Data)

	for i := 0; i < wire.UDPRedundantSends; i++ {
		if _, err := t.conn.Write(data); err != nil {
			t.Logger.Warnf("udp send failed: %s", err)
		}
		time.Sleep(wire.UDPRedundantSendDelayMS * time.Millisecond)
	}
}

func (t *Transport) sendCompressed(frame queue.Frame) {
	var compressed bytes.Buffer
	w, _ := flate.NewWriter(&compressed, flate.DefaultCompression)
	w.Write(frame.Data)
	w.Close()

	zones := len(frame.Data) / t.zoneChunkSize
	size := compressed.Len()

	data := make([]byte, 4+size)
	data[0] = byte(frame.Command)
	data[1] = 128 | byte(zones)
	data[2] = byte(size >> 8 & 0xFF)
	data[3] = byte(size & 0xFF)
	copy(data[4:], compressed.Bytes())

	if _, err := t.conn.Write(data); err != nil {
		t.Logger.Warnf("udp send failed: %s", err)
	}
}

// Run drains q until stop is closed. UDP sends never fail in a way that
// warrants a retry, so unlike the USB worker this loop only needs the
// queue's own idle-poll backoff.
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
