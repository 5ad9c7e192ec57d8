// Package tcp implements ZeDMD's WiFi/TCP transport: the same header and
// command framing as USB, sent over an ordered stream with no
// application-level flow control — the kernel's own socket buffering and
// TCP's reliability take the place of the ack-counter handshake.
package tcp

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/apex/log"
	"github.com/klauspost/compress/flate"
	"golang.org/x/time/rate"

	"github.com/ppuc/go-zedmd/queue"
	"github.com/ppuc/go-zedmd/wire"
)

// Transport sends frames to one ZeDMD device over a TCP stream.
type Transport struct {
	Logger log.Interface

	conn    *net.TCPConn
	limiter *rate.Limiter
}

// New returns a Transport that paces outgoing writes to at most burst
// frames per tick, guarding against building up an unbounded backlog in
// the kernel's socket send buffer when frames arrive faster than a
// WiFi-constrained link can carry them.
func New() *Transport {
	return &Transport{
		Logger:  log.Log,
		limiter: rate.NewLimiter(rate.Every(time.Millisecond), 32),
	}
}

// Connect dials host:port and enables TCP keepalive so a silently dropped
// connection is detected even while the frame queue is idle.
func (t *Transport) Connect(host string, port int) error {
	addr, err := net.ResolveTCPAddr("tcp4", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	conn, err := net.DialTCP("tcp4", nil, addr)
	if err != nil {
		return err
	}
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(wire.TCPKeepAliveIntervalMS * time.Millisecond)
	conn.SetNoDelay(true)
	t.conn = conn
	return nil
}

func (t *Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// Send writes one frame to the stream in the same header/command/
// compressed-length-prefix shape USB uses. There is no per-frame
// acknowledgment to wait for: TCP's own delivery guarantees stand in for
// it, so Send only fails if the write itself errors.
func (t *Transport) Send(frame queue.Frame) bool {
	_ = t.limiter.Wait(context.Background())

	out := append([]byte{}, wire.Header[:]...)
	out = append(out, byte(frame.Command))

	if len(frame.Data) > 0 {
		var compressed bytes.Buffer
		w, _ := flate.NewWriter(&compressed, flate.DefaultCompression)
		w.Write(frame.Data)
		w.Close()

		size := compressed.Len()
		out = append(out, byte(size>>8&0xFF), byte(size&0xFF))
		out = append(out, compressed.Bytes()...)
	}

	if _, err := t.conn.Write(out); err != nil {
		t.Logger.Warnf("tcp send failed: %s", err)
		return false
	}
	return true
}

// Run drains q until stop is closed, retrying a command-sized frame once
// on failure before giving up on it, matching the USB worker's policy
// since a dropped TCP write this transport can't recover from mid-stream
// is otherwise indistinguishable from a stalled firmware.
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
