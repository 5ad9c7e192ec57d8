package tcp

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/ppuc/go-zedmd/queue"
	"github.com/ppuc/go-zedmd/wire"
)

func TestSendWritesHeaderCommandAndCompressedPayload(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := New()
	if err := tr.Connect("127.0.0.1", addr.Port); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	server := <-accepted
	defer server.Close()

	if ok := tr.Send(queue.Frame{Command: wire.ClearScreen, StreamID: -1}); !ok {
		t.Fatalf("Send reported failure")
	}

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 7)
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatalf("read header+command: %v", err)
	}
	for i := 0; i < 6; i++ {
		if buf[i] != wire.Header[i] {
			t.Fatalf("header byte %d = %#02x, want %#02x", i, buf[i], wire.Header[i])
		}
	}
	if buf[6] != byte(wire.ClearScreen) {
		t.Fatalf("command byte = %#02x, want ClearScreen", buf[6])
	}
}

func TestSendWithPayloadIncludesLengthPrefix(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := New()
	if err := tr.Connect("127.0.0.1", addr.Port); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	server := <-accepted
	defer server.Close()

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	tr.Send(queue.Frame{Command: wire.RGB24, Data: payload, StreamID: -1})

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	head := make([]byte, 9) // header(6) + command(1) + length(2)
	if _, err := io.ReadFull(server, head); err != nil {
		t.Fatalf("read head: %v", err)
	}
	size := int(head[7])<<8 | int(head[8])
	if size <= 0 {
		t.Fatalf("compressed length prefix = %d, want > 0", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(server, body); err != nil {
		t.Fatalf("read compressed body (%d bytes): %v", size, err)
	}
}
