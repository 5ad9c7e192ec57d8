package spi

import (
	"testing"

	"github.com/ppuc/go-zedmd/queue"
	"github.com/ppuc/go-zedmd/wire"
)

func TestConnectRefusesUnsupportedPlatform(t *testing.T) {
	if IsSupportedPlatform() {
		t.Skip("test host reports as a Raspberry Pi; platform gate not exercisable here")
	}

	tr := New(128, 32, 0)
	if err := tr.Connect(); err == nil {
		t.Fatalf("Connect succeeded on an unsupported platform")
	}
}

func TestSendIgnoresEveryCommandButClearScreen(t *testing.T) {
	tr := New(128, 32, 0)
	// No device connected: Send must still short-circuit true for anything
	// other than ClearScreen, since SPI silently drops the rest of the
	// command set rather than failing the caller.
	if ok := tr.Send(queue.Frame{Command: wire.Brightness, Data: []byte{5}}); !ok {
		t.Fatalf("Send(Brightness) = false, want true (dropped, not failed)")
	}
	if ok := tr.Send(queue.Frame{Command: wire.SetWiFiSSID, Data: []byte("x")}); !ok {
		t.Fatalf("Send(SetWiFiSSID) = false, want true (dropped, not failed)")
	}
}

func TestKernelBufSizeFallsBackWhenSysfsMissing(t *testing.T) {
	if got := kernelBufSize(); got <= 0 {
		t.Fatalf("kernelBufSize = %d, want a positive fallback or real value", got)
	}
}
