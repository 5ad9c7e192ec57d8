// Package zedmd is the high-level client for a ZeDMD dot-matrix display: it
// owns the source-to-panel scaling decision, duplicate-frame suppression,
// palette state, and the background send pipeline, and drives whichever
// Transport (USB, UDP, TCP, or SPI) the caller connected.
package zedmd

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/apex/log"

	"github.com/ppuc/go-zedmd/bitplane"
	"github.com/ppuc/go-zedmd/queue"
	"github.com/ppuc/go-zedmd/scale"
	"github.com/ppuc/go-zedmd/wire"
	"github.com/ppuc/go-zedmd/zonediff"
)

// Transport is the subset of behavior every wire implementation (USB, UDP,
// TCP, SPI) provides: draining a queue.Queue in the background and
// releasing its underlying handle on Close.
type Transport interface {
	Run(stop <-chan struct{}, q *queue.Queue)
	Close() error
}

// Device renders frames for one connected panel. The caller calls the
// Render* methods from a single goroutine (they own the frame buffer and
// zone differ); the transport's own goroutine, started by Open, drains the
// frame queue those calls fill.
type Device struct {
	Logger log.Interface

	transport Transport
	queue     *queue.Queue
	stop      chan struct{}
	wg        sync.WaitGroup

	width, height           int // source frame dimensions, set via SetFrameSize
	panelWidth, panelHeight int // physical panel dimensions, from the transport handshake

	upscaling   bool
	downscaling bool

	frameBuffer   []byte // last-accepted source frame, for duplicate suppression
	frameAccepted bool   // whether frameBuffer holds an accepted frame yet
	scaledBuf     []byte
	planeBuf      []byte
	commandBuf    []byte

	palette []byte

	differ *zonediff.Differ
}

const maxFrameBytes = wire.MaxWidth * wire.MaxHeight * 3

// Open starts transport's background worker and returns a Device bound to a
// panel of the given physical dimensions.
func Open(transport Transport, panelWidth, panelHeight int) *Device {
	d := &Device{
		Logger:        log.Log,
		transport:     transport,
		queue:         queue.New(),
		stop:          make(chan struct{}),
		panelWidth:    panelWidth,
		panelHeight:   panelHeight,
		width:         panelWidth,
		height:        panelHeight,
		frameBuffer:   make([]byte, maxFrameBytes),
		scaledBuf:     make([]byte, maxFrameBytes),
		planeBuf:      make([]byte, maxFrameBytes),
		commandBuf:    make([]byte, maxFrameBytes+256),
		differ:        zonediff.New(panelWidth/wire.ZonesAcross, panelHeight/wire.ZonesDown, 3),
	}
	d.SetDefaultPalette(4)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		transport.Run(d.stop, d.queue)
	}()
	return d
}

// Close stops the background worker and releases the transport.
func (d *Device) Close() error {
	close(d.stop)
	d.wg.Wait()
	return d.transport.Close()
}

// SetFrameSize declares the dimensions of frames passed to the Render*
// methods, which may differ from the panel's physical resolution and
// trigger the Scale decision.
func (d *Device) SetFrameSize(width, height int) {
	d.width = width
	d.height = height
}

// EnableUpscaling/DisableUpscaling toggle whether Scale stretches a
// smaller-than-panel source frame up to fill the panel.
func (d *Device) EnableUpscaling()  { d.upscaling = true }
func (d *Device) DisableUpscaling() { d.upscaling = false }

// EnableDownscaling/DisableDownscaling toggle whether Scale shrinks a
// larger-than-panel source frame down to fit the panel.
func (d *Device) EnableDownscaling()  { d.downscaling = true }
func (d *Device) DisableDownscaling() { d.downscaling = false }

// SetPalette replaces the 1-byte-per-channel RGB palette used by the
// indexed-color render methods; its length is three times the palette's
// color count (12 for 2-bit, 48 for 4-bit, 192 for 6-bit).
func (d *Device) SetPalette(palette []byte) {
	d.palette = append([]byte{}, palette...)
}

// SetDefaultPalette installs an evenly-spaced grayscale ramp sized for
// bitDepth bits per pixel (2 or 4); any other depth falls back to 4-bit.
func (d *Device) SetDefaultPalette(bitDepth int) {
	levels := 16
	if bitDepth == 2 {
		levels = 4
	}
	palette := make([]byte, levels*3)
	for i := 0; i < levels; i++ {
		v := byte(i * 255 / (levels - 1))
		palette[i*3] = v
		palette[i*3+1] = v
		palette[i*3+2] = v
	}
	d.palette = palette
}

func (d *Device) enqueue(command wire.Command, data []byte) {
	frame := queue.Frame{Command: command, Data: append([]byte{}, data...), StreamID: -1}
	d.queue.Enqueue(frame, false)
}

// updateFrameBuffer reports whether frame differs from the previously
// accepted frame of the given byte size, and if so stores it as the new
// baseline.
func (d *Device) updateFrameBuffer(frame []byte, size int) bool {
	if d.frameAccepted && bytes.Equal(d.frameBuffer[:size], frame[:size]) {
		return false
	}
	copy(d.frameBuffer, frame[:size])
	d.frameAccepted = true
	return true
}

// scaleFrame resolves the fixed set of source/panel dimension pairs ZeDMD's
// firmware supports pre-scaling for and writes the scaled result into dst,
// returning the number of bytes written. Any pairing outside that table is
// passed through unchanged.
func (d *Device) scaleFrame(dst, src []byte, bytesPerPixel int) int {
	bufferSize := d.panelWidth * d.panelHeight * bytesPerPixel

	switch {
	case d.upscaling && d.width == 192 && d.panelWidth == 256:
		scale.Center(dst, d.panelWidth, d.panelHeight, src, d.width, d.height, bytesPerPixel)
	case d.downscaling && d.width == 192:
		scale.Down(dst, d.panelWidth, d.panelHeight, src, d.width, d.height, bytesPerPixel)
	case d.upscaling && d.height == 16 && d.panelHeight == 32:
		scale.Center(dst, d.panelWidth, d.panelHeight, src, d.width, d.height, bytesPerPixel)
	case d.upscaling && d.height == 16 && d.panelHeight == 64:
		doubled := make([]byte, d.width*2*d.height*2*bytesPerPixel)
		scale.Up(doubled, src, d.width, d.height, bytesPerPixel)
		scale.Center(dst, d.panelWidth, d.panelHeight, doubled, d.width*2, d.height*2, bytesPerPixel)
	case d.downscaling && d.width == 256 && d.panelWidth == 128:
		scale.Down(dst, d.panelWidth, d.panelHeight, src, d.width, d.height, bytesPerPixel)
	case d.upscaling && d.width == 128 && d.panelWidth == 256:
		scale.Up(dst, src, d.width, d.height, bytesPerPixel)
	default:
		copy(dst[:bufferSize], src[:bufferSize])
	}
	return bufferSize
}

// RenderGray2 renders a width*height buffer of 2-bit-per-pixel indices
// (0..3) using the currently installed palette.
func (d *Device) RenderGray2(frame []byte) {
	d.renderIndexed(frame, 2, wire.Gray2)
}

// RenderGray4 renders a width*height buffer of 4-bit-per-pixel indices
// (0..15) using the currently installed palette.
func (d *Device) RenderGray4(frame []byte) {
	d.renderIndexed(frame, 4, wire.ColGray4)
}

func (d *Device) renderIndexed(frame []byte, bitDepth int, command wire.Command) {
	size := d.width * d.height
	if !d.updateFrameBuffer(frame, size) {
		return
	}

	bufferSize := d.scaleFrame(d.scaledBuf, d.frameBuffer, 1)
	planeSize := bitplane.PlaneSize(d.panelWidth, d.panelHeight)
	bitplane.Split(d.planeBuf, d.panelWidth, d.panelHeight, bitDepth, d.scaledBuf[:bufferSize])

	paletteBytes := (1 << uint(bitDepth)) * 3
	copy(d.commandBuf, d.palette[:paletteBytes])
	copy(d.commandBuf[paletteBytes:], d.planeBuf[:planeSize*bitDepth])

	d.enqueue(command, d.commandBuf[:paletteBytes+planeSize*bitDepth])
}

// RenderColoredGray6 renders a width*height buffer of 6-bit-per-pixel
// indices against an explicit 64-color palette and optional per-color
// rotation descriptors; a nil rotations disables rotation on every color.
func (d *Device) RenderColoredGray6(frame, palette, rotations []byte) {
	changed := d.updateFrameBuffer(frame, d.width*d.height)

	if !bytes.Equal(d.palette, palette) {
		d.palette = append([]byte{}, palette...)
		changed = true
	}
	if !changed {
		return
	}

	bufferSize := d.scaleFrame(d.scaledBuf, d.frameBuffer, 1)
	planeSize := bitplane.PlaneSize(d.panelWidth, d.panelHeight)
	bitplane.Split(d.planeBuf, d.panelWidth, d.panelHeight, 6, d.scaledBuf[:bufferSize])

	copy(d.commandBuf, d.palette[:192])
	copy(d.commandBuf[192:], d.planeBuf[:planeSize*6])
	if rotations != nil {
		copy(d.commandBuf[192+planeSize*6:], rotations[:24])
	} else {
		for i := 0; i < 24; i++ {
			d.commandBuf[192+planeSize*6+i] = 0xFF
		}
	}

	d.enqueue(wire.ColGray6, d.commandBuf[:192+planeSize*6+24])
}

// RenderRGB24 renders a width*height buffer of 3-byte RGB pixels as a
// single standalone frame.
func (d *Device) RenderRGB24(frame []byte) {
	size := d.width * d.height * 3
	if !d.updateFrameBuffer(frame, size) {
		return
	}

	bufferSize := d.scaleFrame(d.commandBuf, d.frameBuffer, 3)
	d.enqueue(wire.RGB24, d.commandBuf[:bufferSize])
}

// RenderRGB24Zones renders a width*height buffer of 3-byte RGB pixels as an
// incremental zone-streaming generation: only zones whose content changed
// since the previous call are retransmitted, chunked to fit transportLimit
// bytes (0 selects a one-row default).
func (d *Device) RenderRGB24Zones(frame []byte, transportLimit int) {
	size := d.width * d.height * 3
	if !d.updateFrameBuffer(frame, size) {
		return
	}

	streamID := d.differ.NextStreamID()
	delayed := d.queue.FillDelayed()
	if delayed {
		d.differ.Reset()
	}

	limit := d.differ.ZonesBytesLimit(transportLimit, d.panelWidth)
	chunks := d.differ.Diff(d.frameBuffer[:size], d.panelWidth, d.panelHeight, limit)

	for _, chunk := range chunks {
		d.queue.Enqueue(queue.Frame{Command: wire.RGB24ZonesStream, Data: chunk, StreamID: streamID}, delayed)
	}
}

// ClearScreen queues a bare ClearScreen command with no payload.
func (d *Device) ClearScreen() {
	d.enqueue(wire.ClearScreen, nil)
}

// SetBrightness queues a Brightness command; level is firmware-specific
// (typically 0-15).
func (d *Device) SetBrightness(level byte) {
	d.enqueue(wire.Brightness, []byte{level})
}

// SetRGBOrder queues an RGBOrder command selecting one of the firmware's
// fixed channel permutations.
func (d *Device) SetRGBOrder(order byte) {
	d.enqueue(wire.RGBOrder, []byte{order})
}

// Reset queues a firmware Reset command.
func (d *Device) Reset() {
	d.enqueue(wire.Reset, nil)
}

// SaveSettings queues a SaveSettings command, persisting brightness,
// RGB order, and WiFi configuration to the firmware's flash.
func (d *Device) SaveSettings() {
	d.enqueue(wire.SaveSettings, nil)
}

// SetWiFiSSID/SetWiFiPassword/SetWiFiPort queue the WiFi provisioning
// commands; none take effect until followed by SaveSettings and Reset.
func (d *Device) SetWiFiSSID(ssid string) {
	d.enqueue(wire.SetWiFiSSID, []byte(ssid))
}

func (d *Device) SetWiFiPassword(password string) {
	d.enqueue(wire.SetWiFiPassword, []byte(password))
}

func (d *Device) SetWiFiPort(port int) error {
	if port < 0 || port > 0xFFFF {
		return fmt.Errorf("zedmd: invalid WiFi port %d", port)
	}
	d.enqueue(wire.SetWiFiPort, []byte{byte(port >> 8 & 0xFF), byte(port & 0xFF)})
	return nil
}

// EnableDebug/DisableDebug toggle the firmware's on-panel debug overlay.
func (d *Device) EnableDebug()  { d.enqueue(wire.EnableDebug, nil) }
func (d *Device) DisableDebug() { d.enqueue(wire.DisableDebug, nil) }

// LEDTest queues a command that lights every pixel in sequence, used to
// spot dead LEDs on a physical panel.
func (d *Device) LEDTest() {
	d.enqueue(wire.LEDTest, nil)
}
