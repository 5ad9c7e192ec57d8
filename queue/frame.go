// Package queue implements the background send pipeline's bounded FIFO: a
// main queue and a parallel "delayed" staging buffer that can be swapped in
// atomically once a full zone-streaming generation has accumulated.
package queue

import "github.com/ppuc/go-zedmd/wire"

// Frame is the atomic wire unit produced by the framer and consumed by a
// transport's background worker. StreamID -1 denotes a standalone command
// or whole-image frame; 0..64 denotes a per-zone-streaming generation.
type Frame struct {
	Command  wire.Command
	Data     []byte
	StreamID int8
}

// IsCommandSized reports whether Data is small enough to qualify for the
// single-retry path on a wire timeout (§4.3.2 step 8).
func (f Frame) IsCommandSized() bool {
	return len(f.Data) < wire.FrameSizeCommandLimit
}
