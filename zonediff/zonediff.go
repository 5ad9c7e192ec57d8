// Package zonediff splits a full frame into the 16x8 zone grid the firmware
// streams incrementally, hashing each zone to skip ones that haven't
// changed since the last generation.
package zonediff

import (
	"github.com/cespare/xxhash/v2"
	"github.com/ppuc/go-zedmd/wire"
)

// Differ tracks the per-zone hash table and the outgoing stream id counter
// for one device. It is owned by the caller goroutine that prepares
// frames, never by the transport worker.
type Differ struct {
	zoneWidth     int
	zoneHeight    int
	bytesPerPixel int
	hashes        [wire.MaxZones]uint64
	streamID      int8
}

// New returns a Differ for a panel whose zones are zoneWidth x zoneHeight
// pixels of bytesPerPixel bytes each.
func New(zoneWidth, zoneHeight, bytesPerPixel int) *Differ {
	return &Differ{
		zoneWidth:     zoneWidth,
		zoneHeight:    zoneHeight,
		bytesPerPixel: bytesPerPixel,
		streamID:      -1,
	}
}

// NextStreamID advances and returns the generation id for the next call to
// Diff, wrapping from 64 back to 0.
func (d *Differ) NextStreamID() int8 {
	d.streamID++
	if d.streamID > 64 {
		d.streamID = 0
	}
	return d.streamID
}

// Reset clears every zone's stored hash, forcing the next Diff to treat
// every zone as changed. Callers do this whenever a generation is about to
// be staged into the delayed buffer, since a delayed generation must be
// complete in itself.
func (d *Differ) Reset() {
	for i := range d.hashes {
		d.hashes[i] = 0
	}
}

// ZonesBytesLimit computes the per-chunk byte budget a transport should
// pass to Diff. If transportLimit is 0, the budget is one full row of
// zones; otherwise it's the largest whole number of zone-sized chunks
// (each 1 index byte plus the zone's pixel bytes) that still fits within
// transportLimit, so a chunk never spills past a transport's datagram or
// write-size ceiling.
func (d *Differ) ZonesBytesLimit(transportLimit, width int) int {
	zoneBytes := d.zoneWidth*d.zoneHeight*d.bytesPerPixel + 1
	if transportLimit == 0 {
		return width*d.bytesPerPixel*d.zoneHeight + 16
	}
	limit := zoneBytes
	for limit+zoneBytes <= transportLimit {
		limit += zoneBytes
	}
	return limit
}

// Diff hashes every zone of a width x height frame and returns the changed
// zones packed as [zoneIndex, zone pixel bytes...] runs, split into chunks
// no larger than zonesBytesLimit bytes. A zone unchanged since the previous
// call (or since the last Reset) is omitted entirely.
func (d *Differ) Diff(data []byte, width, height, zonesBytesLimit int) [][]byte {
	zone := make([]byte, d.zoneWidth*d.zoneHeight*d.bytesPerPixel)
	rowBytes := d.zoneWidth * d.bytesPerPixel

	var chunks [][]byte
	var buf []byte
	idx := 0

	for y := 0; y < height; y += d.zoneHeight {
		for x := 0; x < width; x += d.zoneWidth {
			for z := 0; z < d.zoneHeight; z++ {
				srcOff := ((y+z)*width + x) * d.bytesPerPixel
				copy(zone[z*rowBytes:(z+1)*rowBytes], data[srcOff:srcOff+rowBytes])
			}

			hash := xxhash.Sum64(zone)
			if hash != d.hashes[idx] {
				d.hashes[idx] = hash

				buf = append(buf, byte(idx))
				buf = append(buf, zone...)

				if len(buf) >= zonesBytesLimit {
					chunks = append(chunks, buf)
					buf = nil
				}
			}
			idx++
		}
	}

	if len(buf) > 0 {
		chunks = append(chunks, buf)
	}
	return chunks
}
